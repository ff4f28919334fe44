package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"kanban-api/domain"
)

// Storage provides access to the underlying persistence mechanisms. Tasks are
// partitioned by board, boards are keyed by their own ID.
type Storage struct {
	taskTable  *aztables.Client
	boardTable *aztables.Client
}

// New creates a Storage instance from the given connection string.
func New(connStr, tasksTable, boardsTable string) (*Storage, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	return &Storage{
		taskTable:  svc.NewClient(tasksTable),
		boardTable: svc.NewClient(boardsTable),
	}, nil
}

type taskEntity struct {
	aztables.Entity
	Title       string `json:"Title"`
	Description string `json:"Description"`
	Status      string `json:"Status"`
	Priority    string `json:"Priority"`
	AssignedTo  string `json:"AssignedTo"`
	Tags        string `json:"Tags"`
	Position    int    `json:"Position"`
	CreatedAt   string `json:"CreatedAt"`
	UpdatedAt   string `json:"UpdatedAt"`
}

type boardEntity struct {
	aztables.Entity
	Name        string `json:"Name"`
	Description string `json:"Description"`
	Owner       string `json:"Owner"`
	Members     string `json:"Members"`
	CreatedAt   string `json:"CreatedAt"`
}

func encodeTaskEntity(t domain.Task) ([]byte, error) {
	tags := ""
	if len(t.Tags) > 0 {
		raw, err := json.Marshal(t.Tags)
		if err != nil {
			return nil, err
		}
		tags = string(raw)
	}
	return json.Marshal(taskEntity{
		Entity:      aztables.Entity{PartitionKey: t.BoardID, RowKey: t.ID},
		Title:       t.Title,
		Description: t.Description,
		Status:      string(t.Status),
		Priority:    string(t.Priority),
		AssignedTo:  t.AssignedTo,
		Tags:        tags,
		Position:    t.Position,
		CreatedAt:   t.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:   t.UpdatedAt.UTC().Format(time.RFC3339Nano),
	})
}

func decodeTaskEntity(data []byte) (domain.Task, error) {
	var ent taskEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Task{}, err
	}
	var tags []string
	if ent.Tags != "" {
		if err := json.Unmarshal([]byte(ent.Tags), &tags); err != nil {
			return domain.Task{}, fmt.Errorf("decode tags for task %s: %w", ent.RowKey, err)
		}
	}
	createdAt, _ := time.Parse(time.RFC3339Nano, ent.CreatedAt)
	updatedAt, _ := time.Parse(time.RFC3339Nano, ent.UpdatedAt)
	return domain.Task{
		ID:          ent.RowKey,
		Title:       ent.Title,
		Description: ent.Description,
		Status:      domain.Status(ent.Status),
		Priority:    domain.Priority(ent.Priority),
		BoardID:     ent.PartitionKey,
		AssignedTo:  ent.AssignedTo,
		Tags:        tags,
		Position:    ent.Position,
		CreatedAt:   createdAt,
		UpdatedAt:   updatedAt,
	}, nil
}

func encodeBoardEntity(b domain.Board) ([]byte, error) {
	members, err := json.Marshal(b.Members)
	if err != nil {
		return nil, err
	}
	return json.Marshal(boardEntity{
		Entity:      aztables.Entity{PartitionKey: b.ID, RowKey: b.ID},
		Name:        b.Name,
		Description: b.Description,
		Owner:       b.Owner,
		Members:     string(members),
		CreatedAt:   b.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
}

func decodeBoardEntity(data []byte) (domain.Board, error) {
	var ent boardEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Board{}, err
	}
	var members []string
	if ent.Members != "" {
		if err := json.Unmarshal([]byte(ent.Members), &members); err != nil {
			return domain.Board{}, fmt.Errorf("decode members for board %s: %w", ent.RowKey, err)
		}
	}
	createdAt, _ := time.Parse(time.RFC3339Nano, ent.CreatedAt)
	return domain.Board{
		ID:          ent.RowKey,
		Name:        ent.Name,
		Description: ent.Description,
		Owner:       ent.Owner,
		Members:     members,
		CreatedAt:   createdAt,
	}, nil
}

// quoteFilter escapes a value for use inside an OData filter literal.
func quoteFilter(v string) string {
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}

func mapStorageError(err error) error {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) && respErr.StatusCode == 404 {
		return domain.ErrNotFound
	}
	return err
}

// FindTask looks a task up by ID alone. Callers holding only a task ID do not
// know the board partition, so this scans on the row key.
func (s *Storage) FindTask(ctx context.Context, id string) (domain.Task, error) {
	filter := "RowKey eq " + quoteFilter(id)
	pager := s.taskTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return domain.Task{}, mapStorageError(err)
		}
		for _, e := range resp.Entities {
			return decodeTaskEntity(e)
		}
	}
	return domain.Task{}, domain.ErrNotFound
}

// CreateTask persists a new task record and returns it.
func (s *Storage) CreateTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	data, err := encodeTaskEntity(t)
	if err != nil {
		return domain.Task{}, err
	}
	if _, err := s.taskTable.AddEntity(ctx, data, nil); err != nil {
		return domain.Task{}, mapStorageError(err)
	}
	return t, nil
}

// UpdateTaskFields applies a partial update and returns the stored record.
func (s *Storage) UpdateTaskFields(ctx context.Context, id string, patch domain.TaskPatch) (domain.Task, error) {
	task, err := s.FindTask(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	patch.Apply(&task)
	task.UpdatedAt = time.Now().UTC()
	data, err := encodeTaskEntity(task)
	if err != nil {
		return domain.Task{}, err
	}
	if _, err := s.taskTable.UpdateEntity(ctx, data, &aztables.UpdateEntityOptions{UpdateMode: aztables.UpdateModeReplace}); err != nil {
		return domain.Task{}, mapStorageError(err)
	}
	return task, nil
}

// DeleteTask removes a task record by ID.
func (s *Storage) DeleteTask(ctx context.Context, id string) error {
	task, err := s.FindTask(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.taskTable.DeleteEntity(ctx, task.BoardID, task.ID, nil); err != nil {
		return mapStorageError(err)
	}
	return nil
}

// LastInColumn returns the highest-position task of a (board, status) column,
// or nil when the column is empty. Table storage cannot order server-side, so
// the column is scanned.
func (s *Storage) LastInColumn(ctx context.Context, boardID string, status domain.Status) (*domain.Task, error) {
	filter := "PartitionKey eq " + quoteFilter(boardID) + " and Status eq " + quoteFilter(string(status))
	pager := s.taskTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	var last *domain.Task
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, mapStorageError(err)
		}
		for _, e := range resp.Entities {
			task, err := decodeTaskEntity(e)
			if err != nil {
				return nil, err
			}
			if last == nil || task.Position > last.Position {
				t := task
				last = &t
			}
		}
	}
	return last, nil
}

// ListTasks retrieves every task of a board, column-sorted.
func (s *Storage) ListTasks(ctx context.Context, boardID string) ([]domain.Task, error) {
	filter := "PartitionKey eq " + quoteFilter(boardID)
	pager := s.taskTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, mapStorageError(err)
		}
		for _, e := range resp.Entities {
			task, err := decodeTaskEntity(e)
			if err != nil {
				return nil, err
			}
			tasks = append(tasks, task)
		}
	}
	domain.SortColumn(tasks)
	return tasks, nil
}

// FindBoard retrieves a board by ID.
func (s *Storage) FindBoard(ctx context.Context, id string) (domain.Board, error) {
	ent, err := s.boardTable.GetEntity(ctx, id, id, nil)
	if err != nil {
		return domain.Board{}, mapStorageError(err)
	}
	return decodeBoardEntity(ent.Value)
}

// CreateBoard persists a new board record and returns it.
func (s *Storage) CreateBoard(ctx context.Context, b domain.Board) (domain.Board, error) {
	data, err := encodeBoardEntity(b)
	if err != nil {
		return domain.Board{}, err
	}
	if _, err := s.boardTable.AddEntity(ctx, data, nil); err != nil {
		return domain.Board{}, mapStorageError(err)
	}
	return b, nil
}

// UpdateBoardFields applies a partial update and returns the stored record.
func (s *Storage) UpdateBoardFields(ctx context.Context, id string, patch domain.BoardPatch) (domain.Board, error) {
	board, err := s.FindBoard(ctx, id)
	if err != nil {
		return domain.Board{}, err
	}
	patch.Apply(&board)
	data, err := encodeBoardEntity(board)
	if err != nil {
		return domain.Board{}, err
	}
	if _, err := s.boardTable.UpdateEntity(ctx, data, &aztables.UpdateEntityOptions{UpdateMode: aztables.UpdateModeReplace}); err != nil {
		return domain.Board{}, mapStorageError(err)
	}
	return board, nil
}

// DeleteBoard removes a board record by ID.
func (s *Storage) DeleteBoard(ctx context.Context, id string) error {
	if _, err := s.boardTable.DeleteEntity(ctx, id, id, nil); err != nil {
		return mapStorageError(err)
	}
	return nil
}

// ListBoards retrieves every board the user owns or is a member of. The
// member list lives in a JSON property that table storage cannot index, so
// membership is filtered after the scan.
func (s *Storage) ListBoards(ctx context.Context, userID string) ([]domain.Board, error) {
	pager := s.boardTable.NewListEntitiesPager(nil)
	boards := []domain.Board{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, mapStorageError(err)
		}
		for _, e := range resp.Entities {
			board, err := decodeBoardEntity(e)
			if err != nil {
				return nil, err
			}
			if board.HasMember(userID) {
				boards = append(boards, board)
			}
		}
	}
	return boards, nil
}
