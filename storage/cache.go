package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"kanban-api/domain"
)

type backend interface {
	FindTask(ctx context.Context, id string) (domain.Task, error)
	CreateTask(ctx context.Context, t domain.Task) (domain.Task, error)
	UpdateTaskFields(ctx context.Context, id string, patch domain.TaskPatch) (domain.Task, error)
	DeleteTask(ctx context.Context, id string) error
	LastInColumn(ctx context.Context, boardID string, status domain.Status) (*domain.Task, error)
	ListTasks(ctx context.Context, boardID string) ([]domain.Task, error)
	FindBoard(ctx context.Context, id string) (domain.Board, error)
	CreateBoard(ctx context.Context, b domain.Board) (domain.Board, error)
	UpdateBoardFields(ctx context.Context, id string, patch domain.BoardPatch) (domain.Board, error)
	DeleteBoard(ctx context.Context, id string) error
	ListBoards(ctx context.Context, userID string) ([]domain.Board, error)
}

// Cache wraps a Storage instance with Redis-backed caching for board task
// lists, evicting on every mutation that can change a list. Reads fall back
// to the backing storage on any Redis failure.
type Cache struct {
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching Storage wrapper using the provided Redis client
// and TTL. A nil client turns the wrapper into a pass-through.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func boardTasksKey(boardID string) string {
	return "board-tasks:" + boardID
}

func (c *Cache) FindTask(ctx context.Context, id string) (domain.Task, error) {
	return c.base.FindTask(ctx, id)
}

func (c *Cache) CreateTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	created, err := c.base.CreateTask(ctx, t)
	if err != nil {
		return domain.Task{}, err
	}
	c.evict(ctx, created.BoardID)
	return created, nil
}

func (c *Cache) UpdateTaskFields(ctx context.Context, id string, patch domain.TaskPatch) (domain.Task, error) {
	updated, err := c.base.UpdateTaskFields(ctx, id, patch)
	if err != nil {
		return domain.Task{}, err
	}
	c.evict(ctx, updated.BoardID)
	return updated, nil
}

func (c *Cache) DeleteTask(ctx context.Context, id string) error {
	task, err := c.base.FindTask(ctx, id)
	if err != nil {
		return err
	}
	if err := c.base.DeleteTask(ctx, id); err != nil {
		return err
	}
	c.evict(ctx, task.BoardID)
	return nil
}

func (c *Cache) LastInColumn(ctx context.Context, boardID string, status domain.Status) (*domain.Task, error) {
	return c.base.LastInColumn(ctx, boardID, status)
}

func (c *Cache) ListTasks(ctx context.Context, boardID string) ([]domain.Task, error) {
	if tasks, ok := c.loadTasksFromCache(ctx, boardID); ok {
		return tasks, nil
	}

	tasks, err := c.base.ListTasks(ctx, boardID)
	if err != nil {
		return nil, err
	}

	c.storeTasks(ctx, boardID, tasks)
	return tasks, nil
}

func (c *Cache) FindBoard(ctx context.Context, id string) (domain.Board, error) {
	return c.base.FindBoard(ctx, id)
}

func (c *Cache) CreateBoard(ctx context.Context, b domain.Board) (domain.Board, error) {
	return c.base.CreateBoard(ctx, b)
}

func (c *Cache) UpdateBoardFields(ctx context.Context, id string, patch domain.BoardPatch) (domain.Board, error) {
	return c.base.UpdateBoardFields(ctx, id, patch)
}

func (c *Cache) DeleteBoard(ctx context.Context, id string) error {
	if err := c.base.DeleteBoard(ctx, id); err != nil {
		return err
	}
	c.evict(ctx, id)
	return nil
}

func (c *Cache) ListBoards(ctx context.Context, userID string) ([]domain.Board, error) {
	return c.base.ListBoards(ctx, userID)
}

func (c *Cache) loadTasksFromCache(ctx context.Context, boardID string) ([]domain.Task, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, boardTasksKey(boardID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, boardTasksKey(boardID)).Err()
		}
		return nil, false
	}
	var tasks []domain.Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		_ = c.redis.Del(ctx, boardTasksKey(boardID)).Err()
		return nil, false
	}
	return tasks, true
}

func (c *Cache) storeTasks(ctx context.Context, boardID string, tasks []domain.Task) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(tasks)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, boardTasksKey(boardID), data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context, boardID string) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.Del(ctx, boardTasksKey(boardID)).Result()
}
