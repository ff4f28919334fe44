// Package client implements the board sync controller that runs inside each
// connected client: it keeps a local task list, applies optimistic
// drag-and-drop mutations, merges inbound broadcast events and falls back to
// a full reload whenever local state becomes doubtful.
package client

import (
	"context"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"kanban-api/domain"
)

// API is the REST surface the controller mutates through.
type API interface {
	ListTasks(ctx context.Context, boardID string) ([]domain.Task, error)
	CreateTask(ctx context.Context, draft domain.TaskDraft) (domain.Task, error)
	UpdateTask(ctx context.Context, id string, patch domain.TaskPatch) (domain.Task, error)
	DeleteTask(ctx context.Context, id string) error
}

// Emitter publishes relay events to the gateway after a successful local
// apply. Emission is best effort: a failed broadcast only leaves peers stale.
type Emitter interface {
	Emit(event string, data any) error
}

// State tells whether local state is believed to match the server.
type State int

const (
	// Reconciled means local state matches the last server truth seen.
	Reconciled State = iota
	// Pending means an optimistic mutation is in flight.
	Pending
)

// typingTTL is how long a typing hint stays visible without a refresh.
const typingTTL = 3 * time.Second

// Controller is the per-board sync state machine.
type Controller struct {
	boardID string
	api     API
	emit    Emitter
	logger  *log.Logger
	now     func() time.Time

	mu     sync.Mutex
	tasks  []domain.Task
	state  State
	typing map[string]typingEntry
}

type typingEntry struct {
	userName string
	seenAt   time.Time
}

// New creates a controller for one board. The task list is empty until Load.
func New(boardID string, api API, emit Emitter, logger *log.Logger) *Controller {
	return &Controller{
		boardID: boardID,
		api:     api,
		emit:    emit,
		logger:  logger,
		now:     time.Now,
		state:   Reconciled,
		typing:  make(map[string]typingEntry),
	}
}

// State returns the current reconciliation state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Tasks returns a snapshot of the local task list.
func (c *Controller) Tasks() []domain.Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Task(nil), c.tasks...)
}

// Column returns the sorted tasks of one status column.
func (c *Controller) Column(status domain.Status) []domain.Task {
	c.mu.Lock()
	tasks := append([]domain.Task(nil), c.tasks...)
	c.mu.Unlock()
	return domain.Column(tasks, status)
}

// Load replaces local state with the server's full task list.
func (c *Controller) Load(ctx context.Context) error {
	tasks, err := c.api.ListTasks(ctx, c.boardID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.tasks = tasks
	c.state = Reconciled
	c.mu.Unlock()
	return nil
}

// Create issues the request first and applies the response body, never the
// request payload: the server may have filled computed fields (ID, position,
// timestamps). On failure local state is untouched.
func (c *Controller) Create(ctx context.Context, draft domain.TaskDraft) (domain.Task, error) {
	draft.BoardID = c.boardID
	created, err := c.api.CreateTask(ctx, draft)
	if err != nil {
		return domain.Task{}, err
	}
	c.mu.Lock()
	c.tasks = append(c.tasks, created)
	c.mu.Unlock()
	c.emitEvent(domain.EventTaskCreated, domain.TaskEvent{BoardID: c.boardID, Task: created})
	return created, nil
}

// Update issues the request first and replaces the local record with the
// response body on success.
func (c *Controller) Update(ctx context.Context, id string, patch domain.TaskPatch) (domain.Task, error) {
	updated, err := c.api.UpdateTask(ctx, id, patch)
	if err != nil {
		return domain.Task{}, err
	}
	c.replaceTask(updated)
	c.emitEvent(domain.EventTaskUpdated, domain.TaskEvent{BoardID: c.boardID, Task: updated})
	return updated, nil
}

// Delete removes the task remotely, then locally.
func (c *Controller) Delete(ctx context.Context, id string) error {
	if err := c.api.DeleteTask(ctx, id); err != nil {
		return err
	}
	c.removeTask(id)
	c.emitEvent(domain.EventTaskDeleted, domain.TaskDeletedEvent{BoardID: c.boardID, TaskID: id})
	return nil
}

// Move is the one optimistic-first operation: local state is patched before
// the round-trip so the drag gesture stays responsive. If persistence fails,
// all local state is discarded and reloaded from the server; there is no
// partial rollback.
func (c *Controller) Move(ctx context.Context, id string, newStatus domain.Status, newPosition int) error {
	c.mu.Lock()
	idx := c.indexOf(id)
	if idx < 0 {
		c.mu.Unlock()
		return domain.ErrNotFound
	}
	if domain.SamePlacement(c.tasks[idx], newStatus, newPosition) {
		c.mu.Unlock()
		return nil
	}
	c.tasks[idx].Status = newStatus
	c.tasks[idx].Position = newPosition
	c.state = Pending
	c.mu.Unlock()

	patch := domain.TaskPatch{Status: &newStatus, Position: &newPosition}
	if _, err := c.api.UpdateTask(ctx, id, patch); err != nil {
		if loadErr := c.Load(ctx); loadErr != nil {
			c.logger.Errorf("reload after failed move: %v", loadErr)
			return loadErr
		}
		return err
	}

	c.mu.Lock()
	c.state = Reconciled
	c.mu.Unlock()
	c.emitEvent(domain.EventTaskMoved, domain.TaskMovedEvent{
		BoardID:     c.boardID,
		TaskID:      id,
		NewStatus:   newStatus,
		NewPosition: newPosition,
	})
	return nil
}

// HandleTaskCreated merges an inbound create, ignoring IDs already present.
func (c *Controller) HandleTaskCreated(task domain.Task) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.indexOf(task.ID) >= 0 {
		return
	}
	c.tasks = append(c.tasks, task)
}

// HandleTaskUpdated replaces the local record with the event payload. The
// stream carries no ordering token, so the last writer wins.
func (c *Controller) HandleTaskUpdated(task domain.Task) {
	c.replaceTask(task)
}

// HandleTaskDeleted removes the task if present.
func (c *Controller) HandleTaskDeleted(taskID string) {
	c.removeTask(taskID)
}

// HandleTaskMoved patches status and position of the referenced task.
func (c *Controller) HandleTaskMoved(ev domain.TaskMovedEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if idx := c.indexOf(ev.TaskID); idx >= 0 {
		c.tasks[idx].Status = ev.NewStatus
		c.tasks[idx].Position = ev.NewPosition
	}
}

// HandleUserTyping refreshes the ephemeral typing hint for a peer.
func (c *Controller) HandleUserTyping(ev domain.TypingEvent) {
	if ev.UserID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.typing[ev.UserID] = typingEntry{userName: ev.UserName, seenAt: c.now()}
}

// TypingUsers returns the names of peers whose typing hint is still fresh,
// dropping stale entries as a side effect.
func (c *Controller) TypingUsers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	cutoff := c.now().Add(-typingTTL)
	names := make([]string, 0, len(c.typing))
	for userID, entry := range c.typing {
		if entry.seenAt.Before(cutoff) {
			delete(c.typing, userID)
			continue
		}
		names = append(names, entry.userName)
	}
	sort.Strings(names)
	return names
}

func (c *Controller) emitEvent(event string, data any) {
	if c.emit == nil {
		return
	}
	if err := c.emit.Emit(event, data); err != nil {
		c.logger.Warnf("emit %s: %v", event, err)
	}
}

// indexOf must be called with the mutex held.
func (c *Controller) indexOf(id string) int {
	for i := range c.tasks {
		if c.tasks[i].ID == id {
			return i
		}
	}
	return -1
}

func (c *Controller) replaceTask(task domain.Task) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if idx := c.indexOf(task.ID); idx >= 0 {
		c.tasks[idx] = task
	}
}

func (c *Controller) removeTask(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if idx := c.indexOf(id); idx >= 0 {
		c.tasks = append(c.tasks[:idx], c.tasks[idx+1:]...)
	}
}
