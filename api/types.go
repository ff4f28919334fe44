package api

import (
	"context"

	"kanban-api/domain"
)

// Storage abstracts persistence for handlers.
type Storage interface {
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

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}
