package api

import (
	"context"

	"prism-board/board"
	"prism-board/domain"
)

// Boards is the board operation surface the HTTP layer serves.
type Boards interface {
	CreateBoard(ctx context.Context, userID, name string) (domain.Board, error)
	GetBoard(ctx context.Context, userID, boardID string) (domain.BoardState, error)
	ListBoards(ctx context.Context, userID string) ([]domain.Board, error)
	DeleteBoard(ctx context.Context, userID, boardID string) error

	CreateColumn(ctx context.Context, userID, boardID, title string, index *int) (domain.Column, error)
	RenameColumn(ctx context.Context, userID, columnID, title string) (domain.Column, error)
	DeleteColumn(ctx context.Context, userID, columnID string) error
	ReorderColumns(ctx context.Context, userID, boardID string, orderedColumnIDs []string) (domain.BoardState, error)

	CreateTask(ctx context.Context, userID, columnID string, in board.TaskInput, index *int) (domain.Task, error)
	UpdateTask(ctx context.Context, userID, taskID string, patch board.TaskPatch) (domain.Task, error)
	DeleteTask(ctx context.Context, userID, taskID string) error
	ReorderTasks(ctx context.Context, userID, columnID string, orderedTaskIDs []string) (domain.BoardState, error)
	MoveTask(ctx context.Context, userID, taskID, srcColumnID, dstColumnID string, dstIndex int) (domain.BoardState, error)
}

// Authenticator resolves the caller from the Authorization header.
type Authenticator interface {
	UserIDFromAuthHeader(h string) (string, error)
}

// Deduper records processed idempotency keys.
type Deduper interface {
	Add(ctx context.Context, userID, key string) (bool, error)
	Remove(ctx context.Context, userID, key string) error
}

// ActivityReader returns recent events of a board, newest first.
type ActivityReader interface {
	Recent(ctx context.Context, boardID string, n int) ([]domain.BoardEvent, error)
}

// HealthCheck reports whether the backing services are reachable.
type HealthCheck func(ctx context.Context) error

type createBoardRequest struct {
	Name string `json:"name"`
}

type reorderColumnsRequest struct {
	ColumnIDs []string `json:"columnIds"`
}

type createColumnRequest struct {
	Title string `json:"title"`
	Index *int   `json:"index,omitempty"`
}

type renameColumnRequest struct {
	Title string `json:"title"`
}

type reorderTasksRequest struct {
	TaskIDs []string `json:"taskIds"`
}

type createTaskRequest struct {
	Title       string           `json:"title"`
	Description string           `json:"description,omitempty"`
	Labels      []string         `json:"labels,omitempty"`
	Priority    domain.Priority  `json:"priority,omitempty"`
	Subtasks    []domain.Subtask `json:"subtasks,omitempty"`
	Index       *int             `json:"index,omitempty"`
}

type updateTaskRequest struct {
	Title       *string           `json:"title,omitempty"`
	Description *string           `json:"description,omitempty"`
	Labels      *[]string         `json:"labels,omitempty"`
	Priority    *domain.Priority  `json:"priority,omitempty"`
	Subtasks    *[]domain.Subtask `json:"subtasks,omitempty"`
}

type moveTaskRequest struct {
	SourceColumnID      string `json:"sourceColumnId"`
	DestinationColumnID string `json:"destinationColumnId"`
	DestinationIndex    *int   `json:"destinationIndex"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type duplicateResponse struct {
	Duplicate bool `json:"duplicate"`
}
