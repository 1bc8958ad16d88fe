package domain

// Board event types.
const (
	BoardCreated     = "board-created"
	BoardDeleted     = "board-deleted"
	ColumnCreated    = "column-created"
	ColumnUpdated    = "column-updated"
	ColumnDeleted    = "column-deleted"
	ColumnsReordered = "columns-reordered"
	TaskCreated      = "task-created"
	TaskUpdated      = "task-updated"
	TaskDeleted      = "task-deleted"
	TasksReordered   = "tasks-reordered"
	TaskMoved        = "task-moved"
)

// BoardEvent records one committed board mutation.
type BoardEvent struct {
	ID         string `json:"id"`
	BoardID    string `json:"boardId"`
	EntityID   string `json:"entityId"`
	EntityType string `json:"entityType"`
	Type       string `json:"type"`
	Move       *Move  `json:"move,omitempty"`
	Version    int64  `json:"version"`
	Time       int64  `json:"time"`
	UserID     string `json:"userId"`
}
