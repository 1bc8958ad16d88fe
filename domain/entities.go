package domain

import "time"

// Priority tags a task with a coarse urgency level.
type Priority string

const (
	PriorityNone   Priority = ""
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityNone, PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Board owns an ordered sequence of columns. ColumnIDs is authoritative for
// column order.
type Board struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"ownerId"`
	ColumnIDs []string  `json:"columnIds"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Column belongs to exactly one board and owns an ordered sequence of tasks.
// Position mirrors the column's index in Board.ColumnIDs.
type Column struct {
	ID        string    `json:"id"`
	BoardID   string    `json:"boardId"`
	Title     string    `json:"title"`
	TaskIDs   []string  `json:"taskIds"`
	Position  int       `json:"position"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// WithPosition returns a copy of c placed at p.
func (c Column) WithPosition(p int) Column {
	c.Position = p
	return c
}

// Subtask is a checklist entry on a task.
type Subtask struct {
	Title string `json:"title"`
	Done  bool   `json:"done,omitempty"`
}

// Task is a card inside a column. Position mirrors the task's index in
// Column.TaskIDs.
type Task struct {
	ID          string    `json:"id"`
	ColumnID    string    `json:"columnId"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Position    int       `json:"position"`
	Labels      []string  `json:"labels,omitempty"`
	Priority    Priority  `json:"priority,omitempty"`
	Subtasks    []Subtask `json:"subtasks,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// WithPosition returns a copy of t placed at p.
func (t Task) WithPosition(p int) Task {
	t.Position = p
	return t
}

// Clone returns a deep copy of t.
func (t Task) Clone() Task {
	t.Labels = cloneStrings(t.Labels)
	if t.Subtasks != nil {
		t.Subtasks = append([]Subtask(nil), t.Subtasks...)
	}
	return t
}

// ColumnState is a column together with its tasks in order.
type ColumnState struct {
	Column
	Tasks []Task `json:"tasks"`
}

// WithPosition returns a copy of cs placed at p.
func (cs ColumnState) WithPosition(p int) ColumnState {
	cs.Position = p
	return cs
}

// BoardState is the denormalised view of a board used by clients and
// returned by the read endpoints.
type BoardState struct {
	Board   Board         `json:"board"`
	Columns []ColumnState `json:"columns"`
}

// Clone returns a deep copy of s.
func (s BoardState) Clone() BoardState {
	out := BoardState{Board: s.Board}
	out.Board.ColumnIDs = cloneStrings(s.Board.ColumnIDs)
	out.Columns = make([]ColumnState, len(s.Columns))
	for i, cs := range s.Columns {
		c := cs
		c.TaskIDs = cloneStrings(cs.TaskIDs)
		c.Tasks = make([]Task, len(cs.Tasks))
		for j, t := range cs.Tasks {
			c.Tasks[j] = t.Clone()
		}
		out.Columns[i] = c
	}
	return out
}

// Normalize rebuilds the id sequences and positions from the nested slices so
// that the derived fields agree with slice order.
func (s BoardState) Normalize() BoardState {
	out := s.Clone()
	out.Columns = Reindex(out.Columns)
	out.Board.ColumnIDs = make([]string, len(out.Columns))
	for i := range out.Columns {
		cs := &out.Columns[i]
		cs.BoardID = out.Board.ID
		cs.Tasks = Reindex(cs.Tasks)
		cs.TaskIDs = make([]string, len(cs.Tasks))
		for j := range cs.Tasks {
			cs.Tasks[j].ColumnID = cs.ID
			cs.TaskIDs[j] = cs.Tasks[j].ID
		}
		out.Board.ColumnIDs[i] = cs.ID
	}
	return out
}

// ColumnIndex returns the index of the column with id, or -1.
func (s BoardState) ColumnIndex(id string) int {
	for i := range s.Columns {
		if s.Columns[i].ID == id {
			return i
		}
	}
	return -1
}

// LocateTask returns the column and task indices of the task with id.
func (s BoardState) LocateTask(id string) (col, idx int, ok bool) {
	for i := range s.Columns {
		for j := range s.Columns[i].Tasks {
			if s.Columns[i].Tasks[j].ID == id {
				return i, j, true
			}
		}
	}
	return -1, -1, false
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
