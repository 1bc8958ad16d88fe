package storage

import (
	"reflect"
	"sort"

	"prism-board/domain"
)

// RefKind names the document kinds that can be resolved to their board.
type RefKind string

const (
	RefColumn RefKind = "column"
	RefTask   RefKind = "task"
)

// Snapshot holds every document of one board as persisted.
type Snapshot struct {
	Board   domain.Board             `json:"board"`
	Columns map[string]domain.Column `json:"columns"`
	Tasks   map[string]domain.Task   `json:"tasks"`
	// ETag is the backend's concurrency token for the board document.
	ETag string `json:"etag,omitempty"`
}

func newSnapshot(b domain.Board) *Snapshot {
	return &Snapshot{Board: b, Columns: map[string]domain.Column{}, Tasks: map[string]domain.Task{}}
}

// Clone returns a deep copy of s.
func (s *Snapshot) Clone() *Snapshot {
	out := &Snapshot{
		Board:   s.Board,
		Columns: make(map[string]domain.Column, len(s.Columns)),
		Tasks:   make(map[string]domain.Task, len(s.Tasks)),
		ETag:    s.ETag,
	}
	out.Board.ColumnIDs = append([]string(nil), s.Board.ColumnIDs...)
	for id, c := range s.Columns {
		c.TaskIDs = append([]string(nil), c.TaskIDs...)
		out.Columns[id] = c
	}
	for id, t := range s.Tasks {
		out.Tasks[id] = t.Clone()
	}
	return out
}

// State assembles the ordered board view. Column and task order follow the
// id sequences; positions are taken from that order.
func (s *Snapshot) State() domain.BoardState {
	state := domain.BoardState{Board: s.Board, Columns: make([]domain.ColumnState, 0, len(s.Board.ColumnIDs))}
	state.Board.ColumnIDs = append([]string{}, s.Board.ColumnIDs...)
	for _, cid := range s.Board.ColumnIDs {
		col, ok := s.Columns[cid]
		if !ok {
			continue
		}
		cs := domain.ColumnState{Column: col, Tasks: make([]domain.Task, 0, len(col.TaskIDs))}
		cs.TaskIDs = append([]string{}, col.TaskIDs...)
		for _, tid := range col.TaskIDs {
			if t, ok := s.Tasks[tid]; ok {
				cs.Tasks = append(cs.Tasks, t.Clone())
			}
		}
		state.Columns = append(state.Columns, cs)
	}
	return state.Normalize()
}

// Changes is the write set produced by a Tx.
type Changes struct {
	Board         domain.Board
	BoardChanged  bool
	DeleteBoard   bool
	PutColumns    []domain.Column
	DeleteColumns []string
	PutTasks      []domain.Task
	DeleteTasks   []string
	// NewColumns and NewTasks list puts for documents that did not exist.
	NewColumns []string
	NewTasks   []string
}

// Empty reports whether nothing needs to be written.
func (c Changes) Empty() bool {
	return !c.BoardChanged && !c.DeleteBoard && len(c.PutColumns) == 0 && len(c.DeleteColumns) == 0 &&
		len(c.PutTasks) == 0 && len(c.DeleteTasks) == 0
}

// Count returns the number of documents touched.
func (c Changes) Count() int {
	n := len(c.PutColumns) + len(c.DeleteColumns) + len(c.PutTasks) + len(c.DeleteTasks)
	if c.BoardChanged || c.DeleteBoard {
		n++
	}
	return n
}

// Tx stages writes against one board. Nothing is visible to readers until
// the store commits; an update function that returns an error discards the
// staged writes.
type Tx struct {
	orig    *Snapshot
	cur     *Snapshot
	deleted bool
}

// NewTx starts staging on top of snap. snap is not modified.
func NewTx(snap *Snapshot) *Tx {
	return &Tx{orig: snap, cur: snap.Clone()}
}

// Board returns the staged board document.
func (tx *Tx) Board() domain.Board {
	b := tx.cur.Board
	b.ColumnIDs = append([]string{}, b.ColumnIDs...)
	return b
}

// PutBoard stages the board document.
func (tx *Tx) PutBoard(b domain.Board) {
	b.ID = tx.cur.Board.ID
	b.ColumnIDs = append([]string{}, b.ColumnIDs...)
	tx.cur.Board = b
}

// Column returns the staged column with id.
func (tx *Tx) Column(id string) (domain.Column, bool) {
	c, ok := tx.cur.Columns[id]
	if ok {
		c.TaskIDs = append([]string{}, c.TaskIDs...)
	}
	return c, ok
}

// PutColumn stages a column document.
func (tx *Tx) PutColumn(c domain.Column) {
	c.BoardID = tx.cur.Board.ID
	c.TaskIDs = append([]string{}, c.TaskIDs...)
	tx.cur.Columns[c.ID] = c
}

// DeleteColumn stages removal of a column document.
func (tx *Tx) DeleteColumn(id string) { delete(tx.cur.Columns, id) }

// Task returns the staged task with id.
func (tx *Tx) Task(id string) (domain.Task, bool) {
	t, ok := tx.cur.Tasks[id]
	if ok {
		t = t.Clone()
	}
	return t, ok
}

// PutTask stages a task document.
func (tx *Tx) PutTask(t domain.Task) { tx.cur.Tasks[t.ID] = t.Clone() }

// DeleteTask stages removal of a task document.
func (tx *Tx) DeleteTask(id string) { delete(tx.cur.Tasks, id) }

// DeleteBoard stages removal of the board and every document it holds.
func (tx *Tx) DeleteBoard() { tx.deleted = true }

// State returns the staged board view.
func (tx *Tx) State() domain.BoardState { return tx.cur.State() }

// Changes computes the write set. When anything changed the board document
// is always part of it with its version bumped, so backends can use it as
// the concurrency guard.
func (tx *Tx) Changes() Changes {
	var ch Changes
	if tx.deleted {
		ch.DeleteBoard = true
		ch.DeleteColumns = sortedKeys(tx.orig.Columns)
		ch.DeleteTasks = sortedKeys(tx.orig.Tasks)
		return ch
	}
	for _, id := range sortedKeys(tx.cur.Columns) {
		c := tx.cur.Columns[id]
		old, ok := tx.orig.Columns[id]
		if !ok {
			ch.NewColumns = append(ch.NewColumns, id)
		}
		if !ok || !reflect.DeepEqual(canonColumn(old), canonColumn(c)) {
			ch.PutColumns = append(ch.PutColumns, c)
		}
	}
	for _, id := range sortedKeys(tx.orig.Columns) {
		if _, ok := tx.cur.Columns[id]; !ok {
			ch.DeleteColumns = append(ch.DeleteColumns, id)
		}
	}
	for _, id := range sortedKeys(tx.cur.Tasks) {
		t := tx.cur.Tasks[id]
		old, ok := tx.orig.Tasks[id]
		if !ok {
			ch.NewTasks = append(ch.NewTasks, id)
		}
		if !ok || !reflect.DeepEqual(canonTask(old), canonTask(t)) {
			ch.PutTasks = append(ch.PutTasks, t)
		}
	}
	for _, id := range sortedKeys(tx.orig.Tasks) {
		if _, ok := tx.cur.Tasks[id]; !ok {
			ch.DeleteTasks = append(ch.DeleteTasks, id)
		}
	}
	boardChanged := !reflect.DeepEqual(canonBoard(tx.orig.Board), canonBoard(tx.cur.Board))
	if boardChanged || len(ch.PutColumns) > 0 || len(ch.DeleteColumns) > 0 || len(ch.PutTasks) > 0 || len(ch.DeleteTasks) > 0 {
		ch.Board = tx.cur.Board
		ch.Board.Version = tx.orig.Board.Version + 1
		ch.BoardChanged = true
	}
	return ch
}

// apply returns the snapshot that results from committing ch onto s.
func apply(s *Snapshot, ch Changes) *Snapshot {
	out := s.Clone()
	if ch.BoardChanged {
		out.Board = ch.Board
	}
	for _, c := range ch.PutColumns {
		out.Columns[c.ID] = c
	}
	for _, id := range ch.DeleteColumns {
		delete(out.Columns, id)
	}
	for _, t := range ch.PutTasks {
		out.Tasks[t.ID] = t
	}
	for _, id := range ch.DeleteTasks {
		delete(out.Tasks, id)
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// canon* map nil and empty slices to the same value so that change detection
// does not depend on how a backend decoded a document.
func canonBoard(b domain.Board) domain.Board {
	if len(b.ColumnIDs) == 0 {
		b.ColumnIDs = nil
	}
	return b
}

func canonColumn(c domain.Column) domain.Column {
	if len(c.TaskIDs) == 0 {
		c.TaskIDs = nil
	}
	return c
}

func canonTask(t domain.Task) domain.Task {
	if len(t.Labels) == 0 {
		t.Labels = nil
	}
	if len(t.Subtasks) == 0 {
		t.Subtasks = nil
	}
	return t
}
