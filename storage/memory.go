package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"prism-board/domain"
)

// CommitHook is called by the in-memory store for every document written
// during a commit. Returning an error aborts the commit part way through.
type CommitHook func(boardID string, written int) error

// Memory is an in-process Store. Each board is committed by swapping a fully
// built snapshot under a board-scoped lock, so readers never observe a
// partially applied transaction.
type Memory struct {
	mu     sync.RWMutex
	boards map[string]*Snapshot
	refs   map[string]string
	locks  *BoardLocks
	hook   CommitHook
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		boards: make(map[string]*Snapshot),
		refs:   make(map[string]string),
		locks:  NewBoardLocks(),
	}
}

// SetCommitHook installs h for subsequent commits. A nil hook disables it.
func (m *Memory) SetCommitHook(h CommitHook) {
	m.mu.Lock()
	m.hook = h
	m.mu.Unlock()
}

func (m *Memory) CreateBoard(ctx context.Context, b domain.Board) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.boards[b.ID]; exists {
		return fmt.Errorf("%w: board %s already exists", domain.ErrTransaction, b.ID)
	}
	b.ColumnIDs = append([]string{}, b.ColumnIDs...)
	m.boards[b.ID] = newSnapshot(b)
	return nil
}

func (m *Memory) LoadBoard(ctx context.Context, boardID string) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.boards[boardID]
	if !ok {
		return nil, domain.NotFoundf("board %s", boardID)
	}
	return snap.Clone(), nil
}

func (m *Memory) ListBoards(ctx context.Context, ownerID string) ([]domain.Board, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []domain.Board{}
	for _, snap := range m.boards {
		if snap.Board.OwnerID == ownerID {
			b := snap.Board
			b.ColumnIDs = append([]string{}, b.ColumnIDs...)
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) Locate(ctx context.Context, kind RefKind, id string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	boardID, ok := m.refs[refKey(kind, id)]
	if !ok {
		return "", domain.NotFoundf("%s %s", kind, id)
	}
	return boardID, nil
}

func (m *Memory) Update(ctx context.Context, boardID string, fn func(*Tx) error) error {
	unlock := m.locks.Lock(boardID)
	defer unlock()

	snap, err := m.LoadBoard(ctx, boardID)
	if err != nil {
		return err
	}
	tx := NewTx(snap)
	if err := fn(tx); err != nil {
		return err
	}
	ch := tx.Changes()
	if ch.Empty() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransaction, err)
	}

	m.mu.RLock()
	hook := m.hook
	m.mu.RUnlock()
	next, err := stage(snap, ch, boardID, hook)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransaction, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.boards[boardID]; !ok || cur.Board.Version != snap.Board.Version {
		return domain.ErrConcurrencyConflict
	}
	if ch.DeleteBoard {
		delete(m.boards, boardID)
	} else {
		m.boards[boardID] = next
	}
	for _, id := range ch.DeleteColumns {
		delete(m.refs, refKey(RefColumn, id))
	}
	for _, id := range ch.DeleteTasks {
		delete(m.refs, refKey(RefTask, id))
	}
	for _, id := range ch.NewColumns {
		m.refs[refKey(RefColumn, id)] = boardID
	}
	for _, id := range ch.NewTasks {
		m.refs[refKey(RefTask, id)] = boardID
	}
	return nil
}

// stage applies ch to a private copy of snap one document at a time. The
// copy is discarded if the hook fails.
func stage(snap *Snapshot, ch Changes, boardID string, hook CommitHook) (*Snapshot, error) {
	if hook == nil {
		return apply(snap, ch), nil
	}
	next := snap.Clone()
	written := 0
	step := func() error {
		written++
		return hook(boardID, written)
	}
	for _, c := range ch.PutColumns {
		next.Columns[c.ID] = c
		if err := step(); err != nil {
			return nil, err
		}
	}
	for _, t := range ch.PutTasks {
		next.Tasks[t.ID] = t
		if err := step(); err != nil {
			return nil, err
		}
	}
	for _, id := range ch.DeleteColumns {
		delete(next.Columns, id)
		if err := step(); err != nil {
			return nil, err
		}
	}
	for _, id := range ch.DeleteTasks {
		delete(next.Tasks, id)
		if err := step(); err != nil {
			return nil, err
		}
	}
	if ch.BoardChanged {
		next.Board = ch.Board
		if err := step(); err != nil {
			return nil, err
		}
	}
	return next, nil
}
