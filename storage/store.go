package storage

import (
	"context"
	"sync"

	"prism-board/domain"
)

// Store is implemented by every durable backend.
type Store interface {
	// CreateBoard persists a new, empty board.
	CreateBoard(ctx context.Context, b domain.Board) error
	// LoadBoard returns every document of a board.
	LoadBoard(ctx context.Context, boardID string) (*Snapshot, error)
	// ListBoards returns the boards owned by ownerID, oldest first.
	ListBoards(ctx context.Context, ownerID string) ([]domain.Board, error)
	// Locate returns the id of the board holding a column or task.
	Locate(ctx context.Context, kind RefKind, id string) (string, error)
	// Update runs fn against a staged view of the board and commits every
	// staged write as one all-or-nothing transaction. An error from fn, or
	// from the commit, leaves the board untouched.
	Update(ctx context.Context, boardID string, fn func(*Tx) error) error
}

// BoardLocks serialises work per board id.
type BoardLocks struct {
	mu    sync.Mutex
	locks map[string]*boardLock
}

type boardLock struct {
	mu   sync.Mutex
	refs int
}

// NewBoardLocks creates an empty lock table.
func NewBoardLocks() *BoardLocks {
	return &BoardLocks{locks: make(map[string]*boardLock)}
}

// Lock blocks until the board is free and returns the matching unlock.
func (l *BoardLocks) Lock(boardID string) func() {
	l.mu.Lock()
	bl, ok := l.locks[boardID]
	if !ok {
		bl = &boardLock{}
		l.locks[boardID] = bl
	}
	bl.refs++
	l.mu.Unlock()

	bl.mu.Lock()
	return func() {
		bl.mu.Unlock()
		l.mu.Lock()
		bl.refs--
		if bl.refs == 0 {
			delete(l.locks, boardID)
		}
		l.mu.Unlock()
	}
}

func refKey(kind RefKind, id string) string {
	return string(kind) + ":" + id
}
