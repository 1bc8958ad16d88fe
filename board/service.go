// Package board applies board mutations to durable storage. Every mutation
// runs inside one store transaction, serialised per board.
package board

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"prism-board/domain"
	"prism-board/storage"
)

const defaultRetries = 3

// Service is the transactional writer for boards, columns and tasks.
type Service struct {
	store     storage.Store
	publisher storage.EventPublisher
	logger    *log.Logger
	locks     *storage.BoardLocks
	now       func() time.Time
	retries   int
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher sets the sink for committed board events.
func WithPublisher(p storage.EventPublisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithRetries sets how often a commit rejected by a concurrency conflict is
// retried against fresh state.
func WithRetries(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.retries = n
		}
	}
}

// NewService creates a Service writing to store.
func NewService(store storage.Store, opts ...Option) *Service {
	s := &Service{
		store:   store,
		logger:  log.StandardLogger(),
		locks:   storage.NewBoardLocks(),
		now:     time.Now,
		retries: defaultRetries,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// mutation stages writes on tx and describes them in ev.
type mutation func(tx *storage.Tx, ev *domain.BoardEvent) error

// mutate runs fn against the caller's board in one transaction and returns
// the committed state. A commit that loses a concurrency race is retried on
// fresh state. Nothing is published when fn staged no change.
func (s *Service) mutate(ctx context.Context, userID, boardID, op string, fn mutation) (domain.BoardState, error) {
	unlock := s.locks.Lock(boardID)
	defer unlock()

	logger := s.logger.WithFields(log.Fields{"board": boardID, "op": op, "user": userID})
	var (
		state   domain.BoardState
		ev      domain.BoardEvent
		changed bool
	)
	for attempt := 0; ; attempt++ {
		ev = domain.BoardEvent{BoardID: boardID, UserID: userID}
		changed = false
		err := s.store.Update(ctx, boardID, func(tx *storage.Tx) error {
			if err := checkOwner(tx.Board(), userID); err != nil {
				return err
			}
			if err := fn(tx, &ev); err != nil {
				return err
			}
			if !tx.Changes().Empty() {
				if ev.Type != domain.BoardDeleted {
					if err := verifyPositions(tx); err != nil {
						return err
					}
				}
				changed = true
				ev.Version = tx.Board().Version + 1
			}
			state = tx.State()
			return nil
		})
		if err == nil {
			break
		}
		if errors.Is(err, domain.ErrConcurrencyConflict) && attempt < s.retries {
			logger.WithField("attempt", attempt+1).Debug("concurrency conflict, retrying")
			continue
		}
		if domain.KindOf(err) == domain.KindInternalError {
			logger.Errorf("commit failed: %v", err)
		}
		return domain.BoardState{}, err
	}
	if changed {
		if ev.Type != domain.BoardDeleted {
			state.Board.Version = ev.Version
		}
		s.publish(ctx, ev)
	}
	return state, nil
}

func (s *Service) publish(ctx context.Context, ev domain.BoardEvent) {
	if s.publisher == nil {
		return
	}
	ev.ID = domain.NewID()
	ev.Time = s.now().UnixMilli()
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.WithFields(log.Fields{"board": ev.BoardID, "event": ev.Type}).Warnf("publish board event: %v", err)
	}
}

// boardOf resolves the board holding a column or task.
func (s *Service) boardOf(ctx context.Context, kind storage.RefKind, id string) (string, error) {
	if !domain.ValidID(id) {
		return "", domain.InvalidInputf("malformed %s id %q", kind, id)
	}
	return s.store.Locate(ctx, kind, id)
}

// checkOwner denies without naming the board, so a caller holding another
// user's column or task id learns nothing about where it lives.
func checkOwner(b domain.Board, userID string) error {
	if userID == "" || b.OwnerID != userID {
		return domain.ErrAccessDenied
	}
	return nil
}

// verifyPositions rejects a staged board whose column and task positions
// disagree with its id sequences. The commit is abandoned rather than
// persisting documents that would render in a different order than stored.
func verifyPositions(tx *storage.Tx) error {
	b := tx.Board()
	cols := make([]domain.Column, 0, len(b.ColumnIDs))
	for _, cid := range b.ColumnIDs {
		col, ok := tx.Column(cid)
		if !ok {
			return fmt.Errorf("%w: column %s is listed but missing", domain.ErrTransaction, cid)
		}
		cols = append(cols, col)
		tasks := make([]domain.Task, 0, len(col.TaskIDs))
		for _, tid := range col.TaskIDs {
			task, ok := tx.Task(tid)
			if !ok || task.ColumnID != cid {
				return fmt.Errorf("%w: task %s is not held by column %s", domain.ErrTransaction, tid, cid)
			}
			tasks = append(tasks, task)
		}
		if !domain.IsDense(tasks, func(t domain.Task) int { return t.Position }) {
			return fmt.Errorf("%w: task positions of column %s are not dense", domain.ErrTransaction, cid)
		}
	}
	if !domain.IsDense(cols, func(c domain.Column) int { return c.Position }) {
		return fmt.Errorf("%w: column positions of board %s are not dense", domain.ErrTransaction, b.ID)
	}
	return nil
}
