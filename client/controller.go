// Package client keeps an optimistic in-memory copy of a board. Moves are
// applied locally at once and persisted in gesture order by a background
// worker; a failed request reverts its effect.
package client

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"prism-board/domain"
)

const (
	defaultTimeout = 10 * time.Second
	defaultHistory = 64
)

// ErrClosed is returned for moves issued after Close.
var ErrClosed = errors.New("controller closed")

// Renderer receives the board after every local state change.
type Renderer func(domain.BoardState)

// Notifier surfaces non-fatal failures to the user.
type Notifier interface {
	Notify(rec Record)
}

type logNotifier struct{ logger *log.Logger }

func (n logNotifier) Notify(rec Record) {
	n.logger.WithFields(log.Fields{
		"seq":    rec.Seq,
		"kind":   rec.Move.Kind,
		"entity": rec.Move.EntityID,
		"state":  rec.State.String(),
	}).WithError(rec.Err).Warn("move reverted")
}

// Option configures a Controller.
type Option func(*Controller)

// WithRenderer sets the render callback.
func WithRenderer(r Renderer) Option { return func(c *Controller) { c.render = r } }

// WithNotifier replaces the default logrus notifier.
func WithNotifier(n Notifier) Option { return func(c *Controller) { c.notifier = n } }

// WithTimeout bounds every persistence request.
func WithTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithHistory bounds the number of records Moves returns.
func WithHistory(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.historySize = n
		}
	}
}

// WithLogger sets the logger used by the default notifier.
func WithLogger(l *log.Logger) Option { return func(c *Controller) { c.logger = l } }

// Controller owns the optimistic state of one board.
type Controller struct {
	persister   Persister
	render      Renderer
	notifier    Notifier
	logger      *log.Logger
	timeout     time.Duration
	historySize int

	mu sync.Mutex
	// confirmed is the state the server has acknowledged; current is
	// confirmed with every pending move applied on top.
	confirmed domain.BoardState
	current   domain.BoardState
	pending   []*Record
	history   []*Record
	seq       uint64
	// settled counts moves that left the queue, committed or not.
	settled uint64
	idle    chan struct{}
	closed  bool

	// frame numbers state snapshots in the order they were taken; renders
	// older than the last delivered frame are dropped.
	frame    uint64
	renderMu sync.Mutex
	rendered uint64

	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New starts a controller on state. Close releases its worker.
func New(state domain.BoardState, p Persister, opts ...Option) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		persister:   p,
		timeout:     defaultTimeout,
		historySize: defaultHistory,
		confirmed:   state.Normalize(),
		idle:        make(chan struct{}),
		wake:        make(chan struct{}, 1),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	close(c.idle)
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = log.StandardLogger()
	}
	if c.notifier == nil {
		c.notifier = logNotifier{logger: c.logger}
	}
	c.current = c.confirmed.Clone()
	go c.run()
	return c
}

// Load fetches the board and starts a controller on it.
func Load(ctx context.Context, p Persister, boardID string, opts ...Option) (*Controller, error) {
	state, err := p.FetchBoard(ctx, boardID)
	if err != nil {
		return nil, err
	}
	return New(state, p, opts...), nil
}

// State returns the optimistic board.
func (c *Controller) State() domain.BoardState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current.Clone()
}

// Moves returns the most recent move records, oldest first.
func (c *Controller) Moves() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Record, len(c.history))
	for i, r := range c.history {
		out[i] = *r
	}
	return out
}

// MoveColumn moves the column at src to dst.
func (c *Controller) MoveColumn(src, dst int) (Record, error) {
	c.mu.Lock()
	if src < 0 || src >= len(c.current.Columns) || dst < 0 || dst >= len(c.current.Columns) {
		c.mu.Unlock()
		return Record{}, domain.InvalidInputf("column move %d -> %d out of range", src, dst)
	}
	boardID := c.current.Board.ID
	m := domain.Move{
		Kind:                   domain.MoveColumn,
		EntityID:               c.current.Columns[src].ID,
		SourceContainerID:      boardID,
		DestinationContainerID: boardID,
		SourceIndex:            src,
		DestinationIndex:       dst,
	}
	return c.submitLocked(m)
}

// MoveTask moves a task from srcIdx in srcCol to dstIdx in dstCol. dstIdx
// past the end of the destination appends.
func (c *Controller) MoveTask(taskID, srcCol, dstCol string, srcIdx, dstIdx int) (Record, error) {
	c.mu.Lock()
	si := c.current.ColumnIndex(srcCol)
	if si < 0 || c.current.ColumnIndex(dstCol) < 0 {
		c.mu.Unlock()
		return Record{}, domain.NotFoundf("column %s or %s", srcCol, dstCol)
	}
	tasks := c.current.Columns[si].Tasks
	if srcIdx < 0 || srcIdx >= len(tasks) || tasks[srcIdx].ID != taskID {
		c.mu.Unlock()
		return Record{}, domain.InvalidInputf("task %s is not at %d in column %s", taskID, srcIdx, srcCol)
	}
	if dstIdx < 0 {
		c.mu.Unlock()
		return Record{}, domain.InvalidInputf("destination index %d out of range", dstIdx)
	}
	if srcCol == dstCol && dstIdx >= len(tasks) {
		dstIdx = len(tasks) - 1
	}
	m := domain.Move{
		Kind:                   domain.MoveTask,
		EntityID:               taskID,
		SourceContainerID:      srcCol,
		DestinationContainerID: dstCol,
		SourceIndex:            srcIdx,
		DestinationIndex:       dstIdx,
	}
	return c.submitLocked(m)
}

// submitLocked applies m optimistically and queues it. It unlocks c.mu.
func (c *Controller) submitLocked(m domain.Move) (Record, error) {
	if c.closed {
		c.mu.Unlock()
		return Record{}, ErrClosed
	}
	if m.IsNoop() {
		c.mu.Unlock()
		return Record{Move: m, State: Idle}, nil
	}
	next, err := apply(c.current, m)
	if err != nil {
		c.mu.Unlock()
		return Record{}, err
	}
	c.seq++
	rec := &Record{Seq: c.seq, Move: m, State: Pending}
	c.current = next
	if len(c.pending) == 0 {
		c.idle = make(chan struct{})
	}
	c.pending = append(c.pending, rec)
	c.remember(rec)
	out, snapshot, frame := *rec, c.current.Clone(), c.nextFrameLocked()
	c.mu.Unlock()

	c.emit(frame, snapshot, nil)
	select {
	case c.wake <- struct{}{}:
	default:
	}
	return out, nil
}

// Wait blocks until every queued move has settled.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	idle := c.idle
	c.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Refresh reloads the board from the server. It reports whether the state
// was replaced: a fetch is discarded when moves are pending or when any move
// was issued or settled while it was in flight, since the response may
// predate them.
func (c *Controller) Refresh(ctx context.Context) (bool, error) {
	c.mu.Lock()
	boardID := c.confirmed.Board.ID
	seq, settled := c.seq, c.settled
	c.mu.Unlock()

	state, err := c.persister.FetchBoard(ctx, boardID)
	if err != nil {
		return false, err
	}
	c.mu.Lock()
	if len(c.pending) > 0 || c.seq != seq || c.settled != settled {
		c.mu.Unlock()
		return false, nil
	}
	c.confirmed = state.Normalize()
	c.current = c.confirmed.Clone()
	snapshot, frame := c.current.Clone(), c.nextFrameLocked()
	c.mu.Unlock()

	c.emit(frame, snapshot, nil)
	return true, nil
}

// Close stops the worker. Moves still queued are reverted.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		<-c.done
		return
	}
	c.closed = true
	c.mu.Unlock()
	c.cancel()
	<-c.done
}

func (c *Controller) run() {
	defer close(c.done)
	for {
		select {
		case <-c.ctx.Done():
			c.abandon()
			return
		case <-c.wake:
		}
		for c.step() {
		}
	}
}

// step persists the oldest pending move. It reports whether one was sent.
func (c *Controller) step() bool {
	c.mu.Lock()
	if len(c.pending) == 0 || c.ctx.Err() != nil {
		c.mu.Unlock()
		return false
	}
	rec := c.pending[0]
	m := rec.Move
	base := c.confirmed.Clone()
	c.mu.Unlock()

	next, err := apply(base, m)
	if err == nil {
		ctx, cancel := context.WithTimeout(c.ctx, c.timeout)
		err = c.send(ctx, next, m)
		cancel()
	}

	c.mu.Lock()
	if err == nil {
		rec.State = Committed
		c.confirmed = next
		c.pending = c.pending[1:]
		c.settled++
		c.settleLocked()
		c.mu.Unlock()
		return true
	}
	rec.State, rec.Err = RolledBack, err
	failed := []Record{*rec}
	c.pending = c.pending[1:]
	c.settled++
	failed = append(failed, c.replayLocked()...)
	c.settleLocked()
	snapshot, frame := c.current.Clone(), c.nextFrameLocked()
	c.mu.Unlock()

	c.emit(frame, snapshot, failed)
	return true
}

// send issues the one request that persists m. Reorders carry the resulting
// id sequence; cross-column moves carry the destination index.
func (c *Controller) send(ctx context.Context, next domain.BoardState, m domain.Move) error {
	switch {
	case m.Kind == domain.MoveColumn:
		return c.persister.ReorderColumns(ctx, next.Board.ID, next.Board.ColumnIDs)
	case m.SameContainer():
		ci := next.ColumnIndex(m.SourceContainerID)
		return c.persister.ReorderTasks(ctx, m.SourceContainerID, next.Columns[ci].TaskIDs)
	default:
		return c.persister.MoveTask(ctx, m.EntityID, m.SourceContainerID, m.DestinationContainerID, m.DestinationIndex)
	}
}

// replayLocked rebuilds current from confirmed and the pending moves. Moves
// that no longer apply are rolled back and returned.
func (c *Controller) replayLocked() []Record {
	var dropped []Record
	state := c.confirmed.Clone()
	kept := c.pending[:0]
	for _, rec := range c.pending {
		next, err := apply(state, rec.Move)
		if err != nil {
			rec.State, rec.Err = RolledBack, err
			dropped = append(dropped, *rec)
			c.settled++
			continue
		}
		state = next
		kept = append(kept, rec)
	}
	c.pending = kept
	c.current = state
	return dropped
}

// abandon reverts every move that never reached the server.
func (c *Controller) abandon() {
	c.mu.Lock()
	if len(c.pending) == 0 {
		c.mu.Unlock()
		return
	}
	var failed []Record
	for _, rec := range c.pending {
		rec.State, rec.Err = RolledBack, ErrClosed
		failed = append(failed, *rec)
	}
	c.settled += uint64(len(c.pending))
	c.pending = nil
	c.current = c.confirmed.Clone()
	c.settleLocked()
	snapshot, frame := c.current.Clone(), c.nextFrameLocked()
	c.mu.Unlock()

	c.emit(frame, snapshot, failed)
}

func (c *Controller) settleLocked() {
	if len(c.pending) == 0 {
		select {
		case <-c.idle:
		default:
			close(c.idle)
		}
	}
}

func (c *Controller) remember(rec *Record) {
	c.history = append(c.history, rec)
	if extra := len(c.history) - c.historySize; extra > 0 {
		c.history = append([]*Record(nil), c.history[extra:]...)
	}
}

func (c *Controller) nextFrameLocked() uint64 {
	c.frame++
	return c.frame
}

// emit runs the callbacks outside c.mu, after the state change. Callers on
// different goroutines may reach it out of order; a frame older than the
// last rendered one is skipped so the renderer never goes back to a state
// the controller no longer holds. Notifications are always delivered.
func (c *Controller) emit(frame uint64, state domain.BoardState, failed []Record) {
	c.renderMu.Lock()
	defer c.renderMu.Unlock()
	if c.render != nil && frame > c.rendered {
		c.rendered = frame
		c.render(state)
	}
	for _, rec := range failed {
		c.notifier.Notify(rec)
	}
}
