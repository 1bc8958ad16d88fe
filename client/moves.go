package client

import (
	"slices"

	"prism-board/domain"
)

// MoveState tracks an optimistic move through persistence.
type MoveState int

const (
	// Idle is a move that changed nothing and was never sent.
	Idle MoveState = iota
	// Pending is applied locally and waiting for the server.
	Pending
	// Committed is confirmed by the server.
	Committed
	// RolledBack failed and was reverted.
	RolledBack
)

func (s MoveState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Pending:
		return "pending"
	case Committed:
		return "committed"
	case RolledBack:
		return "rolled-back"
	}
	return "unknown"
}

// Record is one move and what became of it.
type Record struct {
	Seq   uint64
	Move  domain.Move
	State MoveState
	Err   error
}

// apply returns state with m applied. Tasks are found by id so a move can be
// replayed after the indices around it have shifted.
func apply(state domain.BoardState, m domain.Move) (domain.BoardState, error) {
	out := state.Clone()
	switch m.Kind {
	case domain.MoveColumn:
		src := out.ColumnIndex(m.EntityID)
		if src < 0 {
			return state, domain.NotFoundf("column %s", m.EntityID)
		}
		if m.DestinationIndex < 0 || m.DestinationIndex >= len(out.Columns) {
			return state, domain.InvalidInputf("column index %d out of range", m.DestinationIndex)
		}
		out.Columns = domain.ReorderWithinList(out.Columns, src, m.DestinationIndex)
	case domain.MoveTask:
		si, di := out.ColumnIndex(m.SourceContainerID), out.ColumnIndex(m.DestinationContainerID)
		if si < 0 {
			return state, domain.NotFoundf("column %s", m.SourceContainerID)
		}
		if di < 0 {
			return state, domain.NotFoundf("column %s", m.DestinationContainerID)
		}
		from := out.Columns[si].Tasks
		src := slices.IndexFunc(from, func(t domain.Task) bool { return t.ID == m.EntityID })
		if src < 0 {
			return state, domain.InvalidInputf("task %s is not in column %s", m.EntityID, m.SourceContainerID)
		}
		if m.DestinationIndex < 0 {
			return state, domain.InvalidInputf("task index %d out of range", m.DestinationIndex)
		}
		to := out.Columns[di].Tasks
		if si == di {
			to = from
		}
		newFrom, newTo := domain.MoveBetweenLists(from, to, src, m.DestinationIndex)
		out.Columns[si].Tasks = newFrom
		out.Columns[di].Tasks = newTo
	default:
		return state, domain.InvalidInputf("unknown move kind %q", m.Kind)
	}
	return out.Normalize(), nil
}
