package domain

// MoveKind tells which kind of container a move operates on.
type MoveKind string

const (
	// MoveColumn reorders a column inside its board.
	MoveColumn MoveKind = "column"
	// MoveTask reorders a task inside a column or moves it across columns.
	MoveTask MoveKind = "task"
)

// Move describes one requested reorder. It is never persisted.
type Move struct {
	Kind                   MoveKind `json:"kind"`
	EntityID               string   `json:"entityId"`
	SourceContainerID      string   `json:"sourceContainerId"`
	DestinationContainerID string   `json:"destinationContainerId"`
	SourceIndex            int      `json:"sourceIndex"`
	DestinationIndex       int      `json:"destinationIndex"`
}

// SameContainer reports whether the move stays inside one container.
func (m Move) SameContainer() bool {
	return m.SourceContainerID == m.DestinationContainerID
}

// IsNoop reports whether applying m cannot change any order.
func (m Move) IsNoop() bool {
	return m.SameContainer() && m.SourceIndex == m.DestinationIndex
}

// Validate checks identifiers and index signs.
func (m Move) Validate() error {
	switch m.Kind {
	case MoveColumn, MoveTask:
	default:
		return InvalidInputf("unknown move kind %q", m.Kind)
	}
	for _, id := range []string{m.EntityID, m.SourceContainerID, m.DestinationContainerID} {
		if !ValidID(id) {
			return InvalidInputf("malformed id %q", id)
		}
	}
	if m.Kind == MoveColumn && !m.SameContainer() {
		return InvalidInputf("columns cannot leave their board")
	}
	if err := ValidateIndex("sourceIndex", m.SourceIndex); err != nil {
		return err
	}
	return ValidateIndex("destinationIndex", m.DestinationIndex)
}
