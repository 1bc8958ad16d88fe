package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{nil, KindNone},
		{InvalidInputf("bad %d", 1), KindInvalidInput},
		{fmt.Errorf("load: %w", NotFoundf("board %s", "b")), KindNotFound},
		{ErrAccessDenied, KindAccessDenied},
		{fmt.Errorf("commit: %w", ErrTransaction), KindInternalError},
		{errors.New("boom"), KindInternalError},
	}
	for _, tt := range tests {
		if got := KindOf(tt.err); got != tt.want {
			t.Fatalf("KindOf(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestValidID(t *testing.T) {
	valid := []string{"a", "col_1", NewID(), "A-Z"}
	for _, id := range valid {
		if !ValidID(id) {
			t.Fatalf("expected %q to be valid", id)
		}
	}
	invalid := []string{"", "has space", "semi;colon", "quote'", string(make([]byte, 65))}
	for _, id := range invalid {
		if ValidID(id) {
			t.Fatalf("expected %q to be invalid", id)
		}
	}
}

func TestMoveValidateAndNoop(t *testing.T) {
	m := Move{Kind: MoveTask, EntityID: "t", SourceContainerID: "c", DestinationContainerID: "c", SourceIndex: 1, DestinationIndex: 1}
	if !m.IsNoop() {
		t.Fatalf("expected noop")
	}
	if err := m.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m.DestinationContainerID = "d"
	if m.IsNoop() {
		t.Fatalf("cross container move is not a noop")
	}
	col := Move{Kind: MoveColumn, EntityID: "c", SourceContainerID: "b1", DestinationContainerID: "b2"}
	if KindOf(col.Validate()) != KindInvalidInput {
		t.Fatalf("expected column move across boards to be rejected")
	}
	neg := Move{Kind: MoveTask, EntityID: "t", SourceContainerID: "c", DestinationContainerID: "c", DestinationIndex: -1}
	if KindOf(neg.Validate()) != KindInvalidInput {
		t.Fatalf("expected negative index to be rejected")
	}
}
