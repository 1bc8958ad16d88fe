package client

import (
	"errors"
	"testing"

	"prism-board/domain"
)

// sampleState is a board with column c1 [t1,t2,t3] and column c2 [t4].
func sampleState() domain.BoardState {
	col := func(id string, tasks ...string) domain.ColumnState {
		cs := domain.ColumnState{Column: domain.Column{ID: id, Title: id}}
		for _, t := range tasks {
			cs.Tasks = append(cs.Tasks, domain.Task{ID: t, Title: t})
		}
		return cs
	}
	return domain.BoardState{
		Board:   domain.Board{ID: "b1", Name: "Sprint", OwnerID: "u1", Version: 1},
		Columns: []domain.ColumnState{col("c1", "t1", "t2", "t3"), col("c2", "t4")},
	}.Normalize()
}

func taskOrder(state domain.BoardState, col int) []string {
	return state.Columns[col].TaskIDs
}

func equalOrder(got []string, want ...string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestApplyCrossColumnMove(t *testing.T) {
	before := sampleState()
	after, err := apply(before, domain.Move{Kind: domain.MoveTask, EntityID: "t2", SourceContainerID: "c1", DestinationContainerID: "c2", SourceIndex: 1, DestinationIndex: 0})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !equalOrder(taskOrder(after, 0), "t1", "t3") || !equalOrder(taskOrder(after, 1), "t2", "t4") {
		t.Fatalf("unexpected orders %v %v", taskOrder(after, 0), taskOrder(after, 1))
	}
	moved := after.Columns[1].Tasks[0]
	if moved.ColumnID != "c2" || moved.Position != 0 || after.Columns[1].Tasks[1].Position != 1 {
		t.Fatalf("moved task not reindexed: %#v", after.Columns[1].Tasks)
	}
	if !equalOrder(taskOrder(before, 0), "t1", "t2", "t3") {
		t.Fatalf("input state mutated")
	}
}

func TestApplySameColumnAndColumnMoves(t *testing.T) {
	after, err := apply(sampleState(), domain.Move{Kind: domain.MoveTask, EntityID: "t3", SourceContainerID: "c1", DestinationContainerID: "c1", SourceIndex: 2, DestinationIndex: 0})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !equalOrder(taskOrder(after, 0), "t3", "t1", "t2") {
		t.Fatalf("unexpected order %v", taskOrder(after, 0))
	}

	after, err = apply(sampleState(), domain.Move{Kind: domain.MoveColumn, EntityID: "c1", SourceContainerID: "b1", DestinationContainerID: "b1", SourceIndex: 0, DestinationIndex: 1})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !equalOrder(after.Board.ColumnIDs, "c2", "c1") || after.Columns[0].Position != 0 {
		t.Fatalf("unexpected column order %v", after.Board.ColumnIDs)
	}
}

func TestApplyRejectsStaleMoves(t *testing.T) {
	cases := map[string]domain.Move{
		"task not in source": {Kind: domain.MoveTask, EntityID: "t4", SourceContainerID: "c1", DestinationContainerID: "c2"},
		"unknown column":     {Kind: domain.MoveTask, EntityID: "t1", SourceContainerID: "c1", DestinationContainerID: "c9"},
		"column index":       {Kind: domain.MoveColumn, EntityID: "c1", DestinationIndex: 2},
		"negative index":     {Kind: domain.MoveTask, EntityID: "t1", SourceContainerID: "c1", DestinationContainerID: "c2", DestinationIndex: -1},
	}
	for name, m := range cases {
		before := sampleState()
		got, err := apply(before, m)
		if err == nil {
			t.Fatalf("%s: expected error", name)
		}
		if !errors.Is(err, domain.ErrInvalidInput) && !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("%s: unexpected error %v", name, err)
		}
		if !equalOrder(got.Board.ColumnIDs, "c1", "c2") {
			t.Fatalf("%s: failed apply changed state", name)
		}
	}
}
