package storage

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"prism-board/domain"
)

func seedMemory(t *testing.T) *Memory {
	t.Helper()
	m := NewMemory()
	ctx := context.Background()
	if err := m.CreateBoard(ctx, domain.Board{ID: "b1", OwnerID: "u1", Name: "Board", Version: 1}); err != nil {
		t.Fatalf("create board: %v", err)
	}
	err := m.Update(ctx, "b1", func(tx *Tx) error {
		b := tx.Board()
		b.ColumnIDs = []string{"A", "B"}
		tx.PutBoard(b)
		tx.PutColumn(domain.Column{ID: "A", Title: "Todo", TaskIDs: []string{"T1", "T2", "T3"}, Position: 0})
		tx.PutColumn(domain.Column{ID: "B", Title: "Done", TaskIDs: []string{"T4"}, Position: 1})
		for i, id := range []string{"T1", "T2", "T3"} {
			tx.PutTask(domain.Task{ID: id, ColumnID: "A", Title: id, Position: i})
		}
		tx.PutTask(domain.Task{ID: "T4", ColumnID: "B", Title: "T4"})
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return m
}

func TestMemoryUpdateCommitsAndIndexesRefs(t *testing.T) {
	m := seedMemory(t)
	ctx := context.Background()

	snap, err := m.LoadBoard(ctx, "b1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if snap.Board.Version != 2 {
		t.Fatalf("expected version bump to 2, got %d", snap.Board.Version)
	}
	state := snap.State()
	if len(state.Columns) != 2 || len(state.Columns[0].Tasks) != 3 {
		t.Fatalf("unexpected state: %#v", state)
	}
	for _, ref := range []struct {
		kind RefKind
		id   string
	}{{RefColumn, "A"}, {RefTask, "T4"}} {
		boardID, err := m.Locate(ctx, ref.kind, ref.id)
		if err != nil || boardID != "b1" {
			t.Fatalf("locate %s %s: %q %v", ref.kind, ref.id, boardID, err)
		}
	}
	if _, err := m.Locate(ctx, RefTask, "nope"); domain.KindOf(err) != domain.KindNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemoryUpdateErrorDiscardsWrites(t *testing.T) {
	m := seedMemory(t)
	ctx := context.Background()
	before, _ := m.LoadBoard(ctx, "b1")

	boom := errors.New("boom")
	err := m.Update(ctx, "b1", func(tx *Tx) error {
		tx.DeleteTask("T1")
		tx.PutColumn(domain.Column{ID: "A", TaskIDs: []string{"T2", "T3"}})
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	after, _ := m.LoadBoard(ctx, "b1")
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("state changed after failed update")
	}
}

func TestMemoryCommitFaultLeavesStateUntouched(t *testing.T) {
	m := seedMemory(t)
	ctx := context.Background()
	before, _ := m.LoadBoard(ctx, "b1")

	m.SetCommitHook(func(boardID string, written int) error {
		if written == 2 {
			return errors.New("disk on fire")
		}
		return nil
	})
	err := m.Update(ctx, "b1", func(tx *Tx) error {
		a, _ := tx.Column("A")
		b, _ := tx.Column("B")
		a.TaskIDs = []string{"T1", "T3"}
		b.TaskIDs = []string{"T4", "T2"}
		tx.PutColumn(a)
		tx.PutColumn(b)
		task, _ := tx.Task("T2")
		task.ColumnID = "B"
		tx.PutTask(task)
		return nil
	})
	if !errors.Is(err, domain.ErrTransaction) {
		t.Fatalf("expected transaction failure, got %v", err)
	}
	after, _ := m.LoadBoard(ctx, "b1")
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("partial commit leaked:\nbefore %#v\nafter  %#v", before, after)
	}
}

func TestMemoryNoChangesSkipsCommit(t *testing.T) {
	m := seedMemory(t)
	ctx := context.Background()
	if err := m.Update(ctx, "b1", func(tx *Tx) error {
		tx.PutColumn(mustColumn(t, tx, "A"))
		return nil
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	snap, _ := m.LoadBoard(ctx, "b1")
	if snap.Board.Version != 2 {
		t.Fatalf("expected untouched version, got %d", snap.Board.Version)
	}
}

func TestMemoryDeleteBoardCascades(t *testing.T) {
	m := seedMemory(t)
	ctx := context.Background()
	if err := m.Update(ctx, "b1", func(tx *Tx) error {
		tx.DeleteBoard()
		return nil
	}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := m.LoadBoard(ctx, "b1"); domain.KindOf(err) != domain.KindNotFound {
		t.Fatalf("expected board gone, got %v", err)
	}
	if _, err := m.Locate(ctx, RefTask, "T1"); domain.KindOf(err) != domain.KindNotFound {
		t.Fatalf("expected task ref gone, got %v", err)
	}
}

func TestMemoryListBoards(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Now()
	_ = m.CreateBoard(ctx, domain.Board{ID: "b2", OwnerID: "u", CreatedAt: now.Add(time.Second)})
	_ = m.CreateBoard(ctx, domain.Board{ID: "b1", OwnerID: "u", CreatedAt: now})
	_ = m.CreateBoard(ctx, domain.Board{ID: "x", OwnerID: "other", CreatedAt: now})

	boards, err := m.ListBoards(ctx, "u")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(boards) != 2 || boards[0].ID != "b1" || boards[1].ID != "b2" {
		t.Fatalf("unexpected boards: %#v", boards)
	}
	if err := m.CreateBoard(ctx, domain.Board{ID: "b1"}); err == nil {
		t.Fatalf("expected duplicate create to fail")
	}
}

func TestMemoryUpdatesSerializePerBoard(t *testing.T) {
	m := seedMemory(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.Update(ctx, "b1", func(tx *Tx) error {
				b := tx.Board()
				b.Name += "x"
				tx.PutBoard(b)
				return nil
			})
		}()
	}
	wg.Wait()

	snap, _ := m.LoadBoard(ctx, "b1")
	if len(snap.Board.Name) != len("Board")+20 {
		t.Fatalf("lost updates: %q", snap.Board.Name)
	}
	if snap.Board.Version != 22 {
		t.Fatalf("expected version 22, got %d", snap.Board.Version)
	}
}

func mustColumn(t *testing.T, tx *Tx, id string) domain.Column {
	t.Helper()
	c, ok := tx.Column(id)
	if !ok {
		t.Fatalf("column %s missing", id)
	}
	return c
}
