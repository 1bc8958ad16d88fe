package storage

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"prism-board/domain"
)

type countingStore struct {
	Store
	loads int
	lists int
}

func (s *countingStore) LoadBoard(ctx context.Context, id string) (*Snapshot, error) {
	s.loads++
	return s.Store.LoadBoard(ctx, id)
}

func (s *countingStore) ListBoards(ctx context.Context, owner string) ([]domain.Board, error) {
	s.lists++
	return s.Store.ListBoards(ctx, owner)
}

func newTestCache(t *testing.T) (*Cache, *countingStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	base := &countingStore{Store: seedMemory(t)}
	return NewCache(base, client, time.Minute), base, mr
}

func TestCacheLoadBoardMissThenHit(t *testing.T) {
	cache, base, mr := newTestCache(t)
	ctx := context.Background()

	first, err := cache.LoadBoard(ctx, "b1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if ttl := mr.TTL(boardCacheKey("b1")); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected TTL: %v", ttl)
	}
	cached, err := cache.LoadBoard(ctx, "b1")
	if err != nil {
		t.Fatalf("cached load: %v", err)
	}
	if base.loads != 1 {
		t.Fatalf("expected cached load to avoid backend, loads=%d", base.loads)
	}
	if cached.Board.Version != first.Board.Version || !reflect.DeepEqual(cached.Board.ColumnIDs, first.Board.ColumnIDs) {
		t.Fatalf("cached board differs: %#v", cached.Board)
	}
	if !reflect.DeepEqual(cached.Columns["A"].TaskIDs, []string{"T1", "T2", "T3"}) || cached.Tasks["T4"].ColumnID != "B" {
		t.Fatalf("cached documents differ: %#v", cached.Columns)
	}
}

func TestCacheUpdateEvictsBoardAndOwnerList(t *testing.T) {
	cache, base, mr := newTestCache(t)
	ctx := context.Background()

	if _, err := cache.LoadBoard(ctx, "b1"); err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := cache.ListBoards(ctx, "u1"); err != nil {
		t.Fatalf("list: %v", err)
	}
	err := cache.Update(ctx, "b1", func(tx *Tx) error {
		b := tx.Board()
		b.Name = "renamed"
		tx.PutBoard(b)
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if mr.Exists(boardCacheKey("b1")) || mr.Exists(ownerCacheKey("u1")) {
		t.Fatalf("cache keys should be evicted")
	}
	snap, err := cache.LoadBoard(ctx, "b1")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if snap.Board.Name != "renamed" || base.loads != 2 {
		t.Fatalf("expected fresh board, got %q after %d loads", snap.Board.Name, base.loads)
	}
}

func TestCacheFailedUpdatePreservesEntries(t *testing.T) {
	cache, _, mr := newTestCache(t)
	ctx := context.Background()

	if _, err := cache.LoadBoard(ctx, "b1"); err != nil {
		t.Fatalf("load: %v", err)
	}
	err := cache.Update(ctx, "b1", func(*Tx) error { return errors.New("boom") })
	if err == nil {
		t.Fatalf("expected update error")
	}
	if !mr.Exists(boardCacheKey("b1")) {
		t.Fatalf("cache should remain on error")
	}
}

func TestCacheCorruptEntryFallsBack(t *testing.T) {
	cache, base, mr := newTestCache(t)
	if err := mr.Set(boardCacheKey("b1"), "{not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := cache.LoadBoard(context.Background(), "b1"); err != nil {
		t.Fatalf("load: %v", err)
	}
	if base.loads != 1 {
		t.Fatalf("expected backend load, got %d", base.loads)
	}
}
