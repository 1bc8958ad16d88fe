package storage

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"prism-board/domain"
)

// Cache wraps a Store with Redis-backed caching for read operations.
// Every successful write evicts the entries it could have made stale.
type Cache struct {
	base  Store
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching Store using the provided Redis client and TTL.
func NewCache(base Store, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base store is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) CreateBoard(ctx context.Context, b domain.Board) error {
	if err := c.base.CreateBoard(ctx, b); err != nil {
		return err
	}
	c.evict(ctx, ownerCacheKey(b.OwnerID))
	return nil
}

func (c *Cache) LoadBoard(ctx context.Context, boardID string) (*Snapshot, error) {
	var snap Snapshot
	if c.load(ctx, boardCacheKey(boardID), &snap) {
		return &snap, nil
	}
	got, err := c.base.LoadBoard(ctx, boardID)
	if err != nil {
		return nil, err
	}
	c.store(ctx, boardCacheKey(boardID), got)
	return got, nil
}

func (c *Cache) ListBoards(ctx context.Context, ownerID string) ([]domain.Board, error) {
	var boards []domain.Board
	if c.load(ctx, ownerCacheKey(ownerID), &boards) {
		return boards, nil
	}
	got, err := c.base.ListBoards(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	c.store(ctx, ownerCacheKey(ownerID), got)
	return got, nil
}

// Locate is not cached; refs are cheap point reads.
func (c *Cache) Locate(ctx context.Context, kind RefKind, id string) (string, error) {
	return c.base.Locate(ctx, kind, id)
}

func (c *Cache) Update(ctx context.Context, boardID string, fn func(*Tx) error) error {
	var ownerID string
	err := c.base.Update(ctx, boardID, func(tx *Tx) error {
		ownerID = tx.Board().OwnerID
		return fn(tx)
	})
	if err != nil {
		return err
	}
	keys := []string{boardCacheKey(boardID)}
	if ownerID != "" {
		keys = append(keys, ownerCacheKey(ownerID))
	}
	c.evict(ctx, keys...)
	return nil
}

func (c *Cache) load(ctx context.Context, key string, out any) bool {
	if c.redis == nil {
		return false
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing store without failing.
			_ = c.redis.Del(ctx, key).Err()
		}
		return false
	}
	if err := sonic.Unmarshal(data, out); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return false
	}
	return true
}

func (c *Cache) store(ctx context.Context, key string, v any) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := sonic.Marshal(v)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context, keys ...string) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.Del(ctx, keys...).Result()
}

func boardCacheKey(boardID string) string {
	return "board:" + boardID
}

func ownerCacheKey(ownerID string) string {
	return "boards:" + ownerID
}
