package storage

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"prism-board/domain"
)

// DefaultActivityLimit is how many events an activity log keeps per board.
const DefaultActivityLimit = 200

// Activity keeps the most recent board events in a capped Redis list per
// board, newest first.
type Activity struct {
	client *redis.Client
	limit  int64
	// seenTTL bounds how long an event id is remembered for deduplication.
	seenTTL time.Duration
}

// NewActivity creates an activity log holding up to limit events per board.
func NewActivity(client *redis.Client, limit int, seenTTL time.Duration) *Activity {
	if limit <= 0 {
		limit = DefaultActivityLimit
	}
	return &Activity{client: client, limit: int64(limit), seenTTL: seenTTL}
}

// Append records ev unless an event with the same id was already recorded.
// It reports whether ev was added. A board deletion clears the log.
func (a *Activity) Append(ctx context.Context, ev domain.BoardEvent) (bool, error) {
	if ev.ID != "" {
		fresh, err := a.client.SetNX(ctx, activitySeenKey(ev.ID), 1, a.seenTTL).Result()
		if err != nil {
			return false, err
		}
		if !fresh {
			return false, nil
		}
	}
	key := activityKey(ev.BoardID)
	if ev.Type == domain.BoardDeleted {
		return true, a.client.Del(ctx, key).Err()
	}
	payload, err := sonic.Marshal(ev)
	if err != nil {
		return false, err
	}
	_, err = a.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, payload)
		pipe.LTrim(ctx, key, 0, a.limit-1)
		return nil
	})
	if err != nil && ev.ID != "" {
		_ = a.client.Del(ctx, activitySeenKey(ev.ID)).Err()
	}
	return err == nil, err
}

// Publish lets the log act as an event sink of the board service.
func (a *Activity) Publish(ctx context.Context, ev domain.BoardEvent) error {
	_, err := a.Append(ctx, ev)
	return err
}

// Recent returns up to n events of a board, newest first.
func (a *Activity) Recent(ctx context.Context, boardID string, n int) ([]domain.BoardEvent, error) {
	if n <= 0 || int64(n) > a.limit {
		n = int(a.limit)
	}
	raw, err := a.client.LRange(ctx, activityKey(boardID), 0, int64(n-1)).Result()
	if err != nil {
		return nil, err
	}
	events := make([]domain.BoardEvent, 0, len(raw))
	for _, item := range raw {
		var ev domain.BoardEvent
		if err := sonic.UnmarshalString(item, &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

func activityKey(boardID string) string {
	return "activity:" + boardID
}

func activitySeenKey(eventID string) string {
	return "activity:seen:" + eventID
}
