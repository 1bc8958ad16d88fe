// Command board-activity consumes the board event queue and keeps a
// per-board activity log in Redis.
package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"prism-board/storage"
)

func main() {
	logger := log.New()
	logger.SetFormatter(&log.JSONFormatter{})
	if os.Getenv("DEBUG") == "true" {
		logger.SetLevel(log.DebugLevel)
	}
	logger.Info("board activity service starting")

	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	eventsQueue := os.Getenv("BOARD_EVENTS_QUEUE")
	redisConn := os.Getenv("REDIS_CONNECTION_STRING")
	if connStr == "" || eventsQueue == "" || redisConn == "" {
		logger.Fatal("missing STORAGE_CONNECTION_STRING, BOARD_EVENTS_QUEUE or REDIS_CONNECTION_STRING")
	}

	queue, err := azqueue.NewQueueClientFromConnectionString(connStr, eventsQueue, nil)
	if err != nil {
		logger.Fatalf("queue client: %v", err)
	}
	rc := redis.NewClient(storage.RedisOptions(redisConn))
	defer rc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rc.Ping(ctx).Err(); err != nil {
		logger.Fatalf("redis: %v", err)
	}

	limit := envInt("ACTIVITY_LIMIT", storage.DefaultActivityLimit)
	p := &processor{
		queue:      queue,
		activity:   storage.NewActivity(rc, limit, 24*time.Hour),
		logger:     logger,
		visibility: 30 * time.Second,
		idle:       time.Second,
	}
	p.run(ctx)
	logger.Info("board activity service stopped")
}

func envInt(key string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil && v > 0 {
		return v
	}
	return def
}
