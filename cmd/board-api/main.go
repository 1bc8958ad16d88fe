package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"prism-board/api"
	"prism-board/board"
	"prism-board/storage"
)

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	cfg, err := loadConfig()
	if err != nil {
		log.Fatal(err)
	}
	logger := log.StandardLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	defer func() { _ = tp.Shutdown(context.Background()) }()

	var checks []api.HealthCheck
	store, err := openStore(ctx, cfg, logger, &checks)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	var (
		deduper    api.Deduper
		activity   *storage.Activity
		publishers storage.Publishers
	)
	if cfg.RedisConn != "" {
		rc := redis.NewClient(storage.RedisOptions(cfg.RedisConn))
		defer rc.Close()
		checks = append(checks, func(ctx context.Context) error { return rc.Ping(ctx).Err() })
		store = storage.NewCache(store, rc, cfg.CacheTTL)
		deduper = api.NewRedisDeduper(rc, cfg.DeduperTTL)
		activity = storage.NewActivity(rc, storage.DefaultActivityLimit, cfg.DeduperTTL)
		if cfg.EventsQueue == "" {
			// Without a queue there is no board-activity consumer.
			publishers = append(publishers, activity)
		}
		if cfg.EventChannel != "" {
			publishers = append(publishers, storage.NewRedisPublisher(rc, cfg.EventChannel))
		}
	}
	if cfg.EventsQueue != "" {
		qp, err := storage.NewQueuePublisher(cfg.StorageConn, cfg.EventsQueue)
		if err != nil {
			log.Fatalf("event queue: %v", err)
		}
		publishers = append(publishers, qp)
	}

	opts := []board.Option{board.WithLogger(logger), board.WithRetries(cfg.Retries)}
	if len(publishers) > 0 {
		opts = append(opts, board.WithPublisher(publishers))
	}
	svc := board.NewService(store, opts...)

	auth, err := newAuth(cfg)
	if err != nil {
		log.Fatalf("auth: %v", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.CORSAllowOrigins,
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, api.HeaderIdempotencyKey},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
	}))
	e.Use(api.GzipRequestMiddleware(api.MaxBodySize))

	deps := api.Deps{Boards: svc, Auth: auth, Deduper: deduper, Logger: logger, Health: allHealthy(checks)}
	if activity != nil {
		deps.Activity = activity
	}
	api.Register(e, deps)

	go func() {
		if err := e.Start(cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()
	log.WithFields(log.Fields{"addr": cfg.ListenAddr, "backend": cfg.Backend}).Info("board api started")

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Errorf("shutdown: %v", err)
	}
}

func openStore(ctx context.Context, cfg config, logger *log.Logger, checks *[]api.HealthCheck) (storage.Store, error) {
	switch cfg.Backend {
	case "memory":
		logger.Warn("using in-memory storage, boards are lost on restart")
		return storage.NewMemory(), nil
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, err
		}
		*checks = append(*checks, pool.Ping)
		pg := storage.NewPostgres(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return pg, nil
	default:
		tables, err := storage.NewTables(cfg.StorageConn, cfg.BoardsTable, logger)
		if err != nil {
			return nil, err
		}
		return tables, nil
	}
}

func newAuth(cfg config) (*api.Auth, error) {
	if cfg.TestAuth {
		return api.NewSharedSecretAuth([]byte(cfg.TestSecret), cfg.Auth0Audience, ""), nil
	}
	jwks, err := keyfunc.Get(fmt.Sprintf("https://%s/.well-known/jwks.json", cfg.Auth0Domain), keyfunc.Options{
		RefreshInterval:   time.Hour,
		RefreshUnknownKID: true,
	})
	if err != nil {
		return nil, err
	}
	return api.NewAuth(jwks, cfg.Auth0Audience, "https://"+cfg.Auth0Domain+"/", cfg.JWKSCacheTTL), nil
}

func allHealthy(checks []api.HealthCheck) api.HealthCheck {
	return func(ctx context.Context) error {
		var errs []error
		for _, check := range checks {
			if err := check(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
}
