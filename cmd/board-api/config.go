package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type config struct {
	Backend     string
	StorageConn string
	BoardsTable string
	EventsQueue string
	PostgresURL string

	RedisConn    string
	CacheTTL     time.Duration
	DeduperTTL   time.Duration
	EventChannel string

	Retries    int
	ListenAddr string

	TestAuth         bool
	TestSecret       string
	Auth0Domain      string
	Auth0Audience    string
	JWKSCacheTTL     time.Duration
	CORSAllowOrigins []string
}

func loadConfig() (config, error) {
	cfg := config{
		Backend:      envString("STORE_BACKEND", "aztables"),
		StorageConn:  os.Getenv("STORAGE_CONNECTION_STRING"),
		BoardsTable:  envString("BOARDS_TABLE", "boards"),
		EventsQueue:  os.Getenv("BOARD_EVENTS_QUEUE"),
		PostgresURL:  os.Getenv("POSTGRES_URL"),
		RedisConn:    os.Getenv("REDIS_CONNECTION_STRING"),
		EventChannel: os.Getenv("BOARD_EVENTS_CHANNEL"),
		ListenAddr:   ":8080",

		TestAuth:      os.Getenv("AUTH0_TEST_MODE") == "1",
		TestSecret:    os.Getenv("TEST_JWT_SECRET"),
		Auth0Domain:   os.Getenv("AUTH0_DOMAIN"),
		Auth0Audience: os.Getenv("AUTH0_AUDIENCE"),
	}
	if v, ok := os.LookupEnv("FUNCTIONS_CUSTOMHANDLER_PORT"); ok {
		cfg.ListenAddr = ":" + v
	}
	if v := os.Getenv("CORS_ALLOW_ORIGINS"); v != "" {
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CORSAllowOrigins = append(cfg.CORSAllowOrigins, o)
			}
		}
	} else {
		cfg.CORSAllowOrigins = []string{"*"}
	}

	var err error
	if cfg.CacheTTL, err = envDur("CACHE_TTL", 5*time.Minute); err != nil {
		return cfg, err
	}
	if cfg.DeduperTTL, err = envDur("DEDUPER_TTL", 24*time.Hour); err != nil {
		return cfg, err
	}
	if cfg.JWKSCacheTTL, err = envDur("JWKS_CACHE_TTL", 15*time.Minute); err != nil {
		return cfg, err
	}
	if cfg.Retries, err = envInt("WRITE_RETRIES", 3); err != nil {
		return cfg, err
	}

	switch cfg.Backend {
	case "memory":
	case "aztables":
		if cfg.StorageConn == "" {
			return cfg, fmt.Errorf("missing STORAGE_CONNECTION_STRING")
		}
	case "postgres":
		if cfg.PostgresURL == "" {
			return cfg, fmt.Errorf("missing POSTGRES_URL")
		}
	default:
		return cfg, fmt.Errorf("unknown STORE_BACKEND %q", cfg.Backend)
	}
	if cfg.EventsQueue != "" && cfg.StorageConn == "" {
		return cfg, fmt.Errorf("BOARD_EVENTS_QUEUE needs STORAGE_CONNECTION_STRING")
	}
	if cfg.EventChannel != "" && cfg.RedisConn == "" {
		return cfg, fmt.Errorf("BOARD_EVENTS_CHANNEL needs REDIS_CONNECTION_STRING")
	}
	if cfg.TestAuth {
		if cfg.TestSecret == "" {
			return cfg, fmt.Errorf("AUTH0_TEST_MODE needs TEST_JWT_SECRET")
		}
	} else if cfg.Auth0Domain == "" || cfg.Auth0Audience == "" {
		return cfg, fmt.Errorf("missing Auth0 config")
	}
	return cfg, nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be greater than zero", key)
	}
	return n, nil
}

func envDur(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be greater than zero", key)
	}
	return d, nil
}
