package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// config is the daemon configuration, read from the environment.
type config struct {
	Addr string

	Store        string
	MongoURI     string
	MongoDB      string
	SQLitePath   string
	PostgresDSN  string
	StripeAPIKey string
	StripeSecret string
	CatalogFile  string

	NotifyWorkers     int
	NotifyQueue       int
	ReconcileInterval time.Duration

	LogLevel  slog.Level
	LogFormat string
}

// loadConfig reads path as a dotenv file when it exists, then the
// environment. Variables already set win over the file.
func loadConfig(path string) (config, error) {
	if path != "" {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return config{}, fmt.Errorf("load %s: %w", path, err)
		}
	}

	cfg := config{
		Addr:         envString("PAYSYNC_ADDR", ":8080"),
		Store:        strings.ToLower(envString("PAYSYNC_STORE", "sqlite")),
		MongoURI:     envString("PAYSYNC_MONGO_URI", "mongodb://localhost:27017"),
		MongoDB:      envString("PAYSYNC_MONGO_DB", "paysync"),
		SQLitePath:   envString("PAYSYNC_SQLITE_PATH", "data/paysync.db"),
		PostgresDSN:  envString("PAYSYNC_POSTGRES_DSN", ""),
		StripeAPIKey: envString("STRIPE_API_KEY", ""),
		StripeSecret: envString("STRIPE_WEBHOOK_SECRET", ""),
		CatalogFile:  envString("PAYSYNC_CATALOG_FILE", ""),
		LogFormat:    strings.ToLower(envString("PAYSYNC_LOG_FORMAT", "text")),
	}

	var err error
	if cfg.NotifyWorkers, err = envInt("PAYSYNC_NOTIFY_WORKERS", 2); err != nil {
		return cfg, err
	}
	if cfg.NotifyQueue, err = envInt("PAYSYNC_NOTIFY_QUEUE", 256); err != nil {
		return cfg, err
	}
	if cfg.ReconcileInterval, err = envDuration("PAYSYNC_RECONCILE_INTERVAL", 5*time.Minute); err != nil {
		return cfg, err
	}
	if err := cfg.LogLevel.UnmarshalText([]byte(envString("PAYSYNC_LOG_LEVEL", "info"))); err != nil {
		return cfg, fmt.Errorf("PAYSYNC_LOG_LEVEL: %w", err)
	}

	switch cfg.Store {
	case "memory", "sqlite", "mongo":
	case "postgres":
		if cfg.PostgresDSN == "" {
			return cfg, errors.New("PAYSYNC_POSTGRES_DSN is required for the postgres store")
		}
	default:
		return cfg, fmt.Errorf("PAYSYNC_STORE: unknown store %q", cfg.Store)
	}
	return cfg, nil
}

func envString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := envString(key, "")
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := envString(key, "")
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func newLogger(cfg config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
