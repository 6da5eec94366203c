package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var configKeys = []string{
	"PAYSYNC_ADDR", "PAYSYNC_STORE", "PAYSYNC_MONGO_URI", "PAYSYNC_MONGO_DB",
	"PAYSYNC_SQLITE_PATH", "PAYSYNC_POSTGRES_DSN", "STRIPE_API_KEY",
	"STRIPE_WEBHOOK_SECRET", "PAYSYNC_CATALOG_FILE", "PAYSYNC_NOTIFY_WORKERS",
	"PAYSYNC_NOTIFY_QUEUE", "PAYSYNC_RECONCILE_INTERVAL", "PAYSYNC_LOG_LEVEL",
	"PAYSYNC_LOG_FORMAT",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range configKeys {
		t.Setenv(k, "")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := loadConfig(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "sqlite", cfg.Store)
	assert.Equal(t, 2, cfg.NotifyWorkers)
	assert.Equal(t, 256, cfg.NotifyQueue)
	assert.Equal(t, 5*time.Minute, cfg.ReconcileInterval)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("PAYSYNC_STORE", "Mongo")
	t.Setenv("PAYSYNC_NOTIFY_WORKERS", "6")
	t.Setenv("PAYSYNC_RECONCILE_INTERVAL", "30s")
	t.Setenv("PAYSYNC_LOG_LEVEL", "debug")

	cfg, err := loadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "mongo", cfg.Store)
	assert.Equal(t, 6, cfg.NotifyWorkers)
	assert.Equal(t, 30*time.Second, cfg.ReconcileInterval)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
}

func TestLoadConfigDotenvFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("PAYSYNC_ADDR=:9090\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("PAYSYNC_ADDR") })

	// godotenv does not override variables that already exist.
	require.NoError(t, os.Unsetenv("PAYSYNC_ADDR"))

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Addr)
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown store", map[string]string{"PAYSYNC_STORE": "redis"}},
		{"postgres without dsn", map[string]string{"PAYSYNC_STORE": "postgres"}},
		{"bad workers", map[string]string{"PAYSYNC_NOTIFY_WORKERS": "many"}},
		{"bad interval", map[string]string{"PAYSYNC_RECONCILE_INTERVAL": "soon"}},
		{"bad level", map[string]string{"PAYSYNC_LOG_LEVEL": "loud"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := loadConfig("")
			assert.Error(t, err)
		})
	}
}
