package extension

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/paysync"
	"github.com/xraph/paysync/store/memory"
)

func TestMergeWithDefaults(t *testing.T) {
	cfg := mergeWithDefaults(Config{NotifyWorkers: 8})

	assert.Equal(t, 8, cfg.NotifyWorkers)
	assert.Equal(t, 256, cfg.NotifyQueueSize)
	assert.Equal(t, 2*time.Minute, cfg.NotifyMaxElapsed)
	assert.Equal(t, 5*time.Minute, cfg.ReconcileInterval)
	assert.Equal(t, 200, cfg.ReconcileBatch)
}

func TestMergeConfigurationsPrefersFile(t *testing.T) {
	file := Config{NotifyWorkers: 4, ReconcileInterval: time.Minute}
	programmatic := Config{
		DisableMigrate:  true,
		NotifyWorkers:   1,
		NotifyQueueSize: 32,
	}

	cfg := mergeConfigurations(file, programmatic)

	assert.True(t, cfg.DisableMigrate)
	assert.Equal(t, 4, cfg.NotifyWorkers)
	assert.Equal(t, 32, cfg.NotifyQueueSize)
	assert.Equal(t, time.Minute, cfg.ReconcileInterval)
	assert.Equal(t, 200, cfg.ReconcileBatch)
}

func TestOptions(t *testing.T) {
	s := memory.New()
	e := New(
		WithStore(s),
		WithDisableMigrate(),
		WithRequireConfig(true),
		WithReconcileInterval(time.Hour),
		WithNotifyWorkers(3),
	)

	assert.Same(t, s, e.store)
	assert.True(t, e.config.DisableMigrate)
	assert.True(t, e.config.RequireConfig)
	assert.Equal(t, time.Hour, e.config.ReconcileInterval)
	assert.Equal(t, 3, e.config.NotifyWorkers)
	assert.Nil(t, e.Engine())
	assert.Equal(t, ExtensionName, e.Name())
}

func TestBuildEngineOptsAppendsPassThrough(t *testing.T) {
	e := New(WithConfig(DefaultConfig()), WithEngineOption(paysync.WithReconcileBatch(10)))
	opts := e.buildEngineOpts()

	require.Len(t, opts, 5)
}
