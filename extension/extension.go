// Package extension provides the Forge extension adapter for paysync.
//
// It implements the forge.Extension interface to integrate the
// reconciliation engine into a Forge application with DI registration and
// lifecycle management.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.paysync" or "paysync" keys.
package extension

import (
	"context"
	"errors"

	"github.com/xraph/forge"
	"github.com/xraph/vessel"

	"github.com/xraph/paysync"
	"github.com/xraph/paysync/notify"
	"github.com/xraph/paysync/store"
	"github.com/xraph/paysync/store/memory"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "paysync"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Payment webhook reconciliation and subscription lifecycle engine"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts the paysync engine as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config     Config
	engine     *paysync.Engine
	store      store.Store
	engineOpts []paysync.Option
}

// New creates a new paysync Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying engine.
// This is nil until Register is called.
func (e *Extension) Engine() *paysync.Engine { return e.engine }

// Register implements [forge.Extension]. It loads configuration,
// initializes the engine, and registers it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	// Use memory store if no store was provided programmatically.
	if e.store == nil {
		e.store = memory.New()
	}

	e.engine = paysync.New(e.store, e.buildEngineOpts()...)

	return vessel.Provide(fapp.Container(), func() (*paysync.Engine, error) {
		return e.engine, nil
	})
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("paysync: extension not initialized")
	}
	if err := e.engine.Start(ctx); err != nil {
		return err
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(ctx context.Context) error {
	defer e.MarkStopped()
	if e.engine != nil {
		return e.engine.Stop(ctx)
	}
	return nil
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("paysync: store not initialized")
	}
	return e.store.Ping(ctx)
}

// buildEngineOpts constructs paysync.Option values from the resolved config.
func (e *Extension) buildEngineOpts() []paysync.Option {
	opts := make([]paysync.Option, 0, len(e.engineOpts)+4)

	opts = append(opts,
		paysync.WithAutoMigrate(!e.config.DisableMigrate),
		paysync.WithReconcileInterval(e.config.ReconcileInterval),
		paysync.WithReconcileBatch(e.config.ReconcileBatch),
		paysync.WithNotifyConfig(notify.Config{
			Workers:        e.config.NotifyWorkers,
			QueueSize:      e.config.NotifyQueueSize,
			MaxElapsedTime: e.config.NotifyMaxElapsed,
		}),
	)

	// Pass-through options win over config.
	opts = append(opts, e.engineOpts...)

	return opts
}

// --- Config Loading ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("paysync: configuration is required but not found in config files; " +
				"ensure 'extensions.paysync' or 'paysync' key exists in your config")
		}
		e.config = mergeWithDefaults(programmaticConfig)
	} else {
		e.config = mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("paysync: configuration loaded",
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("notify_workers", e.config.NotifyWorkers),
		forge.F("notify_queue_size", e.config.NotifyQueueSize),
		forge.F("reconcile_interval", e.config.ReconcileInterval),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()

	for _, key := range []string{"extensions.paysync", "paysync"} {
		if !cm.IsSet(key) {
			continue
		}
		var cfg Config
		if err := cm.Bind(key, &cfg); err != nil {
			e.Logger().Warn("paysync: failed to bind config",
				forge.F("key", key),
				forge.F("error", err.Error()),
			)
			continue
		}
		e.Logger().Debug("paysync: loaded config from file", forge.F("key", key))
		return cfg, true
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.NotifyWorkers == 0 {
		cfg.NotifyWorkers = defaults.NotifyWorkers
	}
	if cfg.NotifyQueueSize == 0 {
		cfg.NotifyQueueSize = defaults.NotifyQueueSize
	}
	if cfg.NotifyMaxElapsed == 0 {
		cfg.NotifyMaxElapsed = defaults.NotifyMaxElapsed
	}
	if cfg.ReconcileInterval == 0 {
		cfg.ReconcileInterval = defaults.ReconcileInterval
	}
	if cfg.ReconcileBatch == 0 {
		cfg.ReconcileBatch = defaults.ReconcileBatch
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence; programmatic values fill gaps.
func mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}
	if yamlConfig.NotifyWorkers == 0 {
		yamlConfig.NotifyWorkers = programmaticConfig.NotifyWorkers
	}
	if yamlConfig.NotifyQueueSize == 0 {
		yamlConfig.NotifyQueueSize = programmaticConfig.NotifyQueueSize
	}
	if yamlConfig.NotifyMaxElapsed == 0 {
		yamlConfig.NotifyMaxElapsed = programmaticConfig.NotifyMaxElapsed
	}
	if yamlConfig.ReconcileInterval == 0 {
		yamlConfig.ReconcileInterval = programmaticConfig.ReconcileInterval
	}
	if yamlConfig.ReconcileBatch == 0 {
		yamlConfig.ReconcileBatch = programmaticConfig.ReconcileBatch
	}
	return mergeWithDefaults(yamlConfig)
}
