package extension

import (
	"time"

	"github.com/xraph/paysync"
	"github.com/xraph/paysync/plugin"
	"github.com/xraph/paysync/provider"
	"github.com/xraph/paysync/store"
)

// Option configures the paysync Forge extension.
type Option func(*Extension)

// WithStore sets the store for the engine.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithEngineOption passes a paysync.Option through to the engine.
func WithEngineOption(opt paysync.Option) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, opt)
	}
}

// WithPlugin registers a paysync plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, paysync.WithPlugin(p))
	}
}

// WithProvider registers a payment provider.
func WithProvider(p provider.Provider) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, paysync.WithProvider(p))
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

// WithReconcileInterval sets how often missing bonuses are re-applied.
func WithReconcileInterval(d time.Duration) Option {
	return func(e *Extension) { e.config.ReconcileInterval = d }
}

// WithNotifyWorkers sets the number of notification senders.
func WithNotifyWorkers(n int) Option {
	return func(e *Extension) { e.config.NotifyWorkers = n }
}
