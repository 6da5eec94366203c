package extension

import "time"

// Config holds the paysync extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.paysync" or "paysync" keys).
type Config struct {
	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// NotifyWorkers is the number of notification senders (default: 2).
	NotifyWorkers int `json:"notify_workers" mapstructure:"notify_workers" yaml:"notify_workers"`

	// NotifyQueueSize bounds queued notifications (default: 256).
	NotifyQueueSize int `json:"notify_queue_size" mapstructure:"notify_queue_size" yaml:"notify_queue_size"`

	// NotifyMaxElapsed caps the retry time of one notification (default: 2m).
	NotifyMaxElapsed time.Duration `json:"notify_max_elapsed" mapstructure:"notify_max_elapsed" yaml:"notify_max_elapsed"`

	// ReconcileInterval is how often missing bonuses are re-applied
	// (default: 5m).
	ReconcileInterval time.Duration `json:"reconcile_interval" mapstructure:"reconcile_interval" yaml:"reconcile_interval"`

	// ReconcileBatch is how many recent payments one pass inspects
	// (default: 200).
	ReconcileBatch int `json:"reconcile_batch" mapstructure:"reconcile_batch" yaml:"reconcile_batch"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		NotifyWorkers:     2,
		NotifyQueueSize:   256,
		NotifyMaxElapsed:  2 * time.Minute,
		ReconcileInterval: 5 * time.Minute,
		ReconcileBatch:    200,
	}
}
