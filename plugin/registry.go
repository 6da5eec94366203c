package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/paysync/bonus"
	"github.com/xraph/paysync/catalog"
	"github.com/xraph/paysync/notify"
	"github.com/xraph/paysync/payment"
	"github.com/xraph/paysync/subscription"
	"github.com/xraph/paysync/webhook"
)

// DefaultHookTimeout bounds a single hook call.
const DefaultHookTimeout = 5 * time.Second

// Registry holds plugins and dispatches hooks to them. Hook lists are
// cached per interface at registration.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	onInit                  []OnInit
	onShutdown              []OnShutdown
	onWebhookReceived       []OnWebhookReceived
	onWebhookDropped        []OnWebhookDropped
	onPaymentRecorded       []OnPaymentRecorded
	onPaymentFailed         []OnPaymentFailed
	onBonusApplied          []OnBonusApplied
	onBonusAdjusted         []OnBonusAdjusted
	onSubscriptionSynced    []OnSubscriptionSynced
	onSubscriptionCanceled  []OnSubscriptionCanceled
	onCancellationScheduled []OnCancellationScheduled
	onSubscriptionResumed   []OnSubscriptionResumed
	onNotificationFailed    []OnNotificationFailed
	onCatalogSynced         []OnCatalogSynced
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:  slog.Default(),
		timeout: DefaultHookTimeout,
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout sets the per-hook timeout.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// Register adds a plugin and caches the hooks it implements.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}
	r.plugins = append(r.plugins, p)

	var hooks []string
	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
		hooks = append(hooks, "OnInit")
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
		hooks = append(hooks, "OnShutdown")
	}
	if v, ok := p.(OnWebhookReceived); ok {
		r.onWebhookReceived = append(r.onWebhookReceived, v)
		hooks = append(hooks, "OnWebhookReceived")
	}
	if v, ok := p.(OnWebhookDropped); ok {
		r.onWebhookDropped = append(r.onWebhookDropped, v)
		hooks = append(hooks, "OnWebhookDropped")
	}
	if v, ok := p.(OnPaymentRecorded); ok {
		r.onPaymentRecorded = append(r.onPaymentRecorded, v)
		hooks = append(hooks, "OnPaymentRecorded")
	}
	if v, ok := p.(OnPaymentFailed); ok {
		r.onPaymentFailed = append(r.onPaymentFailed, v)
		hooks = append(hooks, "OnPaymentFailed")
	}
	if v, ok := p.(OnBonusApplied); ok {
		r.onBonusApplied = append(r.onBonusApplied, v)
		hooks = append(hooks, "OnBonusApplied")
	}
	if v, ok := p.(OnBonusAdjusted); ok {
		r.onBonusAdjusted = append(r.onBonusAdjusted, v)
		hooks = append(hooks, "OnBonusAdjusted")
	}
	if v, ok := p.(OnSubscriptionSynced); ok {
		r.onSubscriptionSynced = append(r.onSubscriptionSynced, v)
		hooks = append(hooks, "OnSubscriptionSynced")
	}
	if v, ok := p.(OnSubscriptionCanceled); ok {
		r.onSubscriptionCanceled = append(r.onSubscriptionCanceled, v)
		hooks = append(hooks, "OnSubscriptionCanceled")
	}
	if v, ok := p.(OnCancellationScheduled); ok {
		r.onCancellationScheduled = append(r.onCancellationScheduled, v)
		hooks = append(hooks, "OnCancellationScheduled")
	}
	if v, ok := p.(OnSubscriptionResumed); ok {
		r.onSubscriptionResumed = append(r.onSubscriptionResumed, v)
		hooks = append(hooks, "OnSubscriptionResumed")
	}
	if v, ok := p.(OnNotificationFailed); ok {
		r.onNotificationFailed = append(r.onNotificationFailed, v)
		hooks = append(hooks, "OnNotificationFailed")
	}
	if v, ok := p.(OnCatalogSynced); ok {
		r.onCatalogSynced = append(r.onCatalogSynced, v)
		hooks = append(hooks, "OnCatalogSynced")
	}

	r.logger.Info("plugin registered", "name", p.Name(), "hooks", hooks)
	return nil
}

// Get returns a plugin by name, or nil.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission
// ──────────────────────────────────────────────────

// dispatch calls fn for every hook in list. Hook errors and timeouts are
// logged and never returned: plugins must not block reconciliation.
func dispatch[T Plugin](ctx context.Context, r *Registry, hook string, list func(*Registry) []T, fn func(T) error) {
	r.mu.RLock()
	hooks := list(r)
	r.mu.RUnlock()

	for _, h := range hooks {
		if err := r.callWithTimeout(ctx, h.Name(), func() error { return fn(h) }); err != nil {
			r.logger.Warn("plugin hook failed",
				"hook", hook,
				"plugin", h.Name(),
				"error", err,
			)
		}
	}
}

// EmitInit calls OnInit hooks.
func (r *Registry) EmitInit(ctx context.Context, engine any) {
	dispatch(ctx, r, "OnInit", func(r *Registry) []OnInit { return r.onInit },
		func(h OnInit) error { return h.OnInit(ctx, engine) })
}

// EmitShutdown calls OnShutdown hooks.
func (r *Registry) EmitShutdown(ctx context.Context) {
	dispatch(ctx, r, "OnShutdown", func(r *Registry) []OnShutdown { return r.onShutdown },
		func(h OnShutdown) error { return h.OnShutdown(ctx) })
}

// EmitWebhookReceived calls OnWebhookReceived hooks.
func (r *Registry) EmitWebhookReceived(ctx context.Context, evt *webhook.Event) {
	dispatch(ctx, r, "OnWebhookReceived", func(r *Registry) []OnWebhookReceived { return r.onWebhookReceived },
		func(h OnWebhookReceived) error { return h.OnWebhookReceived(ctx, evt) })
}

// EmitWebhookDropped calls OnWebhookDropped hooks.
func (r *Registry) EmitWebhookDropped(ctx context.Context, evt *webhook.Event, reason string) {
	dispatch(ctx, r, "OnWebhookDropped", func(r *Registry) []OnWebhookDropped { return r.onWebhookDropped },
		func(h OnWebhookDropped) error { return h.OnWebhookDropped(ctx, evt, reason) })
}

// EmitPaymentRecorded calls OnPaymentRecorded hooks.
func (r *Registry) EmitPaymentRecorded(ctx context.Context, p *payment.Payment, created bool) {
	dispatch(ctx, r, "OnPaymentRecorded", func(r *Registry) []OnPaymentRecorded { return r.onPaymentRecorded },
		func(h OnPaymentRecorded) error { return h.OnPaymentRecorded(ctx, p, created) })
}

// EmitPaymentFailed calls OnPaymentFailed hooks.
func (r *Registry) EmitPaymentFailed(ctx context.Context, p *payment.Payment) {
	dispatch(ctx, r, "OnPaymentFailed", func(r *Registry) []OnPaymentFailed { return r.onPaymentFailed },
		func(h OnPaymentFailed) error { return h.OnPaymentFailed(ctx, p) })
}

// EmitBonusApplied calls OnBonusApplied hooks.
func (r *Registry) EmitBonusApplied(ctx context.Context, tx *bonus.Transaction) {
	dispatch(ctx, r, "OnBonusApplied", func(r *Registry) []OnBonusApplied { return r.onBonusApplied },
		func(h OnBonusApplied) error { return h.OnBonusApplied(ctx, tx) })
}

// EmitBonusAdjusted calls OnBonusAdjusted hooks.
func (r *Registry) EmitBonusAdjusted(ctx context.Context, tx *bonus.Transaction) {
	dispatch(ctx, r, "OnBonusAdjusted", func(r *Registry) []OnBonusAdjusted { return r.onBonusAdjusted },
		func(h OnBonusAdjusted) error { return h.OnBonusAdjusted(ctx, tx) })
}

// EmitSubscriptionSynced calls OnSubscriptionSynced hooks.
func (r *Registry) EmitSubscriptionSynced(ctx context.Context, s *subscription.Subscription) {
	dispatch(ctx, r, "OnSubscriptionSynced", func(r *Registry) []OnSubscriptionSynced { return r.onSubscriptionSynced },
		func(h OnSubscriptionSynced) error { return h.OnSubscriptionSynced(ctx, s) })
}

// EmitSubscriptionCanceled calls OnSubscriptionCanceled hooks.
func (r *Registry) EmitSubscriptionCanceled(ctx context.Context, s *subscription.Subscription) {
	dispatch(ctx, r, "OnSubscriptionCanceled", func(r *Registry) []OnSubscriptionCanceled { return r.onSubscriptionCanceled },
		func(h OnSubscriptionCanceled) error { return h.OnSubscriptionCanceled(ctx, s) })
}

// EmitCancellationScheduled calls OnCancellationScheduled hooks.
func (r *Registry) EmitCancellationScheduled(ctx context.Context, s *subscription.Subscription) {
	dispatch(ctx, r, "OnCancellationScheduled", func(r *Registry) []OnCancellationScheduled { return r.onCancellationScheduled },
		func(h OnCancellationScheduled) error { return h.OnCancellationScheduled(ctx, s) })
}

// EmitSubscriptionResumed calls OnSubscriptionResumed hooks.
func (r *Registry) EmitSubscriptionResumed(ctx context.Context, s *subscription.Subscription) {
	dispatch(ctx, r, "OnSubscriptionResumed", func(r *Registry) []OnSubscriptionResumed { return r.onSubscriptionResumed },
		func(h OnSubscriptionResumed) error { return h.OnSubscriptionResumed(ctx, s) })
}

// EmitNotificationFailed calls OnNotificationFailed hooks.
func (r *Registry) EmitNotificationFailed(ctx context.Context, task notify.Task, err error) {
	dispatch(ctx, r, "OnNotificationFailed", func(r *Registry) []OnNotificationFailed { return r.onNotificationFailed },
		func(h OnNotificationFailed) error { return h.OnNotificationFailed(ctx, task, err) })
}

// EmitCatalogSynced calls OnCatalogSynced hooks.
func (r *Registry) EmitCatalogSynced(ctx context.Context, provider string, result *catalog.SyncResult, err error) {
	dispatch(ctx, r, "OnCatalogSynced", func(r *Registry) []OnCatalogSynced { return r.onCatalogSynced },
		func(h OnCatalogSynced) error { return h.OnCatalogSynced(ctx, provider, result, err) })
}

// callWithTimeout runs fn, giving up after the registry timeout.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
