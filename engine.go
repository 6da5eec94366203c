package paysync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/paysync/bonus"
	"github.com/xraph/paysync/catalog"
	"github.com/xraph/paysync/notify"
	"github.com/xraph/paysync/payment"
	"github.com/xraph/paysync/plugin"
	"github.com/xraph/paysync/provider"
	"github.com/xraph/paysync/store"
	"github.com/xraph/paysync/subscription"
	"github.com/xraph/paysync/types"
)

// Engine is the reconciliation orchestrator.
type Engine struct {
	store     store.Store
	providers *provider.Registry
	plugins   *plugin.Registry
	logger    *slog.Logger
	clock     types.Clock

	payments      *payment.Ledger
	subscriptions *subscription.Machine
	bonuses       *bonus.Ledger
	notifier      *notify.Dispatcher

	catalog      *catalog.Catalog
	rules        bonus.RuleSource
	sender       notify.Sender
	notifyConfig notify.Config
	autoMigrate  bool

	// Background workers
	reconcileInterval time.Duration
	reconcileBatch    int
	stopChan          chan struct{}
	stopOnce          sync.Once
	wg                sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
}

// New creates an engine on s.
func New(s store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:             s,
		providers:         provider.NewRegistry(),
		plugins:           plugin.NewRegistry(),
		logger:            slog.Default(),
		clock:             types.SystemClock,
		notifyConfig:      notify.DefaultConfig(),
		autoMigrate:       true,
		reconcileInterval: 5 * time.Minute,
		reconcileBatch:    200,
		stopChan:          make(chan struct{}),
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.rules == nil && e.catalog != nil {
		e.rules = e.catalog
	}

	e.payments = payment.NewLedger(s,
		payment.WithLogger(e.logger),
		payment.WithClock(e.clock),
	)
	e.subscriptions = subscription.NewMachine(s,
		subscription.WithLogger(e.logger),
		subscription.WithClock(e.clock),
	)
	e.bonuses = bonus.NewLedger(s, e.payments, e.rules,
		bonus.WithLogger(e.logger),
		bonus.WithClock(e.clock),
	)
	e.notifier = notify.NewDispatcher(e.sender,
		notify.WithLogger(e.logger),
		notify.WithConfig(e.notifyConfig),
		notify.WithFailureHandler(e.plugins.EmitNotificationFailed),
	)

	return e
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
		e.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Engine) {
		_ = e.plugins.Register(p) //nolint:errcheck // duplicate names are logged by the registry
	}
}

// WithProvider registers a payment provider.
func WithProvider(p provider.Provider) Option {
	return func(e *Engine) { e.providers.Register(p) }
}

// WithNotifier sets the notification collaborator. Without one,
// notifications are discarded.
func WithNotifier(sender notify.Sender) Option {
	return func(e *Engine) { e.sender = sender }
}

// WithCatalog sets the plan and product catalog. Its bonus rules are used
// unless WithRuleSource overrides them.
func WithCatalog(c *catalog.Catalog) Option {
	return func(e *Engine) { e.catalog = c }
}

// WithRuleSource sets where bonus rules come from.
func WithRuleSource(rs bonus.RuleSource) Option {
	return func(e *Engine) { e.rules = rs }
}

// WithClock overrides the engine clock.
func WithClock(clock types.Clock) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithNotifyConfig tunes the notification dispatcher.
func WithNotifyConfig(cfg notify.Config) Option {
	return func(e *Engine) { e.notifyConfig = cfg }
}

// WithReconcileInterval sets how often the bonus reconciler runs. Zero
// disables it.
func WithReconcileInterval(d time.Duration) Option {
	return func(e *Engine) { e.reconcileInterval = d }
}

// WithAutoMigrate controls whether Start migrates the store.
func WithAutoMigrate(enabled bool) Option {
	return func(e *Engine) { e.autoMigrate = enabled }
}

// WithReconcileBatch sets how many recent payments one reconcile pass
// inspects.
func WithReconcileBatch(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.reconcileBatch = n
		}
	}
}

// Start migrates the store and begins background workers.
func (e *Engine) Start(ctx context.Context) error {
	if e.autoMigrate {
		if err := e.store.Migrate(ctx); err != nil {
			return fmt.Errorf("paysync: migrate: %w", err)
		}
	}

	e.plugins.EmitInit(ctx, e)
	e.notifier.Start(ctx)

	if e.reconcileInterval > 0 {
		e.wg.Add(1)
		go e.reconcileWorker(context.WithoutCancel(ctx))
	}

	e.logger.Info("paysync started",
		"providers", e.providers.Names(),
		"plugins", e.plugins.Count(),
		"reconcile_interval", e.reconcileInterval,
	)
	return nil
}

// Stop drains notifications, stops workers and closes the store.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	e.stopped = true
	e.mu.Unlock()

	e.stopOnce.Do(func() { close(e.stopChan) })
	e.wg.Wait()

	if err := e.notifier.Stop(ctx); err != nil {
		e.logger.Warn("notification queue not drained", "error", err, "pending", e.notifier.Pending())
	}
	e.plugins.EmitShutdown(ctx)

	return e.store.Close()
}

// Plugins returns the plugin registry.
func (e *Engine) Plugins() *plugin.Registry { return e.plugins }

// Providers returns the provider registry.
func (e *Engine) Providers() *provider.Registry { return e.providers }

// Store returns the underlying store.
func (e *Engine) Store() store.Store { return e.store }

func (e *Engine) checkRunning() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.stopped {
		return ErrStoreClosed
	}
	return nil
}

// ──────────────────────────────────────────────────
// Bonus reconciliation
// ──────────────────────────────────────────────────

func (e *Engine) reconcileWorker(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.reconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopChan:
			return
		case <-ticker.C:
			n, err := e.Reconcile(ctx)
			if err != nil {
				e.logger.Error("bonus reconcile failed", "error", err)
				continue
			}
			if n > 0 {
				e.logger.Info("bonus reconcile credited missing bonuses", "count", n)
			}
		}
	}
}

// Reconcile re-runs the bonus step for recent successful payments that
// have no bonus transaction, as after a crash between recording a payment
// and crediting it. It returns the number of bonuses credited.
func (e *Engine) Reconcile(ctx context.Context) (int, error) {
	recent, err := e.payments.ListRecentSucceeded(ctx, e.reconcileBatch)
	if err != nil {
		return 0, fmt.Errorf("paysync: reconcile: %w", err)
	}

	var (
		credited int
		errs     []error
	)
	for _, p := range recent {
		done, err := e.bonuses.Credited(ctx, p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if done {
			continue
		}
		tx, err := e.bonuses.ApplyOnPayment(ctx, p, nil)
		if err != nil {
			errs = append(errs, fmt.Errorf("payment %s: %w", p.ID, err))
			continue
		}
		if tx != nil {
			credited++
			e.plugins.EmitBonusApplied(ctx, tx)
		}
	}
	return credited, errors.Join(errs...)
}
