package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/xraph/paysync"
	audithook "github.com/xraph/paysync/audit_hook"
	"github.com/xraph/paysync/catalog"
	"github.com/xraph/paysync/notify"
	"github.com/xraph/paysync/observability"
	"github.com/xraph/paysync/provider/stripe"
	"github.com/xraph/paysync/store"
	"github.com/xraph/paysync/store/memory"
	"github.com/xraph/paysync/store/mongo"
	"github.com/xraph/paysync/store/postgres"
	"github.com/xraph/paysync/store/sqlite"
)

func openStore(ctx context.Context, cfg config) (store.Store, error) {
	switch cfg.Store {
	case "memory":
		return memory.New(), nil
	case "mongo":
		return mongo.Connect(ctx, cfg.MongoURI, cfg.MongoDB, mongo.WithTransactions())
	case "postgres":
		return postgres.Open(ctx, cfg.PostgresDSN, postgres.DefaultPoolConfig())
	default:
		return sqlite.Open(cfg.SQLitePath)
	}
}

func loadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	return catalog.Load(f)
}

// logSender stands in for a mail or push backend: it logs every
// notification it is handed.
func logSender(logger *slog.Logger) notify.Sender {
	return notify.SenderFunc(func(_ context.Context, userID string, key notify.TemplateKey, data map[string]any) error {
		logger.Info("billing notification", "user_id", userID, "template", string(key), "data", data)
		return nil
	})
}

func auditLog(logger *slog.Logger) audithook.Recorder {
	return audithook.RecorderFunc(func(ctx context.Context, evt *audithook.AuditEvent) error {
		logger.InfoContext(ctx, "audit",
			"action", evt.Action,
			"resource", evt.Resource,
			"resource_id", evt.ResourceID,
			"outcome", evt.Outcome,
			"severity", evt.Severity,
			"metadata", evt.Metadata,
		)
		return nil
	})
}

// buildEngine wires the engine from cfg. reg receives the plugin metrics.
func buildEngine(ctx context.Context, cfg config, logger *slog.Logger, reg prometheus.Registerer) (*paysync.Engine, error) {
	s, err := openStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store, err)
	}

	cat, err := loadCatalog(cfg.CatalogFile)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	opts := []paysync.Option{
		paysync.WithLogger(logger),
		paysync.WithNotifier(logSender(logger.With("component", "notify"))),
		paysync.WithReconcileInterval(cfg.ReconcileInterval),
		paysync.WithNotifyConfig(notify.Config{Workers: cfg.NotifyWorkers, QueueSize: cfg.NotifyQueue}),
		paysync.WithPlugin(observability.NewMetricsExtension(observability.NewPrometheusFactory(reg))),
		paysync.WithPlugin(audithook.New(auditLog(logger.With("component", "audit")), audithook.WithLogger(logger))),
	}
	if cat != nil {
		opts = append(opts, paysync.WithCatalog(cat))
	}

	if cfg.StripeSecret != "" {
		sp, err := stripe.New(stripe.Config{
			APIKey:        cfg.StripeAPIKey,
			WebhookSecret: cfg.StripeSecret,
		}, stripe.WithLogger(logger))
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		opts = append(opts, paysync.WithProvider(sp))
	} else {
		logger.Warn("STRIPE_WEBHOOK_SECRET not set, stripe webhooks are disabled")
	}

	return paysync.New(s, opts...), nil
}
