// Package observability provides a metrics plugin for paysync that records
// reconciliation event counts via a MetricFactory.
package observability

import (
	"context"

	"github.com/xraph/paysync/bonus"
	"github.com/xraph/paysync/catalog"
	"github.com/xraph/paysync/notify"
	"github.com/xraph/paysync/payment"
	"github.com/xraph/paysync/plugin"
	"github.com/xraph/paysync/subscription"
	"github.com/xraph/paysync/webhook"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                  = (*MetricsExtension)(nil)
	_ plugin.OnInit                  = (*MetricsExtension)(nil)
	_ plugin.OnWebhookReceived       = (*MetricsExtension)(nil)
	_ plugin.OnWebhookDropped        = (*MetricsExtension)(nil)
	_ plugin.OnPaymentRecorded       = (*MetricsExtension)(nil)
	_ plugin.OnPaymentFailed         = (*MetricsExtension)(nil)
	_ plugin.OnBonusApplied          = (*MetricsExtension)(nil)
	_ plugin.OnBonusAdjusted         = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionSynced    = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionCanceled  = (*MetricsExtension)(nil)
	_ plugin.OnCancellationScheduled = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionResumed   = (*MetricsExtension)(nil)
	_ plugin.OnNotificationFailed    = (*MetricsExtension)(nil)
	_ plugin.OnCatalogSynced         = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records system-wide reconciliation metrics.
// Register it as a paysync plugin to track billing activity.
type MetricsExtension struct {
	factory MetricFactory

	// Webhook metrics
	WebhookReceived Counter
	WebhookDropped  Counter

	// Payment metrics
	PaymentRecorded Counter
	PaymentReplayed Counter
	PaymentFailed   Counter
	PaymentAmount   Histogram
	FailedAmount    Histogram

	// Bonus metrics
	BonusApplied  Counter
	BonusAdjusted Counter

	// Subscription metrics
	SubscriptionSynced    Counter
	SubscriptionCanceled  Counter
	CancellationScheduled Counter
	SubscriptionResumed   Counter

	// Side effect metrics
	NotificationFailed  Counter
	CatalogSyncSuccess  Counter
	CatalogSyncFailure  Counter
	CatalogProductsSync Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		WebhookReceived: factory.Counter("paysync.webhook.received"),
		WebhookDropped:  factory.Counter("paysync.webhook.dropped"),

		PaymentRecorded: factory.Counter("paysync.payment.recorded"),
		PaymentReplayed: factory.Counter("paysync.payment.replayed"),
		PaymentFailed:   factory.Counter("paysync.payment.failed"),
		PaymentAmount:   factory.Histogram("paysync.payment.amount"),
		FailedAmount:    factory.Histogram("paysync.payment.failed_amount"),

		BonusApplied:  factory.Counter("paysync.bonus.applied"),
		BonusAdjusted: factory.Counter("paysync.bonus.adjusted"),

		SubscriptionSynced:    factory.Counter("paysync.subscription.synced"),
		SubscriptionCanceled:  factory.Counter("paysync.subscription.canceled"),
		CancellationScheduled: factory.Counter("paysync.subscription.cancel_scheduled"),
		SubscriptionResumed:   factory.Counter("paysync.subscription.resumed"),

		NotificationFailed:  factory.Counter("paysync.notification.failed"),
		CatalogSyncSuccess:  factory.Counter("paysync.catalog.sync.success"),
		CatalogSyncFailure:  factory.Counter("paysync.catalog.sync.failure"),
		CatalogProductsSync: factory.Counter("paysync.catalog.products.synced"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ any) error {
	return nil
}

// ──────────────────────────────────────────────────
// Webhook hooks
// ──────────────────────────────────────────────────

// OnWebhookReceived implements plugin.OnWebhookReceived.
func (m *MetricsExtension) OnWebhookReceived(_ context.Context, _ *webhook.Event) error {
	m.WebhookReceived.Inc()
	return nil
}

// OnWebhookDropped implements plugin.OnWebhookDropped.
func (m *MetricsExtension) OnWebhookDropped(_ context.Context, _ *webhook.Event, _ string) error {
	m.WebhookDropped.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Payment and bonus hooks
// ──────────────────────────────────────────────────

// OnPaymentRecorded implements plugin.OnPaymentRecorded.
func (m *MetricsExtension) OnPaymentRecorded(_ context.Context, p *payment.Payment, created bool) error {
	if !created {
		m.PaymentReplayed.Inc()
		return nil
	}
	m.PaymentRecorded.Inc()
	m.PaymentAmount.Observe(float64(p.Amount))
	return nil
}

// OnPaymentFailed implements plugin.OnPaymentFailed.
func (m *MetricsExtension) OnPaymentFailed(_ context.Context, p *payment.Payment) error {
	m.PaymentFailed.Inc()
	m.FailedAmount.Observe(float64(p.Amount))
	return nil
}

// OnBonusApplied implements plugin.OnBonusApplied.
func (m *MetricsExtension) OnBonusApplied(_ context.Context, _ *bonus.Transaction) error {
	m.BonusApplied.Inc()
	return nil
}

// OnBonusAdjusted implements plugin.OnBonusAdjusted.
func (m *MetricsExtension) OnBonusAdjusted(_ context.Context, _ *bonus.Transaction) error {
	m.BonusAdjusted.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Subscription hooks
// ──────────────────────────────────────────────────

// OnSubscriptionSynced implements plugin.OnSubscriptionSynced.
func (m *MetricsExtension) OnSubscriptionSynced(_ context.Context, _ *subscription.Subscription) error {
	m.SubscriptionSynced.Inc()
	return nil
}

// OnSubscriptionCanceled implements plugin.OnSubscriptionCanceled.
func (m *MetricsExtension) OnSubscriptionCanceled(_ context.Context, _ *subscription.Subscription) error {
	m.SubscriptionCanceled.Inc()
	return nil
}

// OnCancellationScheduled implements plugin.OnCancellationScheduled.
func (m *MetricsExtension) OnCancellationScheduled(_ context.Context, _ *subscription.Subscription) error {
	m.CancellationScheduled.Inc()
	return nil
}

// OnSubscriptionResumed implements plugin.OnSubscriptionResumed.
func (m *MetricsExtension) OnSubscriptionResumed(_ context.Context, _ *subscription.Subscription) error {
	m.SubscriptionResumed.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Side effect hooks
// ──────────────────────────────────────────────────

// OnNotificationFailed implements plugin.OnNotificationFailed.
func (m *MetricsExtension) OnNotificationFailed(_ context.Context, _ notify.Task, _ error) error {
	m.NotificationFailed.Inc()
	return nil
}

// OnCatalogSynced implements plugin.OnCatalogSynced.
func (m *MetricsExtension) OnCatalogSynced(_ context.Context, _ string, result *catalog.SyncResult, err error) error {
	if result != nil {
		m.CatalogProductsSync.Add(float64(len(result.Synced)))
	}
	if err != nil {
		m.CatalogSyncFailure.Inc()
	} else {
		m.CatalogSyncSuccess.Inc()
	}
	return nil
}
