package observability_test

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/paysync/catalog"
	"github.com/xraph/paysync/notify"
	"github.com/xraph/paysync/observability"
	"github.com/xraph/paysync/payment"
	"github.com/xraph/paysync/subscription"
	"github.com/xraph/paysync/webhook"
)

func newExtension(t *testing.T) (*observability.MetricsExtension, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return observability.NewMetricsExtension(observability.NewPrometheusFactory(reg)), reg
}

func counterValue(t *testing.T, c observability.Counter) float64 {
	t.Helper()
	pc, ok := c.(prometheus.Counter)
	require.True(t, ok)
	return testutil.ToFloat64(pc)
}

func TestPaymentHooks(t *testing.T) {
	m, _ := newExtension(t)
	ctx := context.Background()
	p := &payment.Payment{Amount: 1500, Currency: "usd"}

	require.NoError(t, m.OnPaymentRecorded(ctx, p, true))
	require.NoError(t, m.OnPaymentRecorded(ctx, p, false))
	require.NoError(t, m.OnPaymentRecorded(ctx, p, false))
	require.NoError(t, m.OnPaymentFailed(ctx, p))

	assert.InDelta(t, 1, counterValue(t, m.PaymentRecorded), 0)
	assert.InDelta(t, 2, counterValue(t, m.PaymentReplayed), 0)
	assert.InDelta(t, 1, counterValue(t, m.PaymentFailed), 0)
}

func TestWebhookAndSubscriptionHooks(t *testing.T) {
	m, _ := newExtension(t)
	ctx := context.Background()
	evt := &webhook.Event{ID: "evt_1"}
	sub := &subscription.Subscription{}

	require.NoError(t, m.OnWebhookReceived(ctx, evt))
	require.NoError(t, m.OnWebhookDropped(ctx, evt, "unknown event type"))
	require.NoError(t, m.OnSubscriptionSynced(ctx, sub))
	require.NoError(t, m.OnCancellationScheduled(ctx, sub))
	require.NoError(t, m.OnSubscriptionResumed(ctx, sub))
	require.NoError(t, m.OnSubscriptionCanceled(ctx, sub))
	require.NoError(t, m.OnNotificationFailed(ctx, notify.NewTask("u1", notify.PaymentFailed, nil), errors.New("smtp down")))

	for name, c := range map[string]observability.Counter{
		"received":  m.WebhookReceived,
		"dropped":   m.WebhookDropped,
		"synced":    m.SubscriptionSynced,
		"scheduled": m.CancellationScheduled,
		"resumed":   m.SubscriptionResumed,
		"canceled":  m.SubscriptionCanceled,
		"notify":    m.NotificationFailed,
	} {
		assert.InDelta(t, 1, counterValue(t, c), 0, name)
	}
}

func TestCatalogSyncedHook(t *testing.T) {
	m, _ := newExtension(t)
	ctx := context.Background()

	result := &catalog.SyncResult{Synced: []*catalog.BillingProduct{{}, {}}, Unchanged: 1}
	require.NoError(t, m.OnCatalogSynced(ctx, "stripe", result, nil))
	require.NoError(t, m.OnCatalogSynced(ctx, "stripe", &catalog.SyncResult{}, errors.New("rate limited")))

	assert.InDelta(t, 2, counterValue(t, m.CatalogProductsSync), 0)
	assert.InDelta(t, 1, counterValue(t, m.CatalogSyncSuccess), 0)
	assert.InDelta(t, 1, counterValue(t, m.CatalogSyncFailure), 0)
}

func TestPrometheusNames(t *testing.T) {
	m, reg := newExtension(t)
	require.NoError(t, m.OnPaymentRecorded(context.Background(), &payment.Payment{Amount: 900}, true))

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["paysync_payment_recorded_total"])
	assert.True(t, names["paysync_payment_amount"])
	assert.True(t, names["paysync_catalog_sync_success_total"])
}

func TestFactoryReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := observability.NewPrometheusFactory(reg)
	second := observability.NewPrometheusFactory(reg)

	a := first.Counter("paysync.webhook.received")
	b := second.Counter("paysync.webhook.received")
	a.Inc()
	b.Inc()

	assert.Same(t, a, first.Counter("paysync.webhook.received"))
	assert.InDelta(t, 2, counterValue(t, a), 0)
}
