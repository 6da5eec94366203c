package audithook_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audithook "github.com/xraph/paysync/audit_hook"
	"github.com/xraph/paysync/bonus"
	"github.com/xraph/paysync/catalog"
	"github.com/xraph/paysync/id"
	"github.com/xraph/paysync/payment"
	"github.com/xraph/paysync/subscription"
	"github.com/xraph/paysync/webhook"
)

type captured struct {
	mu     sync.Mutex
	events []*audithook.AuditEvent
}

func (c *captured) Record(_ context.Context, evt *audithook.AuditEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
	return nil
}

func (c *captured) Actions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.Action)
	}
	return out
}

func samplePayment() *payment.Payment {
	return &payment.Payment{
		ID:                id.NewPaymentID(),
		Provider:          "stripe",
		ProviderPaymentID: "in_1",
		UserID:            "u1",
		PlanKey:           "basic",
		Amount:            1500,
		Currency:          "usd",
		SourceType:        payment.SourceSubscription,
	}
}

func TestPaymentRecordedIsAuditedOnce(t *testing.T) {
	rec := &captured{}
	ext := audithook.New(rec)
	ctx := context.Background()
	p := samplePayment()

	require.NoError(t, ext.OnPaymentRecorded(ctx, p, true))
	require.NoError(t, ext.OnPaymentRecorded(ctx, p, false))

	require.Len(t, rec.events, 1)
	evt := rec.events[0]
	assert.Equal(t, audithook.ActionPaymentRecorded, evt.Action)
	assert.Equal(t, audithook.ResourcePayment, evt.Resource)
	assert.Equal(t, p.ID.String(), evt.ResourceID)
	assert.Equal(t, audithook.OutcomeSuccess, evt.Outcome)
	assert.Equal(t, "basic", evt.Metadata["key"])
	assert.Equal(t, int64(1500), evt.Metadata["amount"])
}

func TestFailuresCarryReason(t *testing.T) {
	rec := &captured{}
	ext := audithook.New(rec)
	ctx := context.Background()

	require.NoError(t, ext.OnWebhookDropped(ctx, &webhook.Event{ID: "evt_1", Provider: "stripe", RawType: "customer.created"}, "unknown event type"))
	require.NoError(t, ext.OnCatalogSynced(ctx, "stripe", nil, errors.New("rate limited")))

	require.Len(t, rec.events, 2)
	assert.Equal(t, audithook.SeverityWarning, rec.events[0].Severity)
	assert.Equal(t, "unknown event type", rec.events[0].Metadata["reason"])

	assert.Equal(t, audithook.OutcomeFailure, rec.events[1].Outcome)
	assert.Equal(t, "rate limited", rec.events[1].Reason)
	assert.Equal(t, 0, rec.events[1].Metadata["synced"])
}

func TestEnabledActions(t *testing.T) {
	rec := &captured{}
	ext := audithook.New(rec, audithook.WithEnabledActions(audithook.ActionBonusAdjusted))
	ctx := context.Background()

	tx := &bonus.Transaction{ID: id.NewBonusTransactionID(), UserID: "u1", FieldsDelta: map[string]int64{"aiCredits": -5}}
	require.NoError(t, ext.OnBonusApplied(ctx, tx))
	require.NoError(t, ext.OnBonusAdjusted(ctx, tx))

	assert.Equal(t, []string{audithook.ActionBonusAdjusted}, rec.Actions())
}

func TestDisabledActions(t *testing.T) {
	rec := &captured{}
	ext := audithook.New(rec, audithook.WithDisabledActions(audithook.ActionSubscriptionSynced))
	ctx := context.Background()
	sub := &subscription.Subscription{ID: id.NewSubscriptionID(), UserID: "u1", Status: subscription.StatusActive}

	require.NoError(t, ext.OnSubscriptionSynced(ctx, sub))
	require.NoError(t, ext.OnCancellationScheduled(ctx, sub))
	require.NoError(t, ext.OnSubscriptionResumed(ctx, sub))
	require.NoError(t, ext.OnSubscriptionCanceled(ctx, sub))

	assert.Equal(t, []string{
		audithook.ActionCancellationScheduled,
		audithook.ActionSubscriptionResumed,
		audithook.ActionSubscriptionCanceled,
	}, rec.Actions())
}

func TestRecorderErrorsAreSwallowed(t *testing.T) {
	calls := 0
	ext := audithook.New(audithook.RecorderFunc(func(context.Context, *audithook.AuditEvent) error {
		calls++
		return errors.New("audit backend down")
	}))

	assert.NoError(t, ext.OnPaymentFailed(context.Background(), samplePayment()))
	assert.Equal(t, 1, calls)
}

func TestCatalogSyncCounts(t *testing.T) {
	rec := &captured{}
	ext := audithook.New(rec)

	result := &catalog.SyncResult{Synced: []*catalog.BillingProduct{{}}, Unchanged: 3}
	require.NoError(t, ext.OnCatalogSynced(context.Background(), "stripe", result, nil))

	require.Len(t, rec.events, 1)
	assert.Equal(t, "stripe", rec.events[0].ResourceID)
	assert.Equal(t, 1, rec.events[0].Metadata["synced"])
	assert.Equal(t, 3, rec.events[0].Metadata["unchanged"])
}
