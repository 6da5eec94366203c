// Package plugin lets extensions observe the reconciliation lifecycle.
// A plugin implements Plugin plus any subset of the hook interfaces; the
// registry discovers the hooks once at registration.
package plugin

import (
	"context"

	"github.com/xraph/paysync/bonus"
	"github.com/xraph/paysync/catalog"
	"github.com/xraph/paysync/notify"
	"github.com/xraph/paysync/payment"
	"github.com/xraph/paysync/subscription"
	"github.com/xraph/paysync/webhook"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the engine starts. engine is the *paysync.Engine.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, engine any) error
}

// OnShutdown is called when the engine stops.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Webhook hooks
// ──────────────────────────────────────────────────

// OnWebhookReceived is called for every verified delivery.
type OnWebhookReceived interface {
	Plugin
	OnWebhookReceived(ctx context.Context, evt *webhook.Event) error
}

// OnWebhookDropped is called when a verified delivery is acknowledged
// without mutation: unknown types, malformed payloads, skipped duplicates.
type OnWebhookDropped interface {
	Plugin
	OnWebhookDropped(ctx context.Context, evt *webhook.Event, reason string) error
}

// ──────────────────────────────────────────────────
// Ledger hooks
// ──────────────────────────────────────────────────

// OnPaymentRecorded is called after every successful-charge upsert.
// created is true only for the delivery that inserted the row.
type OnPaymentRecorded interface {
	Plugin
	OnPaymentRecorded(ctx context.Context, p *payment.Payment, created bool) error
}

// OnPaymentFailed is called after a failed attempt is recorded.
type OnPaymentFailed interface {
	Plugin
	OnPaymentFailed(ctx context.Context, p *payment.Payment) error
}

// OnBonusApplied is called when a payment credits a bonus.
type OnBonusApplied interface {
	Plugin
	OnBonusApplied(ctx context.Context, tx *bonus.Transaction) error
}

// OnBonusAdjusted is called after a manual balance adjustment.
type OnBonusAdjusted interface {
	Plugin
	OnBonusAdjusted(ctx context.Context, tx *bonus.Transaction) error
}

// ──────────────────────────────────────────────────
// Subscription hooks
// ──────────────────────────────────────────────────

// OnSubscriptionSynced is called after activation applies provider data.
type OnSubscriptionSynced interface {
	Plugin
	OnSubscriptionSynced(ctx context.Context, s *subscription.Subscription) error
}

// OnSubscriptionCanceled is called when a subscription ends immediately.
type OnSubscriptionCanceled interface {
	Plugin
	OnSubscriptionCanceled(ctx context.Context, s *subscription.Subscription) error
}

// OnCancellationScheduled is called when a subscription is set to end
// with its period.
type OnCancellationScheduled interface {
	Plugin
	OnCancellationScheduled(ctx context.Context, s *subscription.Subscription) error
}

// OnSubscriptionResumed is called when a scheduled cancellation is undone.
type OnSubscriptionResumed interface {
	Plugin
	OnSubscriptionResumed(ctx context.Context, s *subscription.Subscription) error
}

// ──────────────────────────────────────────────────
// Side-effect hooks
// ──────────────────────────────────────────────────

// OnNotificationFailed is called when a notification is dropped.
type OnNotificationFailed interface {
	Plugin
	OnNotificationFailed(ctx context.Context, task notify.Task, err error) error
}

// OnCatalogSynced is called after a catalog sync run, successful or not.
type OnCatalogSynced interface {
	Plugin
	OnCatalogSynced(ctx context.Context, provider string, result *catalog.SyncResult, err error) error
}
