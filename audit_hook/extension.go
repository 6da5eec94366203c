// Package audithook bridges paysync reconciliation events to an audit
// trail backend.
//
// It defines a local Recorder interface so the package does not depend on
// any audit library. Callers inject a RecorderFunc adapter at wiring time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xraph/paysync/bonus"
	"github.com/xraph/paysync/catalog"
	"github.com/xraph/paysync/notify"
	"github.com/xraph/paysync/payment"
	"github.com/xraph/paysync/plugin"
	"github.com/xraph/paysync/subscription"
	"github.com/xraph/paysync/webhook"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                  = (*Extension)(nil)
	_ plugin.OnWebhookDropped        = (*Extension)(nil)
	_ plugin.OnPaymentRecorded       = (*Extension)(nil)
	_ plugin.OnPaymentFailed         = (*Extension)(nil)
	_ plugin.OnBonusApplied          = (*Extension)(nil)
	_ plugin.OnBonusAdjusted         = (*Extension)(nil)
	_ plugin.OnSubscriptionSynced    = (*Extension)(nil)
	_ plugin.OnSubscriptionCanceled  = (*Extension)(nil)
	_ plugin.OnCancellationScheduled = (*Extension)(nil)
	_ plugin.OnSubscriptionResumed   = (*Extension)(nil)
	_ plugin.OnNotificationFailed    = (*Extension)(nil)
	_ plugin.OnCatalogSynced         = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one audit trail entry.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges paysync events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Webhook hooks
// ──────────────────────────────────────────────────

// OnWebhookDropped implements plugin.OnWebhookDropped.
func (e *Extension) OnWebhookDropped(ctx context.Context, evt *webhook.Event, reason string) error {
	return e.record(ctx, ActionWebhookDropped, SeverityWarning, OutcomeFailure,
		ResourceWebhook, evt.ID, CategoryIntegration, nil,
		"provider", evt.Provider,
		"event_type", evt.RawType,
		"reason", reason,
	)
}

// ──────────────────────────────────────────────────
// Payment and bonus hooks
// ──────────────────────────────────────────────────

// OnPaymentRecorded implements plugin.OnPaymentRecorded. Replays are not
// audited.
func (e *Extension) OnPaymentRecorded(ctx context.Context, p *payment.Payment, created bool) error {
	if !created {
		return nil
	}
	return e.record(ctx, ActionPaymentRecorded, SeverityInfo, OutcomeSuccess,
		ResourcePayment, p.ID.String(), CategoryPayment, nil,
		"user_id", p.UserID,
		"provider", p.Provider,
		"provider_payment_id", p.ProviderPaymentID,
		"amount", p.Amount,
		"currency", p.Currency,
		"source_type", string(p.SourceType),
		"key", p.Key(),
	)
}

// OnPaymentFailed implements plugin.OnPaymentFailed.
func (e *Extension) OnPaymentFailed(ctx context.Context, p *payment.Payment) error {
	return e.record(ctx, ActionPaymentFailed, SeverityWarning, OutcomeFailure,
		ResourcePayment, p.ID.String(), CategoryPayment, nil,
		"user_id", p.UserID,
		"provider_payment_id", p.ProviderPaymentID,
		"amount", p.Amount,
		"currency", p.Currency,
		"failure_reason", p.FailureReason,
	)
}

// OnBonusApplied implements plugin.OnBonusApplied.
func (e *Extension) OnBonusApplied(ctx context.Context, tx *bonus.Transaction) error {
	return e.record(ctx, ActionBonusApplied, SeverityInfo, OutcomeSuccess,
		ResourceBonus, tx.ID.String(), CategoryBilling, nil,
		"user_id", tx.UserID,
		"source_type", string(tx.SourceType),
		"source_id", tx.SourceID,
		"fields_delta", tx.FieldsDelta,
	)
}

// OnBonusAdjusted implements plugin.OnBonusAdjusted.
func (e *Extension) OnBonusAdjusted(ctx context.Context, tx *bonus.Transaction) error {
	return e.record(ctx, ActionBonusAdjusted, SeverityWarning, OutcomeSuccess,
		ResourceBonus, tx.ID.String(), CategoryBilling, nil,
		"user_id", tx.UserID,
		"fields_delta", tx.FieldsDelta,
		"note", tx.Note,
	)
}

// ──────────────────────────────────────────────────
// Subscription hooks
// ──────────────────────────────────────────────────

// OnSubscriptionSynced implements plugin.OnSubscriptionSynced.
func (e *Extension) OnSubscriptionSynced(ctx context.Context, s *subscription.Subscription) error {
	return e.subscription(ctx, ActionSubscriptionSynced, s)
}

// OnSubscriptionCanceled implements plugin.OnSubscriptionCanceled.
func (e *Extension) OnSubscriptionCanceled(ctx context.Context, s *subscription.Subscription) error {
	return e.subscription(ctx, ActionSubscriptionCanceled, s)
}

// OnCancellationScheduled implements plugin.OnCancellationScheduled.
func (e *Extension) OnCancellationScheduled(ctx context.Context, s *subscription.Subscription) error {
	return e.subscription(ctx, ActionCancellationScheduled, s)
}

// OnSubscriptionResumed implements plugin.OnSubscriptionResumed.
func (e *Extension) OnSubscriptionResumed(ctx context.Context, s *subscription.Subscription) error {
	return e.subscription(ctx, ActionSubscriptionResumed, s)
}

func (e *Extension) subscription(ctx context.Context, action string, s *subscription.Subscription) error {
	return e.record(ctx, action, SeverityInfo, OutcomeSuccess,
		ResourceSubscription, s.ID.String(), CategorySubscription, nil,
		"user_id", s.UserID,
		"plan_key", s.PlanKey,
		"provider_subscription_id", s.ProviderSubscriptionID,
		"status", string(s.Status),
	)
}

// ──────────────────────────────────────────────────
// Side effect hooks
// ──────────────────────────────────────────────────

// OnNotificationFailed implements plugin.OnNotificationFailed.
func (e *Extension) OnNotificationFailed(ctx context.Context, task notify.Task, err error) error {
	return e.record(ctx, ActionNotificationFailed, SeverityError, OutcomeFailure,
		ResourceNotification, task.ID.String(), CategoryIntegration, err,
		"user_id", task.UserID,
		"template", string(task.Template),
	)
}

// OnCatalogSynced implements plugin.OnCatalogSynced.
func (e *Extension) OnCatalogSynced(ctx context.Context, providerName string, result *catalog.SyncResult, err error) error {
	severity, outcome := SeverityInfo, OutcomeSuccess
	if err != nil {
		severity, outcome = SeverityError, OutcomeFailure
	}
	var synced, unchanged int
	if result != nil {
		synced, unchanged = len(result.Synced), result.Unchanged
	}
	return e.record(ctx, ActionCatalogSynced, severity, outcome,
		ResourceCatalog, providerName, CategoryIntegration, err,
		"synced", synced,
		"unchanged", unchanged,
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
