package paysync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/paysync/notify"
	"github.com/xraph/paysync/payment"
	"github.com/xraph/paysync/provider"
	"github.com/xraph/paysync/subscription"
	"github.com/xraph/paysync/webhook"
)

// Provider subscription statuses that never grant access and are not
// synced.
var unsyncedStatuses = map[string]bool{
	"incomplete":         true,
	"incomplete_expired": true,
}

// HandleWebhook verifies a raw delivery with the named provider and
// processes it.
//
// A nil error means the delivery is acknowledged, including when it was
// dropped as malformed or irrelevant. An error wrapping ErrInvalidSignature
// means nothing was mutated. Any other error means the provider should
// redeliver.
func (e *Engine) HandleWebhook(ctx context.Context, providerName string, payload []byte, signature string) (*webhook.Event, error) {
	if err := e.checkRunning(); err != nil {
		return nil, err
	}

	p, err := e.providers.Get(providerName)
	if err != nil {
		return nil, fmt.Errorf("paysync: %w", err)
	}

	evt, err := p.VerifyWebhook(payload, signature)
	if err != nil {
		if evt != nil && errors.Is(err, webhook.ErrMalformedPayload) {
			e.plugins.EmitWebhookReceived(ctx, evt)
			e.drop(ctx, evt, slog.LevelWarn, err.Error())
			return evt, nil
		}
		e.logger.Warn("webhook rejected", "provider", providerName, "error", err)
		return nil, fmt.Errorf("paysync: %w", err)
	}

	return evt, e.Process(ctx, evt)
}

// Process applies a verified event. Deliveries may repeat and arrive in
// any order; every step is idempotent or convergent.
func (e *Engine) Process(ctx context.Context, evt *webhook.Event) error {
	if err := e.checkRunning(); err != nil {
		return err
	}

	e.plugins.EmitWebhookReceived(ctx, evt)

	if evt.SkipReason != "" {
		e.drop(ctx, evt, slog.LevelDebug, evt.SkipReason)
		return nil
	}

	var err error
	switch evt.Canonical {
	case webhook.PaymentSucceeded:
		err = e.handlePaymentSucceeded(ctx, evt)
	case webhook.PaymentFailed:
		err = e.handlePaymentFailed(ctx, evt)
	case webhook.SubscriptionCanceled:
		err = e.handleSubscriptionCanceled(ctx, evt)
	case webhook.SubscriptionActivated:
		err = e.handleSubscriptionActivated(ctx, evt)
	default:
		e.drop(ctx, evt, slog.LevelDebug, "unhandled event type")
		return nil
	}

	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrDropped):
		e.drop(ctx, evt, slog.LevelDebug, err.Error())
		return nil
	case errors.Is(err, webhook.ErrMalformedPayload):
		e.drop(ctx, evt, slog.LevelWarn, err.Error())
		return nil
	}

	e.logger.Error("webhook processing failed",
		"event_id", evt.ID,
		"event_type", evt.RawType,
		"provider", evt.Provider,
		"error", err,
	)
	return fmt.Errorf("paysync: %s %s: %w", evt.RawType, evt.ID, err)
}

func (e *Engine) drop(ctx context.Context, evt *webhook.Event, level slog.Level, reason string) {
	e.logger.Log(ctx, level, "webhook dropped",
		"event_id", evt.ID,
		"event_type", evt.RawType,
		"provider", evt.Provider,
		"reason", reason,
	)
	e.plugins.EmitWebhookDropped(ctx, evt, reason)
}

func dropped(reason string) error {
	return fmt.Errorf("%w: %s", ErrDropped, reason)
}

func malformed(field, msg string) error {
	return &webhook.ValidationError{Field: field, Message: msg}
}

// ──────────────────────────────────────────────────
// Payments
// ──────────────────────────────────────────────────

func (e *Engine) handlePaymentSucceeded(ctx context.Context, evt *webhook.Event) error {
	pay := evt.Payment
	if pay == nil {
		return malformed("payment", "missing payment object")
	}
	if pay.Kind == webhook.KindCheckoutSession && pay.CheckoutMode == webhook.CheckoutModeSubscription {
		return e.activateFromCheckout(ctx, evt)
	}

	key := payment.NaturalKey{
		Provider:          evt.Provider,
		ProviderPaymentID: pay.ProviderPaymentID,
		CheckoutSessionID: pay.CheckoutSessionID,
	}
	if err := key.Validate(); err != nil {
		return fmt.Errorf("%w: %v", webhook.ErrMalformedPayload, err)
	}

	resolved, err := e.correlate(ctx, key, pay)
	if err != nil {
		return err
	}
	isSubscription := resolved.IsSubscription()
	if err := resolved.Correlation.ValidateFor(isSubscription); err != nil {
		return err
	}

	// Timing comes first so a transient provider failure leaves nothing
	// half-written.
	var (
		snap     *webhook.SubscriptionSnapshot
		observed = evt.CreatedAt
	)
	if isSubscription && resolved.ProviderSubscriptionID != "" {
		snap, observed, err = e.fetchSnapshot(ctx, evt, resolved.ProviderSubscriptionID)
		if err != nil {
			return err
		}
	}

	row := paymentFromPayload(evt.Provider, &resolved, isSubscription)
	row.Status = payment.StatusSucceeded
	refresh := payment.Refresh{
		InvoiceURL:    resolved.InvoiceURL,
		InvoicePDFURL: resolved.InvoicePDFURL,
		ReceiptURL:    resolved.ReceiptURL,
	}

	stored, created, err := e.payments.Record(ctx, key, row, refresh)
	if err != nil {
		return err
	}
	e.plugins.EmitPaymentRecorded(ctx, stored, created)

	var sub *subscription.Subscription
	if isSubscription && resolved.ProviderSubscriptionID != "" {
		opts := activateOpts(evt.Provider, resolved.ProviderSubscriptionID, snap, observed)
		opts.Amount = stored.Amount
		opts.LastPaymentAt = stored.PaidAt
		sub, err = e.subscriptions.Activate(ctx, stored.UserID, stored.PlanKey, opts)
		if err != nil {
			return err
		}
		e.plugins.EmitSubscriptionSynced(ctx, sub)
	}

	// Runs on every delivery; the ledger credits a payment at most once.
	tx, bonusErr := e.bonuses.ApplyOnPayment(ctx, stored, nil)
	if tx != nil {
		e.plugins.EmitBonusApplied(ctx, tx)
	}

	if created {
		switch {
		case !isSubscription:
			e.notify(ctx, stored.UserID, notify.PaymentSucceededOneTime, e.oneTimePaymentData(stored))
		case resolved.IsRenewal():
			e.notify(ctx, stored.UserID, notify.SubscriptionRenewed, e.subscriptionPaymentData(stored, sub))
		default:
			e.notify(ctx, stored.UserID, notify.PaymentSucceededSubscription, e.subscriptionPaymentData(stored, sub))
		}
	}
	return bonusErr
}

func (e *Engine) handlePaymentFailed(ctx context.Context, evt *webhook.Event) error {
	pay := evt.Payment
	if pay == nil {
		return malformed("payment", "missing payment object")
	}

	resolved := *pay
	if resolved.Correlation.Validate() != nil && resolved.ProviderSubscriptionID != "" {
		if err := e.correlateFromSubscription(ctx, evt.Provider, &resolved); err != nil {
			return err
		}
	}
	isSubscription := resolved.IsSubscription()
	if err := resolved.Correlation.ValidateFor(isSubscription); err != nil {
		return err
	}

	row := paymentFromPayload(evt.Provider, &resolved, isSubscription)
	row.ProviderPaymentID = resolved.ProviderPaymentID
	row.CheckoutSessionID = resolved.CheckoutSessionID
	row.InvoiceURL = resolved.InvoiceURL
	row.InvoicePDFURL = resolved.InvoicePDFURL
	row.ReceiptURL = resolved.ReceiptURL
	row.FailureReason = resolved.FailureReason
	row.NextRetryAt = resolved.NextRetryAt
	row.PaidAt = nil

	stored, err := e.payments.RecordFailure(ctx, row)
	if err != nil {
		return err
	}
	e.plugins.EmitPaymentFailed(ctx, stored)

	e.notify(ctx, stored.UserID, notify.PaymentFailed, e.paymentFailedData(stored))
	return nil
}

// correlate returns pay with its correlation completed. Deliveries that
// carry no metadata of their own borrow it from the payment row an earlier
// delivery recorded, then from the subscription they belong to.
func (e *Engine) correlate(ctx context.Context, key payment.NaturalKey, pay *webhook.PaymentPayload) (webhook.PaymentPayload, error) {
	resolved := *pay
	if resolved.Correlation.Validate() == nil {
		return resolved, nil
	}

	existing, err := e.payments.Find(ctx, key)
	switch {
	case err == nil:
		resolved.Correlation = resolved.Correlation.Merge(webhook.Correlation{
			UserID:     existing.UserID,
			PlanKey:    existing.PlanKey,
			ProductKey: existing.ProductKey,
		})
		if resolved.ProviderSubscriptionID == "" {
			resolved.ProviderSubscriptionID = existing.ProviderSubscriptionID
		}
		return resolved, nil
	case !errors.Is(err, payment.ErrNotFound):
		return resolved, err
	}

	if resolved.ProviderSubscriptionID != "" {
		if err := e.correlateFromSubscription(ctx, key.Provider, &resolved); err != nil {
			return resolved, err
		}
	}
	return resolved, nil
}

func (e *Engine) correlateFromSubscription(ctx context.Context, providerName string, pay *webhook.PaymentPayload) error {
	sub, err := e.store.FindSubscription(ctx, subscription.Ref{
		Provider:               providerName,
		ProviderSubscriptionID: pay.ProviderSubscriptionID,
	})
	if errors.Is(err, subscription.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	pay.Correlation = pay.Correlation.Merge(webhook.Correlation{UserID: sub.UserID, PlanKey: sub.PlanKey})
	return nil
}

func paymentFromPayload(providerName string, pay *webhook.PaymentPayload, isSubscription bool) *payment.Payment {
	p := &payment.Payment{
		Provider:               providerName,
		UserID:                 pay.Correlation.UserID,
		Amount:                 pay.Amount,
		Currency:               pay.Currency,
		InvoiceID:              pay.InvoiceID,
		ProviderSubscriptionID: pay.ProviderSubscriptionID,
		PaidAt:                 pay.PaidAt,
		Metadata:               pay.Metadata,
	}
	if isSubscription {
		p.SourceType = payment.SourceSubscription
		p.PlanKey = pay.Correlation.PlanKey
	} else {
		p.SourceType = payment.SourceOneTime
		p.ProductKey = pay.Correlation.ProductKey
	}
	return p
}

// ──────────────────────────────────────────────────
// Subscriptions
// ──────────────────────────────────────────────────

// activateFromCheckout syncs a subscription-mode checkout. The charge
// itself is recorded from the invoice event.
func (e *Engine) activateFromCheckout(ctx context.Context, evt *webhook.Event) error {
	pay := evt.Payment
	corr := pay.Correlation
	if err := corr.ValidateFor(true); err != nil {
		return err
	}
	if pay.ProviderSubscriptionID == "" {
		return malformed("subscription", "subscription checkout without subscription id")
	}

	snap, observed, err := e.fetchSnapshot(ctx, evt, pay.ProviderSubscriptionID)
	if err != nil {
		return err
	}

	opts := activateOpts(evt.Provider, pay.ProviderSubscriptionID, snap, observed)
	opts.Amount = pay.Amount
	opts.Metadata = pay.Metadata
	sub, err := e.subscriptions.Activate(ctx, corr.UserID, corr.PlanKey, opts)
	if err != nil {
		return err
	}
	e.plugins.EmitSubscriptionSynced(ctx, sub)
	return nil
}

func (e *Engine) handleSubscriptionActivated(ctx context.Context, evt *webhook.Event) error {
	snap := evt.Subscription
	if snap == nil || snap.ID == "" {
		return malformed("subscription", "missing subscription object")
	}
	if unsyncedStatuses[snap.Status] {
		return dropped("subscription status " + snap.Status)
	}

	ref := subscription.Ref{Provider: evt.Provider, ProviderSubscriptionID: snap.ID}
	prior, err := e.store.FindSubscription(ctx, ref)
	if err != nil && !errors.Is(err, subscription.ErrNotFound) {
		return err
	}

	corr := snap.Correlation
	if prior != nil {
		corr = corr.Merge(webhook.Correlation{UserID: prior.UserID, PlanKey: prior.PlanKey})
	}
	if err := corr.ValidateFor(true); err != nil {
		return err
	}

	opts := activateOpts(evt.Provider, snap.ID, snap, evt.CreatedAt)
	opts.Metadata = snap.Metadata
	sub, err := e.subscriptions.Activate(ctx, corr.UserID, corr.PlanKey, opts)
	if err != nil {
		return err
	}
	e.plugins.EmitSubscriptionSynced(ctx, sub)

	if prior != nil && prior.ID == sub.ID {
		switch {
		case prior.Status != subscription.StatusCancelAtPeriodEnd && sub.Status == subscription.StatusCancelAtPeriodEnd:
			e.plugins.EmitCancellationScheduled(ctx, sub)
		case prior.Status == subscription.StatusCancelAtPeriodEnd && sub.Status.IsEffective() && sub.Status != subscription.StatusCancelAtPeriodEnd:
			e.plugins.EmitSubscriptionResumed(ctx, sub)
		}
	}
	return nil
}

func (e *Engine) handleSubscriptionCanceled(ctx context.Context, evt *webhook.Event) error {
	snap := evt.Subscription
	if snap == nil || snap.ID == "" {
		return malformed("subscription", "missing subscription object")
	}

	ref := subscription.Ref{Provider: evt.Provider, ProviderSubscriptionID: snap.ID}
	prior, err := e.store.FindSubscription(ctx, ref)
	if errors.Is(err, subscription.ErrNotFound) {
		return dropped("unknown subscription " + snap.ID)
	}
	if err != nil {
		return err
	}

	var at *time.Time
	switch {
	case snap.CanceledAt != nil:
		at = snap.CanceledAt
	case snap.EndedAt != nil:
		at = snap.EndedAt
	case !evt.CreatedAt.IsZero():
		at = &evt.CreatedAt
	}

	sub, err := e.subscriptions.MarkCanceledImmediately(ctx, ref, at)
	if errors.Is(err, subscription.ErrNotFound) {
		return dropped("unknown subscription " + snap.ID)
	}
	if err != nil {
		return err
	}
	e.plugins.EmitSubscriptionCanceled(ctx, sub)

	if prior.Status != subscription.StatusCanceled {
		e.notify(ctx, sub.UserID, notify.SubscriptionCanceled, e.subscriptionCanceledData(sub))
	}
	return nil
}

// fetchSnapshot reads the live provider view of a subscription. When the
// provider cannot serve it, the event's own view is used; only transient
// failures are returned so the delivery is retried. Either view is stamped
// with the event's creation time so the stale guard compares provider
// times only.
func (e *Engine) fetchSnapshot(ctx context.Context, evt *webhook.Event, providerSubscriptionID string) (*webhook.SubscriptionSnapshot, time.Time, error) {
	p, err := e.providers.Get(evt.Provider)
	if err != nil {
		return evt.Subscription, evt.CreatedAt, nil
	}

	snap, err := p.FetchSubscription(ctx, providerSubscriptionID)
	if err == nil {
		return snap, evt.CreatedAt, nil
	}
	if provider.IsTransient(err) {
		return nil, time.Time{}, err
	}
	e.logger.Debug("subscription fetch unavailable, using event data",
		"event_id", evt.ID,
		"provider_subscription_id", providerSubscriptionID,
		"error", err,
	)
	return evt.Subscription, evt.CreatedAt, nil
}

func activateOpts(providerName, providerSubscriptionID string, snap *webhook.SubscriptionSnapshot, observed time.Time) subscription.ActivateOpts {
	opts := subscription.ActivateOpts{
		Provider:               providerName,
		ProviderSubscriptionID: providerSubscriptionID,
		ObservedAt:             observed,
	}
	if snap == nil {
		return opts
	}
	opts.RawStatus = snap.Status
	opts.CancelAtPeriodEnd = snap.CancelAtPeriodEnd
	opts.TrialEnd = snap.TrialEnd
	opts.TrialDays = snap.TrialDays()
	opts.CurrentPeriodStart = snap.CurrentPeriodStart
	opts.CurrentPeriodEnd = snap.CurrentPeriodEnd
	opts.CancelAt = snap.CancelAt
	opts.CanceledAt = snap.CanceledAt
	return opts
}

func (e *Engine) notify(ctx context.Context, userID string, key notify.TemplateKey, data map[string]any) {
	if err := e.notifier.Dispatch(ctx, notify.NewTask(userID, key, data)); err != nil {
		e.logger.Debug("notification not queued", "user_id", userID, "template", string(key), "error", err)
	}
}
