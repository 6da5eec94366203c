package paysync

import (
	"context"
	"errors"
	"fmt"

	"github.com/xraph/paysync/bonus"
	"github.com/xraph/paysync/catalog"
	"github.com/xraph/paysync/notify"
	"github.com/xraph/paysync/provider"
	"github.com/xraph/paysync/subscription"
	"github.com/xraph/paysync/webhook"
)

// ScheduleCancel schedules the user's subscription to end with its current
// period, first on the provider and then locally. Repeating it is
// harmless.
func (e *Engine) ScheduleCancel(ctx context.Context, userID, providerName, providerSubscriptionID string) (*subscription.Subscription, error) {
	if err := e.checkRunning(); err != nil {
		return nil, err
	}
	ref := subscription.Ref{UserID: userID, Provider: providerName, ProviderSubscriptionID: providerSubscriptionID}

	current, err := e.store.FindSubscription(ctx, ref, subscription.EffectiveStatuses...)
	if err != nil {
		return nil, fmt.Errorf("paysync: schedule cancel: %w", err)
	}
	conf, err := e.remote(ctx, providerName, func(p provider.Provider) (*webhook.SubscriptionSnapshot, error) {
		return p.CancelAtPeriodEnd(ctx, providerSubscriptionID)
	})
	if err != nil {
		return nil, fmt.Errorf("paysync: schedule cancel: %w", err)
	}

	sub, err := e.subscriptions.ScheduleCancelAtPeriodEnd(ctx, ref, conf)
	if err != nil {
		return nil, fmt.Errorf("paysync: schedule cancel: %w", err)
	}
	if current.Status != subscription.StatusCancelAtPeriodEnd {
		e.plugins.EmitCancellationScheduled(ctx, sub)
		e.notify(ctx, sub.UserID, notify.CancelAtPeriodEndSet, e.cancelScheduledData(sub))
	}
	return sub, nil
}

// Resume undoes a scheduled cancellation on the provider and locally. A
// subscription that is not scheduled is returned unchanged.
func (e *Engine) Resume(ctx context.Context, userID, providerName, providerSubscriptionID string) (*subscription.Subscription, error) {
	if err := e.checkRunning(); err != nil {
		return nil, err
	}
	ref := subscription.Ref{UserID: userID, Provider: providerName, ProviderSubscriptionID: providerSubscriptionID}

	current, err := e.store.FindSubscription(ctx, ref, subscription.EffectiveStatuses...)
	if err != nil {
		return nil, fmt.Errorf("paysync: resume: %w", err)
	}
	if current.Status != subscription.StatusCancelAtPeriodEnd && current.CancelAt == nil {
		return current, nil
	}
	conf, err := e.remote(ctx, providerName, func(p provider.Provider) (*webhook.SubscriptionSnapshot, error) {
		return p.Resume(ctx, providerSubscriptionID)
	})
	if err != nil {
		return nil, fmt.Errorf("paysync: resume: %w", err)
	}

	sub, err := e.subscriptions.ResumeScheduledCancellation(ctx, ref, conf)
	if err != nil {
		return nil, fmt.Errorf("paysync: resume: %w", err)
	}
	e.plugins.EmitSubscriptionResumed(ctx, sub)
	e.notify(ctx, sub.UserID, notify.SubscriptionResume, e.resumeData(sub))
	return sub, nil
}

// remote runs a provider-side subscription change and returns the bounds
// the provider confirmed. Subscriptions of a provider that is registered
// without API credentials are changed locally only, with a nil
// confirmation.
func (e *Engine) remote(ctx context.Context, providerName string, call func(provider.Provider) (*webhook.SubscriptionSnapshot, error)) (*subscription.Confirmation, error) {
	p, err := e.providers.Get(providerName)
	if err != nil {
		return nil, err
	}
	snap, err := call(p)
	if errors.Is(err, provider.ErrNotConfigured) {
		e.logger.Warn("provider not configured, changing subscription locally only", "provider", providerName)
		return nil, nil
	}
	if err != nil || snap == nil {
		return nil, err
	}
	return &subscription.Confirmation{
		CancelAt:           snap.CancelAt,
		CurrentPeriodStart: snap.CurrentPeriodStart,
		CurrentPeriodEnd:   snap.CurrentPeriodEnd,
		TrialEnd:           snap.TrialEnd,
	}, nil
}

// GetUserSubscription returns the user's most recent subscription that
// grants access, or an error wrapping ErrSubscriptionNotFound.
func (e *Engine) GetUserSubscription(ctx context.Context, userID string) (*subscription.Subscription, error) {
	return e.subscriptions.GetUserSubscription(ctx, userID)
}

// GetUserCurrentPlanKey returns the plan key of the user's effective
// subscription, or "" when the user has none.
func (e *Engine) GetUserCurrentPlanKey(ctx context.Context, userID string) (string, error) {
	sub, err := e.subscriptions.GetUserSubscription(ctx, userID)
	if errors.Is(err, subscription.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return sub.PlanKey, nil
}

// AdjustUserBonus sets absolute values on the user's bonus fields and
// records the difference.
func (e *Engine) AdjustUserBonus(ctx context.Context, userID string, adj bonus.Adjustment) (*bonus.Transaction, error) {
	if err := e.checkRunning(); err != nil {
		return nil, err
	}
	tx, err := e.bonuses.AdjustUserBonus(ctx, userID, adj)
	if err != nil {
		return nil, err
	}
	e.plugins.EmitBonusAdjusted(ctx, tx)
	return tx, nil
}

// Balance returns the user's bonus balance.
func (e *Engine) Balance(ctx context.Context, userID string) (*bonus.Balance, error) {
	return e.bonuses.Balance(ctx, userID)
}

// BonusTransactions lists the user's bonus trail, newest first.
func (e *Engine) BonusTransactions(ctx context.Context, userID string, opts bonus.ListOpts) ([]*bonus.Transaction, error) {
	return e.bonuses.Transactions(ctx, userID, opts)
}

// SyncCatalog pushes the configured catalog to the named provider.
func (e *Engine) SyncCatalog(ctx context.Context, providerName string, opts ...catalog.SyncerOption) (*catalog.SyncResult, error) {
	if e.catalog == nil {
		return nil, ErrNoCatalog
	}
	p, err := e.providers.Get(providerName)
	if err != nil {
		return nil, fmt.Errorf("paysync: sync catalog: %w", err)
	}

	opts = append([]catalog.SyncerOption{catalog.WithSyncLogger(e.logger)}, opts...)
	result, err := catalog.NewSyncer(e.store, e.catalog, opts...).Sync(ctx, p)
	e.plugins.EmitCatalogSynced(ctx, providerName, result, err)
	if err != nil {
		return result, fmt.Errorf("paysync: sync catalog: %w", err)
	}
	return result, nil
}

// BillingProduct returns the cached provider price for a catalog entry.
func (e *Engine) BillingProduct(ctx context.Context, key catalog.ProductKey) (*catalog.BillingProduct, error) {
	return e.store.GetBillingProduct(ctx, key)
}
