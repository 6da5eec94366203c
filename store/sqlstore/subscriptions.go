package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/xraph/paysync/id"
	"github.com/xraph/paysync/subscription"
)

const subscriptionColumns = `id, user_id, plan_key, provider, provider_subscription_id, status,
    trial_end, trial_days, current_period_start, current_period_end,
    cancel_at, canceled_at, last_payment_at, metadata, synced_at, created_at, updated_at`

// ==================== Subscription Store ====================

func (s *Store) SyncSubscription(ctx context.Context, sub *subscription.Subscription) (*subscription.Subscription, bool, error) {
	row := *sub
	if row.CreatedAt.IsZero() {
		t := s.clock()
		row.CreatedAt, row.UpdatedAt = t, t
	}
	args, err := subscriptionArgs(&row)
	if err != nil {
		return nil, false, fmt.Errorf("paysync/%s: sync subscription: %w", s.dialect, err)
	}

	res, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO `+tableSubscriptions+` (`+subscriptionColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (user_id, plan_key, provider, provider_subscription_id) DO UPDATE SET
    status = excluded.status,
    trial_end = excluded.trial_end,
    trial_days = excluded.trial_days,
    current_period_start = excluded.current_period_start,
    current_period_end = excluded.current_period_end,
    cancel_at = excluded.cancel_at,
    canceled_at = excluded.canceled_at,
    last_payment_at = excluded.last_payment_at,
    metadata = excluded.metadata,
    synced_at = excluded.synced_at,
    updated_at = excluded.updated_at
WHERE `+tableSubscriptions+`.synced_at <= excluded.synced_at
  AND `+tableSubscriptions+`.status <> 'canceled'`), args...)
	if err != nil {
		return nil, false, fmt.Errorf("paysync/%s: sync subscription: %w", s.dialect, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("paysync/%s: sync subscription: %w", s.dialect, err)
	}

	stored, err := s.GetSubscriptionByKey(ctx, sub.Key())
	if err != nil {
		return nil, false, fmt.Errorf("paysync/%s: sync subscription: reload: %w", s.dialect, err)
	}
	return stored, n > 0, nil
}

func (s *Store) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	metadata, err := encodeJSON(sub.Metadata)
	if err != nil {
		return fmt.Errorf("paysync/%s: update subscription: %w", s.dialect, err)
	}
	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE `+tableSubscriptions+` SET
    status = ?, trial_end = ?, trial_days = ?, current_period_start = ?, current_period_end = ?,
    cancel_at = ?, canceled_at = ?, last_payment_at = ?, metadata = ?, synced_at = ?, updated_at = ?
WHERE id = ?`),
		string(sub.Status), nullNanos(sub.TrialEnd), sub.TrialDays,
		nullNanos(sub.CurrentPeriodStart), nullNanos(sub.CurrentPeriodEnd),
		nullNanos(sub.CancelAt), nullNanos(sub.CanceledAt), nullNanos(sub.LastPaymentAt),
		metadata, nanos(sub.SyncedAt), nanos(sub.UpdatedAt),
		sub.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("paysync/%s: update subscription: %w", s.dialect, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return subscription.ErrNotFound
	}
	return nil
}

func (s *Store) GetSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	var w where
	w.add("id = ?", subID.String())
	return s.findSubscription(ctx, w)
}

func (s *Store) GetSubscriptionByKey(ctx context.Context, key subscription.Key) (*subscription.Subscription, error) {
	var w where
	w.add("user_id = ?", key.UserID)
	w.add("plan_key = ?", key.PlanKey)
	w.add("provider = ?", key.Provider)
	w.add("provider_subscription_id = ?", key.ProviderSubscriptionID)
	return s.findSubscription(ctx, w)
}

func (s *Store) FindSubscription(ctx context.Context, ref subscription.Ref, statuses ...subscription.Status) (*subscription.Subscription, error) {
	w := refWhere(ref)
	addStatusIn(&w, statuses)
	return s.findSubscription(ctx, w)
}

func (s *Store) CancelSubscriptions(ctx context.Context, ref subscription.Ref, at, syncedAt time.Time) (int64, error) {
	w := refWhere(ref)
	res, err := s.db.ExecContext(ctx,
		s.rebind(`UPDATE `+tableSubscriptions+` SET status = ?, cancel_at = ?, canceled_at = ?, synced_at = ?, updated_at = ?`+w.String()),
		append([]any{string(subscription.StatusCanceled), nanos(at), nanos(at), nanos(syncedAt), nanos(s.clock())}, w.args...)...,
	)
	if err != nil {
		return 0, fmt.Errorf("paysync/%s: cancel subscriptions: %w", s.dialect, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("paysync/%s: cancel subscriptions: %w", s.dialect, err)
	}
	return n, nil
}

func (s *Store) GetEffectiveSubscription(ctx context.Context, userID string) (*subscription.Subscription, error) {
	var w where
	w.add("user_id = ?", userID)
	addStatusIn(&w, subscription.EffectiveStatuses)
	return s.findSubscription(ctx, w)
}

func (s *Store) ListSubscriptions(ctx context.Context, userID string, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	var w where
	w.add("user_id = ?", userID)
	if opts.Status != "" {
		w.add("status = ?", string(opts.Status))
	}

	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT `+subscriptionColumns+` FROM `+tableSubscriptions+w.String()+
			` ORDER BY created_at DESC, id DESC`+s.paging(opts.Limit, opts.Offset)),
		w.args...,
	)
	if err != nil {
		return nil, fmt.Errorf("paysync/%s: list subscriptions: %w", s.dialect, err)
	}
	defer rows.Close()

	result := make([]*subscription.Subscription, 0)
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("paysync/%s: list subscriptions: %w", s.dialect, err)
		}
		result = append(result, sub)
	}
	return result, rows.Err()
}

// findSubscription returns the most recently created row matching w.
func (s *Store) findSubscription(ctx context.Context, w where) (*subscription.Subscription, error) {
	row := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT `+subscriptionColumns+` FROM `+tableSubscriptions+w.String()+` ORDER BY created_at DESC, id DESC LIMIT 1`),
		w.args...,
	)
	sub, err := scanSubscription(row)
	if err != nil {
		if isNoRows(err) {
			return nil, subscription.ErrNotFound
		}
		return nil, fmt.Errorf("paysync/%s: get subscription: %w", s.dialect, err)
	}
	return sub, nil
}

func refWhere(ref subscription.Ref) where {
	var w where
	w.add("provider = ?", ref.Provider)
	w.add("provider_subscription_id = ?", ref.ProviderSubscriptionID)
	if ref.UserID != "" {
		w.add("user_id = ?", ref.UserID)
	}
	return w
}

func addStatusIn(w *where, statuses []subscription.Status) {
	if len(statuses) == 0 {
		return
	}
	marks := make([]string, len(statuses))
	args := make([]any, len(statuses))
	for i, st := range statuses {
		marks[i] = "?"
		args[i] = string(st)
	}
	w.add("status IN ("+strings.Join(marks, ", ")+")", args...)
}

func subscriptionArgs(sub *subscription.Subscription) ([]any, error) {
	metadata, err := encodeJSON(sub.Metadata)
	if err != nil {
		return nil, err
	}
	return []any{
		sub.ID.String(), sub.UserID, sub.PlanKey, sub.Provider, sub.ProviderSubscriptionID, string(sub.Status),
		nullNanos(sub.TrialEnd), sub.TrialDays, nullNanos(sub.CurrentPeriodStart), nullNanos(sub.CurrentPeriodEnd),
		nullNanos(sub.CancelAt), nullNanos(sub.CanceledAt), nullNanos(sub.LastPaymentAt), metadata,
		nanos(sub.SyncedAt), nanos(sub.CreatedAt), nanos(sub.UpdatedAt),
	}, nil
}

func scanSubscription(sc scanner) (*subscription.Subscription, error) {
	var (
		sub                                 subscription.Subscription
		rawID, status, metadata             string
		trialEnd, periodStart, periodEnd    sql.NullInt64
		cancelAt, canceledAt, lastPaymentAt sql.NullInt64
		syncedAt, createdAt, updatedAt      int64
	)
	err := sc.Scan(
		&rawID, &sub.UserID, &sub.PlanKey, &sub.Provider, &sub.ProviderSubscriptionID, &status,
		&trialEnd, &sub.TrialDays, &periodStart, &periodEnd,
		&cancelAt, &canceledAt, &lastPaymentAt, &metadata, &syncedAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if sub.ID, err = id.ParseSubscriptionID(rawID); err != nil {
		return nil, fmt.Errorf("parse subscription id %q: %w", rawID, err)
	}
	if sub.Metadata, err = decodeStringMap(metadata); err != nil {
		return nil, fmt.Errorf("decode subscription metadata: %w", err)
	}
	sub.Status = subscription.Status(status)
	sub.TrialEnd = fromNullNanos(trialEnd)
	sub.CurrentPeriodStart = fromNullNanos(periodStart)
	sub.CurrentPeriodEnd = fromNullNanos(periodEnd)
	sub.CancelAt = fromNullNanos(cancelAt)
	sub.CanceledAt = fromNullNanos(canceledAt)
	sub.LastPaymentAt = fromNullNanos(lastPaymentAt)
	sub.SyncedAt = fromNanos(syncedAt)
	sub.CreatedAt = fromNanos(createdAt)
	sub.UpdatedAt = fromNanos(updatedAt)
	return &sub, nil
}
