package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/xraph/paysync/id"
	"github.com/xraph/paysync/types"
)

// Machine applies lifecycle transitions against a Store.
type Machine struct {
	store  Store
	clock  types.Clock
	logger *slog.Logger
}

// Option configures a Machine.
type Option func(*Machine)

// WithLogger sets the machine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Machine) { m.logger = logger }
}

// WithClock overrides the clock used for local transitions.
func WithClock(clock types.Clock) Option {
	return func(m *Machine) { m.clock = clock }
}

// NewMachine creates a subscription state machine.
func NewMachine(s Store, opts ...Option) *Machine {
	m := &Machine{
		store:  s,
		clock:  types.SystemClock,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Activate syncs the provider view in opts onto the row keyed by
// (userID, planKey, provider, provider subscription id), creating it on
// first sight. Data observed in an earlier second than the stored
// SyncedAt is ignored and a canceled row is never reopened; in both cases
// the stored row is returned unchanged.
func (m *Machine) Activate(ctx context.Context, userID, planKey string, opts ActivateOpts) (*Subscription, error) {
	if userID == "" || planKey == "" || opts.Provider == "" || opts.ProviderSubscriptionID == "" {
		return nil, errors.New("subscription: activate: user id, plan key, provider and provider subscription id are required")
	}

	now := m.clock()
	observed := opts.ObservedAt
	if observed.IsZero() {
		observed = now
	}
	observed = observed.UTC()

	key := Key{
		UserID:                 userID,
		PlanKey:                planKey,
		Provider:               opts.Provider,
		ProviderSubscriptionID: opts.ProviderSubscriptionID,
	}

	existing, err := m.store.GetSubscriptionByKey(ctx, key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("subscription: activate: %w", err)
	}

	if existing != nil {
		if existing.Status == StatusCanceled {
			m.logger.Debug("subscription already canceled, activation ignored",
				"subscription_id", existing.ID.String(),
				"provider_subscription_id", key.ProviderSubscriptionID,
			)
			return existing, nil
		}
		if stale(observed, existing.SyncedAt) {
			m.logger.Debug("stale subscription data ignored",
				"subscription_id", existing.ID.String(),
				"observed_at", observed,
				"synced_at", existing.SyncedAt,
			)
			return existing, nil
		}
	}

	next, rule := m.project(existing, key, opts, now, observed)

	stored, applied, err := m.store.SyncSubscription(ctx, next)
	if err != nil {
		return nil, fmt.Errorf("subscription: activate: %w", err)
	}
	if !applied {
		m.logger.Debug("concurrent subscription sync won",
			"subscription_id", stored.ID.String(),
			"provider_subscription_id", key.ProviderSubscriptionID,
		)
		return stored, nil
	}

	m.logger.Info("subscription synced",
		"subscription_id", stored.ID.String(),
		"user_id", userID,
		"plan_key", planKey,
		"provider_subscription_id", key.ProviderSubscriptionID,
		"status", string(stored.Status),
		"rule", rule,
	)
	return stored, nil
}

// project builds the row Activate writes from the stored row and opts.
func (m *Machine) project(existing *Subscription, key Key, opts ActivateOpts, now, observed time.Time) (*Subscription, string) {
	status, rule := deriveStatus(StatusSignals{
		RawStatus:         opts.RawStatus,
		CancelAtPeriodEnd: opts.CancelAtPeriodEnd,
		Amount:            opts.Amount,
	})

	s := &Subscription{}
	if existing != nil {
		*s = *existing
		s.Metadata = maps.Clone(existing.Metadata)
	} else {
		s.ID = id.NewSubscriptionID()
		s.Entity = types.NewEntityAt(now)
		s.UserID = key.UserID
		s.PlanKey = key.PlanKey
		s.Provider = key.Provider
		s.ProviderSubscriptionID = key.ProviderSubscriptionID
	}
	s.Status = status

	if opts.CurrentPeriodStart != nil {
		s.CurrentPeriodStart = utcPtr(opts.CurrentPeriodStart)
	}
	if opts.CurrentPeriodEnd != nil {
		s.CurrentPeriodEnd = utcPtr(opts.CurrentPeriodEnd)
	}
	if opts.LastPaymentAt != nil {
		s.LastPaymentAt = utcPtr(opts.LastPaymentAt)
	}

	switch {
	case opts.Amount > 0:
		s.TrialEnd = nil
		s.TrialDays = 0
	case opts.TrialEnd != nil:
		s.TrialEnd = utcPtr(opts.TrialEnd)
		s.TrialDays = opts.TrialDays
	}

	switch status {
	case StatusCanceled:
		at := firstTime(opts.CanceledAt, opts.CancelAt, &observed)
		s.CanceledAt = at
		s.CancelAt = firstTime(opts.CancelAt, at)
	case StatusCancelAtPeriodEnd:
		s.CancelAt = firstTime(opts.CancelAt, s.CurrentPeriodEnd, s.TrialEnd, s.CancelAt, &now)
		s.CanceledAt = nil
	default:
		s.CancelAt = utcPtr(opts.CancelAt)
		s.CanceledAt = nil
	}

	if len(opts.Metadata) > 0 {
		if s.Metadata == nil {
			s.Metadata = make(map[string]string, len(opts.Metadata))
		}
		maps.Copy(s.Metadata, opts.Metadata)
	}

	s.SyncedAt = latest(s.SyncedAt, observed)
	s.Touch(now)
	return s, rule
}

// ScheduleCancelAtPeriodEnd marks an effective subscription to end at the
// close of its current period. conf, when the provider returned one, wins
// over the stored period bounds. It is a no-op on a subscription already
// scheduled.
func (m *Machine) ScheduleCancelAtPeriodEnd(ctx context.Context, ref Ref, conf *Confirmation) (*Subscription, error) {
	s, err := m.store.FindSubscription(ctx, ref, EffectiveStatuses...)
	if err != nil {
		return nil, fmt.Errorf("subscription: schedule cancel %s: %w", ref.ProviderSubscriptionID, err)
	}
	if s.Status == StatusCancelAtPeriodEnd {
		return s, nil
	}

	now := m.clock()
	var confirmedAt *time.Time
	if conf != nil {
		conf.apply(s)
		confirmedAt = conf.CancelAt
	}
	s.Status = StatusCancelAtPeriodEnd
	s.CancelAt = firstTime(confirmedAt, s.CurrentPeriodEnd, s.TrialEnd, s.CancelAt, &now)
	s.CanceledAt = nil
	s.SyncedAt = latest(s.SyncedAt, localStamp(now))
	s.Touch(now)

	if err := m.store.UpdateSubscription(ctx, s); err != nil {
		return nil, fmt.Errorf("subscription: schedule cancel %s: %w", ref.ProviderSubscriptionID, err)
	}

	m.logger.Info("subscription cancellation scheduled",
		"subscription_id", s.ID.String(),
		"user_id", s.UserID,
		"cancel_at", *s.CancelAt,
	)
	return s, nil
}

// ResumeScheduledCancellation undoes a scheduled cancellation, taking
// period and trial bounds from conf when it is non-nil. A subscription that
// is not scheduled is returned unchanged.
func (m *Machine) ResumeScheduledCancellation(ctx context.Context, ref Ref, conf *Confirmation) (*Subscription, error) {
	s, err := m.store.FindSubscription(ctx, ref, EffectiveStatuses...)
	if err != nil {
		return nil, fmt.Errorf("subscription: resume %s: %w", ref.ProviderSubscriptionID, err)
	}
	if s.Status != StatusCancelAtPeriodEnd && s.CancelAt == nil {
		return s, nil
	}

	now := m.clock()
	if conf != nil {
		conf.apply(s)
	}
	s.Status = StatusActive
	if s.TrialEnd != nil && s.TrialEnd.After(now) {
		s.Status = StatusTrialing
	}
	s.CancelAt = nil
	s.CanceledAt = nil
	s.SyncedAt = latest(s.SyncedAt, localStamp(now))
	s.Touch(now)

	if err := m.store.UpdateSubscription(ctx, s); err != nil {
		return nil, fmt.Errorf("subscription: resume %s: %w", ref.ProviderSubscriptionID, err)
	}

	m.logger.Info("subscription resumed",
		"subscription_id", s.ID.String(),
		"user_id", s.UserID,
		"status", string(s.Status),
	)
	return s, nil
}

// MarkCanceledImmediately ends every row addressed by ref at at, or now
// when at is nil, and returns the most recent of them.
func (m *Machine) MarkCanceledImmediately(ctx context.Context, ref Ref, at *time.Time) (*Subscription, error) {
	now := m.clock()
	when := now
	if at != nil {
		when = at.UTC()
	}

	n, err := m.store.CancelSubscriptions(ctx, ref, when, now)
	if err != nil {
		return nil, fmt.Errorf("subscription: cancel %s: %w", ref.ProviderSubscriptionID, err)
	}
	if n == 0 {
		return nil, fmt.Errorf("subscription: cancel %s: %w", ref.ProviderSubscriptionID, ErrNotFound)
	}

	s, err := m.store.FindSubscription(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("subscription: cancel %s: %w", ref.ProviderSubscriptionID, err)
	}

	m.logger.Info("subscription canceled",
		"subscription_id", s.ID.String(),
		"user_id", s.UserID,
		"canceled_at", when,
		"rows", n,
	)
	return s, nil
}

// GetUserSubscription returns the user's most recent effective
// subscription, or ErrNotFound.
func (m *Machine) GetUserSubscription(ctx context.Context, userID string) (*Subscription, error) {
	return m.store.GetEffectiveSubscription(ctx, userID)
}

// stale reports whether data observed at observed predates synced.
// Provider timestamps have whole-second precision, so both sides are
// compared by second and a tie applies the newer delivery.
func stale(observed, synced time.Time) bool {
	return observed.Truncate(time.Second).Before(synced.Truncate(time.Second))
}

// localStamp is the SyncedAt a local change records. It is cut to the
// second so a provider event created in the same second still applies.
func localStamp(now time.Time) time.Time {
	return now.UTC().Truncate(time.Second)
}

func latest(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func firstTime(candidates ...*time.Time) *time.Time {
	for _, t := range candidates {
		if t != nil {
			return utcPtr(t)
		}
	}
	return nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
