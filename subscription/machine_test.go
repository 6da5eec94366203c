package subscription_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/paysync/store/memory"
	"github.com/xraph/paysync/subscription"
	"github.com/xraph/paysync/types"
)

var (
	t0        = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	periodEnd = time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
)

func newMachine(t *testing.T, now *time.Time) *subscription.Machine {
	t.Helper()
	clock := types.MonotonicClock(func() time.Time { return *now })
	return subscription.NewMachine(memory.New(memory.WithClock(clock)), subscription.WithClock(clock))
}

func activeOpts(observed time.Time) subscription.ActivateOpts {
	start := periodEnd.AddDate(0, -1, 0)
	end := periodEnd
	return subscription.ActivateOpts{
		Provider:               "stripe",
		ProviderSubscriptionID: "sub_1",
		RawStatus:              "active",
		CurrentPeriodStart:     &start,
		CurrentPeriodEnd:       &end,
		Amount:                 1500,
		ObservedAt:             observed,
	}
}

func TestActivateCreatesAndUpdates(t *testing.T) {
	now := t0
	m := newMachine(t, &now)
	ctx := context.Background()

	sub, err := m.Activate(ctx, "u1", "basic", activeOpts(t0))
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusActive, sub.Status)
	assert.Equal(t, t0, sub.SyncedAt)
	assert.True(t, sub.CurrentPeriodEnd.Equal(periodEnd))

	opts := activeOpts(t0.Add(time.Hour))
	opts.CancelAtPeriodEnd = true
	updated, err := m.Activate(ctx, "u1", "basic", opts)
	require.NoError(t, err)
	assert.Equal(t, sub.ID.String(), updated.ID.String())
	assert.Equal(t, subscription.StatusCancelAtPeriodEnd, updated.Status)
	require.NotNil(t, updated.CancelAt)
	assert.True(t, updated.CancelAt.Equal(periodEnd))
}

func TestActivateIgnoresStaleData(t *testing.T) {
	now := t0
	m := newMachine(t, &now)
	ctx := context.Background()

	_, err := m.Activate(ctx, "u1", "basic", activeOpts(t0.Add(time.Hour)))
	require.NoError(t, err)

	stale := activeOpts(t0)
	stale.CancelAtPeriodEnd = true
	sub, err := m.Activate(ctx, "u1", "basic", stale)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusActive, sub.Status)
	assert.Nil(t, sub.CancelAt)
}

func TestActivateAppliesSameSecondUpdates(t *testing.T) {
	now := t0.Add(700 * time.Millisecond)
	m := newMachine(t, &now)
	ctx := context.Background()

	first, err := m.Activate(ctx, "u1", "basic", activeOpts(now))
	require.NoError(t, err)

	// Created in the same whole second as the data already applied.
	opts := activeOpts(t0)
	opts.CancelAtPeriodEnd = true
	sub, err := m.Activate(ctx, "u1", "basic", opts)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusCancelAtPeriodEnd, sub.Status)
	require.NotNil(t, sub.CancelAt)
	assert.True(t, sub.CancelAt.Equal(periodEnd))
	assert.Equal(t, first.SyncedAt, sub.SyncedAt)
}

func TestProviderEventsAfterLocalChange(t *testing.T) {
	now := t0
	m := newMachine(t, &now)
	ctx := context.Background()
	ref := subscription.Ref{UserID: "u1", Provider: "stripe", ProviderSubscriptionID: "sub_1"}

	_, err := m.Activate(ctx, "u1", "basic", activeOpts(t0))
	require.NoError(t, err)

	now = t0.Add(time.Hour + 700*time.Millisecond)
	scheduled, err := m.ScheduleCancelAtPeriodEnd(ctx, ref, nil)
	require.NoError(t, err)
	assert.Equal(t, t0.Add(time.Hour), scheduled.SyncedAt)

	// An update from before the local change does not undo it.
	sub, err := m.Activate(ctx, "u1", "basic", activeOpts(t0.Add(time.Hour-time.Second)))
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusCancelAtPeriodEnd, sub.Status)

	// One created in the same second does.
	sub, err = m.Activate(ctx, "u1", "basic", activeOpts(t0.Add(time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusActive, sub.Status)
	assert.Nil(t, sub.CancelAt)
}

func TestConfirmationOverridesStoredBounds(t *testing.T) {
	now := t0
	m := newMachine(t, &now)
	ctx := context.Background()
	ref := subscription.Ref{UserID: "u1", Provider: "stripe", ProviderSubscriptionID: "sub_1"}

	_, err := m.Activate(ctx, "u1", "basic", activeOpts(t0))
	require.NoError(t, err)

	renewedEnd := periodEnd.AddDate(0, 1, 0)
	sub, err := m.ScheduleCancelAtPeriodEnd(ctx, ref, &subscription.Confirmation{
		CurrentPeriodEnd: &renewedEnd,
		CancelAt:         &renewedEnd,
	})
	require.NoError(t, err)
	assert.True(t, sub.CancelAt.Equal(renewedEnd))
	assert.True(t, sub.CurrentPeriodEnd.Equal(renewedEnd))

	trialEnd := t0.AddDate(0, 0, 7)
	resumed, err := m.ResumeScheduledCancellation(ctx, ref, &subscription.Confirmation{TrialEnd: &trialEnd})
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusTrialing, resumed.Status)
	assert.Nil(t, resumed.CancelAt)
}

func TestActivateTrial(t *testing.T) {
	now := t0
	m := newMachine(t, &now)
	ctx := context.Background()

	trialEnd := t0.AddDate(0, 0, 7)
	sub, err := m.Activate(ctx, "u1", "basic", subscription.ActivateOpts{
		Provider:               "stripe",
		ProviderSubscriptionID: "sub_1",
		RawStatus:              "trialing",
		TrialEnd:               &trialEnd,
		TrialDays:              7,
		ObservedAt:             t0,
	})
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusTrialing, sub.Status)
	assert.Equal(t, 7, sub.TrialDays)

	// The first real charge ends the trial.
	paid, err := m.Activate(ctx, "u1", "basic", activeOpts(t0.Add(time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusActive, paid.Status)
	assert.Nil(t, paid.TrialEnd)
	assert.Zero(t, paid.TrialDays)
}

func TestActivateRequiresIdentity(t *testing.T) {
	now := t0
	m := newMachine(t, &now)

	_, err := m.Activate(context.Background(), "", "basic", activeOpts(t0))
	assert.Error(t, err)

	opts := activeOpts(t0)
	opts.ProviderSubscriptionID = ""
	_, err = m.Activate(context.Background(), "u1", "basic", opts)
	assert.Error(t, err)
}

func TestScheduleAndResume(t *testing.T) {
	now := t0
	m := newMachine(t, &now)
	ctx := context.Background()
	ref := subscription.Ref{UserID: "u1", Provider: "stripe", ProviderSubscriptionID: "sub_1"}

	_, err := m.Activate(ctx, "u1", "basic", activeOpts(t0))
	require.NoError(t, err)

	sub, err := m.ScheduleCancelAtPeriodEnd(ctx, ref, nil)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusCancelAtPeriodEnd, sub.Status)
	assert.True(t, sub.CancelAt.Equal(periodEnd))

	again, err := m.ScheduleCancelAtPeriodEnd(ctx, ref, nil)
	require.NoError(t, err)
	assert.Equal(t, sub.UpdatedAt, again.UpdatedAt)

	resumed, err := m.ResumeScheduledCancellation(ctx, ref, nil)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusActive, resumed.Status)
	assert.Nil(t, resumed.CancelAt)

	noop, err := m.ResumeScheduledCancellation(ctx, ref, nil)
	require.NoError(t, err)
	assert.Equal(t, resumed.UpdatedAt, noop.UpdatedAt)
}

func TestResumeRestoresTrial(t *testing.T) {
	now := t0
	m := newMachine(t, &now)
	ctx := context.Background()
	ref := subscription.Ref{UserID: "u1", Provider: "stripe", ProviderSubscriptionID: "sub_1"}

	trialEnd := t0.AddDate(0, 0, 7)
	_, err := m.Activate(ctx, "u1", "basic", subscription.ActivateOpts{
		Provider:               "stripe",
		ProviderSubscriptionID: "sub_1",
		RawStatus:              "trialing",
		TrialEnd:               &trialEnd,
		ObservedAt:             t0,
	})
	require.NoError(t, err)

	sub, err := m.ScheduleCancelAtPeriodEnd(ctx, ref, nil)
	require.NoError(t, err)
	assert.True(t, sub.CancelAt.Equal(trialEnd))

	resumed, err := m.ResumeScheduledCancellation(ctx, ref, nil)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusTrialing, resumed.Status)
}

func TestCancelImmediately(t *testing.T) {
	now := t0
	m := newMachine(t, &now)
	ctx := context.Background()
	ref := subscription.Ref{Provider: "stripe", ProviderSubscriptionID: "sub_1"}

	_, err := m.Activate(ctx, "u1", "basic", activeOpts(t0))
	require.NoError(t, err)

	at := t0.Add(24 * time.Hour)
	sub, err := m.MarkCanceledImmediately(ctx, ref, &at)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusCanceled, sub.Status)
	assert.True(t, sub.CanceledAt.Equal(at))

	_, err = m.GetUserSubscription(ctx, "u1")
	assert.ErrorIs(t, err, subscription.ErrNotFound)

	// Provider data arriving later does not reopen the row.
	reopened, err := m.Activate(ctx, "u1", "basic", activeOpts(t0.Add(48*time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusCanceled, reopened.Status)

	_, err = m.ScheduleCancelAtPeriodEnd(ctx, subscription.Ref{UserID: "u1", Provider: "stripe", ProviderSubscriptionID: "sub_1"}, nil)
	assert.ErrorIs(t, err, subscription.ErrNotFound)

	_, err = m.MarkCanceledImmediately(ctx, subscription.Ref{Provider: "stripe", ProviderSubscriptionID: "sub_missing"}, nil)
	assert.ErrorIs(t, err, subscription.ErrNotFound)
}

func TestGetUserSubscriptionPrefersLatest(t *testing.T) {
	now := t0
	m := newMachine(t, &now)
	ctx := context.Background()

	_, err := m.Activate(ctx, "u1", "basic", activeOpts(t0))
	require.NoError(t, err)

	now = t0.Add(time.Hour)
	opts := activeOpts(t0.Add(time.Hour))
	opts.ProviderSubscriptionID = "sub_2"
	_, err = m.Activate(ctx, "u1", "pro", opts)
	require.NoError(t, err)

	sub, err := m.GetUserSubscription(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "pro", sub.PlanKey)
}
