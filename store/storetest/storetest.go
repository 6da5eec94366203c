// Package storetest is a conformance suite every store.Store backend runs
// from its own tests.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/paysync/bonus"
	"github.com/xraph/paysync/catalog"
	"github.com/xraph/paysync/id"
	"github.com/xraph/paysync/payment"
	"github.com/xraph/paysync/store"
	"github.com/xraph/paysync/subscription"
	"github.com/xraph/paysync/types"
)

// Factory returns a migrated store. Backends sharing one database across
// subtests are fine: every subtest works on fresh user ids.
type Factory func(t *testing.T) store.Store

// Run runs the suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("Payments", func(t *testing.T) { testPayments(t, newStore(t)) })
	t.Run("ConcurrentPayments", func(t *testing.T) { testConcurrentPayments(t, newStore(t)) })
	t.Run("PaymentCounts", func(t *testing.T) { testPaymentCounts(t, newStore(t)) })
	t.Run("Subscriptions", func(t *testing.T) { testSubscriptions(t, newStore(t)) })
	t.Run("CancelSubscriptions", func(t *testing.T) { testCancelSubscriptions(t, newStore(t)) })
	t.Run("Bonuses", func(t *testing.T) { testBonuses(t, newStore(t)) })
	t.Run("ConcurrentBonusCredits", func(t *testing.T) { testConcurrentBonusCredits(t, newStore(t)) })
	t.Run("BillingProducts", func(t *testing.T) { testBillingProducts(t, newStore(t)) })
	t.Run("Ping", func(t *testing.T) { require.NoError(t, newStore(t).Ping(context.Background())) })
}

func unique(prefix string) string {
	return prefix + "_" + uuid.NewString()
}

// sameTime compares at the coarsest precision any backend stores.
func sameTime(t *testing.T, want time.Time, got *time.Time) {
	t.Helper()
	require.NotNil(t, got)
	assert.WithinDuration(t, want, *got, time.Millisecond)
}

func newPayment(userID, providerPaymentID string, amount int64) *payment.Payment {
	return &payment.Payment{
		ID:                id.NewPaymentID(),
		Provider:          "stripe",
		ProviderPaymentID: providerPaymentID,
		UserID:            userID,
		PlanKey:           "basic",
		Amount:            amount,
		Currency:          "usd",
		Status:            payment.StatusSucceeded,
		SourceType:        payment.SourceSubscription,
		Metadata:          map[string]string{"source": "test"},
		Deduplicated:      true,
	}
}

func testPayments(t *testing.T, s store.Store) {
	ctx := context.Background()
	user := unique("user")
	invoice := unique("in")
	key := payment.NaturalKey{Provider: "stripe", ProviderPaymentID: invoice}

	paidAt := time.Now().UTC()
	p := newPayment(user, invoice, 1500)
	p.PaidAt = &paidAt

	first, err := s.UpsertPayment(ctx, key, p, payment.Refresh{})
	require.NoError(t, err)
	assert.True(t, first.IsNewlyCreated())
	assert.Equal(t, p.ID.String(), first.ID.String())
	sameTime(t, paidAt, first.PaidAt)
	assert.Equal(t, "test", first.Metadata["source"])

	dup := newPayment(user, invoice, 9999)
	second, err := s.UpsertPayment(ctx, key, dup, payment.Refresh{InvoiceURL: "https://invoice.example/1"})
	require.NoError(t, err)
	assert.False(t, second.IsNewlyCreated())
	assert.Equal(t, first.ID.String(), second.ID.String())
	assert.Equal(t, int64(1500), second.Amount)
	assert.Equal(t, "https://invoice.example/1", second.InvoiceURL)

	found, err := s.FindPayment(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, first.ID.String(), found.ID.String())

	got, err := s.GetPayment(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://invoice.example/1", got.InvoiceURL)

	failure := newPayment(user, invoice, 1500)
	failure.Status = payment.StatusFailed
	failure.Deduplicated = false
	failure.Entity = types.NewEntity()
	require.NoError(t, s.InsertPayment(ctx, failure))
	require.NoError(t, s.InsertPayment(ctx, &payment.Payment{
		ID:                id.NewPaymentID(),
		Entity:            types.NewEntity(),
		Provider:          "stripe",
		ProviderPaymentID: invoice,
		UserID:            user,
		PlanKey:           "basic",
		Amount:            1500,
		Currency:          "usd",
		Status:            payment.StatusFailed,
		SourceType:        payment.SourceSubscription,
	}))

	found, err = s.FindPayment(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, first.ID.String(), found.ID.String(), "failures never satisfy the natural key")

	_, err = s.FindPayment(ctx, payment.NaturalKey{Provider: "stripe", ProviderPaymentID: unique("in")})
	assert.ErrorIs(t, err, payment.ErrNotFound)
	_, err = s.GetPayment(ctx, id.NewPaymentID())
	assert.ErrorIs(t, err, payment.ErrNotFound)

	// Checkout sessions dedupe independently of payment ids.
	session := unique("cs")
	byKey := payment.NaturalKey{Provider: "stripe", CheckoutSessionID: session}
	cs := newPayment(user, "", 900)
	cs.CheckoutSessionID = session
	cs.SourceType = payment.SourceOneTime
	cs.PlanKey = ""
	cs.ProductKey = "credits-100"
	created, err := s.UpsertPayment(ctx, byKey, cs, payment.Refresh{})
	require.NoError(t, err)
	intent := unique("pi")
	late := newPayment(user, intent, 900)
	late.CheckoutSessionID = session
	again, err := s.UpsertPayment(ctx,
		payment.NaturalKey{Provider: "stripe", ProviderPaymentID: intent, CheckoutSessionID: session},
		late, payment.Refresh{})
	require.NoError(t, err)
	assert.Equal(t, created.ID.String(), again.ID.String())

	failed, err := s.ListPayments(ctx, payment.ListOpts{UserID: user, Status: payment.StatusFailed})
	require.NoError(t, err)
	assert.Len(t, failed, 2)

	all, err := s.ListPayments(ctx, payment.ListOpts{UserID: user})
	require.NoError(t, err)
	require.Len(t, all, 4)
	for i := 1; i < len(all); i++ {
		assert.False(t, all[i].CreatedAt.After(all[i-1].CreatedAt), "newest first")
	}

	paged, err := s.ListPayments(ctx, payment.ListOpts{UserID: user, Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, paged, 2)
	assert.Equal(t, all[1].ID.String(), paged[0].ID.String())

	oneTime, err := s.ListPayments(ctx, payment.ListOpts{UserID: user, SourceType: payment.SourceOneTime})
	require.NoError(t, err)
	require.Len(t, oneTime, 1)
	assert.Equal(t, "credits-100", oneTime[0].ProductKey)
}

// Redelivered webhooks race on the natural key: exactly one caller
// creates the row, the rest read it back.
func testConcurrentPayments(t *testing.T, s store.Store) {
	ctx := context.Background()
	user := unique("user")
	invoice := unique("in")
	key := payment.NaturalKey{Provider: "stripe", ProviderPaymentID: invoice}

	const workers = 16
	results := make([]*payment.Payment, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.UpsertPayment(ctx, key, newPayment(user, invoice, 1500), payment.Refresh{})
		}(i)
	}
	wg.Wait()

	created := 0
	for i := range workers {
		require.NoError(t, errs[i])
		require.NotNil(t, results[i])
		assert.Equal(t, results[0].ID.String(), results[i].ID.String())
		if results[i].IsNewlyCreated() {
			created++
		}
	}
	assert.Equal(t, 1, created)

	n, err := s.CountPayments(ctx, payment.CountFilter{UserID: user})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func testPaymentCounts(t *testing.T, s store.Store) {
	ctx := context.Background()
	user := unique("user")

	var ids []id.PaymentID
	for _, amount := range []int64{0, 1500, 1500} {
		p := newPayment(user, unique("in"), amount)
		stored, err := s.UpsertPayment(ctx, payment.NaturalKey{Provider: "stripe", ProviderPaymentID: p.ProviderPaymentID}, p, payment.Refresh{})
		require.NoError(t, err)
		ids = append(ids, stored.ID)
	}

	n, err := s.CountPayments(ctx, payment.CountFilter{UserID: user, Status: payment.StatusSucceeded})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = s.CountPayments(ctx, payment.CountFilter{
		UserID:     user,
		SourceType: payment.SourceSubscription,
		PlanKey:    "basic",
		Status:     payment.StatusSucceeded,
		ExcludeID:  ids[1],
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = s.CountPayments(ctx, payment.CountFilter{UserID: user, PlanKey: "pro"})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func newSubscription(userID, providerSubID string, syncedAt time.Time) *subscription.Subscription {
	end := syncedAt.Add(30 * 24 * time.Hour)
	return &subscription.Subscription{
		ID:                     id.NewSubscriptionID(),
		Entity:                 types.NewEntityAt(syncedAt),
		UserID:                 userID,
		PlanKey:                "basic",
		Provider:               "stripe",
		ProviderSubscriptionID: providerSubID,
		Status:                 subscription.StatusActive,
		CurrentPeriodStart:     &syncedAt,
		CurrentPeriodEnd:       &end,
		Metadata:               map[string]string{"campaign": "spring"},
		SyncedAt:               syncedAt,
	}
}

func testSubscriptions(t *testing.T, s store.Store) {
	ctx := context.Background()
	user := unique("user")
	subID := unique("sub")
	t0 := time.Now().UTC().Truncate(time.Millisecond)

	created, applied, err := s.SyncSubscription(ctx, newSubscription(user, subID, t0))
	require.NoError(t, err)
	require.True(t, applied)
	assert.Equal(t, "spring", created.Metadata["campaign"])
	sameTime(t, t0.Add(30*24*time.Hour), created.CurrentPeriodEnd)

	later := newSubscription(user, subID, t0.Add(time.Minute))
	later.Status = subscription.StatusCancelAtPeriodEnd
	later.CancelAt = later.CurrentPeriodEnd
	updated, applied, err := s.SyncSubscription(ctx, later)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, created.ID.String(), updated.ID.String(), "identity survives a sync")
	assert.Equal(t, subscription.StatusCancelAtPeriodEnd, updated.Status)

	stale := newSubscription(user, subID, t0.Add(-time.Minute))
	kept, applied, err := s.SyncSubscription(ctx, stale)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, subscription.StatusCancelAtPeriodEnd, kept.Status)

	got, err := s.GetSubscription(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, subID, got.ProviderSubscriptionID)

	byKey, err := s.GetSubscriptionByKey(ctx, created.Key())
	require.NoError(t, err)
	assert.Equal(t, created.ID.String(), byKey.ID.String())

	ref := subscription.Ref{UserID: user, Provider: "stripe", ProviderSubscriptionID: subID}
	found, err := s.FindSubscription(ctx, ref, subscription.EffectiveStatuses...)
	require.NoError(t, err)
	assert.Equal(t, created.ID.String(), found.ID.String())

	_, err = s.FindSubscription(ctx, ref, subscription.StatusCanceled)
	assert.ErrorIs(t, err, subscription.ErrNotFound)

	found.Status = subscription.StatusActive
	found.CancelAt = nil
	found.SyncedAt = t0.Add(2 * time.Minute)
	found.Touch(t0.Add(2 * time.Minute))
	require.NoError(t, s.UpdateSubscription(ctx, found))

	effective, err := s.GetEffectiveSubscription(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusActive, effective.Status)
	assert.Nil(t, effective.CancelAt)

	// A second, newer plan wins the effective read.
	pro := newSubscription(user, unique("sub"), t0.Add(time.Hour))
	pro.PlanKey = "pro"
	_, _, err = s.SyncSubscription(ctx, pro)
	require.NoError(t, err)

	effective, err = s.GetEffectiveSubscription(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, "pro", effective.PlanKey)

	list, err := s.ListSubscriptions(ctx, user, subscription.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, list, 2)

	missing := newSubscription(user, unique("sub"), t0)
	assert.ErrorIs(t, s.UpdateSubscription(ctx, missing), subscription.ErrNotFound)

	_, err = s.GetEffectiveSubscription(ctx, unique("user"))
	assert.ErrorIs(t, err, subscription.ErrNotFound)
}

func testCancelSubscriptions(t *testing.T, s store.Store) {
	ctx := context.Background()
	user := unique("user")
	subID := unique("sub")
	t0 := time.Now().UTC().Truncate(time.Millisecond)

	_, _, err := s.SyncSubscription(ctx, newSubscription(user, subID, t0))
	require.NoError(t, err)

	at := t0.Add(time.Hour)
	ref := subscription.Ref{Provider: "stripe", ProviderSubscriptionID: subID}
	n, err := s.CancelSubscriptions(ctx, ref, at, at)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	canceled, err := s.FindSubscription(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusCanceled, canceled.Status)
	sameTime(t, at, canceled.CanceledAt)

	// Canceled rows are never reopened by a sync.
	reopen := newSubscription(user, subID, t0.Add(2*time.Hour))
	kept, applied, err := s.SyncSubscription(ctx, reopen)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, subscription.StatusCanceled, kept.Status)

	_, err = s.GetEffectiveSubscription(ctx, user)
	assert.ErrorIs(t, err, subscription.ErrNotFound)

	n, err = s.CancelSubscriptions(ctx, subscription.Ref{Provider: "stripe", ProviderSubscriptionID: unique("sub")}, at, at)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func newTransaction(userID, sourceID string, at time.Time, delta map[string]int64) *bonus.Transaction {
	return &bonus.Transaction{
		ID:          id.NewBonusTransactionID(),
		UserID:      userID,
		SourceType:  bonus.SourceSubscription,
		SourceID:    sourceID,
		TargetModel: bonus.TargetUser,
		TargetID:    userID,
		FieldsDelta: delta,
		CreatedAt:   at,
	}
}

func testBonuses(t *testing.T, s store.Store) {
	ctx := context.Background()
	user := unique("user")
	t0 := time.Now().UTC().Truncate(time.Millisecond)

	_, err := s.GetBalance(ctx, bonus.TargetUser, user)
	assert.ErrorIs(t, err, bonus.ErrNotFound)

	source := unique("pay")
	require.NoError(t, s.CreditBonus(ctx, newTransaction(user, source, t0, map[string]int64{"aiCredits": 20})))
	err = s.CreditBonus(ctx, newTransaction(user, source, t0, map[string]int64{"aiCredits": 20}))
	assert.ErrorIs(t, err, bonus.ErrDuplicateTransaction)

	exists, err := s.BonusTransactionExists(ctx, user, bonus.SourceSubscription, source)
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = s.BonusTransactionExists(ctx, user, bonus.SourceOneTime, source)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, s.CreditBonus(ctx, newTransaction(user, unique("pay"), t0.Add(time.Second), map[string]int64{"aiCredits": 5, "exports": 1})))

	bal, err := s.GetBalance(ctx, bonus.TargetUser, user)
	require.NoError(t, err)
	assert.Equal(t, int64(25), bal.Get("aiCredits"))
	assert.Equal(t, int64(1), bal.Get("exports"))

	previous, err := s.SetBalanceFields(ctx, bonus.TargetUser, user, map[string]int64{"aiCredits": 3, "seats": 2})
	require.NoError(t, err)
	assert.Equal(t, int64(25), previous["aiCredits"])
	assert.Zero(t, previous["seats"])

	adjust := newTransaction(user, unique("adj"), t0.Add(2*time.Second), map[string]int64{"aiCredits": -22, "seats": 2})
	adjust.SourceType = bonus.SourceManualAdjust
	require.NoError(t, s.AppendBonusTransaction(ctx, adjust))

	bal, err = s.GetBalance(ctx, bonus.TargetUser, user)
	require.NoError(t, err)
	assert.Equal(t, int64(3), bal.Get("aiCredits"), "appending does not touch the balance")
	assert.Equal(t, int64(2), bal.Get("seats"))

	txs, err := s.ListBonusTransactions(ctx, user, bonus.ListOpts{})
	require.NoError(t, err)
	require.Len(t, txs, 3)
	assert.Equal(t, adjust.ID.String(), txs[0].ID.String())
	assert.Equal(t, int64(-22), txs[0].FieldsDelta["aiCredits"])

	manual, err := s.ListBonusTransactions(ctx, user, bonus.ListOpts{SourceType: bonus.SourceManualAdjust})
	require.NoError(t, err)
	assert.Len(t, manual, 1)

	paged, err := s.ListBonusTransactions(ctx, user, bonus.ListOpts{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.Equal(t, txs[1].ID.String(), paged[0].ID.String())
}

func testConcurrentBonusCredits(t *testing.T, s store.Store) {
	ctx := context.Background()
	user := unique("user")
	source := unique("pay")
	t0 := time.Now().UTC().Truncate(time.Millisecond)

	const workers = 16
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.CreditBonus(ctx, newTransaction(user, source, t0, map[string]int64{"aiCredits": 20}))
		}(i)
	}
	wg.Wait()

	credited := 0
	for _, err := range errs {
		if err == nil {
			credited++
			continue
		}
		assert.True(t, errors.Is(err, bonus.ErrDuplicateTransaction), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, credited)

	txs, err := s.ListBonusTransactions(ctx, user, bonus.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, txs, 1)

	bal, err := s.GetBalance(ctx, bonus.TargetUser, user)
	require.NoError(t, err)
	assert.Equal(t, int64(20), bal.Get("aiCredits"))
}

func testBillingProducts(t *testing.T, s store.Store) {
	ctx := context.Background()
	providerName := unique("prov")

	p := &catalog.BillingProduct{
		ID:                id.NewBillingProductID(),
		Entity:            types.NewEntity(),
		Key:               "basic",
		Mode:              catalog.ModeSubscription,
		Provider:          providerName,
		Currency:          "usd",
		Name:              "Basic",
		ProviderProductID: "prod_1",
		ProviderPriceID:   "price_1",
		Amount:            1500,
		Interval:          catalog.IntervalMonth,
		Active:            true,
	}
	first, err := s.UpsertBillingProduct(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, "price_1", first.ProviderPriceID)

	next := *p
	next.ID = id.NewBillingProductID()
	next.ProviderPriceID = "price_2"
	next.Amount = 1700
	second, err := s.UpsertBillingProduct(ctx, &next)
	require.NoError(t, err)
	assert.Equal(t, first.ID.String(), second.ID.String(), "identity survives an upsert")
	assert.Equal(t, "price_2", second.ProviderPriceID)
	assert.Equal(t, int64(1700), second.Amount)

	got, err := s.GetBillingProduct(ctx, p.ProductKey())
	require.NoError(t, err)
	assert.Equal(t, catalog.IntervalMonth, got.Interval)

	eur := *p
	eur.ID = id.NewBillingProductID()
	eur.Currency = "eur"
	_, err = s.UpsertBillingProduct(ctx, &eur)
	require.NoError(t, err)

	list, err := s.ListBillingProducts(ctx, providerName)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	_, err = s.GetBillingProduct(ctx, catalog.ProductKey{Key: "basic", Mode: catalog.ModeOneTime, Provider: providerName, Currency: "usd"})
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}
