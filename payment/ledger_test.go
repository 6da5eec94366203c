package payment_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/paysync/payment"
	"github.com/xraph/paysync/store/memory"
)

func basicPayment(amount int64) *payment.Payment {
	return &payment.Payment{
		UserID:     "u1",
		PlanKey:    "basic",
		Amount:     amount,
		Currency:   "USD",
		SourceType: payment.SourceSubscription,
	}
}

func TestRecordDeduplicates(t *testing.T) {
	l := payment.NewLedger(memory.New())
	ctx := context.Background()
	key := payment.NaturalKey{Provider: "stripe", ProviderPaymentID: "in_1"}

	first, created, err := l.Record(ctx, key, basicPayment(1500), payment.Refresh{})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "usd", first.Currency)
	assert.Equal(t, payment.StatusSucceeded, first.Status)

	// A later delivery may refresh links but never the amount.
	second, created, err := l.Record(ctx, key, basicPayment(9999), payment.Refresh{ReceiptURL: "https://receipt.example/1"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID.String(), second.ID.String())
	assert.Equal(t, int64(1500), second.Amount)
	assert.Equal(t, "https://receipt.example/1", second.ReceiptURL)
}

func TestRecordMatchesEitherID(t *testing.T) {
	l := payment.NewLedger(memory.New())
	ctx := context.Background()

	bySession, created, err := l.Record(ctx,
		payment.NaturalKey{Provider: "stripe", CheckoutSessionID: "cs_1"},
		basicPayment(900), payment.Refresh{})
	require.NoError(t, err)
	require.True(t, created)

	byBoth, created, err := l.Record(ctx,
		payment.NaturalKey{Provider: "stripe", ProviderPaymentID: "pi_1", CheckoutSessionID: "cs_1"},
		basicPayment(900), payment.Refresh{})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, bySession.ID.String(), byBoth.ID.String())

	// Provider names partition the key space.
	_, created, err = l.Record(ctx,
		payment.NaturalKey{Provider: "paddle", CheckoutSessionID: "cs_1"},
		basicPayment(900), payment.Refresh{})
	require.NoError(t, err)
	assert.True(t, created)
}

func TestRecordRequiresKey(t *testing.T) {
	l := payment.NewLedger(memory.New())

	_, _, err := l.Record(context.Background(), payment.NaturalKey{Provider: "stripe"}, basicPayment(1), payment.Refresh{})
	assert.Error(t, err)

	_, _, err = l.Record(context.Background(), payment.NaturalKey{ProviderPaymentID: "in_1"}, basicPayment(1), payment.Refresh{})
	assert.Error(t, err)
}

func TestRecordFailureAppends(t *testing.T) {
	s := memory.New()
	l := payment.NewLedger(s)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		p := basicPayment(1500)
		p.Provider = "stripe"
		p.ProviderPaymentID = "in_1"
		p.FailureReason = "card_declined"
		failed, err := l.RecordFailure(ctx, p)
		require.NoError(t, err)
		assert.Equal(t, payment.StatusFailed, failed.Status)
	}

	rows, err := s.ListPayments(ctx, payment.ListOpts{Status: payment.StatusFailed})
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	// Failures never satisfy the natural key.
	_, err = l.Find(ctx, payment.NaturalKey{Provider: "stripe", ProviderPaymentID: "in_1"})
	assert.ErrorIs(t, err, payment.ErrNotFound)
}

func TestCountPriorSucceeded(t *testing.T) {
	l := payment.NewLedger(memory.New())
	ctx := context.Background()

	trial, _, err := l.Record(ctx, payment.NaturalKey{Provider: "stripe", ProviderPaymentID: "in_0"}, basicPayment(0), payment.Refresh{})
	require.NoError(t, err)
	first, _, err := l.Record(ctx, payment.NaturalKey{Provider: "stripe", ProviderPaymentID: "in_1"}, basicPayment(1500), payment.Refresh{})
	require.NoError(t, err)

	n, err := l.CountPriorSucceeded(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "zero-amount charges count as prior payments")

	n, err = l.CountPriorSucceeded(ctx, trial)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	other := basicPayment(1500)
	other.PlanKey = "pro"
	pro, _, err := l.Record(ctx, payment.NaturalKey{Provider: "stripe", ProviderPaymentID: "in_2"}, other, payment.Refresh{})
	require.NoError(t, err)
	n, err = l.CountPriorSucceeded(ctx, pro)
	require.NoError(t, err)
	assert.Zero(t, n)

	recent, err := l.ListRecentSucceeded(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, pro.ID.String(), recent[0].ID.String())
}
