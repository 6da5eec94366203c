package bonus_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/paysync/bonus"
	"github.com/xraph/paysync/payment"
	"github.com/xraph/paysync/store/memory"
)

var rules = bonus.StaticRules{
	Plans: map[string][]bonus.Rule{
		"basic": {
			{ApplyOn: bonus.ApplyOnFirst, Fields: map[string]int64{"aiCredits": 20}},
			{ApplyOn: bonus.ApplyOnRecurring, Fields: map[string]int64{"aiCredits": 5}},
			{ApplyOn: bonus.ApplyOnAlways, Fields: map[string]int64{"exports": 1}},
		},
	},
	Products: map[string][]bonus.Rule{
		"credits-100": {{Fields: map[string]int64{"aiCredits": 100}}},
	},
}

type fixture struct {
	store    *memory.Store
	payments *payment.Ledger
	bonuses  *bonus.Ledger
}

func newFixture(rs bonus.RuleSource) *fixture {
	s := memory.New()
	payments := payment.NewLedger(s)
	return &fixture{
		store:    s,
		payments: payments,
		bonuses:  bonus.NewLedger(s, payments, rs),
	}
}

func (f *fixture) pay(t *testing.T, providerID string, amount int64) *payment.Payment {
	t.Helper()
	p, _, err := f.payments.Record(context.Background(),
		payment.NaturalKey{Provider: "stripe", ProviderPaymentID: providerID},
		&payment.Payment{
			UserID:     "u1",
			PlanKey:    "basic",
			Amount:     amount,
			Currency:   "usd",
			SourceType: payment.SourceSubscription,
		}, payment.Refresh{})
	require.NoError(t, err)
	return p
}

func TestApplyOnPaymentFirstAndRecurring(t *testing.T) {
	f := newFixture(rules)
	ctx := context.Background()

	first := f.pay(t, "in_1", 1500)
	tx, err := f.bonuses.ApplyOnPayment(ctx, first, nil)
	require.NoError(t, err)
	require.NotNil(t, tx)
	assert.Equal(t, map[string]int64{"aiCredits": 20, "exports": 1}, tx.FieldsDelta)
	assert.Equal(t, bonus.SourceSubscription, tx.SourceType)
	assert.Equal(t, first.ID.String(), tx.SourceID)

	again, err := f.bonuses.ApplyOnPayment(ctx, first, nil)
	require.NoError(t, err)
	assert.Nil(t, again)

	second := f.pay(t, "in_2", 1500)
	tx, err = f.bonuses.ApplyOnPayment(ctx, second, nil)
	require.NoError(t, err)
	require.NotNil(t, tx)
	assert.Equal(t, map[string]int64{"aiCredits": 5, "exports": 1}, tx.FieldsDelta)

	bal, err := f.bonuses.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(25), bal.Get("aiCredits"))
	assert.Equal(t, int64(2), bal.Get("exports"))

	txs, err := f.bonuses.Transactions(ctx, "u1", bonus.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, txs, 2)

	credited, err := f.bonuses.Credited(ctx, second)
	require.NoError(t, err)
	assert.True(t, credited)
}

func TestApplyOnPaymentExplicitFirst(t *testing.T) {
	f := newFixture(rules)
	f.pay(t, "in_0", 1500)
	p := f.pay(t, "in_1", 1500)

	first := true
	tx, err := f.bonuses.ApplyOnPayment(context.Background(), p, &first)
	require.NoError(t, err)
	assert.Equal(t, int64(20), tx.FieldsDelta["aiCredits"])
}

func TestZeroAmountChargeIsFirstPayment(t *testing.T) {
	f := newFixture(rules)
	ctx := context.Background()

	trial := f.pay(t, "in_trial", 0)
	tx, err := f.bonuses.ApplyOnPayment(ctx, trial, nil)
	require.NoError(t, err)
	require.NotNil(t, tx)
	assert.Equal(t, map[string]int64{"aiCredits": 20, "exports": 1}, tx.FieldsDelta)

	paid := f.pay(t, "in_1", 1500)
	tx, err = f.bonuses.ApplyOnPayment(ctx, paid, nil)
	require.NoError(t, err)
	require.NotNil(t, tx)
	assert.Equal(t, map[string]int64{"aiCredits": 5, "exports": 1}, tx.FieldsDelta)
}

func TestApplyOnPaymentSkips(t *testing.T) {
	f := newFixture(rules)
	ctx := context.Background()

	failed := *f.pay(t, "in_1", 1500)
	failed.Status = payment.StatusFailed
	tx, err := f.bonuses.ApplyOnPayment(ctx, &failed, nil)
	require.NoError(t, err)
	assert.Nil(t, tx)

	unknown := f.pay(t, "in_2", 1500)
	unknown.PlanKey = "enterprise"
	tx, err = f.bonuses.ApplyOnPayment(ctx, unknown, nil)
	require.NoError(t, err)
	assert.Nil(t, tx)

	noRules := newFixture(nil)
	tx, err = noRules.bonuses.ApplyOnPayment(ctx, noRules.pay(t, "in_1", 1500), nil)
	require.NoError(t, err)
	assert.Nil(t, tx)
}

func TestApplyOnPaymentRuleSourceError(t *testing.T) {
	f := newFixture(bonus.RuleSourceFunc(func(context.Context, bonus.SourceType, string) ([]bonus.Rule, error) {
		return nil, errors.New("rules unavailable")
	}))

	_, err := f.bonuses.ApplyOnPayment(context.Background(), f.pay(t, "in_1", 1500), nil)
	assert.Error(t, err)
}

func TestAdjustUserBonus(t *testing.T) {
	f := newFixture(rules)
	ctx := context.Background()

	tx, err := f.bonuses.AdjustUserBonus(ctx, "u1", bonus.Adjustment{Fields: map[string]int64{"aiCredits": 10}})
	require.NoError(t, err)
	assert.Equal(t, int64(10), tx.FieldsDelta["aiCredits"])
	assert.Equal(t, bonus.SourceManualAdjust, tx.SourceType)

	tx, err = f.bonuses.AdjustUserBonus(ctx, "u1", bonus.Adjustment{Fields: map[string]int64{"aiCredits": 4}, Note: "refund"})
	require.NoError(t, err)
	assert.Equal(t, int64(-6), tx.FieldsDelta["aiCredits"])

	bal, err := f.bonuses.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), bal.Get("aiCredits"))

	_, err = f.bonuses.AdjustUserBonus(ctx, "u1", bonus.Adjustment{})
	assert.Error(t, err)
}

func TestBalanceOfUnknownUserIsEmpty(t *testing.T) {
	f := newFixture(rules)

	bal, err := f.bonuses.Balance(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Zero(t, bal.Get("aiCredits"))
}

func TestRuleApplies(t *testing.T) {
	assert.True(t, bonus.Rule{ApplyOn: bonus.ApplyOnFirst}.Applies(true))
	assert.False(t, bonus.Rule{ApplyOn: bonus.ApplyOnFirst}.Applies(false))
	assert.False(t, bonus.Rule{ApplyOn: bonus.ApplyOnRecurring}.Applies(true))
	assert.True(t, bonus.Rule{ApplyOn: bonus.ApplyOnRecurring}.Applies(false))
	assert.True(t, bonus.Rule{ApplyOn: bonus.ApplyOnAlways}.Applies(false))
}

func TestApplyOnUnmarshalText(t *testing.T) {
	var a bonus.ApplyOn
	require.NoError(t, a.UnmarshalText([]byte("FIRST")))
	assert.Equal(t, bonus.ApplyOnFirst, a)
	require.NoError(t, a.UnmarshalText([]byte("")))
	assert.Equal(t, bonus.ApplyOnAlways, a)
	assert.Error(t, a.UnmarshalText([]byte("weekly")))
}
