package catalog_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/paysync/bonus"
	"github.com/xraph/paysync/catalog"
	"github.com/xraph/paysync/store/memory"
)

const catalogYAML = `
plans:
  - key: basic
    name: Basic
    prices:
      - {amount: 1500, currency: USD}
      - {amount: 1400, currency: eur}
    bonuses:
      - applyOn: FIRST
        fields: {aiCredits: 20}
  - key: pro
    name: Pro
    interval: year
    trialDays: 14
    prices:
      - {amount: 15000, currency: usd}
products:
  - key: credits-100
    name: 100 Credits
    interval: month
    trialDays: 3
    prices:
      - {amount: 900, currency: usd}
    bonuses:
      - fields: {aiCredits: 100}
`

func TestLoad(t *testing.T) {
	c, err := catalog.Load(strings.NewReader(catalogYAML))
	require.NoError(t, err)
	require.Len(t, c.Definitions(), 3)

	basic, ok := c.Lookup(catalog.ModeSubscription, "basic")
	require.True(t, ok)
	assert.Equal(t, catalog.IntervalMonth, basic.Interval)
	assert.Equal(t, "usd", basic.Prices[0].Currency)
	require.Len(t, basic.Bonuses, 1)
	assert.Equal(t, bonus.ApplyOnFirst, basic.Bonuses[0].ApplyOn)

	credits, ok := c.Lookup(catalog.ModeOneTime, "credits-100")
	require.True(t, ok)
	assert.Empty(t, credits.Interval)
	assert.Zero(t, credits.TrialDays)
	assert.Equal(t, bonus.ApplyOnAlways, credits.Bonuses[0].ApplyOn)

	_, ok = c.Lookup(catalog.ModeOneTime, "basic")
	assert.False(t, ok)

	assert.Equal(t, "Pro", c.DisplayName(catalog.ModeSubscription, "pro"))
	assert.Equal(t, "unknown", c.DisplayName(catalog.ModeSubscription, "unknown"))
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	_, err := catalog.Load(strings.NewReader("plans:\n  - key: basic\n    price: 10\n"))
	assert.Error(t, err)

	_, err = catalog.Load(strings.NewReader("plans:\n  - key: basic\n    prices: [{amount: 1, currency: usd}]\n    bonuses: [{applyOn: SOMETIMES}]\n"))
	assert.Error(t, err)
}

func TestNewValidation(t *testing.T) {
	price := []catalog.Price{{Amount: 100, Currency: "usd"}}

	_, err := catalog.New(catalog.Definition{Mode: catalog.ModeSubscription, Prices: price})
	assert.Error(t, err)

	_, err = catalog.New(catalog.Definition{Key: "a", Mode: "rental", Prices: price})
	assert.Error(t, err)

	_, err = catalog.New(catalog.Definition{Key: "a", Mode: catalog.ModeSubscription})
	assert.Error(t, err)

	_, err = catalog.New(
		catalog.Definition{Key: "a", Mode: catalog.ModeSubscription, Prices: price},
		catalog.Definition{Key: "a", Mode: catalog.ModeSubscription, Prices: price},
	)
	assert.Error(t, err)

	// The same key may name a plan and a product.
	_, err = catalog.New(
		catalog.Definition{Key: "a", Mode: catalog.ModeSubscription, Prices: price},
		catalog.Definition{Key: "a", Mode: catalog.ModeOneTime, Prices: price},
	)
	assert.NoError(t, err)
}

func TestNewNormalizesBonusRules(t *testing.T) {
	price := []catalog.Price{{Amount: 100, Currency: "USD"}}
	rules := []bonus.Rule{
		{Fields: map[string]int64{"aiCredits": 5}},
		{ApplyOn: "FIRST", Fields: map[string]int64{"aiCredits": 20}},
	}

	c, err := catalog.New(catalog.Definition{Key: "a", Mode: catalog.ModeSubscription, Prices: price, Bonuses: rules})
	require.NoError(t, err)

	def, ok := c.Lookup(catalog.ModeSubscription, "a")
	require.True(t, ok)
	assert.Equal(t, bonus.ApplyOnAlways, def.Bonuses[0].ApplyOn)
	assert.Equal(t, bonus.ApplyOnFirst, def.Bonuses[1].ApplyOn)
	assert.Equal(t, "usd", def.Prices[0].Currency)

	// The caller's slices are left alone.
	assert.Empty(t, rules[0].ApplyOn)
	assert.Equal(t, "USD", price[0].Currency)

	_, err = catalog.New(catalog.Definition{
		Key:     "b",
		Mode:    catalog.ModeSubscription,
		Prices:  price,
		Bonuses: []bonus.Rule{{ApplyOn: "sometimes"}},
	})
	assert.Error(t, err)
}

func TestBonusRules(t *testing.T) {
	c, err := catalog.Load(strings.NewReader(catalogYAML))
	require.NoError(t, err)
	ctx := context.Background()

	rules, err := c.BonusRules(ctx, bonus.SourceSubscription, "basic")
	require.NoError(t, err)
	assert.Len(t, rules, 1)

	rules, err = c.BonusRules(ctx, bonus.SourceOneTime, "credits-100")
	require.NoError(t, err)
	assert.Equal(t, int64(100), rules[0].Fields["aiCredits"])

	rules, err = c.BonusRules(ctx, bonus.SourceOneTime, "basic")
	require.NoError(t, err)
	assert.Empty(t, rules)
}

type fakeRemote struct {
	mu    sync.Mutex
	calls int
	fail  string
}

func (r *fakeRemote) Name() string { return "fake" }

func (r *fakeRemote) SyncProduct(_ context.Context, spec catalog.ProductSpec, existing *catalog.BillingProduct) (*catalog.RemoteProduct, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if spec.Key == r.fail {
		return nil, errors.New("provider unavailable")
	}
	productID := "prod_" + spec.Key
	if existing != nil {
		productID = existing.ProviderProductID
	}
	return &catalog.RemoteProduct{
		ProviderProductID: productID,
		ProviderPriceID:   fmt.Sprintf("price_%s_%s_%d", spec.Key, spec.Currency, spec.Amount),
	}, nil
}

func TestSyncerSync(t *testing.T) {
	ctx := context.Background()
	c, err := catalog.Load(strings.NewReader(catalogYAML))
	require.NoError(t, err)

	s := memory.New()
	remote := &fakeRemote{}
	syncer := catalog.NewSyncer(s, c, catalog.WithConcurrency(2))

	result, err := syncer.Sync(ctx, remote)
	require.NoError(t, err)
	assert.Len(t, result.Synced, 4)
	assert.Equal(t, 4, remote.calls)

	result, err = syncer.Sync(ctx, remote)
	require.NoError(t, err)
	assert.Empty(t, result.Synced)
	assert.Equal(t, 4, result.Unchanged)
	assert.Equal(t, 4, remote.calls)

	row, err := syncer.Resolve(ctx, catalog.ProductKey{
		Key:      "basic",
		Mode:     catalog.ModeSubscription,
		Provider: "fake",
		Currency: "eur",
	})
	require.NoError(t, err)
	assert.Equal(t, "price_basic_eur_1400", row.ProviderPriceID)
	assert.Equal(t, int64(1400), row.Amount)

	// A price change creates a new provider price on the same product.
	c2, err := catalog.Load(strings.NewReader(strings.Replace(catalogYAML, "amount: 1400", "amount: 1300", 1)))
	require.NoError(t, err)
	result, err = catalog.NewSyncer(s, c2).Sync(ctx, remote)
	require.NoError(t, err)
	require.Len(t, result.Synced, 1)
	assert.Equal(t, "prod_basic", result.Synced[0].ProviderProductID)
	assert.Equal(t, "price_basic_eur_1300", result.Synced[0].ProviderPriceID)
}

func TestSyncerSyncError(t *testing.T) {
	c, err := catalog.Load(strings.NewReader(catalogYAML))
	require.NoError(t, err)

	_, err = catalog.NewSyncer(memory.New(), c).Sync(context.Background(), &fakeRemote{fail: "pro"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pro")
}

func TestResolveMissing(t *testing.T) {
	c, err := catalog.New()
	require.NoError(t, err)

	_, err = catalog.NewSyncer(memory.New(), c).Resolve(context.Background(), catalog.ProductKey{Key: "nope"})
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}
