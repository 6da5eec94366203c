// Package catalog maps internal plan and product keys to provider product
// and price identifiers, and carries the bonus rules attached to each.
package catalog

import (
	"errors"
	"strings"

	"github.com/xraph/paysync/id"
	"github.com/xraph/paysync/types"
)

// ErrNotFound is returned when no billing product matches.
var ErrNotFound = errors.New("catalog: not found")

// Mode distinguishes recurring plans from one-time products.
type Mode string

const (
	ModeSubscription Mode = "subscription"
	ModeOneTime      Mode = "one_time"
)

// Interval is the billing period of a recurring price.
type Interval string

const (
	IntervalDay   Interval = "day"
	IntervalWeek  Interval = "week"
	IntervalMonth Interval = "month"
	IntervalYear  Interval = "year"
)

// ProductKey identifies a BillingProduct.
type ProductKey struct {
	Key      string
	Mode     Mode
	Provider string
	Currency string
}

// BillingProduct is the cached provider identity of one priced plan or
// product.
type BillingProduct struct {
	types.Entity
	ID                id.BillingProductID `json:"id"`
	Key               string              `json:"key"`
	Mode              Mode                `json:"mode"`
	Provider          string              `json:"provider"`
	Currency          string              `json:"currency"`
	Name              string              `json:"name"`
	ProviderProductID string              `json:"provider_product_id"`
	ProviderPriceID   string              `json:"provider_price_id"`
	Amount            int64               `json:"amount"`
	Interval          Interval            `json:"interval,omitempty"`
	TrialDays         int                 `json:"trial_days,omitempty"`
	Active            bool                `json:"active"`
}

// ProductKey returns the identity of p.
func (p *BillingProduct) ProductKey() ProductKey {
	return ProductKey{Key: p.Key, Mode: p.Mode, Provider: p.Provider, Currency: p.Currency}
}

// Price returns the configured amount.
func (p *BillingProduct) Price() types.Money {
	return types.NewMoney(p.Amount, p.Currency)
}

// matches reports whether the cached row already reflects spec.
func (p *BillingProduct) matches(spec ProductSpec) bool {
	return p.ProviderPriceID != "" &&
		p.Amount == spec.Amount &&
		p.Interval == spec.Interval &&
		p.TrialDays == spec.TrialDays &&
		strings.EqualFold(p.Currency, spec.Currency)
}
