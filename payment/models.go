// Package payment is the deduplicated ledger of provider charges.
//
// A successful charge is recorded through an atomic upsert keyed by its
// natural key: money-determining fields are written once on insert and
// decorative links may be refreshed by later deliveries. Failed attempts are
// appended without deduplication.
package payment

import (
	"errors"
	"time"

	"github.com/xraph/paysync/id"
	"github.com/xraph/paysync/types"
)

// ErrNotFound is returned by stores when no payment matches.
var ErrNotFound = errors.New("payment: not found")

// Status of a ledger row.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// SourceType tells whether a charge pays for a subscription plan or a
// one-time product.
type SourceType string

const (
	SourceSubscription SourceType = "subscription"
	SourceOneTime      SourceType = "one_time"
)

// Payment is one provider charge.
type Payment struct {
	types.Entity
	ID                     id.PaymentID      `json:"id"`
	Provider               string            `json:"provider"`
	ProviderPaymentID      string            `json:"provider_payment_id,omitempty"`
	CheckoutSessionID      string            `json:"checkout_session_id,omitempty"`
	UserID                 string            `json:"user_id"`
	PlanKey                string            `json:"plan_key,omitempty"`
	ProductKey             string            `json:"product_key,omitempty"`
	Amount                 int64             `json:"amount"`
	Currency               string            `json:"currency"`
	Status                 Status            `json:"status"`
	SourceType             SourceType        `json:"source_type"`
	ProviderSubscriptionID string            `json:"provider_subscription_id,omitempty"`
	InvoiceID              string            `json:"invoice_id,omitempty"`
	InvoiceURL             string            `json:"invoice_url,omitempty"`
	InvoicePDFURL          string            `json:"invoice_pdf_url,omitempty"`
	ReceiptURL             string            `json:"receipt_url,omitempty"`
	FailureReason          string            `json:"failure_reason,omitempty"`
	NextRetryAt            *time.Time        `json:"next_retry_at,omitempty"`
	PaidAt                 *time.Time        `json:"paid_at,omitempty"`
	Metadata               map[string]string `json:"metadata,omitempty"`

	// Deduplicated marks rows written through the natural-key upsert.
	// Failure rows are appended with Deduplicated=false and never collide.
	Deduplicated bool `json:"-"`
}

// Money returns the charged amount.
func (p *Payment) Money() types.Money {
	return types.NewMoney(p.Amount, p.Currency)
}

// Key returns the plan or product key the payment is for.
func (p *Payment) Key() string {
	if p.SourceType == SourceSubscription {
		return p.PlanKey
	}
	return p.ProductKey
}

// NaturalKey identifies a charge across redeliveries. ProviderPaymentID is
// the invoice id on the invoice path and the payment intent id otherwise;
// CheckoutSessionID is the fallback when no such id exists yet. A row
// matches when either non-empty id matches.
type NaturalKey struct {
	Provider          string
	ProviderPaymentID string
	CheckoutSessionID string
}

// Validate checks that the key can identify a row.
func (k NaturalKey) Validate() error {
	if k.Provider == "" {
		return errors.New("payment: natural key: provider is required")
	}
	if k.ProviderPaymentID == "" && k.CheckoutSessionID == "" {
		return errors.New("payment: natural key: provider payment id or checkout session id is required")
	}
	return nil
}

// Refresh holds the decorative fields a later delivery may overwrite.
// Empty values leave the stored value untouched.
type Refresh struct {
	InvoiceURL    string
	InvoicePDFURL string
	ReceiptURL    string
}

// IsEmpty reports whether there is nothing to refresh.
func (r Refresh) IsEmpty() bool {
	return r.InvoiceURL == "" && r.InvoicePDFURL == "" && r.ReceiptURL == ""
}

// Apply copies the non-empty fields onto p.
func (r Refresh) Apply(p *Payment) {
	if r.InvoiceURL != "" {
		p.InvoiceURL = r.InvoiceURL
	}
	if r.InvoicePDFURL != "" {
		p.InvoicePDFURL = r.InvoicePDFURL
	}
	if r.ReceiptURL != "" {
		p.ReceiptURL = r.ReceiptURL
	}
}
