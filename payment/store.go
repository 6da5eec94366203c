package payment

import (
	"context"

	"github.com/xraph/paysync/id"
)

// Store persists payments.
type Store interface {
	// UpsertPayment inserts p when no deduplicated row matches key and
	// otherwise applies refresh to the existing row. Money-determining
	// fields of an existing row are never overwritten. The returned
	// document's timestamps are equal only when this call inserted it.
	UpsertPayment(ctx context.Context, key NaturalKey, p *Payment, refresh Refresh) (*Payment, error)

	// InsertPayment appends p without deduplication.
	InsertPayment(ctx context.Context, p *Payment) error

	GetPayment(ctx context.Context, paymentID id.PaymentID) (*Payment, error)

	// FindPayment returns the deduplicated row matching key.
	FindPayment(ctx context.Context, key NaturalKey) (*Payment, error)

	CountPayments(ctx context.Context, filter CountFilter) (int64, error)
	ListPayments(ctx context.Context, opts ListOpts) ([]*Payment, error)
}

// CountFilter selects payments for counting. ExcludeID drops one row,
// usually the payment being evaluated.
type CountFilter struct {
	UserID     string
	SourceType SourceType
	PlanKey    string
	ProductKey string
	Status     Status
	ExcludeID  id.PaymentID
}

// ListOpts selects payments for listing, newest first.
type ListOpts struct {
	UserID     string
	Status     Status
	SourceType SourceType
	Limit      int
	Offset     int
}

// Matches reports whether p satisfies f. Stores without a query language
// use it directly.
func (f CountFilter) Matches(p *Payment) bool {
	if f.UserID != "" && p.UserID != f.UserID {
		return false
	}
	if f.SourceType != "" && p.SourceType != f.SourceType {
		return false
	}
	if f.PlanKey != "" && p.PlanKey != f.PlanKey {
		return false
	}
	if f.ProductKey != "" && p.ProductKey != f.ProductKey {
		return false
	}
	if f.Status != "" && p.Status != f.Status {
		return false
	}
	return f.ExcludeID.IsNil() || p.ID.String() != f.ExcludeID.String()
}

// Matches reports whether p satisfies o, ignoring paging.
func (o ListOpts) Matches(p *Payment) bool {
	if o.UserID != "" && p.UserID != o.UserID {
		return false
	}
	if o.Status != "" && p.Status != o.Status {
		return false
	}
	return o.SourceType == "" || p.SourceType == o.SourceType
}
