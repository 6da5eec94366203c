package payment

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/xraph/paysync/id"
	"github.com/xraph/paysync/types"
)

// Ledger records charges against a Store.
type Ledger struct {
	store  Store
	clock  types.Clock
	logger *slog.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLogger sets the ledger logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// WithClock overrides the clock used for failure rows.
func WithClock(clock types.Clock) Option {
	return func(l *Ledger) { l.clock = clock }
}

// NewLedger creates a payment ledger.
func NewLedger(s Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:  s,
		clock:  types.SystemClock,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Record upserts a successful charge under key and reports whether this
// call created it. Fields of p are only written on insert; refresh is
// applied on every call.
func (l *Ledger) Record(ctx context.Context, key NaturalKey, p *Payment, refresh Refresh) (*Payment, bool, error) {
	if err := key.Validate(); err != nil {
		return nil, false, err
	}

	row := *p
	if row.ID.IsNil() {
		row.ID = id.NewPaymentID()
	}
	row.Provider = key.Provider
	row.ProviderPaymentID = key.ProviderPaymentID
	row.CheckoutSessionID = key.CheckoutSessionID
	row.Currency = strings.ToLower(row.Currency)
	row.Deduplicated = true
	if row.Status == "" {
		row.Status = StatusSucceeded
	}
	refresh.Apply(&row)

	stored, err := l.store.UpsertPayment(ctx, key, &row, refresh)
	if err != nil {
		return nil, false, fmt.Errorf("payment: record %s/%s: %w", key.Provider, keyLabel(key), err)
	}

	created := stored.IsNewlyCreated()
	if created {
		l.logger.Info("payment recorded",
			"payment_id", stored.ID.String(),
			"provider", stored.Provider,
			"provider_payment_id", stored.ProviderPaymentID,
			"user_id", stored.UserID,
			"amount", stored.Money().String(),
		)
	} else {
		l.logger.Debug("payment already recorded",
			"payment_id", stored.ID.String(),
			"provider_payment_id", stored.ProviderPaymentID,
		)
	}
	return stored, created, nil
}

// RecordFailure appends a failed attempt. Failures are never deduplicated
// against each other or against successes.
func (l *Ledger) RecordFailure(ctx context.Context, p *Payment) (*Payment, error) {
	row := *p
	row.ID = id.NewPaymentID()
	row.Entity = types.NewEntityAt(l.clock())
	row.Status = StatusFailed
	row.Deduplicated = false
	row.Currency = strings.ToLower(row.Currency)

	if err := l.store.InsertPayment(ctx, &row); err != nil {
		return nil, fmt.Errorf("payment: record failure: %w", err)
	}

	l.logger.Info("payment failure recorded",
		"payment_id", row.ID.String(),
		"provider_payment_id", row.ProviderPaymentID,
		"user_id", row.UserID,
		"reason", row.FailureReason,
	)
	return &row, nil
}

// Find returns the deduplicated payment for key.
func (l *Ledger) Find(ctx context.Context, key NaturalKey) (*Payment, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	return l.store.FindPayment(ctx, key)
}

// CountPriorSucceeded counts the user's other successful charges for the
// same plan or product, zero-amount ones included.
func (l *Ledger) CountPriorSucceeded(ctx context.Context, p *Payment) (int64, error) {
	filter := CountFilter{
		UserID:     p.UserID,
		SourceType: p.SourceType,
		Status:     StatusSucceeded,
		ExcludeID:  p.ID,
	}
	if p.SourceType == SourceSubscription {
		filter.PlanKey = p.PlanKey
	} else {
		filter.ProductKey = p.ProductKey
	}

	n, err := l.store.CountPayments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("payment: count prior: %w", err)
	}
	return n, nil
}

// ListRecentSucceeded returns up to limit successful charges, newest first.
func (l *Ledger) ListRecentSucceeded(ctx context.Context, limit int) ([]*Payment, error) {
	return l.store.ListPayments(ctx, ListOpts{Status: StatusSucceeded, Limit: limit})
}

func keyLabel(k NaturalKey) string {
	if k.ProviderPaymentID != "" {
		return k.ProviderPaymentID
	}
	return k.CheckoutSessionID
}
