package bonus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/xraph/paysync/id"
	"github.com/xraph/paysync/payment"
	"github.com/xraph/paysync/types"
)

// PaymentCounter counts a user's earlier successful charges for the same
// plan or product as p, excluding p itself.
type PaymentCounter interface {
	CountPriorSucceeded(ctx context.Context, p *payment.Payment) (int64, error)
}

// Ledger applies bonus rules to payments.
type Ledger struct {
	store    Store
	payments PaymentCounter
	rules    RuleSource
	clock    types.Clock
	logger   *slog.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLogger sets the ledger logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// WithClock overrides the transaction clock.
func WithClock(clock types.Clock) Option {
	return func(l *Ledger) { l.clock = clock }
}

// NewLedger creates a bonus ledger. rules may be nil, in which case no
// payment earns a bonus.
func NewLedger(s Store, payments PaymentCounter, rules RuleSource, opts ...Option) *Ledger {
	l := &Ledger{
		store:    s,
		payments: payments,
		rules:    rules,
		clock:    types.SystemClock,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// SourceTypeOf maps a payment source to its bonus source.
func SourceTypeOf(p *payment.Payment) SourceType {
	if p.SourceType == payment.SourceSubscription {
		return SourceSubscription
	}
	return SourceOneTime
}

// ApplyOnPayment credits the rules attached to p's plan or product. When
// firstPayment is nil it is derived from the user's earlier successful
// charges. The returned transaction is nil when nothing was credited,
// including when p was already credited.
func (l *Ledger) ApplyOnPayment(ctx context.Context, p *payment.Payment, firstPayment *bool) (*Transaction, error) {
	if l.rules == nil || p.Status != payment.StatusSucceeded {
		return nil, nil
	}

	sourceType := SourceTypeOf(p)
	rules, err := l.rules.BonusRules(ctx, sourceType, p.Key())
	if err != nil {
		return nil, fmt.Errorf("bonus: rules for %s: %w", p.Key(), err)
	}
	if len(rules) == 0 {
		return nil, nil
	}

	first, err := l.isFirstPayment(ctx, p, firstPayment)
	if err != nil {
		return nil, err
	}

	delta := mergeDeltas(rules, first)
	if len(delta) == 0 {
		return nil, nil
	}

	exists, err := l.store.BonusTransactionExists(ctx, p.UserID, sourceType, p.ID.String())
	if err != nil {
		return nil, fmt.Errorf("bonus: check existing: %w", err)
	}
	if exists {
		l.logger.Debug("bonus already credited", "payment_id", p.ID.String(), "user_id", p.UserID)
		return nil, nil
	}

	tx := &Transaction{
		ID:          id.NewBonusTransactionID(),
		UserID:      p.UserID,
		SourceType:  sourceType,
		SourceID:    p.ID.String(),
		TargetModel: TargetUser,
		TargetID:    p.UserID,
		FieldsDelta: delta,
		Note:        fmt.Sprintf("%s payment for %s", sourceType, p.Key()),
		CreatedAt:   l.clock(),
	}

	if err := l.store.CreditBonus(ctx, tx); err != nil {
		if errors.Is(err, ErrDuplicateTransaction) {
			l.logger.Debug("bonus credited concurrently", "payment_id", p.ID.String(), "user_id", p.UserID)
			return nil, nil
		}
		return nil, fmt.Errorf("bonus: credit: %w", err)
	}

	l.logger.Info("bonus credited",
		"transaction_id", tx.ID.String(),
		"payment_id", p.ID.String(),
		"user_id", p.UserID,
		"first_payment", first,
		"fields", delta,
	)
	return tx, nil
}

// Credited reports whether p has a bonus transaction.
func (l *Ledger) Credited(ctx context.Context, p *payment.Payment) (bool, error) {
	return l.store.BonusTransactionExists(ctx, p.UserID, SourceTypeOf(p), p.ID.String())
}

func (l *Ledger) isFirstPayment(ctx context.Context, p *payment.Payment, explicit *bool) (bool, error) {
	if explicit != nil {
		return *explicit, nil
	}
	if l.payments == nil {
		return false, errors.New("bonus: no payment counter configured")
	}
	n, err := l.payments.CountPriorSucceeded(ctx, p)
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

// AdjustUserBonus overwrites the user's fields with adj.Fields and records
// the difference as one manual_adjust transaction.
func (l *Ledger) AdjustUserBonus(ctx context.Context, userID string, adj Adjustment) (*Transaction, error) {
	if userID == "" || len(adj.Fields) == 0 {
		return nil, errors.New("bonus: adjust: user id and at least one field are required")
	}

	previous, err := l.store.SetBalanceFields(ctx, TargetUser, userID, adj.Fields)
	if err != nil {
		return nil, fmt.Errorf("bonus: adjust %s: %w", userID, err)
	}

	delta := make(map[string]int64, len(adj.Fields))
	for field, v := range adj.Fields {
		delta[field] = v - previous[field]
	}

	txID := id.NewBonusTransactionID()
	tx := &Transaction{
		ID:          txID,
		UserID:      userID,
		SourceType:  SourceManualAdjust,
		SourceID:    txID.String(),
		TargetModel: TargetUser,
		TargetID:    userID,
		FieldsDelta: delta,
		Note:        adj.Note,
		CreatedAt:   l.clock(),
	}
	if err := l.store.AppendBonusTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("bonus: adjust %s: record: %w", userID, err)
	}

	l.logger.Info("bonus adjusted",
		"transaction_id", tx.ID.String(),
		"user_id", userID,
		"fields", adj.Fields,
		"delta", delta,
	)
	return tx, nil
}

// Balance returns the user's current balance. A user without credits has
// an empty balance.
func (l *Ledger) Balance(ctx context.Context, userID string) (*Balance, error) {
	b, err := l.store.GetBalance(ctx, TargetUser, userID)
	if errors.Is(err, ErrNotFound) {
		return &Balance{TargetModel: TargetUser, TargetID: userID, Fields: map[string]int64{}}, nil
	}
	return b, err
}

// Transactions lists the user's bonus trail.
func (l *Ledger) Transactions(ctx context.Context, userID string, opts ListOpts) ([]*Transaction, error) {
	return l.store.ListBonusTransactions(ctx, userID, opts)
}
