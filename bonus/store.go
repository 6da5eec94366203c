package bonus

import "context"

// Store persists bonus transactions and balances.
type Store interface {
	// CreditBonus appends tx and increments the target balance by
	// tx.FieldsDelta. When a transaction with the same (user, source type,
	// source id) exists it returns ErrDuplicateTransaction and leaves the
	// balance untouched.
	CreditBonus(ctx context.Context, tx *Transaction) error

	// AppendBonusTransaction appends tx without touching balances.
	AppendBonusTransaction(ctx context.Context, tx *Transaction) error

	BonusTransactionExists(ctx context.Context, userID string, sourceType SourceType, sourceID string) (bool, error)

	GetBalance(ctx context.Context, targetModel, targetID string) (*Balance, error)

	// SetBalanceFields overwrites the given fields and returns their
	// previous values (zero for fields that were unset).
	SetBalanceFields(ctx context.Context, targetModel, targetID string, values map[string]int64) (map[string]int64, error)

	ListBonusTransactions(ctx context.Context, userID string, opts ListOpts) ([]*Transaction, error)
}
