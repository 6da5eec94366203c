// Package memory is an in-process Store for tests and single-node
// development. It enforces the same uniqueness rules as the database
// backends.
package memory

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/xraph/paysync/bonus"
	"github.com/xraph/paysync/catalog"
	"github.com/xraph/paysync/id"
	"github.com/xraph/paysync/payment"
	"github.com/xraph/paysync/store"
	"github.com/xraph/paysync/subscription"
	"github.com/xraph/paysync/types"
)

var _ store.Store = (*Store)(nil)

type bonusKey struct {
	userID     string
	sourceType bonus.SourceType
	sourceID   string
}

type balanceKey struct {
	model string
	id    string
}

// Store keeps everything in maps guarded by one mutex.
type Store struct {
	mu    sync.RWMutex
	clock types.Clock

	// Payment storage
	payments map[string]*payment.Payment

	// Subscription storage
	subscriptions map[string]*subscription.Subscription
	subsByKey     map[subscription.Key]string

	// Bonus storage
	transactions []*bonus.Transaction
	txKeys       map[bonusKey]struct{}
	balances     map[balanceKey]*bonus.Balance

	// Catalog storage
	products map[catalog.ProductKey]*catalog.BillingProduct
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the base clock. Writes still get strictly increasing
// timestamps.
func WithClock(clock types.Clock) Option {
	return func(s *Store) { s.clock = types.MonotonicClock(clock) }
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		clock:         types.MonotonicClock(types.SystemClock),
		payments:      make(map[string]*payment.Payment),
		subscriptions: make(map[string]*subscription.Subscription),
		subsByKey:     make(map[subscription.Key]string),
		txKeys:        make(map[bonusKey]struct{}),
		balances:      make(map[balanceKey]*bonus.Balance),
		products:      make(map[catalog.ProductKey]*catalog.BillingProduct),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ──────────────────────────────────────────────────
// Payment Store implementation
// ──────────────────────────────────────────────────

func (s *Store) UpsertPayment(_ context.Context, key payment.NaturalKey, p *payment.Payment, refresh payment.Refresh) (*payment.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing := s.findPayment(key); existing != nil {
		refresh.Apply(existing)
		existing.Touch(s.clock())
		return clonePayment(existing), nil
	}

	row := clonePayment(p)
	row.Entity = types.NewEntityAt(s.clock())
	row.Deduplicated = true
	s.payments[row.ID.String()] = row
	return clonePayment(row), nil
}

func (s *Store) InsertPayment(_ context.Context, p *payment.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := clonePayment(p)
	if row.CreatedAt.IsZero() {
		row.Entity = types.NewEntityAt(s.clock())
	}
	s.payments[row.ID.String()] = row
	return nil
}

func (s *Store) GetPayment(_ context.Context, paymentID id.PaymentID) (*payment.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.payments[paymentID.String()]; ok {
		return clonePayment(p), nil
	}
	return nil, payment.ErrNotFound
}

func (s *Store) FindPayment(_ context.Context, key payment.NaturalKey) (*payment.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p := s.findPayment(key); p != nil {
		return clonePayment(p), nil
	}
	return nil, payment.ErrNotFound
}

func (s *Store) findPayment(key payment.NaturalKey) *payment.Payment {
	for _, p := range s.payments {
		if !p.Deduplicated || p.Provider != key.Provider {
			continue
		}
		if key.ProviderPaymentID != "" && p.ProviderPaymentID == key.ProviderPaymentID {
			return p
		}
		if key.CheckoutSessionID != "" && p.CheckoutSessionID == key.CheckoutSessionID {
			return p
		}
	}
	return nil
}

func (s *Store) CountPayments(_ context.Context, filter payment.CountFilter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, p := range s.payments {
		if filter.Matches(p) {
			n++
		}
	}
	return n, nil
}

func (s *Store) ListPayments(_ context.Context, opts payment.ListOpts) ([]*payment.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*payment.Payment, 0)
	for _, p := range s.payments {
		if opts.Matches(p) {
			result = append(result, clonePayment(p))
		}
	}
	slices.SortFunc(result, func(a, b *payment.Payment) int {
		return newestFirst(a.CreatedAt, b.CreatedAt, a.ID.String(), b.ID.String())
	})
	return page(result, opts.Limit, opts.Offset), nil
}

// ──────────────────────────────────────────────────
// Subscription Store implementation
// ──────────────────────────────────────────────────

func (s *Store) SyncSubscription(_ context.Context, sub *subscription.Subscription) (*subscription.Subscription, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := sub.Key()
	row := cloneSubscription(sub)

	if existingID, ok := s.subsByKey[key]; ok {
		existing := s.subscriptions[existingID]
		if existing.Status == subscription.StatusCanceled || existing.SyncedAt.After(sub.SyncedAt) {
			return cloneSubscription(existing), false, nil
		}
		row.ID = existing.ID
		row.CreatedAt = existing.CreatedAt
		if !row.UpdatedAt.After(row.CreatedAt) {
			row.UpdatedAt = s.clock()
		}
	} else if row.CreatedAt.IsZero() {
		row.Entity = types.NewEntityAt(s.clock())
	}

	s.subscriptions[row.ID.String()] = row
	s.subsByKey[key] = row.ID.String()
	return cloneSubscription(row), true, nil
}

func (s *Store) UpdateSubscription(_ context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.subscriptions[sub.ID.String()]
	if !ok {
		return subscription.ErrNotFound
	}
	row := cloneSubscription(sub)
	row.CreatedAt = existing.CreatedAt
	s.subscriptions[row.ID.String()] = row
	return nil
}

func (s *Store) GetSubscription(_ context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if sub, ok := s.subscriptions[subID.String()]; ok {
		return cloneSubscription(sub), nil
	}
	return nil, subscription.ErrNotFound
}

func (s *Store) GetSubscriptionByKey(_ context.Context, key subscription.Key) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if subID, ok := s.subsByKey[key]; ok {
		return cloneSubscription(s.subscriptions[subID]), nil
	}
	return nil, subscription.ErrNotFound
}

func (s *Store) FindSubscription(_ context.Context, ref subscription.Ref, statuses ...subscription.Status) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	latest := s.latestSubscription(func(sub *subscription.Subscription) bool {
		return ref.Matches(sub) && subscription.HasStatus(sub.Status, statuses)
	})
	if latest == nil {
		return nil, subscription.ErrNotFound
	}
	return cloneSubscription(latest), nil
}

func (s *Store) CancelSubscriptions(_ context.Context, ref subscription.Ref, at, syncedAt time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, sub := range s.subscriptions {
		if !ref.Matches(sub) {
			continue
		}
		cancelAt, canceledAt := at, at
		sub.Status = subscription.StatusCanceled
		sub.CancelAt = &cancelAt
		sub.CanceledAt = &canceledAt
		sub.SyncedAt = syncedAt
		sub.Touch(s.clock())
		n++
	}
	return n, nil
}

func (s *Store) GetEffectiveSubscription(_ context.Context, userID string) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	latest := s.latestSubscription(func(sub *subscription.Subscription) bool {
		return sub.UserID == userID && sub.Status.IsEffective()
	})
	if latest == nil {
		return nil, subscription.ErrNotFound
	}
	return cloneSubscription(latest), nil
}

func (s *Store) ListSubscriptions(_ context.Context, userID string, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*subscription.Subscription, 0)
	for _, sub := range s.subscriptions {
		if sub.UserID == userID && (opts.Status == "" || sub.Status == opts.Status) {
			result = append(result, cloneSubscription(sub))
		}
	}
	slices.SortFunc(result, func(a, b *subscription.Subscription) int {
		return newestFirst(a.CreatedAt, b.CreatedAt, a.ID.String(), b.ID.String())
	})
	return page(result, opts.Limit, opts.Offset), nil
}

func (s *Store) latestSubscription(match func(*subscription.Subscription) bool) *subscription.Subscription {
	var latest *subscription.Subscription
	for _, sub := range s.subscriptions {
		if !match(sub) {
			continue
		}
		if latest == nil || newestFirst(sub.CreatedAt, latest.CreatedAt, sub.ID.String(), latest.ID.String()) < 0 {
			latest = sub
		}
	}
	return latest
}

// ──────────────────────────────────────────────────
// Bonus Store implementation
// ──────────────────────────────────────────────────

func (s *Store) CreditBonus(_ context.Context, tx *bonus.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.appendTx(tx); err != nil {
		return err
	}

	b := s.balance(tx.TargetModel, tx.TargetID)
	for field, delta := range tx.FieldsDelta {
		b.Fields[field] += delta
	}
	b.UpdatedAt = s.clock()
	return nil
}

func (s *Store) AppendBonusTransaction(_ context.Context, tx *bonus.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.appendTx(tx)
}

func (s *Store) appendTx(tx *bonus.Transaction) error {
	k := bonusKey{userID: tx.UserID, sourceType: tx.SourceType, sourceID: tx.SourceID}
	if _, dup := s.txKeys[k]; dup {
		return bonus.ErrDuplicateTransaction
	}
	s.txKeys[k] = struct{}{}

	row := *tx
	row.FieldsDelta = maps.Clone(tx.FieldsDelta)
	s.transactions = append(s.transactions, &row)
	return nil
}

// balance returns the stored balance, creating it when absent. Callers
// hold the write lock.
func (s *Store) balance(model, targetID string) *bonus.Balance {
	k := balanceKey{model: model, id: targetID}
	b, ok := s.balances[k]
	if !ok {
		b = &bonus.Balance{TargetModel: model, TargetID: targetID, Fields: make(map[string]int64)}
		s.balances[k] = b
	}
	return b
}

func (s *Store) BonusTransactionExists(_ context.Context, userID string, sourceType bonus.SourceType, sourceID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.txKeys[bonusKey{userID: userID, sourceType: sourceType, sourceID: sourceID}]
	return ok, nil
}

func (s *Store) GetBalance(_ context.Context, targetModel, targetID string) (*bonus.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.balances[balanceKey{model: targetModel, id: targetID}]
	if !ok {
		return nil, bonus.ErrNotFound
	}
	out := *b
	out.Fields = maps.Clone(b.Fields)
	return &out, nil
}

func (s *Store) SetBalanceFields(_ context.Context, targetModel, targetID string, values map[string]int64) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.balance(targetModel, targetID)
	previous := make(map[string]int64, len(values))
	for field, v := range values {
		previous[field] = b.Fields[field]
		b.Fields[field] = v
	}
	b.UpdatedAt = s.clock()
	return previous, nil
}

func (s *Store) ListBonusTransactions(_ context.Context, userID string, opts bonus.ListOpts) ([]*bonus.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*bonus.Transaction, 0)
	for i := len(s.transactions) - 1; i >= 0; i-- {
		tx := s.transactions[i]
		if tx.UserID != userID || (opts.SourceType != "" && tx.SourceType != opts.SourceType) {
			continue
		}
		row := *tx
		row.FieldsDelta = maps.Clone(tx.FieldsDelta)
		result = append(result, &row)
	}
	return page(result, opts.Limit, opts.Offset), nil
}

// ──────────────────────────────────────────────────
// Catalog Store implementation
// ──────────────────────────────────────────────────

func (s *Store) UpsertBillingProduct(_ context.Context, p *catalog.BillingProduct) (*catalog.BillingProduct, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := *p
	now := s.clock()
	if existing, ok := s.products[p.ProductKey()]; ok {
		row.ID = existing.ID
		row.CreatedAt = existing.CreatedAt
		row.UpdatedAt = now
	} else {
		row.Entity = types.NewEntityAt(now)
	}
	s.products[row.ProductKey()] = &row

	out := row
	return &out, nil
}

func (s *Store) GetBillingProduct(_ context.Context, key catalog.ProductKey) (*catalog.BillingProduct, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[key]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	out := *p
	return &out, nil
}

func (s *Store) ListBillingProducts(_ context.Context, provider string) ([]*catalog.BillingProduct, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*catalog.BillingProduct, 0, len(s.products))
	for _, p := range s.products {
		if provider == "" || p.Provider == provider {
			out := *p
			result = append(result, &out)
		}
	}
	slices.SortFunc(result, func(a, b *catalog.BillingProduct) int {
		return cmp.Or(
			cmp.Compare(a.Key, b.Key),
			cmp.Compare(a.Mode, b.Mode),
			cmp.Compare(a.Currency, b.Currency),
		)
	})
	return result, nil
}

// ──────────────────────────────────────────────────
// Core methods
// ──────────────────────────────────────────────────

func (s *Store) Migrate(_ context.Context) error { return nil }
func (s *Store) Ping(_ context.Context) error    { return nil }
func (s *Store) Close() error                    { return nil }

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func clonePayment(p *payment.Payment) *payment.Payment {
	out := *p
	out.Metadata = maps.Clone(p.Metadata)
	return &out
}

func cloneSubscription(sub *subscription.Subscription) *subscription.Subscription {
	out := *sub
	out.Metadata = maps.Clone(sub.Metadata)
	return &out
}

func newestFirst(a, b time.Time, aID, bID string) int {
	if c := b.Compare(a); c != 0 {
		return c
	}
	return cmp.Compare(bID, aID)
}

func page[T any](items []T, limit, offset int) []T {
	start := min(offset, len(items))
	end := len(items)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	return items[start:end]
}
