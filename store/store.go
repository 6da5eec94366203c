// Package store defines the composite persistence interface. Backends live
// in the memory, mongo, sqlite and postgres subpackages.
package store

import (
	"context"
	"time"

	"github.com/xraph/paysync/bonus"
	"github.com/xraph/paysync/catalog"
	"github.com/xraph/paysync/id"
	"github.com/xraph/paysync/payment"
	"github.com/xraph/paysync/subscription"
)

// Store is the unified storage interface for all paysync entities.
// Methods are declared explicitly rather than by embedding so that each
// backend reads as one contract.
type Store interface {
	// Payment methods
	UpsertPayment(ctx context.Context, key payment.NaturalKey, p *payment.Payment, refresh payment.Refresh) (*payment.Payment, error)
	InsertPayment(ctx context.Context, p *payment.Payment) error
	GetPayment(ctx context.Context, paymentID id.PaymentID) (*payment.Payment, error)
	FindPayment(ctx context.Context, key payment.NaturalKey) (*payment.Payment, error)
	CountPayments(ctx context.Context, filter payment.CountFilter) (int64, error)
	ListPayments(ctx context.Context, opts payment.ListOpts) ([]*payment.Payment, error)

	// Subscription methods
	SyncSubscription(ctx context.Context, s *subscription.Subscription) (*subscription.Subscription, bool, error)
	UpdateSubscription(ctx context.Context, s *subscription.Subscription) error
	GetSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error)
	GetSubscriptionByKey(ctx context.Context, key subscription.Key) (*subscription.Subscription, error)
	FindSubscription(ctx context.Context, ref subscription.Ref, statuses ...subscription.Status) (*subscription.Subscription, error)
	CancelSubscriptions(ctx context.Context, ref subscription.Ref, at, syncedAt time.Time) (int64, error)
	GetEffectiveSubscription(ctx context.Context, userID string) (*subscription.Subscription, error)
	ListSubscriptions(ctx context.Context, userID string, opts subscription.ListOpts) ([]*subscription.Subscription, error)

	// Bonus methods
	CreditBonus(ctx context.Context, tx *bonus.Transaction) error
	AppendBonusTransaction(ctx context.Context, tx *bonus.Transaction) error
	BonusTransactionExists(ctx context.Context, userID string, sourceType bonus.SourceType, sourceID string) (bool, error)
	GetBalance(ctx context.Context, targetModel, targetID string) (*bonus.Balance, error)
	SetBalanceFields(ctx context.Context, targetModel, targetID string, values map[string]int64) (map[string]int64, error)
	ListBonusTransactions(ctx context.Context, userID string, opts bonus.ListOpts) ([]*bonus.Transaction, error)

	// Catalog methods
	UpsertBillingProduct(ctx context.Context, p *catalog.BillingProduct) (*catalog.BillingProduct, error)
	GetBillingProduct(ctx context.Context, key catalog.ProductKey) (*catalog.BillingProduct, error)
	ListBillingProducts(ctx context.Context, provider string) ([]*catalog.BillingProduct, error)

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Compile-time checks that Store satisfies each domain store.
var (
	_ payment.Store      = Store(nil)
	_ subscription.Store = Store(nil)
	_ bonus.Store        = Store(nil)
	_ catalog.Store      = Store(nil)
)
