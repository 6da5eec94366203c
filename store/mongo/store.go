// Package mongo implements store.Store on MongoDB.
//
// Deduplication rests on unique indexes created by Migrate: partial unique
// indexes on the payment natural keys, a unique subscription key tuple and a
// unique (user, source type, source id) on bonus transactions.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/paysync/bonus"
	"github.com/xraph/paysync/catalog"
	"github.com/xraph/paysync/id"
	"github.com/xraph/paysync/payment"
	paysyncstore "github.com/xraph/paysync/store"
	"github.com/xraph/paysync/subscription"
	"github.com/xraph/paysync/types"
)

// Collection name constants.
const (
	colPayments          = "paysync_payments"
	colSubscriptions     = "paysync_subscriptions"
	colBonusTransactions = "paysync_bonus_transactions"
	colBonusBalances     = "paysync_bonus_balances"
	colBillingProducts   = "paysync_billing_products"
)

// compile-time interface check
var _ paysyncstore.Store = (*Store)(nil)

// Store implements store.Store using the official MongoDB driver.
type Store struct {
	db           *mongo.Database
	clock        types.Clock
	transactions bool
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the base write clock.
func WithClock(clock types.Clock) Option {
	return func(s *Store) { s.clock = types.MonotonicClock(clock) }
}

// WithTransactions runs bonus credits in a multi-document transaction, so
// the transaction row and the balance increment commit together. Requires
// a replica set.
//
// Without it CreditBonus inserts the transaction row first and deletes it
// again when the balance increment fails. A crash between the two writes
// still leaves a credited row with no balance change, and the reconciler
// treats that payment as credited.
func WithTransactions() Option {
	return func(s *Store) { s.transactions = true }
}

// New creates a store on db.
func New(db *mongo.Database, opts ...Option) *Store {
	s := &Store{
		db:    db,
		clock: types.MonotonicClock(types.SystemClock),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect dials uri and returns a store on database name.
func Connect(ctx context.Context, uri, name string, opts ...Option) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("paysync/mongo: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("paysync/mongo: ping: %w", err)
	}
	return New(client.Database(name), opts...), nil
}

// DB returns the underlying database for direct access.
func (s *Store) DB() *mongo.Database { return s.db }

// Migrate creates indexes for all paysync collections.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if len(models) == 0 {
			continue
		}
		if _, err := s.db.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("paysync/mongo: migrate %s indexes: %w", col, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, nil)
}

// Close disconnects the client.
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.db.Client().Disconnect(ctx)
}

// ==================== Payment Store ====================

func (s *Store) UpsertPayment(ctx context.Context, key payment.NaturalKey, p *payment.Payment, refresh payment.Refresh) (*payment.Payment, error) {
	coll := s.db.Collection(colPayments)
	filter := naturalKeyFilter(key)

	t := s.clock()
	m := toPaymentModel(p)
	m.Deduplicated = true
	m.CreatedAt = t
	m.UpdatedAt = t

	onInsert, err := toDocument(m)
	if err != nil {
		return nil, fmt.Errorf("paysync/mongo: upsert payment: %w", err)
	}
	set := refreshFields(refresh)
	set["updated_at"] = t
	for field := range set {
		delete(onInsert, field)
	}
	update := bson.M{"$setOnInsert": onInsert, "$set": set}

	var res *mongo.UpdateResult
	for attempt := 0; ; attempt++ {
		res, err = coll.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
		// Two concurrent upserts can both miss; the loser retries as an update.
		if err != nil && mongo.IsDuplicateKeyError(err) && attempt == 0 {
			continue
		}
		break
	}
	if err != nil {
		return nil, fmt.Errorf("paysync/mongo: upsert payment: %w", err)
	}

	var stored paymentModel
	if res.UpsertedCount == 1 {
		err = coll.FindOne(ctx, bson.M{"_id": m.ID}).Decode(&stored)
	} else {
		err = coll.FindOne(ctx, filter, options.FindOne().SetSort(bson.D{{Key: "created_at", Value: 1}})).Decode(&stored)
	}
	if err != nil {
		return nil, fmt.Errorf("paysync/mongo: upsert payment: reload: %w", err)
	}

	// Another process may have inserted in the same millisecond.
	if res.UpsertedCount == 0 && stored.CreatedAt.Equal(stored.UpdatedAt) {
		stored.UpdatedAt = stored.CreatedAt.Add(time.Millisecond)
		if _, err := coll.UpdateOne(ctx, bson.M{"_id": stored.ID}, bson.M{"$set": bson.M{"updated_at": stored.UpdatedAt}}); err != nil {
			return nil, fmt.Errorf("paysync/mongo: upsert payment: touch: %w", err)
		}
	}
	return fromPaymentModel(&stored)
}

func (s *Store) InsertPayment(ctx context.Context, p *payment.Payment) error {
	m := toPaymentModel(p)
	if m.CreatedAt.IsZero() {
		t := s.clock()
		m.CreatedAt, m.UpdatedAt = t, t
	}
	if _, err := s.db.Collection(colPayments).InsertOne(ctx, m); err != nil {
		return fmt.Errorf("paysync/mongo: insert payment: %w", err)
	}
	return nil
}

func (s *Store) GetPayment(ctx context.Context, paymentID id.PaymentID) (*payment.Payment, error) {
	var m paymentModel
	err := s.db.Collection(colPayments).FindOne(ctx, bson.M{"_id": paymentID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, payment.ErrNotFound
		}
		return nil, fmt.Errorf("paysync/mongo: get payment: %w", err)
	}
	return fromPaymentModel(&m)
}

func (s *Store) FindPayment(ctx context.Context, key payment.NaturalKey) (*payment.Payment, error) {
	var m paymentModel
	err := s.db.Collection(colPayments).
		FindOne(ctx, naturalKeyFilter(key), options.FindOne().SetSort(bson.D{{Key: "created_at", Value: 1}})).
		Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, payment.ErrNotFound
		}
		return nil, fmt.Errorf("paysync/mongo: find payment: %w", err)
	}
	return fromPaymentModel(&m)
}

func (s *Store) CountPayments(ctx context.Context, f payment.CountFilter) (int64, error) {
	filter := bson.M{}
	if f.UserID != "" {
		filter["user_id"] = f.UserID
	}
	if f.SourceType != "" {
		filter["source_type"] = string(f.SourceType)
	}
	if f.PlanKey != "" {
		filter["plan_key"] = f.PlanKey
	}
	if f.ProductKey != "" {
		filter["product_key"] = f.ProductKey
	}
	if f.Status != "" {
		filter["status"] = string(f.Status)
	}
	if !f.ExcludeID.IsNil() {
		filter["_id"] = bson.M{"$ne": f.ExcludeID.String()}
	}

	n, err := s.db.Collection(colPayments).CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("paysync/mongo: count payments: %w", err)
	}
	return n, nil
}

func (s *Store) ListPayments(ctx context.Context, opts payment.ListOpts) ([]*payment.Payment, error) {
	filter := bson.M{}
	if opts.UserID != "" {
		filter["user_id"] = opts.UserID
	}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}
	if opts.SourceType != "" {
		filter["source_type"] = string(opts.SourceType)
	}

	var models []paymentModel
	if err := s.find(ctx, colPayments, filter, opts.Limit, opts.Offset, &models); err != nil {
		return nil, fmt.Errorf("paysync/mongo: list payments: %w", err)
	}

	result := make([]*payment.Payment, len(models))
	for i := range models {
		p, err := fromPaymentModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = p
	}
	return result, nil
}

// ==================== Subscription Store ====================

func (s *Store) SyncSubscription(ctx context.Context, sub *subscription.Subscription) (*subscription.Subscription, bool, error) {
	coll := s.db.Collection(colSubscriptions)
	m := toSubscriptionModel(sub)
	if m.CreatedAt.IsZero() {
		t := s.clock()
		m.CreatedAt, m.UpdatedAt = t, t
	}

	filter := bson.M{
		"user_id":                  m.UserID,
		"plan_key":                 m.PlanKey,
		"provider":                 m.Provider,
		"provider_subscription_id": m.ProviderSubscriptionID,
		"status":                   bson.M{"$ne": string(subscription.StatusCanceled)},
		"synced_at":                bson.M{"$lte": m.SyncedAt},
	}
	update := bson.M{
		"$set": bson.M{
			"status":               m.Status,
			"trial_end":            m.TrialEnd,
			"trial_days":           m.TrialDays,
			"current_period_start": m.CurrentPeriodStart,
			"current_period_end":   m.CurrentPeriodEnd,
			"cancel_at":            m.CancelAt,
			"canceled_at":          m.CanceledAt,
			"last_payment_at":      m.LastPaymentAt,
			"metadata":             m.Metadata,
			"synced_at":            m.SyncedAt,
			"updated_at":           m.UpdatedAt,
		},
		"$setOnInsert": bson.M{
			"_id":        m.ID,
			"created_at": m.CreatedAt,
		},
	}

	var stored subscriptionModel
	err := coll.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&stored)
	if err != nil {
		// The key exists but is canceled or newer: the unique index
		// rejects the upsert and the stored row stands.
		if mongo.IsDuplicateKeyError(err) {
			current, gerr := s.GetSubscriptionByKey(ctx, sub.Key())
			if gerr != nil {
				return nil, false, fmt.Errorf("paysync/mongo: sync subscription: %w", gerr)
			}
			return current, false, nil
		}
		return nil, false, fmt.Errorf("paysync/mongo: sync subscription: %w", err)
	}

	out, err := fromSubscriptionModel(&stored)
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

func (s *Store) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	m := toSubscriptionModel(sub)
	res, err := s.db.Collection(colSubscriptions).UpdateOne(ctx,
		bson.M{"_id": m.ID},
		bson.M{"$set": bson.M{
			"status":               m.Status,
			"trial_end":            m.TrialEnd,
			"trial_days":           m.TrialDays,
			"current_period_start": m.CurrentPeriodStart,
			"current_period_end":   m.CurrentPeriodEnd,
			"cancel_at":            m.CancelAt,
			"canceled_at":          m.CanceledAt,
			"last_payment_at":      m.LastPaymentAt,
			"metadata":             m.Metadata,
			"synced_at":            m.SyncedAt,
			"updated_at":           m.UpdatedAt,
		}},
	)
	if err != nil {
		return fmt.Errorf("paysync/mongo: update subscription: %w", err)
	}
	if res.MatchedCount == 0 {
		return subscription.ErrNotFound
	}
	return nil
}

func (s *Store) GetSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	return s.findSubscription(ctx, bson.M{"_id": subID.String()})
}

func (s *Store) GetSubscriptionByKey(ctx context.Context, key subscription.Key) (*subscription.Subscription, error) {
	return s.findSubscription(ctx, bson.M{
		"user_id":                  key.UserID,
		"plan_key":                 key.PlanKey,
		"provider":                 key.Provider,
		"provider_subscription_id": key.ProviderSubscriptionID,
	})
}

func (s *Store) FindSubscription(ctx context.Context, ref subscription.Ref, statuses ...subscription.Status) (*subscription.Subscription, error) {
	filter := refFilter(ref)
	if len(statuses) > 0 {
		filter["status"] = bson.M{"$in": statusStrings(statuses)}
	}
	return s.findSubscription(ctx, filter)
}

func (s *Store) CancelSubscriptions(ctx context.Context, ref subscription.Ref, at, syncedAt time.Time) (int64, error) {
	res, err := s.db.Collection(colSubscriptions).UpdateMany(ctx, refFilter(ref), bson.M{
		"$set": bson.M{
			"status":      string(subscription.StatusCanceled),
			"cancel_at":   at,
			"canceled_at": at,
			"synced_at":   syncedAt,
			"updated_at":  s.clock(),
		},
	})
	if err != nil {
		return 0, fmt.Errorf("paysync/mongo: cancel subscriptions: %w", err)
	}
	return res.MatchedCount, nil
}

func (s *Store) GetEffectiveSubscription(ctx context.Context, userID string) (*subscription.Subscription, error) {
	return s.findSubscription(ctx, bson.M{
		"user_id": userID,
		"status":  bson.M{"$in": statusStrings(subscription.EffectiveStatuses)},
	})
}

func (s *Store) ListSubscriptions(ctx context.Context, userID string, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	filter := bson.M{"user_id": userID}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}

	var models []subscriptionModel
	if err := s.find(ctx, colSubscriptions, filter, opts.Limit, opts.Offset, &models); err != nil {
		return nil, fmt.Errorf("paysync/mongo: list subscriptions: %w", err)
	}

	result := make([]*subscription.Subscription, len(models))
	for i := range models {
		sub, err := fromSubscriptionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = sub
	}
	return result, nil
}

// findSubscription returns the most recently created row matching filter.
func (s *Store) findSubscription(ctx context.Context, filter bson.M) (*subscription.Subscription, error) {
	var m subscriptionModel
	err := s.db.Collection(colSubscriptions).
		FindOne(ctx, filter, options.FindOne().SetSort(newestFirst)).
		Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, subscription.ErrNotFound
		}
		return nil, fmt.Errorf("paysync/mongo: get subscription: %w", err)
	}
	return fromSubscriptionModel(&m)
}

// ==================== Bonus Store ====================

func (s *Store) CreditBonus(ctx context.Context, tx *bonus.Transaction) error {
	return s.withTransaction(ctx, func(ctx context.Context) error {
		if err := s.insertTransaction(ctx, tx); err != nil {
			return err
		}

		inc := bson.M{}
		for field, delta := range tx.FieldsDelta {
			inc["fields."+field] = delta
		}
		_, err := s.db.Collection(colBonusBalances).UpdateOne(ctx,
			bson.M{"target_model": tx.TargetModel, "target_id": tx.TargetID},
			bson.M{"$inc": inc, "$set": bson.M{"updated_at": s.clock()}},
			options.UpdateOne().SetUpsert(true),
		)
		if err != nil {
			if !s.transactions {
				if _, derr := s.db.Collection(colBonusTransactions).DeleteOne(ctx, bson.M{"_id": tx.ID.String()}); derr != nil {
					return fmt.Errorf("paysync/mongo: credit bonus: %w (undo transaction: %v)", err, derr)
				}
			}
			return fmt.Errorf("paysync/mongo: credit bonus: %w", err)
		}
		return nil
	})
}

func (s *Store) AppendBonusTransaction(ctx context.Context, tx *bonus.Transaction) error {
	return s.insertTransaction(ctx, tx)
}

func (s *Store) insertTransaction(ctx context.Context, tx *bonus.Transaction) error {
	_, err := s.db.Collection(colBonusTransactions).InsertOne(ctx, toBonusTransactionModel(tx))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return bonus.ErrDuplicateTransaction
		}
		return fmt.Errorf("paysync/mongo: insert bonus transaction: %w", err)
	}
	return nil
}

func (s *Store) BonusTransactionExists(ctx context.Context, userID string, sourceType bonus.SourceType, sourceID string) (bool, error) {
	n, err := s.db.Collection(colBonusTransactions).CountDocuments(ctx, bson.M{
		"user_id":     userID,
		"source_type": string(sourceType),
		"source_id":   sourceID,
	}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("paysync/mongo: bonus transaction exists: %w", err)
	}
	return n > 0, nil
}

func (s *Store) GetBalance(ctx context.Context, targetModel, targetID string) (*bonus.Balance, error) {
	var m balanceModel
	err := s.db.Collection(colBonusBalances).
		FindOne(ctx, bson.M{"target_model": targetModel, "target_id": targetID}).
		Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, bonus.ErrNotFound
		}
		return nil, fmt.Errorf("paysync/mongo: get balance: %w", err)
	}
	return fromBalanceModel(&m), nil
}

func (s *Store) SetBalanceFields(ctx context.Context, targetModel, targetID string, values map[string]int64) (map[string]int64, error) {
	set := bson.M{"updated_at": s.clock()}
	for field, v := range values {
		set["fields."+field] = v
	}

	var before balanceModel
	err := s.db.Collection(colBonusBalances).FindOneAndUpdate(ctx,
		bson.M{"target_model": targetModel, "target_id": targetID},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.Before),
	).Decode(&before)
	if err != nil && !isNoDocuments(err) {
		return nil, fmt.Errorf("paysync/mongo: set balance fields: %w", err)
	}

	previous := make(map[string]int64, len(values))
	for field := range values {
		previous[field] = before.Fields[field]
	}
	return previous, nil
}

func (s *Store) ListBonusTransactions(ctx context.Context, userID string, opts bonus.ListOpts) ([]*bonus.Transaction, error) {
	filter := bson.M{"user_id": userID}
	if opts.SourceType != "" {
		filter["source_type"] = string(opts.SourceType)
	}

	var models []bonusTransactionModel
	if err := s.find(ctx, colBonusTransactions, filter, opts.Limit, opts.Offset, &models); err != nil {
		return nil, fmt.Errorf("paysync/mongo: list bonus transactions: %w", err)
	}

	result := make([]*bonus.Transaction, len(models))
	for i := range models {
		tx, err := fromBonusTransactionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = tx
	}
	return result, nil
}

// ==================== Catalog Store ====================

func (s *Store) UpsertBillingProduct(ctx context.Context, p *catalog.BillingProduct) (*catalog.BillingProduct, error) {
	t := s.clock()
	filter := productKeyFilter(p.ProductKey())
	update := bson.M{
		"$set": bson.M{
			"name":                p.Name,
			"provider_product_id": p.ProviderProductID,
			"provider_price_id":   p.ProviderPriceID,
			"amount":              p.Amount,
			"interval":            string(p.Interval),
			"trial_days":          p.TrialDays,
			"active":              p.Active,
			"updated_at":          t,
		},
		"$setOnInsert": bson.M{
			"_id":        p.ID.String(),
			"created_at": t,
		},
	}

	var stored billingProductModel
	err := s.db.Collection(colBillingProducts).FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&stored)
	if err != nil {
		return nil, fmt.Errorf("paysync/mongo: upsert billing product: %w", err)
	}
	return fromBillingProductModel(&stored)
}

func (s *Store) GetBillingProduct(ctx context.Context, key catalog.ProductKey) (*catalog.BillingProduct, error) {
	var m billingProductModel
	err := s.db.Collection(colBillingProducts).FindOne(ctx, productKeyFilter(key)).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, catalog.ErrNotFound
		}
		return nil, fmt.Errorf("paysync/mongo: get billing product: %w", err)
	}
	return fromBillingProductModel(&m)
}

func (s *Store) ListBillingProducts(ctx context.Context, provider string) ([]*catalog.BillingProduct, error) {
	filter := bson.M{}
	if provider != "" {
		filter["provider"] = provider
	}

	cur, err := s.db.Collection(colBillingProducts).Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "key", Value: 1}, {Key: "mode", Value: 1}, {Key: "currency", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("paysync/mongo: list billing products: %w", err)
	}
	var models []billingProductModel
	if err := cur.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("paysync/mongo: list billing products: %w", err)
	}

	result := make([]*catalog.BillingProduct, len(models))
	for i := range models {
		p, err := fromBillingProductModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = p
	}
	return result, nil
}

// ==================== Helpers ====================

var newestFirst = bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}

// find runs a newest-first paged query and decodes into out.
func (s *Store) find(ctx context.Context, col string, filter bson.M, limit, offset int, out any) error {
	opts := options.Find().SetSort(newestFirst)
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	if offset > 0 {
		opts.SetSkip(int64(offset))
	}
	cur, err := s.db.Collection(col).Find(ctx, filter, opts)
	if err != nil {
		return err
	}
	return cur.All(ctx, out)
}

func (s *Store) withTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if !s.transactions {
		return fn(ctx)
	}
	sess, err := s.db.Client().StartSession()
	if err != nil {
		return fmt.Errorf("paysync/mongo: start session: %w", err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		return nil, fn(ctx)
	})
	return err
}

func naturalKeyFilter(key payment.NaturalKey) bson.M {
	or := bson.A{}
	if key.ProviderPaymentID != "" {
		or = append(or, bson.M{"provider_payment_id": key.ProviderPaymentID})
	}
	if key.CheckoutSessionID != "" {
		or = append(or, bson.M{"checkout_session_id": key.CheckoutSessionID})
	}
	return bson.M{
		"provider":     key.Provider,
		"deduplicated": true,
		"$or":          or,
	}
}

func refreshFields(r payment.Refresh) bson.M {
	set := bson.M{}
	if r.InvoiceURL != "" {
		set["invoice_url"] = r.InvoiceURL
	}
	if r.InvoicePDFURL != "" {
		set["invoice_pdf_url"] = r.InvoicePDFURL
	}
	if r.ReceiptURL != "" {
		set["receipt_url"] = r.ReceiptURL
	}
	return set
}

func refFilter(ref subscription.Ref) bson.M {
	filter := bson.M{
		"provider":                 ref.Provider,
		"provider_subscription_id": ref.ProviderSubscriptionID,
	}
	if ref.UserID != "" {
		filter["user_id"] = ref.UserID
	}
	return filter
}

func productKeyFilter(key catalog.ProductKey) bson.M {
	return bson.M{
		"key":      key.Key,
		"mode":     string(key.Mode),
		"provider": key.Provider,
		"currency": key.Currency,
	}
}

func statusStrings(statuses []subscription.Status) bson.A {
	out := make(bson.A, len(statuses))
	for i, st := range statuses {
		out[i] = string(st)
	}
	return out
}

// toDocument flattens v into a bson.M using its bson tags.
func toDocument(v any) (bson.M, error) {
	raw, err := bson.Marshal(v)
	if err != nil {
		return nil, err
	}
	var doc bson.M
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for all paysync collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	dedupOn := func(field string) bson.M {
		return bson.M{"deduplicated": true, field: bson.M{"$gt": ""}}
	}
	return map[string][]mongo.IndexModel{
		colPayments: {
			{
				Keys:    bson.D{{Key: "provider", Value: 1}, {Key: "provider_payment_id", Value: 1}},
				Options: options.Index().SetUnique(true).SetPartialFilterExpression(dedupOn("provider_payment_id")),
			},
			{
				Keys:    bson.D{{Key: "provider", Value: 1}, {Key: "checkout_session_id", Value: 1}},
				Options: options.Index().SetUnique(true).SetPartialFilterExpression(dedupOn("checkout_session_id")),
			},
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "source_type", Value: 1}, {Key: "status", Value: 1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: -1}}},
		},
		colSubscriptions: {
			{
				Keys: bson.D{
					{Key: "user_id", Value: 1},
					{Key: "plan_key", Value: 1},
					{Key: "provider", Value: 1},
					{Key: "provider_subscription_id", Value: 1},
				},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "provider", Value: 1}, {Key: "provider_subscription_id", Value: 1}}},
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "status", Value: 1}, {Key: "created_at", Value: -1}}},
		},
		colBonusTransactions: {
			{
				Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "source_type", Value: 1}, {Key: "source_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
		},
		colBonusBalances: {
			{
				Keys:    bson.D{{Key: "target_model", Value: 1}, {Key: "target_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		colBillingProducts: {
			{
				Keys: bson.D{
					{Key: "key", Value: 1},
					{Key: "mode", Value: 1},
					{Key: "provider", Value: 1},
					{Key: "currency", Value: 1},
				},
				Options: options.Index().SetUnique(true),
			},
		},
	}
}
