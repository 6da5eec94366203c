package mongo

import (
	"fmt"
	"time"

	"github.com/xraph/paysync/bonus"
	"github.com/xraph/paysync/catalog"
	"github.com/xraph/paysync/id"
	"github.com/xraph/paysync/payment"
	"github.com/xraph/paysync/subscription"
	"github.com/xraph/paysync/types"
)

// ==================== Payment models ====================

type paymentModel struct {
	ID                     string            `bson:"_id"`
	Provider               string            `bson:"provider"`
	ProviderPaymentID      string            `bson:"provider_payment_id"`
	CheckoutSessionID      string            `bson:"checkout_session_id"`
	UserID                 string            `bson:"user_id"`
	PlanKey                string            `bson:"plan_key,omitempty"`
	ProductKey             string            `bson:"product_key,omitempty"`
	Amount                 int64             `bson:"amount"`
	Currency               string            `bson:"currency"`
	Status                 string            `bson:"status"`
	SourceType             string            `bson:"source_type"`
	ProviderSubscriptionID string            `bson:"provider_subscription_id,omitempty"`
	InvoiceID              string            `bson:"invoice_id,omitempty"`
	InvoiceURL             string            `bson:"invoice_url,omitempty"`
	InvoicePDFURL          string            `bson:"invoice_pdf_url,omitempty"`
	ReceiptURL             string            `bson:"receipt_url,omitempty"`
	FailureReason          string            `bson:"failure_reason,omitempty"`
	NextRetryAt            *time.Time        `bson:"next_retry_at,omitempty"`
	PaidAt                 *time.Time        `bson:"paid_at,omitempty"`
	Metadata               map[string]string `bson:"metadata,omitempty"`
	Deduplicated           bool              `bson:"deduplicated"`
	CreatedAt              time.Time         `bson:"created_at"`
	UpdatedAt              time.Time         `bson:"updated_at"`
}

func toPaymentModel(p *payment.Payment) *paymentModel {
	return &paymentModel{
		ID:                     p.ID.String(),
		Provider:               p.Provider,
		ProviderPaymentID:      p.ProviderPaymentID,
		CheckoutSessionID:      p.CheckoutSessionID,
		UserID:                 p.UserID,
		PlanKey:                p.PlanKey,
		ProductKey:             p.ProductKey,
		Amount:                 p.Amount,
		Currency:               p.Currency,
		Status:                 string(p.Status),
		SourceType:             string(p.SourceType),
		ProviderSubscriptionID: p.ProviderSubscriptionID,
		InvoiceID:              p.InvoiceID,
		InvoiceURL:             p.InvoiceURL,
		InvoicePDFURL:          p.InvoicePDFURL,
		ReceiptURL:             p.ReceiptURL,
		FailureReason:          p.FailureReason,
		NextRetryAt:            p.NextRetryAt,
		PaidAt:                 p.PaidAt,
		Metadata:               p.Metadata,
		Deduplicated:           p.Deduplicated,
		CreatedAt:              p.CreatedAt,
		UpdatedAt:              p.UpdatedAt,
	}
}

func fromPaymentModel(m *paymentModel) (*payment.Payment, error) {
	pid, err := id.ParsePaymentID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse payment id %q: %w", m.ID, err)
	}
	return &payment.Payment{
		Entity:                 types.Entity{CreatedAt: m.CreatedAt.UTC(), UpdatedAt: m.UpdatedAt.UTC()},
		ID:                     pid,
		Provider:               m.Provider,
		ProviderPaymentID:      m.ProviderPaymentID,
		CheckoutSessionID:      m.CheckoutSessionID,
		UserID:                 m.UserID,
		PlanKey:                m.PlanKey,
		ProductKey:             m.ProductKey,
		Amount:                 m.Amount,
		Currency:               m.Currency,
		Status:                 payment.Status(m.Status),
		SourceType:             payment.SourceType(m.SourceType),
		ProviderSubscriptionID: m.ProviderSubscriptionID,
		InvoiceID:              m.InvoiceID,
		InvoiceURL:             m.InvoiceURL,
		InvoicePDFURL:          m.InvoicePDFURL,
		ReceiptURL:             m.ReceiptURL,
		FailureReason:          m.FailureReason,
		NextRetryAt:            utcPtr(m.NextRetryAt),
		PaidAt:                 utcPtr(m.PaidAt),
		Metadata:               m.Metadata,
		Deduplicated:           m.Deduplicated,
	}, nil
}

// ==================== Subscription models ====================

type subscriptionModel struct {
	ID                     string            `bson:"_id"`
	UserID                 string            `bson:"user_id"`
	PlanKey                string            `bson:"plan_key"`
	Provider               string            `bson:"provider"`
	ProviderSubscriptionID string            `bson:"provider_subscription_id"`
	Status                 string            `bson:"status"`
	TrialEnd               *time.Time        `bson:"trial_end"`
	TrialDays              int               `bson:"trial_days"`
	CurrentPeriodStart     *time.Time        `bson:"current_period_start"`
	CurrentPeriodEnd       *time.Time        `bson:"current_period_end"`
	CancelAt               *time.Time        `bson:"cancel_at"`
	CanceledAt             *time.Time        `bson:"canceled_at"`
	LastPaymentAt          *time.Time        `bson:"last_payment_at"`
	Metadata               map[string]string `bson:"metadata,omitempty"`
	SyncedAt               time.Time         `bson:"synced_at"`
	CreatedAt              time.Time         `bson:"created_at"`
	UpdatedAt              time.Time         `bson:"updated_at"`
}

func toSubscriptionModel(s *subscription.Subscription) *subscriptionModel {
	return &subscriptionModel{
		ID:                     s.ID.String(),
		UserID:                 s.UserID,
		PlanKey:                s.PlanKey,
		Provider:               s.Provider,
		ProviderSubscriptionID: s.ProviderSubscriptionID,
		Status:                 string(s.Status),
		TrialEnd:               s.TrialEnd,
		TrialDays:              s.TrialDays,
		CurrentPeriodStart:     s.CurrentPeriodStart,
		CurrentPeriodEnd:       s.CurrentPeriodEnd,
		CancelAt:               s.CancelAt,
		CanceledAt:             s.CanceledAt,
		LastPaymentAt:          s.LastPaymentAt,
		Metadata:               s.Metadata,
		SyncedAt:               s.SyncedAt,
		CreatedAt:              s.CreatedAt,
		UpdatedAt:              s.UpdatedAt,
	}
}

func fromSubscriptionModel(m *subscriptionModel) (*subscription.Subscription, error) {
	subID, err := id.ParseSubscriptionID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse subscription id %q: %w", m.ID, err)
	}
	return &subscription.Subscription{
		Entity:                 types.Entity{CreatedAt: m.CreatedAt.UTC(), UpdatedAt: m.UpdatedAt.UTC()},
		ID:                     subID,
		UserID:                 m.UserID,
		PlanKey:                m.PlanKey,
		Provider:               m.Provider,
		ProviderSubscriptionID: m.ProviderSubscriptionID,
		Status:                 subscription.Status(m.Status),
		TrialEnd:               utcPtr(m.TrialEnd),
		TrialDays:              m.TrialDays,
		CurrentPeriodStart:     utcPtr(m.CurrentPeriodStart),
		CurrentPeriodEnd:       utcPtr(m.CurrentPeriodEnd),
		CancelAt:               utcPtr(m.CancelAt),
		CanceledAt:             utcPtr(m.CanceledAt),
		LastPaymentAt:          utcPtr(m.LastPaymentAt),
		Metadata:               m.Metadata,
		SyncedAt:               m.SyncedAt.UTC(),
	}, nil
}

// ==================== Bonus models ====================

type bonusTransactionModel struct {
	ID          string           `bson:"_id"`
	UserID      string           `bson:"user_id"`
	SourceType  string           `bson:"source_type"`
	SourceID    string           `bson:"source_id"`
	TargetModel string           `bson:"target_model"`
	TargetID    string           `bson:"target_id"`
	FieldsDelta map[string]int64 `bson:"fields_delta"`
	Note        string           `bson:"note,omitempty"`
	CreatedAt   time.Time        `bson:"created_at"`
}

func toBonusTransactionModel(tx *bonus.Transaction) *bonusTransactionModel {
	return &bonusTransactionModel{
		ID:          tx.ID.String(),
		UserID:      tx.UserID,
		SourceType:  string(tx.SourceType),
		SourceID:    tx.SourceID,
		TargetModel: tx.TargetModel,
		TargetID:    tx.TargetID,
		FieldsDelta: tx.FieldsDelta,
		Note:        tx.Note,
		CreatedAt:   tx.CreatedAt,
	}
}

func fromBonusTransactionModel(m *bonusTransactionModel) (*bonus.Transaction, error) {
	txID, err := id.ParseBonusTransactionID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse bonus transaction id %q: %w", m.ID, err)
	}
	return &bonus.Transaction{
		ID:          txID,
		UserID:      m.UserID,
		SourceType:  bonus.SourceType(m.SourceType),
		SourceID:    m.SourceID,
		TargetModel: m.TargetModel,
		TargetID:    m.TargetID,
		FieldsDelta: m.FieldsDelta,
		Note:        m.Note,
		CreatedAt:   m.CreatedAt.UTC(),
	}, nil
}

type balanceModel struct {
	TargetModel string           `bson:"target_model"`
	TargetID    string           `bson:"target_id"`
	Fields      map[string]int64 `bson:"fields"`
	UpdatedAt   time.Time        `bson:"updated_at"`
}

func fromBalanceModel(m *balanceModel) *bonus.Balance {
	fields := m.Fields
	if fields == nil {
		fields = make(map[string]int64)
	}
	return &bonus.Balance{
		TargetModel: m.TargetModel,
		TargetID:    m.TargetID,
		Fields:      fields,
		UpdatedAt:   m.UpdatedAt.UTC(),
	}
}

// ==================== Catalog models ====================

type billingProductModel struct {
	ID                string    `bson:"_id"`
	Key               string    `bson:"key"`
	Mode              string    `bson:"mode"`
	Provider          string    `bson:"provider"`
	Currency          string    `bson:"currency"`
	Name              string    `bson:"name"`
	ProviderProductID string    `bson:"provider_product_id"`
	ProviderPriceID   string    `bson:"provider_price_id"`
	Amount            int64     `bson:"amount"`
	Interval          string    `bson:"interval,omitempty"`
	TrialDays         int       `bson:"trial_days"`
	Active            bool      `bson:"active"`
	CreatedAt         time.Time `bson:"created_at"`
	UpdatedAt         time.Time `bson:"updated_at"`
}

func fromBillingProductModel(m *billingProductModel) (*catalog.BillingProduct, error) {
	pid, err := id.ParseBillingProductID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse billing product id %q: %w", m.ID, err)
	}
	return &catalog.BillingProduct{
		Entity:            types.Entity{CreatedAt: m.CreatedAt.UTC(), UpdatedAt: m.UpdatedAt.UTC()},
		ID:                pid,
		Key:               m.Key,
		Mode:              catalog.Mode(m.Mode),
		Provider:          m.Provider,
		Currency:          m.Currency,
		Name:              m.Name,
		ProviderProductID: m.ProviderProductID,
		ProviderPriceID:   m.ProviderPriceID,
		Amount:            m.Amount,
		Interval:          catalog.Interval(m.Interval),
		TrialDays:         m.TrialDays,
		Active:            m.Active,
	}, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
