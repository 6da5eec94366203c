package paysync

import (
	"time"

	"github.com/xraph/paysync/catalog"
	"github.com/xraph/paysync/payment"
	"github.com/xraph/paysync/subscription"
)

// DateLayout formats dates in notification data.
const DateLayout = "2006-01-02"

func (e *Engine) displayName(mode catalog.Mode, key string) string {
	if e.catalog == nil {
		return key
	}
	return e.catalog.DisplayName(mode, key)
}

func (e *Engine) subscriptionPaymentData(p *payment.Payment, sub *subscription.Subscription) map[string]any {
	data := paymentData(p)
	data["planKey"] = p.PlanKey
	data["planName"] = e.displayName(catalog.ModeSubscription, p.PlanKey)
	if sub != nil {
		data["status"] = string(sub.Status)
		putDate(data, "currentPeriodEnd", sub.CurrentPeriodEnd)
		putDate(data, "nextBillingDate", sub.CurrentPeriodEnd)
		putDate(data, "trialEnd", sub.TrialEnd)
	}
	return data
}

func (e *Engine) oneTimePaymentData(p *payment.Payment) map[string]any {
	data := paymentData(p)
	data["productKey"] = p.ProductKey
	data["productName"] = e.displayName(catalog.ModeOneTime, p.ProductKey)
	return data
}

func (e *Engine) paymentFailedData(p *payment.Payment) map[string]any {
	data := paymentData(p)
	if p.SourceType == payment.SourceSubscription {
		data["planKey"] = p.PlanKey
		data["planName"] = e.displayName(catalog.ModeSubscription, p.PlanKey)
	} else {
		data["productKey"] = p.ProductKey
		data["productName"] = e.displayName(catalog.ModeOneTime, p.ProductKey)
	}
	if p.FailureReason != "" {
		data["failureReason"] = p.FailureReason
	}
	putDate(data, "nextRetryDate", p.NextRetryAt)
	return data
}

func (e *Engine) subscriptionCanceledData(sub *subscription.Subscription) map[string]any {
	data := subscriptionData(sub)
	data["planName"] = e.displayName(catalog.ModeSubscription, sub.PlanKey)
	putDate(data, "canceledAt", sub.CanceledAt)
	return data
}

func (e *Engine) cancelScheduledData(sub *subscription.Subscription) map[string]any {
	data := subscriptionData(sub)
	data["planName"] = e.displayName(catalog.ModeSubscription, sub.PlanKey)
	putDate(data, "cancelAt", sub.CancelAt)
	putDate(data, "currentPeriodEnd", sub.CurrentPeriodEnd)
	return data
}

func (e *Engine) resumeData(sub *subscription.Subscription) map[string]any {
	data := subscriptionData(sub)
	data["planName"] = e.displayName(catalog.ModeSubscription, sub.PlanKey)
	putDate(data, "nextBillingDate", sub.CurrentPeriodEnd)
	return data
}

func paymentData(p *payment.Payment) map[string]any {
	m := p.Money()
	data := map[string]any{
		"paymentId":       p.ID.String(),
		"amount":          m.FormatMajor(),
		"amountFormatted": m.String(),
		"currency":        m.Currency,
	}
	putString(data, "invoiceUrl", p.InvoiceURL)
	putString(data, "invoicePdfUrl", p.InvoicePDFURL)
	putString(data, "receiptUrl", p.ReceiptURL)
	putDate(data, "paidAt", p.PaidAt)
	return data
}

func subscriptionData(sub *subscription.Subscription) map[string]any {
	return map[string]any{
		"subscriptionId": sub.ID.String(),
		"planKey":        sub.PlanKey,
		"status":         string(sub.Status),
	}
}

func putString(data map[string]any, key, v string) {
	if v != "" {
		data[key] = v
	}
}

func putDate(data map[string]any, key string, t *time.Time) {
	if t != nil {
		data[key] = t.UTC().Format(DateLayout)
	}
}
