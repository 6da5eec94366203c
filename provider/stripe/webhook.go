package stripe

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	stripelib "github.com/stripe/stripe-go/v82"
	stripewebhook "github.com/stripe/stripe-go/v82/webhook"

	"github.com/xraph/paysync/webhook"
)

// VerifyWebhook checks the Stripe-Signature header against the endpoint
// secret and decodes the event into its provider-agnostic form.
func (p *Provider) VerifyWebhook(payload []byte, signature string) (*webhook.Event, error) {
	if strings.TrimSpace(signature) == "" {
		return nil, fmt.Errorf("%w: missing signature", webhook.ErrInvalidSignature)
	}

	raw, err := stripewebhook.ConstructEventWithOptions(payload, signature, p.webhookSecret, stripewebhook.ConstructEventOptions{
		Tolerance:                p.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", webhook.ErrInvalidSignature, err)
	}
	return decodeEvent(&raw)
}

// decodeEvent converts a verified Stripe event.
func decodeEvent(raw *stripelib.Event) (*webhook.Event, error) {
	evt := &webhook.Event{
		ID:        raw.ID,
		Provider:  Name,
		RawType:   string(raw.Type),
		Canonical: webhook.Normalize(string(raw.Type)),
		Livemode:  raw.Livemode,
	}
	if raw.Created > 0 {
		evt.CreatedAt = time.Unix(raw.Created, 0).UTC()
	}
	if raw.Data == nil {
		return evt, malformed("data", "missing event data")
	}
	data := raw.Data.Raw

	var err error
	switch evt.RawType {
	case "invoice.paid", "invoice.payment_succeeded", "invoice.payment_failed":
		err = decodeInvoice(evt, data)
	case "invoice_payment.paid":
		err = decodeInvoicePayment(evt, data)
	case "payment_intent.succeeded", "payment_intent.payment_failed":
		err = decodePaymentIntent(evt, data)
	case "checkout.session.completed":
		err = decodeCheckoutSession(evt, data)
	case "customer.subscription.created", "customer.subscription.updated",
		"customer.subscription.resumed", "customer.subscription.deleted":
		var obj subscriptionObject
		if err = json.Unmarshal(data, &obj); err == nil {
			evt.Subscription = snapshotFromObject(&obj)
		}
	}
	if err != nil {
		return evt, fmt.Errorf("%w: decode %s: %v", webhook.ErrMalformedPayload, evt.RawType, err)
	}
	return evt, nil
}

func decodeInvoice(evt *webhook.Event, data []byte) error {
	var inv invoiceObject
	if err := json.Unmarshal(data, &inv); err != nil {
		return err
	}

	p := &webhook.PaymentPayload{
		Kind:                   webhook.KindInvoice,
		ProviderPaymentID:      inv.ID,
		InvoiceID:              inv.ID,
		ProviderSubscriptionID: inv.subscriptionID(),
		Amount:                 inv.AmountPaid,
		Currency:               inv.Currency,
		BillingReason:          inv.BillingReason,
		InvoiceURL:             inv.HostedInvoiceURL,
		InvoicePDFURL:          inv.InvoicePDF,
		PaidAt:                 unixPtr(inv.StatusTransitions.PaidAt),
		Correlation:            webhook.CorrelationFromMetadata(inv.metadataSources()...),
		Metadata:               inv.Metadata,
	}

	if evt.Canonical == webhook.PaymentFailed {
		p.Amount = inv.AmountDue
		p.NextRetryAt = unixPtr(inv.NextPaymentAttempt)
		p.FailureReason = "invoice payment failed"
		if inv.LastFinalizationError != nil && inv.LastFinalizationError.Message != "" {
			p.FailureReason = inv.LastFinalizationError.Message
		}
	}
	evt.Payment = p
	return nil
}

// decodeInvoicePayment handles invoice_payment.paid, which carries no
// metadata. It is keyed by its invoice so it folds into the invoice row.
func decodeInvoicePayment(evt *webhook.Event, data []byte) error {
	var ip invoicePaymentObject
	if err := json.Unmarshal(data, &ip); err != nil {
		return err
	}
	if ip.Invoice.ID == "" {
		return fmt.Errorf("invoice_payment %s has no invoice", ip.ID)
	}
	evt.Payment = &webhook.PaymentPayload{
		Kind:              webhook.KindInvoicePayment,
		ProviderPaymentID: ip.Invoice.ID,
		InvoiceID:         ip.Invoice.ID,
		Amount:            ip.AmountPaid,
		Currency:          ip.Currency,
		PaidAt:            unixPtr(ip.StatusTransitions.PaidAt),
	}
	return nil
}

func decodePaymentIntent(evt *webhook.Event, data []byte) error {
	var pi paymentIntentObject
	if err := json.Unmarshal(data, &pi); err != nil {
		return err
	}
	if pi.Invoice.ID != "" {
		evt.SkipReason = "payment intent belongs to invoice " + pi.Invoice.ID
	}

	p := &webhook.PaymentPayload{
		Kind:              webhook.KindPaymentIntent,
		ProviderPaymentID: pi.ID,
		InvoiceID:         pi.Invoice.ID,
		Amount:            pi.AmountReceived,
		Currency:          pi.Currency,
		ReceiptURL:        pi.LatestCharge.ReceiptURL,
		PaidAt:            unixPtr(pi.Created),
		Correlation:       webhook.CorrelationFromMetadata(pi.Metadata),
		Metadata:          pi.Metadata,
	}
	if evt.Canonical == webhook.PaymentFailed {
		p.Amount = pi.Amount
		p.PaidAt = nil
		p.FailureReason = "payment failed"
		if pi.LastPaymentError != nil && pi.LastPaymentError.Message != "" {
			p.FailureReason = pi.LastPaymentError.Message
		}
	}
	evt.Payment = p
	return nil
}

func decodeCheckoutSession(evt *webhook.Event, data []byte) error {
	var cs checkoutSessionObject
	if err := json.Unmarshal(data, &cs); err != nil {
		return err
	}

	correlation := webhook.CorrelationFromMetadata(cs.Metadata)
	if correlation.UserID == "" {
		correlation.UserID = strings.TrimSpace(cs.ClientReferenceID)
	}

	evt.Payment = &webhook.PaymentPayload{
		Kind:                   webhook.KindCheckoutSession,
		ProviderPaymentID:      cs.PaymentIntent.ID,
		CheckoutSessionID:      cs.ID,
		InvoiceID:              cs.Invoice.ID,
		ProviderSubscriptionID: cs.Subscription.ID,
		CheckoutMode:           cs.Mode,
		Amount:                 cs.AmountTotal,
		Currency:               cs.Currency,
		PaidAt:                 timePtr(evt.CreatedAt),
		Correlation:            correlation,
		Metadata:               cs.Metadata,
	}
	if cs.PaymentStatus != "" && cs.PaymentStatus != "paid" && cs.PaymentStatus != "no_payment_required" {
		evt.SkipReason = "checkout session payment status " + cs.PaymentStatus
	}
	return nil
}

func snapshotFromObject(obj *subscriptionObject) *webhook.SubscriptionSnapshot {
	s := &webhook.SubscriptionSnapshot{
		ID:                 obj.ID,
		Status:             obj.Status,
		CancelAtPeriodEnd:  obj.CancelAtPeriodEnd,
		TrialStart:         unixPtr(obj.TrialStart),
		TrialEnd:           unixPtr(obj.TrialEnd),
		CurrentPeriodStart: unixPtr(obj.CurrentPeriodStart),
		CurrentPeriodEnd:   unixPtr(obj.CurrentPeriodEnd),
		CancelAt:           unixPtr(obj.CancelAt),
		CanceledAt:         unixPtr(obj.CanceledAt),
		EndedAt:            unixPtr(obj.EndedAt),
		Correlation:        webhook.CorrelationFromMetadata(obj.Metadata),
		Metadata:           obj.Metadata,
	}
	if len(obj.Items.Data) > 0 {
		item := obj.Items.Data[0]
		s.PriceID = item.Price.ID
		if s.CurrentPeriodStart == nil {
			s.CurrentPeriodStart = unixPtr(item.CurrentPeriodStart)
		}
		if s.CurrentPeriodEnd == nil {
			s.CurrentPeriodEnd = unixPtr(item.CurrentPeriodEnd)
		}
	}
	return s
}

func malformed(field, msg string) error {
	return &webhook.ValidationError{Field: field, Message: msg}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
