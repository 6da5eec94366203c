package stripe

import (
	"bytes"
	"encoding/json"
	"time"
)

// Minimal decodings of the Stripe objects carried in event payloads. They
// accept both the pre-2025 shapes and the current ones, where period data
// moved to subscription items and invoice subscription links moved under
// parent.subscription_details.

// expandable decodes a field that is either an id or an expanded object.
type expandable struct {
	ID string
}

func (e *expandable) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		return json.Unmarshal(data, &e.ID)
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	e.ID = obj.ID
	return nil
}

type subscriptionDetails struct {
	Subscription expandable        `json:"subscription"`
	Metadata     map[string]string `json:"metadata"`
}

type invoiceObject struct {
	ID                  string               `json:"id"`
	AmountPaid          int64                `json:"amount_paid"`
	AmountDue           int64                `json:"amount_due"`
	Currency            string               `json:"currency"`
	BillingReason       string               `json:"billing_reason"`
	HostedInvoiceURL    string               `json:"hosted_invoice_url"`
	InvoicePDF          string               `json:"invoice_pdf"`
	Subscription        expandable           `json:"subscription"`
	SubscriptionDetails *subscriptionDetails `json:"subscription_details"`
	Parent              *struct {
		SubscriptionDetails *subscriptionDetails `json:"subscription_details"`
	} `json:"parent"`
	Metadata           map[string]string `json:"metadata"`
	NextPaymentAttempt int64             `json:"next_payment_attempt"`
	StatusTransitions  struct {
		PaidAt int64 `json:"paid_at"`
	} `json:"status_transitions"`
	Lines struct {
		Data []struct {
			Metadata map[string]string `json:"metadata"`
		} `json:"data"`
	} `json:"lines"`
	LastFinalizationError *apiError `json:"last_finalization_error"`
}

// subscriptionID returns the subscription the invoice bills, if any.
func (inv *invoiceObject) subscriptionID() string {
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil && inv.Parent.SubscriptionDetails.Subscription.ID != "" {
		return inv.Parent.SubscriptionDetails.Subscription.ID
	}
	return inv.Subscription.ID
}

// metadataSources lists the metadata maps correlation is read from, most
// specific first.
func (inv *invoiceObject) metadataSources() []map[string]string {
	sources := []map[string]string{inv.Metadata}
	if inv.SubscriptionDetails != nil {
		sources = append(sources, inv.SubscriptionDetails.Metadata)
	}
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil {
		sources = append(sources, inv.Parent.SubscriptionDetails.Metadata)
	}
	for _, line := range inv.Lines.Data {
		sources = append(sources, line.Metadata)
	}
	return sources
}

type invoicePaymentObject struct {
	ID         string     `json:"id"`
	Invoice    expandable `json:"invoice"`
	AmountPaid int64      `json:"amount_paid"`
	Currency   string     `json:"currency"`
	Payment    struct {
		PaymentIntent expandable `json:"payment_intent"`
	} `json:"payment"`
	StatusTransitions struct {
		PaidAt int64 `json:"paid_at"`
	} `json:"status_transitions"`
}

type apiError struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

type chargeObject struct {
	ID         string `json:"id"`
	ReceiptURL string `json:"receipt_url"`
}

// latestCharge decodes latest_charge, which is an id unless expanded.
type latestCharge struct {
	chargeObject
}

func (c *latestCharge) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		return json.Unmarshal(data, &c.ID)
	}
	return json.Unmarshal(data, &c.chargeObject)
}

type paymentIntentObject struct {
	ID               string            `json:"id"`
	Amount           int64             `json:"amount"`
	AmountReceived   int64             `json:"amount_received"`
	Currency         string            `json:"currency"`
	Created          int64             `json:"created"`
	Invoice          expandable        `json:"invoice"`
	Metadata         map[string]string `json:"metadata"`
	LatestCharge     latestCharge      `json:"latest_charge"`
	LastPaymentError *apiError         `json:"last_payment_error"`
}

type checkoutSessionObject struct {
	ID                string            `json:"id"`
	Mode              string            `json:"mode"`
	PaymentStatus     string            `json:"payment_status"`
	AmountTotal       int64             `json:"amount_total"`
	Currency          string            `json:"currency"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
	Subscription      expandable        `json:"subscription"`
	PaymentIntent     expandable        `json:"payment_intent"`
	Invoice           expandable        `json:"invoice"`
}

type subscriptionObject struct {
	ID                 string            `json:"id"`
	Status             string            `json:"status"`
	CancelAtPeriodEnd  bool              `json:"cancel_at_period_end"`
	CancelAt           int64             `json:"cancel_at"`
	CanceledAt         int64             `json:"canceled_at"`
	EndedAt            int64             `json:"ended_at"`
	TrialStart         int64             `json:"trial_start"`
	TrialEnd           int64             `json:"trial_end"`
	CurrentPeriodStart int64             `json:"current_period_start"`
	CurrentPeriodEnd   int64             `json:"current_period_end"`
	Metadata           map[string]string `json:"metadata"`
	Items              struct {
		Data []subscriptionItemObject `json:"data"`
	} `json:"items"`
}

type subscriptionItemObject struct {
	CurrentPeriodStart int64 `json:"current_period_start"`
	CurrentPeriodEnd   int64 `json:"current_period_end"`
	Price              struct {
		ID string `json:"id"`
	} `json:"price"`
}

// unixPtr converts a Stripe timestamp; zero means absent.
func unixPtr(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
