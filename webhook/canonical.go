// Package webhook classifies provider notifications into canonical events
// and defines the provider-agnostic payload the reconciliation engine
// consumes.
package webhook

import "strings"

// CanonicalEvent is the provider-agnostic classification of a notification.
type CanonicalEvent string

const (
	PaymentSucceeded      CanonicalEvent = "PAYMENT_SUCCEEDED"
	PaymentFailed         CanonicalEvent = "PAYMENT_FAILED"
	SubscriptionActivated CanonicalEvent = "SUBSCRIPTION_ACTIVATED"
	SubscriptionCanceled  CanonicalEvent = "SUBSCRIPTION_CANCELED"
	Unknown               CanonicalEvent = "UNKNOWN"
)

// Table maps raw provider event types to canonical events.
type Table map[string]CanonicalEvent

// Normalize classifies rawType. Unlisted types map to Unknown.
func (t Table) Normalize(rawType string) CanonicalEvent {
	if ev, ok := t[strings.TrimSpace(rawType)]; ok {
		return ev
	}
	return Unknown
}

// StripeTable is the mapping for Stripe event types.
var StripeTable = Table{
	"checkout.session.completed": PaymentSucceeded,
	"invoice.paid":               PaymentSucceeded,
	"invoice.payment_succeeded":  PaymentSucceeded,
	"invoice_payment.paid":       PaymentSucceeded,
	"payment_intent.succeeded":   PaymentSucceeded,

	"invoice.payment_failed":        PaymentFailed,
	"payment_intent.payment_failed": PaymentFailed,

	"customer.subscription.created": SubscriptionActivated,
	"customer.subscription.updated": SubscriptionActivated,
	"customer.subscription.resumed": SubscriptionActivated,

	"customer.subscription.deleted": SubscriptionCanceled,
}

// Normalize classifies a Stripe event type.
func Normalize(rawType string) CanonicalEvent {
	return StripeTable.Normalize(rawType)
}
