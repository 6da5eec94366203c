package webhook

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		raw  string
		want CanonicalEvent
	}{
		{"checkout.session.completed", PaymentSucceeded},
		{"invoice.paid", PaymentSucceeded},
		{"invoice.payment_succeeded", PaymentSucceeded},
		{"invoice_payment.paid", PaymentSucceeded},
		{"payment_intent.succeeded", PaymentSucceeded},
		{"invoice.payment_failed", PaymentFailed},
		{"payment_intent.payment_failed", PaymentFailed},
		{"customer.subscription.created", SubscriptionActivated},
		{"customer.subscription.updated", SubscriptionActivated},
		{"customer.subscription.resumed", SubscriptionActivated},
		{"customer.subscription.deleted", SubscriptionCanceled},
		{" invoice.paid ", PaymentSucceeded},
		{"charge.refunded", Unknown},
		{"", Unknown},
		{"INVOICE.PAID", Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.raw))
		})
	}
}

func TestTableIsTotal(t *testing.T) {
	empty := Table{}
	assert.Equal(t, Unknown, empty.Normalize("invoice.paid"))

	var nilTable Table
	assert.Equal(t, Unknown, nilTable.Normalize("invoice.paid"))
}
