package stripe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripewebhook "github.com/stripe/stripe-go/v82/webhook"

	"github.com/xraph/paysync/webhook"
)

const testSecret = "whsec_test_secret"

func newTestProvider(t *testing.T) *Provider {
	t.Helper()
	p, err := New(Config{WebhookSecret: testSecret})
	require.NoError(t, err)
	return p
}

func sign(t *testing.T, payload string) (body []byte, header string) {
	t.Helper()
	signed := stripewebhook.GenerateTestSignedPayload(&stripewebhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    testSecret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})
	return signed.Payload, signed.Header
}

func TestVerifyWebhookRejectsBadSignature(t *testing.T) {
	p := newTestProvider(t)
	body, header := sign(t, `{"id":"evt_1","object":"event","type":"invoice.paid","data":{"object":{"id":"in_1"}}}`)

	_, err := p.VerifyWebhook(append(body, ' '), header)
	assert.ErrorIs(t, err, webhook.ErrInvalidSignature)

	_, err = p.VerifyWebhook(body, "")
	assert.ErrorIs(t, err, webhook.ErrInvalidSignature)

	_, err = p.VerifyWebhook(body, "t=1,v1=deadbeef")
	assert.ErrorIs(t, err, webhook.ErrInvalidSignature)
}

func TestVerifyWebhookInvoicePaid(t *testing.T) {
	p := newTestProvider(t)
	body, header := sign(t, `{
		"id": "evt_inv",
		"object": "event",
		"type": "invoice.paid",
		"created": 1735689600,
		"data": {"object": {
			"id": "in_123",
			"object": "invoice",
			"amount_paid": 1500,
			"currency": "usd",
			"billing_reason": "subscription_create",
			"hosted_invoice_url": "https://invoice.example/in_123",
			"invoice_pdf": "https://invoice.example/in_123.pdf",
			"status_transitions": {"paid_at": 1735689601},
			"parent": {"subscription_details": {
				"subscription": "sub_1",
				"metadata": {"userId": "u1", "planKey": "basic"}
			}}
		}}
	}`)

	evt, err := p.VerifyWebhook(body, header)
	require.NoError(t, err)

	assert.Equal(t, "evt_inv", evt.ID)
	assert.Equal(t, Name, evt.Provider)
	assert.Equal(t, webhook.PaymentSucceeded, evt.Canonical)
	assert.Equal(t, time.Unix(1735689600, 0).UTC(), evt.CreatedAt)
	assert.Empty(t, evt.SkipReason)

	require.NotNil(t, evt.Payment)
	pay := evt.Payment
	assert.Equal(t, webhook.KindInvoice, pay.Kind)
	assert.Equal(t, "in_123", pay.ProviderPaymentID)
	assert.Equal(t, "sub_1", pay.ProviderSubscriptionID)
	assert.Equal(t, int64(1500), pay.Amount)
	assert.Equal(t, "usd", pay.Currency)
	assert.Equal(t, "https://invoice.example/in_123", pay.InvoiceURL)
	assert.Equal(t, webhook.Correlation{UserID: "u1", PlanKey: "basic"}, pay.Correlation)
	require.NotNil(t, pay.PaidAt)
	assert.False(t, pay.IsRenewal())
}

func TestVerifyWebhookLegacyInvoiceShape(t *testing.T) {
	p := newTestProvider(t)
	body, header := sign(t, `{"id":"evt_2","object":"event","type":"invoice.payment_succeeded","data":{"object":{
		"id":"in_9","amount_paid":900,"currency":"eur","billing_reason":"subscription_cycle",
		"subscription":"sub_9","subscription_details":{"metadata":{"user_id":"u9","plan_key":"pro"}}}}}`)

	evt, err := p.VerifyWebhook(body, header)
	require.NoError(t, err)
	assert.Equal(t, "sub_9", evt.Payment.ProviderSubscriptionID)
	assert.Equal(t, webhook.Correlation{UserID: "u9", PlanKey: "pro"}, evt.Payment.Correlation)
	assert.True(t, evt.Payment.IsRenewal())
}

func TestVerifyWebhookInvoicePaymentFailed(t *testing.T) {
	p := newTestProvider(t)
	body, header := sign(t, `{"id":"evt_3","object":"event","type":"invoice.payment_failed","data":{"object":{
		"id":"in_f","amount_paid":0,"amount_due":1500,"currency":"usd","next_payment_attempt":1736000000,
		"subscription":"sub_1","metadata":{"userId":"u1","planKey":"basic"}}}}`)

	evt, err := p.VerifyWebhook(body, header)
	require.NoError(t, err)
	assert.Equal(t, webhook.PaymentFailed, evt.Canonical)
	assert.Equal(t, int64(1500), evt.Payment.Amount)
	require.NotNil(t, evt.Payment.NextRetryAt)
	assert.Equal(t, time.Unix(1736000000, 0).UTC(), *evt.Payment.NextRetryAt)
	assert.NotEmpty(t, evt.Payment.FailureReason)
}

func TestVerifyWebhookPaymentIntentWithInvoiceIsSkipped(t *testing.T) {
	p := newTestProvider(t)
	body, header := sign(t, `{"id":"evt_4","object":"event","type":"payment_intent.succeeded","data":{"object":{
		"id":"pi_1","amount_received":1500,"currency":"usd","invoice":"in_123"}}}`)

	evt, err := p.VerifyWebhook(body, header)
	require.NoError(t, err)
	assert.NotEmpty(t, evt.SkipReason)
}

func TestVerifyWebhookPaymentIntentOneTime(t *testing.T) {
	p := newTestProvider(t)
	body, header := sign(t, `{"id":"evt_5","object":"event","type":"payment_intent.succeeded","data":{"object":{
		"id":"pi_2","amount_received":500,"currency":"usd","created":1735689600,
		"latest_charge":{"id":"ch_1","receipt_url":"https://receipt.example/ch_1"},
		"metadata":{"userId":"u2","productKey":"credits-100"}}}}`)

	evt, err := p.VerifyWebhook(body, header)
	require.NoError(t, err)
	assert.Empty(t, evt.SkipReason)
	assert.Equal(t, "pi_2", evt.Payment.ProviderPaymentID)
	assert.Equal(t, "https://receipt.example/ch_1", evt.Payment.ReceiptURL)
	assert.False(t, evt.Payment.IsSubscription())
}

func TestVerifyWebhookCheckoutSession(t *testing.T) {
	p := newTestProvider(t)
	body, header := sign(t, `{"id":"evt_6","object":"event","type":"checkout.session.completed","data":{"object":{
		"id":"cs_1","mode":"payment","payment_status":"paid","amount_total":500,"currency":"usd",
		"client_reference_id":"u3","payment_intent":"pi_3","metadata":{"productKey":"credits-100"}}}}`)

	evt, err := p.VerifyWebhook(body, header)
	require.NoError(t, err)
	pay := evt.Payment
	assert.Equal(t, webhook.KindCheckoutSession, pay.Kind)
	assert.Equal(t, "cs_1", pay.CheckoutSessionID)
	assert.Equal(t, "pi_3", pay.ProviderPaymentID)
	assert.Equal(t, webhook.CheckoutModePayment, pay.CheckoutMode)
	assert.Equal(t, webhook.Correlation{UserID: "u3", ProductKey: "credits-100"}, pay.Correlation)
}

func TestVerifyWebhookCheckoutSessionUnpaid(t *testing.T) {
	p := newTestProvider(t)
	body, header := sign(t, `{"id":"evt_7","object":"event","type":"checkout.session.completed","data":{"object":{
		"id":"cs_2","mode":"payment","payment_status":"unpaid"}}}`)

	evt, err := p.VerifyWebhook(body, header)
	require.NoError(t, err)
	assert.NotEmpty(t, evt.SkipReason)
}

func TestVerifyWebhookSubscriptionItemPeriods(t *testing.T) {
	p := newTestProvider(t)
	body, header := sign(t, `{"id":"evt_8","object":"event","type":"customer.subscription.updated","data":{"object":{
		"id":"sub_1","status":"active","cancel_at_period_end":true,"cancel_at":1738368000,
		"metadata":{"userId":"u1","planKey":"basic"},
		"items":{"data":[{"current_period_start":1735689600,"current_period_end":1738368000,"price":{"id":"price_1"}}]}}}}`)

	evt, err := p.VerifyWebhook(body, header)
	require.NoError(t, err)
	assert.Equal(t, webhook.SubscriptionActivated, evt.Canonical)

	s := evt.Subscription
	require.NotNil(t, s)
	assert.True(t, s.CancelAtPeriodEnd)
	assert.Equal(t, "price_1", s.PriceID)
	require.NotNil(t, s.CurrentPeriodEnd)
	assert.Equal(t, time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), *s.CurrentPeriodEnd)
	assert.Equal(t, webhook.Correlation{UserID: "u1", PlanKey: "basic"}, s.Correlation)
}

func TestVerifyWebhookUnknownType(t *testing.T) {
	p := newTestProvider(t)
	body, header := sign(t, `{"id":"evt_9","object":"event","type":"charge.refunded","data":{"object":{"id":"ch_1"}}}`)

	evt, err := p.VerifyWebhook(body, header)
	require.NoError(t, err)
	assert.Equal(t, webhook.Unknown, evt.Canonical)
	assert.Nil(t, evt.Payment)
	assert.Nil(t, evt.Subscription)
}

func TestNewRequiresWebhookSecret(t *testing.T) {
	_, err := New(Config{APIKey: "sk_test_123"})
	assert.Error(t, err)
}
