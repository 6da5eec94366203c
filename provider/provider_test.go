package provider

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/paysync/catalog"
	"github.com/xraph/paysync/webhook"
)

type stubProvider struct{ name string }

func (s stubProvider) Name() string { return s.name }

func (s stubProvider) VerifyWebhook([]byte, string) (*webhook.Event, error) {
	return nil, webhook.ErrInvalidSignature
}

func (s stubProvider) SyncProduct(context.Context, catalog.ProductSpec, *catalog.BillingProduct) (*catalog.RemoteProduct, error) {
	return &catalog.RemoteProduct{}, nil
}

func (s stubProvider) FetchSubscription(context.Context, string) (*webhook.SubscriptionSnapshot, error) {
	return nil, ErrNotFound
}

func (s stubProvider) CancelAtPeriodEnd(context.Context, string) (*webhook.SubscriptionSnapshot, error) {
	return nil, ErrNotFound
}

func (s stubProvider) Resume(context.Context, string) (*webhook.SubscriptionSnapshot, error) {
	return nil, ErrNotFound
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(stubProvider{name: "stripe"})
	r.Register(stubProvider{name: "paddle"})

	p, err := r.Get("stripe")
	require.NoError(t, err)
	assert.Equal(t, "stripe", p.Name())

	_, err = r.Get("paypal")
	assert.ErrorIs(t, err, ErrUnsupported)

	assert.Equal(t, []string{"paddle", "stripe"}, r.Names())
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(fmt.Errorf("stripe: get sub: %w", ErrTransient)))
	assert.False(t, IsTransient(errors.New("boom")))
	assert.False(t, IsTransient(ErrNotConfigured))
}
