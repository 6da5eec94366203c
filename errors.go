package paysync

import (
	"errors"

	"github.com/xraph/paysync/bonus"
	"github.com/xraph/paysync/catalog"
	"github.com/xraph/paysync/payment"
	"github.com/xraph/paysync/provider"
	"github.com/xraph/paysync/subscription"
	"github.com/xraph/paysync/webhook"
)

// Sentinel errors. Domain packages own the values their stores return;
// they are re-exported here so callers need a single import.
var (
	// Webhook errors
	ErrInvalidSignature      = webhook.ErrInvalidSignature
	ErrMalformedEventPayload = webhook.ErrMalformedPayload

	// Lookup errors
	ErrNotFound             = errors.New("paysync: not found")
	ErrPaymentNotFound      = payment.ErrNotFound
	ErrSubscriptionNotFound = subscription.ErrNotFound
	ErrBalanceNotFound      = bonus.ErrNotFound
	ErrProductNotFound      = catalog.ErrNotFound

	// Bonus errors
	ErrDuplicateTransaction = bonus.ErrDuplicateTransaction

	// Provider errors
	ErrUnsupportedProvider   = provider.ErrUnsupported
	ErrProviderNotConfigured = provider.ErrNotConfigured
	ErrTransientProvider     = provider.ErrTransient
	ErrProviderObjectMissing = provider.ErrNotFound

	// Engine errors
	ErrStoreClosed = errors.New("paysync: engine is stopped")
	ErrNoCatalog   = errors.New("paysync: no catalog configured")
	ErrDropped     = errors.New("paysync: event dropped")
)

// ValidationError describes one missing or invalid payload field.
type ValidationError = webhook.ValidationError

// IsNotFound reports whether err is any not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrPaymentNotFound) ||
		errors.Is(err, ErrSubscriptionNotFound) ||
		errors.Is(err, ErrBalanceNotFound) ||
		errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrProviderObjectMissing)
}

// IsRetryable reports whether the operation that returned err may be
// retried unchanged.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransientProvider)
}

// IsDropped reports whether err describes provider noise the engine
// acknowledges without acting on.
func IsDropped(err error) bool {
	return errors.Is(err, ErrDropped) || errors.Is(err, ErrMalformedEventPayload)
}
