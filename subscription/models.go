// Package subscription is the lifecycle state machine for provider
// subscriptions.
//
// One row exists per (user, plan, provider, provider subscription id).
// Activation is a last-write-wins sync keyed on that tuple; the local
// cancel and resume operations are convergent and safe from any state.
package subscription

import (
	"errors"
	"time"

	"github.com/xraph/paysync/id"
	"github.com/xraph/paysync/types"
)

// ErrNotFound is returned when no subscription (or no effective
// subscription, depending on the operation) matches.
var ErrNotFound = errors.New("subscription: not found")

// Status is the lifecycle state of a subscription.
type Status string

const (
	StatusActive            Status = "active"
	StatusTrialing          Status = "trialing"
	StatusCancelAtPeriodEnd Status = "cancel_at_period_end"
	StatusCanceled          Status = "canceled"
	StatusExpired           Status = "expired"
)

// EffectiveStatuses are the states that grant current feature access.
var EffectiveStatuses = []Status{StatusActive, StatusTrialing, StatusCancelAtPeriodEnd}

// IsEffective reports whether s grants access.
func (s Status) IsEffective() bool {
	switch s {
	case StatusActive, StatusTrialing, StatusCancelAtPeriodEnd:
		return true
	default:
		return false
	}
}

// Subscription is one lifecycle instance.
type Subscription struct {
	types.Entity
	ID                     id.SubscriptionID `json:"id"`
	UserID                 string            `json:"user_id"`
	PlanKey                string            `json:"plan_key"`
	Provider               string            `json:"provider"`
	ProviderSubscriptionID string            `json:"provider_subscription_id"`
	Status                 Status            `json:"status"`
	TrialEnd               *time.Time        `json:"trial_end,omitempty"`
	TrialDays              int               `json:"trial_days,omitempty"`
	CurrentPeriodStart     *time.Time        `json:"current_period_start,omitempty"`
	CurrentPeriodEnd       *time.Time        `json:"current_period_end,omitempty"`
	CancelAt               *time.Time        `json:"cancel_at,omitempty"`
	CanceledAt             *time.Time        `json:"canceled_at,omitempty"`
	LastPaymentAt          *time.Time        `json:"last_payment_at,omitempty"`
	Metadata               map[string]string `json:"metadata,omitempty"`

	// SyncedAt is the observation time of the data last applied.
	SyncedAt time.Time `json:"synced_at"`
}

// Key returns the identity tuple of s.
func (s *Subscription) Key() Key {
	return Key{
		UserID:                 s.UserID,
		PlanKey:                s.PlanKey,
		Provider:               s.Provider,
		ProviderSubscriptionID: s.ProviderSubscriptionID,
	}
}

// Key is the identity tuple of a subscription row.
type Key struct {
	UserID                 string
	PlanKey                string
	Provider               string
	ProviderSubscriptionID string
}

// Ref addresses a subscription by user and provider ids. UserID may be
// empty for provider-driven operations where only the provider id is known.
type Ref struct {
	UserID                 string
	Provider               string
	ProviderSubscriptionID string
}

// Matches reports whether s is addressed by r.
func (r Ref) Matches(s *Subscription) bool {
	if r.UserID != "" && s.UserID != r.UserID {
		return false
	}
	return s.Provider == r.Provider && s.ProviderSubscriptionID == r.ProviderSubscriptionID
}

// ActivateOpts carries the provider view of a subscription.
type ActivateOpts struct {
	Provider               string
	ProviderSubscriptionID string

	RawStatus         string
	CancelAtPeriodEnd bool

	TrialEnd           *time.Time
	TrialDays          int
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CancelAt           *time.Time
	CanceledAt         *time.Time

	// Amount of the payment that triggered the activation, if any.
	Amount        int64
	LastPaymentAt *time.Time

	// ObservedAt is when the provider produced this data. Zero means now.
	ObservedAt time.Time

	Metadata map[string]string
}

// Confirmation is the provider's view of a subscription returned by a
// remote cancel or resume.
type Confirmation struct {
	CancelAt           *time.Time
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	TrialEnd           *time.Time
}

func (c *Confirmation) apply(s *Subscription) {
	if c.CurrentPeriodStart != nil {
		s.CurrentPeriodStart = utcPtr(c.CurrentPeriodStart)
	}
	if c.CurrentPeriodEnd != nil {
		s.CurrentPeriodEnd = utcPtr(c.CurrentPeriodEnd)
	}
	if c.TrialEnd != nil {
		s.TrialEnd = utcPtr(c.TrialEnd)
	}
}
