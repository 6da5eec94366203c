// Package bonus credits configured bonuses exactly once per qualifying
// payment and keeps the append-only transaction trail behind every balance
// change.
package bonus

import (
	"errors"
	"time"

	"github.com/xraph/paysync/id"
)

var (
	// ErrDuplicateTransaction is returned when a transaction for the same
	// (user, source type, source id) already exists. No balance changes.
	ErrDuplicateTransaction = errors.New("bonus: duplicate transaction")

	// ErrNotFound is returned when a balance does not exist.
	ErrNotFound = errors.New("bonus: not found")
)

// SourceType names what produced a credit.
type SourceType string

const (
	SourceSubscription    SourceType = "subscription"
	SourceOneTime         SourceType = "one_time"
	SourceReferralInviter SourceType = "referral_inviter"
	SourceReferralInvitee SourceType = "referral_invitee"
	SourceManualAdjust    SourceType = "manual_adjust"
)

// TargetUser is the target model of user-level balances.
const TargetUser = "user"

// Transaction is one immutable balance change.
type Transaction struct {
	ID          id.BonusTransactionID `json:"id"`
	UserID      string                `json:"user_id"`
	SourceType  SourceType            `json:"source_type"`
	SourceID    string                `json:"source_id"`
	TargetModel string                `json:"target_model"`
	TargetID    string                `json:"target_id"`
	FieldsDelta map[string]int64      `json:"fields_delta"`
	Note        string                `json:"note,omitempty"`
	CreatedAt   time.Time             `json:"created_at"`
}

// Balance is the current value of the bonus-bearing fields of a target.
type Balance struct {
	TargetModel string           `json:"target_model"`
	TargetID    string           `json:"target_id"`
	Fields      map[string]int64 `json:"fields"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// Get returns the value of field, zero when unset.
func (b *Balance) Get(field string) int64 {
	if b == nil {
		return 0
	}
	return b.Fields[field]
}

// Adjustment sets absolute values on a user's fields.
type Adjustment struct {
	Fields map[string]int64 `json:"fields" validate:"required,min=1"`
	Note   string           `json:"note,omitempty"`
}

// ListOpts pages transaction listings, newest first.
type ListOpts struct {
	SourceType SourceType
	Limit      int
	Offset     int
}
