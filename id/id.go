// Package id defines TypeID-based identities for paysync records.
//
// Every record carries a single ID type whose prefix names the record kind.
// IDs are K-sortable (UUIDv7-based) and render as "prefix_suffix", which
// keeps them readable in logs and provider metadata.
package id

import (
	"database/sql/driver"
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix identifies the record kind encoded in a TypeID.
type Prefix string

const (
	PrefixPayment          Prefix = "pay"   // Payment ledger row
	PrefixSubscription     Prefix = "sub"   // Subscription lifecycle instance
	PrefixBonusTransaction Prefix = "btx"   // Bonus credit
	PrefixBillingProduct   Prefix = "bprod" // Catalog cache entry
	PrefixNotification     Prefix = "ntf"   // Queued notification task
)

// ID wraps a TypeID. The zero value is Nil.
//
//nolint:recvcheck // value receivers for reads, pointer receivers for UnmarshalText/Scan.
type ID struct {
	inner typeid.TypeID
	valid bool
}

// Nil is the zero-value ID.
var Nil ID

// Aliases documenting which prefix a field is expected to carry.
type (
	PaymentID          = ID
	SubscriptionID     = ID
	BonusTransactionID = ID
	BillingProductID   = ID
	NotificationID     = ID
)

// New generates an ID with the given prefix. It panics on an invalid
// prefix, which is a programming error.
func New(prefix Prefix) ID {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: invalid prefix %q: %v", prefix, err))
	}
	return ID{inner: tid, valid: true}
}

// Parse parses a TypeID string such as "pay_01h2xcejqtf2nbrexx3vqjhp41".
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: parse %q: empty string", s)
	}
	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}
	return ID{inner: tid, valid: true}, nil
}

// ParseWithPrefix parses s and checks that it carries the expected prefix.
func ParseWithPrefix(s string, expected Prefix) (ID, error) {
	parsed, err := Parse(s)
	if err != nil {
		return Nil, err
	}
	if parsed.Prefix() != expected {
		return Nil, fmt.Errorf("id: expected prefix %q, got %q", expected, parsed.Prefix())
	}
	return parsed, nil
}

// MustParse is like Parse but panics on error.
func MustParse(s string) ID {
	parsed, err := Parse(s)
	if err != nil {
		panic(fmt.Sprintf("id: must parse %q: %v", s, err))
	}
	return parsed
}

func NewPaymentID() ID          { return New(PrefixPayment) }
func NewSubscriptionID() ID     { return New(PrefixSubscription) }
func NewBonusTransactionID() ID { return New(PrefixBonusTransaction) }
func NewBillingProductID() ID   { return New(PrefixBillingProduct) }
func NewNotificationID() ID     { return New(PrefixNotification) }

func ParsePaymentID(s string) (ID, error) { return ParseWithPrefix(s, PrefixPayment) }

func ParseSubscriptionID(s string) (ID, error) { return ParseWithPrefix(s, PrefixSubscription) }

func ParseBonusTransactionID(s string) (ID, error) {
	return ParseWithPrefix(s, PrefixBonusTransaction)
}

func ParseBillingProductID(s string) (ID, error) {
	return ParseWithPrefix(s, PrefixBillingProduct)
}

// String returns "prefix_suffix", or "" for Nil.
func (i ID) String() string {
	if !i.valid {
		return ""
	}
	return i.inner.String()
}

// Prefix returns the prefix component of the ID.
func (i ID) Prefix() Prefix {
	if !i.valid {
		return ""
	}
	return Prefix(i.inner.Prefix())
}

// IsNil reports whether the ID is the zero value.
func (i ID) IsNil() bool { return !i.valid }

// MarshalText implements encoding.TextMarshaler.
func (i ID) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *ID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*i = Nil
		return nil
	}
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

// Value implements driver.Valuer. Nil is stored as NULL.
func (i ID) Value() (driver.Value, error) {
	if !i.valid {
		return nil, nil //nolint:nilnil // NULL for driver.Valuer
	}
	return i.inner.String(), nil
}

// Scan implements sql.Scanner.
func (i *ID) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*i = Nil
		return nil
	case string:
		return i.UnmarshalText([]byte(v))
	case []byte:
		return i.UnmarshalText(v)
	default:
		return fmt.Errorf("id: cannot scan %T into ID", src)
	}
}
