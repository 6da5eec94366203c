package subscription

import (
	"context"
	"time"

	"github.com/xraph/paysync/id"
)

// Store persists subscriptions.
type Store interface {
	// SyncSubscription inserts s under its Key, or replaces the stored row
	// when that row is not canceled and its SyncedAt is not after
	// s.SyncedAt. It returns the stored document and whether s was applied.
	// ID and CreatedAt of an existing row are preserved.
	SyncSubscription(ctx context.Context, s *Subscription) (*Subscription, bool, error)

	// UpdateSubscription replaces the row with s.ID.
	UpdateSubscription(ctx context.Context, s *Subscription) error

	GetSubscription(ctx context.Context, subID id.SubscriptionID) (*Subscription, error)
	GetSubscriptionByKey(ctx context.Context, key Key) (*Subscription, error)

	// FindSubscription returns the most recently created row addressed by
	// ref, restricted to statuses when any are given.
	FindSubscription(ctx context.Context, ref Ref, statuses ...Status) (*Subscription, error)

	// CancelSubscriptions moves every row addressed by ref to canceled with
	// cancelAt = canceledAt = at and syncedAt = syncedAt. It returns the
	// number of rows matched.
	CancelSubscriptions(ctx context.Context, ref Ref, at, syncedAt time.Time) (int64, error)

	// GetEffectiveSubscription returns the most recently created effective
	// row of the user.
	GetEffectiveSubscription(ctx context.Context, userID string) (*Subscription, error)

	ListSubscriptions(ctx context.Context, userID string, opts ListOpts) ([]*Subscription, error)
}

// ListOpts filters and pages subscription listings.
type ListOpts struct {
	Status Status
	Limit  int
	Offset int
}

// HasStatus reports whether st is in statuses, or statuses is empty.
func HasStatus(st Status, statuses []Status) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, s := range statuses {
		if s == st {
			return true
		}
	}
	return false
}
