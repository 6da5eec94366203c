package paysync

import (
	"github.com/xraph/paysync/bonus"
	"github.com/xraph/paysync/payment"
	"github.com/xraph/paysync/subscription"
	"github.com/xraph/paysync/types"
	"github.com/xraph/paysync/webhook"
)

// Re-exported so most callers only import the root package.

// Money is re-exported from types package.
type Money = types.Money

// Entity is re-exported from types package.
type Entity = types.Entity

type (
	Event        = webhook.Event
	Payment      = payment.Payment
	Subscription = subscription.Subscription
	Balance      = bonus.Balance
	Adjustment   = bonus.Adjustment
	Transaction  = bonus.Transaction
)

// Re-export Money constructors
var (
	NewMoney = types.NewMoney
	USD      = types.USD
	Zero     = types.Zero
)
