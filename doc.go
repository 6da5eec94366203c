// Package paysync reconciles payment-provider webhooks into a local billing
// ledger and drives the subscription lifecycle of a SaaS application.
//
// Paysync is a library, not a service. It turns each verified provider
// event into idempotent writes against three collections and a handful of
// best-effort side effects:
//
//   - A deduplicated payment ledger keyed by the provider's natural ids
//   - A subscription state machine that converges on the latest provider view
//   - A bonus ledger that credits configured rewards exactly once per payment
//   - Asynchronous billing notifications with retry
//   - Pluggable stores (memory, MongoDB, SQLite, PostgreSQL) and providers (Stripe)
//
// # Quick Start
//
//	import (
//	    "github.com/xraph/paysync"
//	    "github.com/xraph/paysync/provider/stripe"
//	    "github.com/xraph/paysync/store/sqlite"
//	)
//
//	s, err := sqlite.Open("data/paysync.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	sp, err := stripe.New(stripe.Config{APIKey: key, WebhookSecret: secret})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	engine := paysync.New(s,
//	    paysync.WithProvider(sp),
//	    paysync.WithCatalog(cat),
//	    paysync.WithNotifier(mailer),
//	)
//	if err := engine.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer engine.Stop(ctx)
//
// Hand every delivery to HandleWebhook. A nil error acknowledges it:
//
//	evt, err := engine.HandleWebhook(ctx, "stripe", body, r.Header.Get("Stripe-Signature"))
//
// # Delivery semantics
//
// Providers redeliver, reorder and split one charge across several event
// types. Every write is an upsert keyed by business identity, so repeating
// an event never duplicates a payment or a bonus and never regresses a
// subscription. Events that cannot be correlated to a user are dropped and
// acknowledged; redelivering them cannot succeed.
//
// # Read contract
//
// Feature gating elsewhere in the application uses GetUserSubscription and
// GetUserCurrentPlanKey. Active, trialing and cancel_at_period_end
// subscriptions grant access.
package paysync
