package audithook

// Action constants for audit events.
const (
	// Webhook actions
	ActionWebhookDropped = "webhook.dropped"

	// Payment actions
	ActionPaymentRecorded = "payment.recorded"
	ActionPaymentFailed   = "payment.failed"

	// Bonus actions
	ActionBonusApplied  = "bonus.applied"
	ActionBonusAdjusted = "bonus.adjusted"

	// Subscription actions
	ActionSubscriptionSynced    = "subscription.synced"
	ActionSubscriptionCanceled  = "subscription.canceled"
	ActionCancellationScheduled = "subscription.cancel_scheduled"
	ActionSubscriptionResumed   = "subscription.resumed"

	// Side effect actions
	ActionNotificationFailed = "notification.failed"
	ActionCatalogSynced      = "catalog.synced"
)

// Resource constants for audit events.
const (
	ResourceWebhook      = "webhook"
	ResourcePayment      = "payment"
	ResourceBonus        = "bonus_transaction"
	ResourceSubscription = "subscription"
	ResourceNotification = "notification"
	ResourceCatalog      = "catalog"
)

// Category constants for audit events.
const (
	CategoryBilling      = "billing"
	CategorySubscription = "subscription"
	CategoryPayment      = "payment"
	CategoryIntegration  = "integration"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)
