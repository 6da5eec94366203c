package sqlite

import "github.com/xraph/paysync/store/sqlstore"

// Migrations is the ordered schema for the SQLite store.
var Migrations = []sqlstore.Migration{
	{
		Version: "20250101000001",
		Name:    "create_paysync_payments",
		Statements: []string{`
CREATE TABLE IF NOT EXISTS paysync_payments (
    id                       TEXT PRIMARY KEY,
    provider                 TEXT NOT NULL,
    provider_payment_id      TEXT NOT NULL DEFAULT '',
    checkout_session_id      TEXT NOT NULL DEFAULT '',
    user_id                  TEXT NOT NULL,
    plan_key                 TEXT NOT NULL DEFAULT '',
    product_key              TEXT NOT NULL DEFAULT '',
    amount                   INTEGER NOT NULL DEFAULT 0,
    currency                 TEXT NOT NULL DEFAULT '',
    status                   TEXT NOT NULL,
    source_type              TEXT NOT NULL,
    provider_subscription_id TEXT NOT NULL DEFAULT '',
    invoice_id               TEXT NOT NULL DEFAULT '',
    invoice_url              TEXT NOT NULL DEFAULT '',
    invoice_pdf_url          TEXT NOT NULL DEFAULT '',
    receipt_url              TEXT NOT NULL DEFAULT '',
    failure_reason           TEXT NOT NULL DEFAULT '',
    next_retry_at            INTEGER,
    paid_at                  INTEGER,
    metadata                 TEXT NOT NULL DEFAULT '{}',
    deduplicated             INTEGER NOT NULL DEFAULT 0,
    created_at               INTEGER NOT NULL,
    updated_at               INTEGER NOT NULL
)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_paysync_payments_provider_payment
    ON paysync_payments (provider, provider_payment_id)
    WHERE deduplicated = 1 AND provider_payment_id > ''`,
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_paysync_payments_checkout_session
    ON paysync_payments (provider, checkout_session_id)
    WHERE deduplicated = 1 AND checkout_session_id > ''`,
			`CREATE INDEX IF NOT EXISTS idx_paysync_payments_user ON paysync_payments (user_id, source_type, status)`,
			`CREATE INDEX IF NOT EXISTS idx_paysync_payments_status ON paysync_payments (status, created_at)`,
		},
	},
	{
		Version: "20250101000002",
		Name:    "create_paysync_subscriptions",
		Statements: []string{`
CREATE TABLE IF NOT EXISTS paysync_subscriptions (
    id                       TEXT PRIMARY KEY,
    user_id                  TEXT NOT NULL,
    plan_key                 TEXT NOT NULL,
    provider                 TEXT NOT NULL,
    provider_subscription_id TEXT NOT NULL,
    status                   TEXT NOT NULL,
    trial_end                INTEGER,
    trial_days               INTEGER NOT NULL DEFAULT 0,
    current_period_start     INTEGER,
    current_period_end       INTEGER,
    cancel_at                INTEGER,
    canceled_at              INTEGER,
    last_payment_at          INTEGER,
    metadata                 TEXT NOT NULL DEFAULT '{}',
    synced_at                INTEGER NOT NULL,
    created_at               INTEGER NOT NULL,
    updated_at               INTEGER NOT NULL
)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_paysync_subscriptions_key
    ON paysync_subscriptions (user_id, plan_key, provider, provider_subscription_id)`,
			`CREATE INDEX IF NOT EXISTS idx_paysync_subscriptions_provider
    ON paysync_subscriptions (provider, provider_subscription_id)`,
			`CREATE INDEX IF NOT EXISTS idx_paysync_subscriptions_user
    ON paysync_subscriptions (user_id, status, created_at)`,
		},
	},
	{
		Version: "20250101000003",
		Name:    "create_paysync_bonus",
		Statements: []string{`
CREATE TABLE IF NOT EXISTS paysync_bonus_transactions (
    id           TEXT PRIMARY KEY,
    user_id      TEXT NOT NULL,
    source_type  TEXT NOT NULL,
    source_id    TEXT NOT NULL,
    target_model TEXT NOT NULL,
    target_id    TEXT NOT NULL,
    fields_delta TEXT NOT NULL DEFAULT '{}',
    note         TEXT NOT NULL DEFAULT '',
    created_at   INTEGER NOT NULL
)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_paysync_bonus_transactions_source
    ON paysync_bonus_transactions (user_id, source_type, source_id)`,
			`CREATE INDEX IF NOT EXISTS idx_paysync_bonus_transactions_user
    ON paysync_bonus_transactions (user_id, created_at)`,
			`
CREATE TABLE IF NOT EXISTS paysync_bonus_balances (
    target_model TEXT NOT NULL,
    target_id    TEXT NOT NULL,
    field        TEXT NOT NULL,
    value        INTEGER NOT NULL DEFAULT 0,
    updated_at   INTEGER NOT NULL,
    PRIMARY KEY (target_model, target_id, field)
)`,
		},
	},
	{
		Version: "20250101000004",
		Name:    "create_paysync_billing_products",
		Statements: []string{`
CREATE TABLE IF NOT EXISTS paysync_billing_products (
    id                  TEXT PRIMARY KEY,
    key                 TEXT NOT NULL,
    mode                TEXT NOT NULL,
    provider            TEXT NOT NULL,
    currency            TEXT NOT NULL,
    name                TEXT NOT NULL DEFAULT '',
    provider_product_id TEXT NOT NULL DEFAULT '',
    provider_price_id   TEXT NOT NULL DEFAULT '',
    amount              INTEGER NOT NULL DEFAULT 0,
    billing_interval    TEXT NOT NULL DEFAULT '',
    trial_days          INTEGER NOT NULL DEFAULT 0,
    active              INTEGER NOT NULL DEFAULT 1,
    created_at          INTEGER NOT NULL,
    updated_at          INTEGER NOT NULL
)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_paysync_billing_products_key
    ON paysync_billing_products (key, mode, provider, currency)`,
		},
	},
}
