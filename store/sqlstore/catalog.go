package sqlstore

import (
	"context"
	"fmt"

	"github.com/xraph/paysync/catalog"
	"github.com/xraph/paysync/id"
)

const billingProductColumns = `id, key, mode, provider, currency, name, provider_product_id, provider_price_id,
    amount, billing_interval, trial_days, active, created_at, updated_at`

// ==================== Catalog Store ====================

func (s *Store) UpsertBillingProduct(ctx context.Context, p *catalog.BillingProduct) (*catalog.BillingProduct, error) {
	ts := nanos(s.clock())
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO `+tableBillingProducts+` (`+billingProductColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (key, mode, provider, currency) DO UPDATE SET
    name = excluded.name,
    provider_product_id = excluded.provider_product_id,
    provider_price_id = excluded.provider_price_id,
    amount = excluded.amount,
    billing_interval = excluded.billing_interval,
    trial_days = excluded.trial_days,
    active = excluded.active,
    updated_at = excluded.updated_at`),
		p.ID.String(), p.Key, string(p.Mode), p.Provider, p.Currency, p.Name,
		p.ProviderProductID, p.ProviderPriceID, p.Amount, string(p.Interval), p.TrialDays, p.Active,
		ts, ts,
	)
	if err != nil {
		return nil, fmt.Errorf("paysync/%s: upsert billing product: %w", s.dialect, err)
	}

	stored, err := s.GetBillingProduct(ctx, p.ProductKey())
	if err != nil {
		return nil, fmt.Errorf("paysync/%s: upsert billing product: reload: %w", s.dialect, err)
	}
	return stored, nil
}

func (s *Store) GetBillingProduct(ctx context.Context, key catalog.ProductKey) (*catalog.BillingProduct, error) {
	row := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT `+billingProductColumns+` FROM `+tableBillingProducts+
			` WHERE key = ? AND mode = ? AND provider = ? AND currency = ?`),
		key.Key, string(key.Mode), key.Provider, key.Currency,
	)
	p, err := scanBillingProduct(row)
	if err != nil {
		if isNoRows(err) {
			return nil, catalog.ErrNotFound
		}
		return nil, fmt.Errorf("paysync/%s: get billing product: %w", s.dialect, err)
	}
	return p, nil
}

func (s *Store) ListBillingProducts(ctx context.Context, provider string) ([]*catalog.BillingProduct, error) {
	var w where
	if provider != "" {
		w.add("provider = ?", provider)
	}
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT `+billingProductColumns+` FROM `+tableBillingProducts+w.String()+` ORDER BY key, mode, currency`),
		w.args...,
	)
	if err != nil {
		return nil, fmt.Errorf("paysync/%s: list billing products: %w", s.dialect, err)
	}
	defer rows.Close()

	result := make([]*catalog.BillingProduct, 0)
	for rows.Next() {
		p, err := scanBillingProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("paysync/%s: list billing products: %w", s.dialect, err)
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func scanBillingProduct(sc scanner) (*catalog.BillingProduct, error) {
	var (
		p                     catalog.BillingProduct
		rawID, mode, interval string
		createdAt, updatedAt  int64
	)
	err := sc.Scan(
		&rawID, &p.Key, &mode, &p.Provider, &p.Currency, &p.Name, &p.ProviderProductID, &p.ProviderPriceID,
		&p.Amount, &interval, &p.TrialDays, &p.Active, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	if p.ID, err = id.ParseBillingProductID(rawID); err != nil {
		return nil, fmt.Errorf("parse billing product id %q: %w", rawID, err)
	}
	p.Mode = catalog.Mode(mode)
	p.Interval = catalog.Interval(interval)
	p.CreatedAt = fromNanos(createdAt)
	p.UpdatedAt = fromNanos(updatedAt)
	return &p, nil
}
