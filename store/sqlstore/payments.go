package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/xraph/paysync/id"
	"github.com/xraph/paysync/payment"
)

const paymentColumns = `id, provider, provider_payment_id, checkout_session_id, user_id,
    plan_key, product_key, amount, currency, status, source_type,
    provider_subscription_id, invoice_id, invoice_url, invoice_pdf_url, receipt_url,
    failure_reason, next_retry_at, paid_at, metadata, deduplicated, created_at, updated_at`

// ==================== Payment Store ====================

func (s *Store) UpsertPayment(ctx context.Context, key payment.NaturalKey, p *payment.Payment, refresh payment.Refresh) (*payment.Payment, error) {
	row := *p
	t := s.clock()
	row.CreatedAt, row.UpdatedAt = t, t
	row.Deduplicated = true

	args, err := paymentArgs(&row)
	if err != nil {
		return nil, fmt.Errorf("paysync/%s: upsert payment: %w", s.dialect, err)
	}
	res, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO `+tablePayments+` (`+paymentColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT DO NOTHING`), args...)
	if err != nil {
		return nil, fmt.Errorf("paysync/%s: upsert payment: %w", s.dialect, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 1 {
		return &row, nil
	}

	// A deduplicated row already holds one of the ids: refresh it and
	// advance updated_at strictly past created_at.
	ts := nanos(s.clock())
	w := naturalKeyWhere(key)
	set := []string{"updated_at = CASE WHEN ? > created_at THEN ? ELSE created_at + 1 END"}
	setArgs := []any{ts, ts}
	if refresh.InvoiceURL != "" {
		set = append(set, "invoice_url = ?")
		setArgs = append(setArgs, refresh.InvoiceURL)
	}
	if refresh.InvoicePDFURL != "" {
		set = append(set, "invoice_pdf_url = ?")
		setArgs = append(setArgs, refresh.InvoicePDFURL)
	}
	if refresh.ReceiptURL != "" {
		set = append(set, "receipt_url = ?")
		setArgs = append(setArgs, refresh.ReceiptURL)
	}
	_, err = s.db.ExecContext(ctx,
		s.rebind(`UPDATE `+tablePayments+` SET `+strings.Join(set, ", ")+w.String()),
		append(setArgs, w.args...)...,
	)
	if err != nil {
		return nil, fmt.Errorf("paysync/%s: refresh payment: %w", s.dialect, err)
	}

	stored, err := s.FindPayment(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("paysync/%s: upsert payment: reload: %w", s.dialect, err)
	}
	return stored, nil
}

func (s *Store) InsertPayment(ctx context.Context, p *payment.Payment) error {
	row := *p
	if row.CreatedAt.IsZero() {
		t := s.clock()
		row.CreatedAt, row.UpdatedAt = t, t
	}
	args, err := paymentArgs(&row)
	if err != nil {
		return fmt.Errorf("paysync/%s: insert payment: %w", s.dialect, err)
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`INSERT INTO `+tablePayments+` (`+paymentColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`), args...)
	if err != nil {
		return fmt.Errorf("paysync/%s: insert payment: %w", s.dialect, err)
	}
	return nil
}

func (s *Store) GetPayment(ctx context.Context, paymentID id.PaymentID) (*payment.Payment, error) {
	row := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT `+paymentColumns+` FROM `+tablePayments+` WHERE id = ?`),
		paymentID.String(),
	)
	p, err := scanPayment(row)
	if err != nil {
		if isNoRows(err) {
			return nil, payment.ErrNotFound
		}
		return nil, fmt.Errorf("paysync/%s: get payment: %w", s.dialect, err)
	}
	return p, nil
}

func (s *Store) FindPayment(ctx context.Context, key payment.NaturalKey) (*payment.Payment, error) {
	w := naturalKeyWhere(key)
	row := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT `+paymentColumns+` FROM `+tablePayments+w.String()+` ORDER BY created_at ASC LIMIT 1`),
		w.args...,
	)
	p, err := scanPayment(row)
	if err != nil {
		if isNoRows(err) {
			return nil, payment.ErrNotFound
		}
		return nil, fmt.Errorf("paysync/%s: find payment: %w", s.dialect, err)
	}
	return p, nil
}

func (s *Store) CountPayments(ctx context.Context, f payment.CountFilter) (int64, error) {
	var w where
	if f.UserID != "" {
		w.add("user_id = ?", f.UserID)
	}
	if f.SourceType != "" {
		w.add("source_type = ?", string(f.SourceType))
	}
	if f.PlanKey != "" {
		w.add("plan_key = ?", f.PlanKey)
	}
	if f.ProductKey != "" {
		w.add("product_key = ?", f.ProductKey)
	}
	if f.Status != "" {
		w.add("status = ?", string(f.Status))
	}
	if !f.ExcludeID.IsNil() {
		w.add("id <> ?", f.ExcludeID.String())
	}

	var n int64
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM `+tablePayments+w.String()), w.args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("paysync/%s: count payments: %w", s.dialect, err)
	}
	return n, nil
}

func (s *Store) ListPayments(ctx context.Context, opts payment.ListOpts) ([]*payment.Payment, error) {
	var w where
	if opts.UserID != "" {
		w.add("user_id = ?", opts.UserID)
	}
	if opts.Status != "" {
		w.add("status = ?", string(opts.Status))
	}
	if opts.SourceType != "" {
		w.add("source_type = ?", string(opts.SourceType))
	}

	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT `+paymentColumns+` FROM `+tablePayments+w.String()+
			` ORDER BY created_at DESC, id DESC`+s.paging(opts.Limit, opts.Offset)),
		w.args...,
	)
	if err != nil {
		return nil, fmt.Errorf("paysync/%s: list payments: %w", s.dialect, err)
	}
	defer rows.Close()

	result := make([]*payment.Payment, 0)
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("paysync/%s: list payments: %w", s.dialect, err)
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func naturalKeyWhere(key payment.NaturalKey) where {
	var w where
	w.add("provider = ?", key.Provider)
	w.add("deduplicated = ?", true)

	var ors []string
	if key.ProviderPaymentID != "" {
		ors = append(ors, "provider_payment_id = ?")
		w.args = append(w.args, key.ProviderPaymentID)
	}
	if key.CheckoutSessionID != "" {
		ors = append(ors, "checkout_session_id = ?")
		w.args = append(w.args, key.CheckoutSessionID)
	}
	w.clauses = append(w.clauses, "("+strings.Join(ors, " OR ")+")")
	return w
}

func paymentArgs(p *payment.Payment) ([]any, error) {
	metadata, err := encodeJSON(p.Metadata)
	if err != nil {
		return nil, err
	}
	return []any{
		p.ID.String(), p.Provider, p.ProviderPaymentID, p.CheckoutSessionID, p.UserID,
		p.PlanKey, p.ProductKey, p.Amount, p.Currency, string(p.Status), string(p.SourceType),
		p.ProviderSubscriptionID, p.InvoiceID, p.InvoiceURL, p.InvoicePDFURL, p.ReceiptURL,
		p.FailureReason, nullNanos(p.NextRetryAt), nullNanos(p.PaidAt), metadata, p.Deduplicated,
		nanos(p.CreatedAt), nanos(p.UpdatedAt),
	}, nil
}

func scanPayment(sc scanner) (*payment.Payment, error) {
	var (
		p                    payment.Payment
		rawID, status, src   string
		metadata             string
		nextRetryAt, paidAt  sql.NullInt64
		createdAt, updatedAt int64
	)
	err := sc.Scan(
		&rawID, &p.Provider, &p.ProviderPaymentID, &p.CheckoutSessionID, &p.UserID,
		&p.PlanKey, &p.ProductKey, &p.Amount, &p.Currency, &status, &src,
		&p.ProviderSubscriptionID, &p.InvoiceID, &p.InvoiceURL, &p.InvoicePDFURL, &p.ReceiptURL,
		&p.FailureReason, &nextRetryAt, &paidAt, &metadata, &p.Deduplicated,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if p.ID, err = id.ParsePaymentID(rawID); err != nil {
		return nil, fmt.Errorf("parse payment id %q: %w", rawID, err)
	}
	if p.Metadata, err = decodeStringMap(metadata); err != nil {
		return nil, fmt.Errorf("decode payment metadata: %w", err)
	}
	p.Status = payment.Status(status)
	p.SourceType = payment.SourceType(src)
	p.NextRetryAt = fromNullNanos(nextRetryAt)
	p.PaidAt = fromNullNanos(paidAt)
	p.CreatedAt = fromNanos(createdAt)
	p.UpdatedAt = fromNanos(updatedAt)
	return &p, nil
}
