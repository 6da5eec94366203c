package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/xraph/paysync/bonus"
	"github.com/xraph/paysync/id"
)

const bonusTransactionColumns = `id, user_id, source_type, source_id, target_model, target_id, fields_delta, note, created_at`

// ==================== Bonus Store ====================

// CreditBonus inserts the transaction and increments the balance in one
// database transaction.
func (s *Store) CreditBonus(ctx context.Context, tx *bonus.Transaction) error {
	err := s.inTx(ctx, func(dbtx *sql.Tx) error {
		if err := s.insertTransaction(ctx, dbtx, tx); err != nil {
			return err
		}
		ts := nanos(s.clock())
		for field, delta := range tx.FieldsDelta {
			_, err := dbtx.ExecContext(ctx, s.rebind(`INSERT INTO `+tableBonusBalances+` (target_model, target_id, field, value, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (target_model, target_id, field) DO UPDATE SET
    value = `+tableBonusBalances+`.value + excluded.value,
    updated_at = excluded.updated_at`),
				tx.TargetModel, tx.TargetID, field, delta, ts,
			)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, bonus.ErrDuplicateTransaction) {
			return err
		}
		return fmt.Errorf("paysync/%s: credit bonus: %w", s.dialect, err)
	}
	return nil
}

func (s *Store) AppendBonusTransaction(ctx context.Context, tx *bonus.Transaction) error {
	err := s.inTx(ctx, func(dbtx *sql.Tx) error {
		return s.insertTransaction(ctx, dbtx, tx)
	})
	if err != nil && !errors.Is(err, bonus.ErrDuplicateTransaction) {
		return fmt.Errorf("paysync/%s: append bonus transaction: %w", s.dialect, err)
	}
	return err
}

// insertTransaction returns ErrDuplicateTransaction when the unique
// (user, source type, source id) index already holds the row.
func (s *Store) insertTransaction(ctx context.Context, dbtx *sql.Tx, tx *bonus.Transaction) error {
	delta, err := encodeJSON(tx.FieldsDelta)
	if err != nil {
		return err
	}
	res, err := dbtx.ExecContext(ctx, s.rebind(`INSERT INTO `+tableBonusTransactions+` (`+bonusTransactionColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT DO NOTHING`),
		tx.ID.String(), tx.UserID, string(tx.SourceType), tx.SourceID,
		tx.TargetModel, tx.TargetID, delta, tx.Note, nanos(tx.CreatedAt),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return bonus.ErrDuplicateTransaction
	}
	return nil
}

func (s *Store) BonusTransactionExists(ctx context.Context, userID string, sourceType bonus.SourceType, sourceID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT COUNT(*) FROM `+tableBonusTransactions+` WHERE user_id = ? AND source_type = ? AND source_id = ?`),
		userID, string(sourceType), sourceID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("paysync/%s: bonus transaction exists: %w", s.dialect, err)
	}
	return n > 0, nil
}

func (s *Store) GetBalance(ctx context.Context, targetModel, targetID string) (*bonus.Balance, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT field, value, updated_at FROM `+tableBonusBalances+` WHERE target_model = ? AND target_id = ?`),
		targetModel, targetID,
	)
	if err != nil {
		return nil, fmt.Errorf("paysync/%s: get balance: %w", s.dialect, err)
	}
	defer rows.Close()

	b := &bonus.Balance{TargetModel: targetModel, TargetID: targetID, Fields: make(map[string]int64)}
	for rows.Next() {
		var (
			field     string
			value, ts int64
		)
		if err := rows.Scan(&field, &value, &ts); err != nil {
			return nil, fmt.Errorf("paysync/%s: get balance: %w", s.dialect, err)
		}
		b.Fields[field] = value
		if t := fromNanos(ts); t.After(b.UpdatedAt) {
			b.UpdatedAt = t
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("paysync/%s: get balance: %w", s.dialect, err)
	}
	if len(b.Fields) == 0 {
		return nil, bonus.ErrNotFound
	}
	return b, nil
}

func (s *Store) SetBalanceFields(ctx context.Context, targetModel, targetID string, values map[string]int64) (map[string]int64, error) {
	previous := make(map[string]int64, len(values))
	ts := nanos(s.clock())

	err := s.inTx(ctx, func(dbtx *sql.Tx) error {
		for field, v := range values {
			var prev int64
			err := dbtx.QueryRowContext(ctx,
				s.rebind(`SELECT value FROM `+tableBonusBalances+` WHERE target_model = ? AND target_id = ? AND field = ?`),
				targetModel, targetID, field,
			).Scan(&prev)
			if err != nil && !isNoRows(err) {
				return err
			}
			previous[field] = prev

			_, err = dbtx.ExecContext(ctx, s.rebind(`INSERT INTO `+tableBonusBalances+` (target_model, target_id, field, value, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (target_model, target_id, field) DO UPDATE SET
    value = excluded.value,
    updated_at = excluded.updated_at`),
				targetModel, targetID, field, v, ts,
			)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("paysync/%s: set balance fields: %w", s.dialect, err)
	}
	return previous, nil
}

func (s *Store) ListBonusTransactions(ctx context.Context, userID string, opts bonus.ListOpts) ([]*bonus.Transaction, error) {
	var w where
	w.add("user_id = ?", userID)
	if opts.SourceType != "" {
		w.add("source_type = ?", string(opts.SourceType))
	}

	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT `+bonusTransactionColumns+` FROM `+tableBonusTransactions+w.String()+
			` ORDER BY created_at DESC, id DESC`+s.paging(opts.Limit, opts.Offset)),
		w.args...,
	)
	if err != nil {
		return nil, fmt.Errorf("paysync/%s: list bonus transactions: %w", s.dialect, err)
	}
	defer rows.Close()

	result := make([]*bonus.Transaction, 0)
	for rows.Next() {
		var (
			tx                bonus.Transaction
			rawID, src, delta string
			createdAt         int64
		)
		err := rows.Scan(&rawID, &tx.UserID, &src, &tx.SourceID, &tx.TargetModel, &tx.TargetID, &delta, &tx.Note, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("paysync/%s: list bonus transactions: %w", s.dialect, err)
		}
		if tx.ID, err = id.ParseBonusTransactionID(rawID); err != nil {
			return nil, fmt.Errorf("parse bonus transaction id %q: %w", rawID, err)
		}
		if err := decodeJSON(delta, &tx.FieldsDelta); err != nil {
			return nil, fmt.Errorf("decode bonus delta: %w", err)
		}
		tx.SourceType = bonus.SourceType(src)
		tx.CreatedAt = fromNanos(createdAt)
		result = append(result, &tx)
	}
	return result, rows.Err()
}
