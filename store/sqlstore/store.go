// Package sqlstore implements store.Store on database/sql. The sqlite and
// postgres packages supply the driver, dialect and schema.
//
// Times are stored as unix nanoseconds. Payment deduplication relies on
// partial unique indexes and INSERT ... ON CONFLICT DO NOTHING; subscription
// sync is a conditional ON CONFLICT DO UPDATE.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	paysyncstore "github.com/xraph/paysync/store"
	"github.com/xraph/paysync/types"
)

// Table name constants.
const (
	tablePayments          = "paysync_payments"
	tableSubscriptions     = "paysync_subscriptions"
	tableBonusTransactions = "paysync_bonus_transactions"
	tableBonusBalances     = "paysync_bonus_balances"
	tableBillingProducts   = "paysync_billing_products"
	tableMigrations        = "paysync_migrations"
)

// compile-time interface check
var _ paysyncstore.Store = (*Store)(nil)

// Dialect is the SQL flavor of the underlying database.
type Dialect int

const (
	// SQLite uses ? placeholders.
	SQLite Dialect = iota
	// Postgres uses $n placeholders.
	Postgres
)

func (d Dialect) String() string {
	if d == Postgres {
		return "postgres"
	}
	return "sqlite"
}

// Migration is one schema step. Statements run in order inside a
// transaction.
type Migration struct {
	Version    string
	Name       string
	Statements []string
}

// Store implements store.Store on a *sql.DB.
type Store struct {
	db         *sql.DB
	dialect    Dialect
	migrations []Migration
	clock      types.Clock
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the base write clock.
func WithClock(clock types.Clock) Option {
	return func(s *Store) { s.clock = types.MonotonicClock(clock) }
}

// New creates a store on db. migrations are applied by Migrate.
func New(db *sql.DB, dialect Dialect, migrations []Migration, opts ...Option) *Store {
	s := &Store{
		db:         db,
		dialect:    dialect,
		migrations: migrations,
		clock:      types.MonotonicClock(types.SystemClock),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying database for direct access.
func (s *Store) DB() *sql.DB { return s.db }

// Migrate applies every migration not yet recorded.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+tableMigrations+` (
    version    TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    applied_at BIGINT NOT NULL
)`)
	if err != nil {
		return fmt.Errorf("paysync/%s: create migrations table: %w", s.dialect, err)
	}

	for _, m := range s.migrations {
		var n int
		row := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM `+tableMigrations+` WHERE version = ?`), m.Version)
		if err := row.Scan(&n); err != nil {
			return fmt.Errorf("paysync/%s: check migration %s: %w", s.dialect, m.Name, err)
		}
		if n > 0 {
			continue
		}

		err := s.inTx(ctx, func(tx *sql.Tx) error {
			for _, stmt := range m.Statements {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return err
				}
			}
			_, err := tx.ExecContext(ctx,
				s.rebind(`INSERT INTO `+tableMigrations+` (version, name, applied_at) VALUES (?, ?, ?)`),
				m.Version, m.Name, nanos(s.clock()),
			)
			return err
		})
		if err != nil {
			return fmt.Errorf("paysync/%s: migration %s: %w", s.dialect, m.Name, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Helpers ====================

// rebind rewrites ? placeholders for the dialect.
func (s *Store) rebind(query string) string {
	if s.dialect != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// where accumulates AND-ed conditions.
type where struct {
	clauses []string
	args    []any
}

func (w *where) add(clause string, args ...any) {
	w.clauses = append(w.clauses, clause)
	w.args = append(w.args, args...)
}

func (w *where) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

// paging renders LIMIT/OFFSET. SQLite needs a LIMIT before any OFFSET.
func (s *Store) paging(limit, offset int) string {
	var b strings.Builder
	if limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", limit)
	} else if offset > 0 && s.dialect == SQLite {
		b.WriteString(" LIMIT -1")
	}
	if offset > 0 {
		fmt.Fprintf(&b, " OFFSET %d", offset)
	}
	return b.String()
}

type scanner interface {
	Scan(dest ...any) error
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func nanos(t time.Time) int64 {
	return t.UnixNano()
}

func nullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func fromNullNanos(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

func encodeJSON(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decodeJSON(raw string, v any) error {
	if raw == "" || raw == "null" {
		return nil
	}
	return json.Unmarshal([]byte(raw), v)
}

func decodeStringMap(raw string) (map[string]string, error) {
	if raw == "" || raw == "null" {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, err
	}
	return m, nil
}
