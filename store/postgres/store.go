// Package postgres is the PostgreSQL store, on the lib/pq driver.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/xraph/paysync/store/sqlstore"
)

// Store implements store.Store on PostgreSQL.
type Store struct {
	*sqlstore.Store
}

// PoolConfig sizes the connection pool.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultPoolConfig returns the pool settings used by Open.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    20,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
	}
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string, pool PoolConfig, opts ...sqlstore.Option) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("paysync/postgres: open: %w", err)
	}
	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("paysync/postgres: ping: %w", err)
	}
	return New(db, opts...), nil
}

// New wraps an open PostgreSQL handle.
func New(db *sql.DB, opts ...sqlstore.Option) *Store {
	return &Store{Store: sqlstore.New(db, sqlstore.Postgres, Migrations, opts...)}
}
