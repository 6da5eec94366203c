// Package sqlite is the embedded single-node store, on the pure-Go
// modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/xraph/paysync/store/sqlstore"
)

// Store implements store.Store on a SQLite file.
type Store struct {
	*sqlstore.Store
}

// Open opens (or creates) the database at path in WAL mode. Writes are
// serialized through a single connection.
func Open(path string, opts ...sqlstore.Option) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("paysync/sqlite: create dir: %w", err)
		}
	}

	dsn := path + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
			"foreign_keys(ON)",
		},
		"_txlock": []string{"immediate"},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("paysync/sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	return New(db, opts...), nil
}

// New wraps an open SQLite handle.
func New(db *sql.DB, opts ...sqlstore.Option) *Store {
	return &Store{Store: sqlstore.New(db, sqlstore.SQLite, Migrations, opts...)}
}

// OpenAndMigrate opens path and applies the schema.
func OpenAndMigrate(ctx context.Context, path string, opts ...sqlstore.Option) (*Store, error) {
	s, err := Open(path, opts...)
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}
