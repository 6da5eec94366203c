package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xraph/paysync/store"
	"github.com/xraph/paysync/store/postgres"
	"github.com/xraph/paysync/store/storetest"
)

// Set PAYSYNC_TEST_POSTGRES_DSN to run against a live database.
func TestStore(t *testing.T) {
	dsn := os.Getenv("PAYSYNC_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("PAYSYNC_TEST_POSTGRES_DSN not set")
	}

	storetest.Run(t, func(t *testing.T) store.Store {
		ctx := context.Background()
		s, err := postgres.Open(ctx, dsn, postgres.DefaultPoolConfig())
		require.NoError(t, err)
		require.NoError(t, s.Migrate(ctx))
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}
