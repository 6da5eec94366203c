package mongo_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xraph/paysync/store"
	"github.com/xraph/paysync/store/mongo"
	"github.com/xraph/paysync/store/storetest"
)

// Set PAYSYNC_TEST_MONGO_URI to run against a live server.
func TestStore(t *testing.T) {
	uri := os.Getenv("PAYSYNC_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("PAYSYNC_TEST_MONGO_URI not set")
	}

	storetest.Run(t, func(t *testing.T) store.Store {
		ctx := context.Background()
		s, err := mongo.Connect(ctx, uri, "paysync_test")
		require.NoError(t, err)
		require.NoError(t, s.Migrate(ctx))
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}
