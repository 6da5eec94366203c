package mongo

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/xraph/paysync/bonus"
	"github.com/xraph/paysync/id"
)

func TestCreditBonusUndoesRowWhenIncrementFails(t *testing.T) {
	uri := os.Getenv("PAYSYNC_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("PAYSYNC_TEST_MONGO_URI not set")
	}

	ctx := context.Background()
	s, err := Connect(ctx, uri, "paysync_test")
	require.NoError(t, err)
	require.NoError(t, s.Migrate(ctx))
	t.Cleanup(func() { _ = s.Close() })

	user := "user_" + uuid.NewString()
	_, err = s.db.Collection(colBonusBalances).InsertOne(ctx, bson.M{
		"target_model": bonus.TargetUser,
		"target_id":    user,
		"fields":       bson.M{"aiCredits": "not a number"},
	})
	require.NoError(t, err)

	source := "pay_" + uuid.NewString()
	err = s.CreditBonus(ctx, &bonus.Transaction{
		ID:          id.NewBonusTransactionID(),
		UserID:      user,
		SourceType:  bonus.SourceSubscription,
		SourceID:    source,
		TargetModel: bonus.TargetUser,
		TargetID:    user,
		FieldsDelta: map[string]int64{"aiCredits": 20},
		CreatedAt:   time.Now().UTC(),
	})
	require.Error(t, err)

	exists, err := s.BonusTransactionExists(ctx, user, bonus.SourceSubscription, source)
	require.NoError(t, err)
	assert.False(t, exists, "a failed increment must not leave a credited row")
}
