package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMoneyString(t *testing.T) {
	tests := []struct {
		name    string
		money   Money
		display string
	}{
		{"USD", USD(4900), "$49.00"},
		{"USD odd cents", USD(1505), "$15.05"},
		{"EUR upper-case input", NewMoney(19900, "EUR"), "€199.00"},
		{"JPY zero decimal", NewMoney(100, "jpy"), "¥100"},
		{"negative", USD(-250), "$-2.50"},
		{"unknown currency", NewMoney(1000, "xyz"), "XYZ 10.00"},
		{"zero", Zero("USD"), "$0.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.display, tt.money.String())
		})
	}
}

func TestMoneyPredicates(t *testing.T) {
	assert.True(t, Zero("usd").IsZero())
	assert.True(t, USD(1).IsPositive())
	assert.False(t, USD(-1).IsPositive())
	assert.True(t, USD(100).Equal(NewMoney(100, "USD")))
	assert.False(t, USD(100).Equal(NewMoney(100, "eur")))
}

func TestMoneyMarshalJSON(t *testing.T) {
	raw, err := json.Marshal(USD(1500))
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, float64(1500), decoded["amount"])
	assert.Equal(t, "usd", decoded["currency"])
	assert.Equal(t, "$15.00", decoded["display"])
}
