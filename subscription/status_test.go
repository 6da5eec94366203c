package subscription

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveStatus(t *testing.T) {
	tests := []struct {
		name    string
		signals StatusSignals
		want    Status
		rule    string
	}{
		{"active", StatusSignals{RawStatus: "active", Amount: 1500}, StatusActive, "default"},
		{"unknown raw status", StatusSignals{RawStatus: "past_due"}, StatusActive, "default"},
		{"canceled wins", StatusSignals{RawStatus: "canceled", CancelAtPeriodEnd: true}, StatusCanceled, "provider-canceled"},
		{"canceled case insensitive", StatusSignals{RawStatus: " Canceled "}, StatusCanceled, "provider-canceled"},
		{"scheduled", StatusSignals{RawStatus: "active", CancelAtPeriodEnd: true}, StatusCancelAtPeriodEnd, "cancel-at-period-end"},
		{"scheduled trial", StatusSignals{RawStatus: "trialing", CancelAtPeriodEnd: true}, StatusCancelAtPeriodEnd, "cancel-at-period-end"},
		{"trialing", StatusSignals{RawStatus: "trialing"}, StatusTrialing, "provider-trialing"},
		{"paid trial is active", StatusSignals{RawStatus: "trialing", Amount: 1500}, StatusActive, "default"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, rule := deriveStatus(tt.signals)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.rule, rule)
			assert.Equal(t, tt.want, DeriveStatus(tt.signals))
		})
	}
}

func TestIsEffective(t *testing.T) {
	for _, s := range EffectiveStatuses {
		assert.True(t, s.IsEffective(), s)
	}
	assert.False(t, StatusCanceled.IsEffective())
	assert.False(t, StatusExpired.IsEffective())
}
