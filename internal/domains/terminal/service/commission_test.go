package service

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"terminal-payment-backend/internal/domains/terminal/model"
)

func TestCalculateCommission(t *testing.T) {
	d := decimal.RequireFromString
	staffID := uuid.New()

	tests := []struct {
		name       string
		in         CommissionInput
		base       string
		commission string
		earnings   string
	}{
		{
			name:       "flat",
			in:         CommissionInput{Amount: d("100"), TipAmount: d("20"), Rate: model.StaffRate{RateType: model.RateTypeFlat, FlatAmount: d("15")}},
			base:       "80",
			commission: "15",
			earnings:   "35",
		},
		{
			name:       "percentage of amount net of tip",
			in:         CommissionInput{Amount: d("100"), TipAmount: d("20"), Rate: model.StaffRate{RateType: model.RateTypePercentage, Percentage: d("40")}},
			base:       "80",
			commission: "32",
			earnings:   "52",
		},
		{
			name:       "time based",
			in:         CommissionInput{Amount: d("100"), TipAmount: d("20"), DurationMinutes: 90, Rate: model.StaffRate{RateType: model.RateTypeTimeBased, HourlyRate: d("30")}},
			base:       "80",
			commission: "45",
			earnings:   "65",
		},
		{
			name:       "hybrid",
			in:         CommissionInput{Amount: d("100"), TipAmount: d("20"), Rate: model.StaffRate{RateType: model.RateTypeHybrid, FlatAmount: d("5"), Percentage: d("10")}},
			base:       "80",
			commission: "13",
			earnings:   "33",
		},
		{
			name:       "rounds to cents",
			in:         CommissionInput{Amount: d("33.33"), Rate: model.StaffRate{RateType: model.RateTypePercentage, Percentage: d("33.3")}},
			base:       "33.33",
			commission: "11.1",
			earnings:   "11.1",
		},
		{
			name:       "tip above amount clamps base",
			in:         CommissionInput{Amount: d("10"), TipAmount: d("12"), Rate: model.StaffRate{RateType: model.RateTypePercentage, Percentage: d("50")}},
			base:       "0",
			commission: "0",
			earnings:   "12",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.in.Rate.StaffID = staffID
			got, err := CalculateCommission(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.base, got.BaseAmount.String())
			assert.Equal(t, tt.commission, got.CommissionAmount.String())
			assert.Equal(t, tt.earnings, got.TotalEarnings.String())
			assert.Equal(t, staffID, got.StaffID)
			assert.Equal(t, tt.in.Rate.RateType, got.RateType)
		})
	}
}

func TestCalculateCommission_UnknownRateType(t *testing.T) {
	_, err := CalculateCommission(CommissionInput{
		Amount: decimal.NewFromInt(10),
		Rate:   model.StaffRate{RateType: "bonus"},
	})
	assert.Error(t, err)
}
