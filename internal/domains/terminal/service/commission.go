package service

import (
	"fmt"

	"github.com/shopspring/decimal"

	"terminal-payment-backend/internal/domains/terminal/model"
)

var (
	hundred       = decimal.NewFromInt(100)
	minutesInHour = decimal.NewFromInt(60)
)

// CommissionInput is everything the rate model needs for one payment
type CommissionInput struct {
	Amount          decimal.Decimal
	TipAmount       decimal.Decimal
	DurationMinutes int
	Rate            model.StaffRate
}

// CalculateCommission applies the staff rate to the amount net of tip.
// Earnings are commission plus the full tip.
func CalculateCommission(in CommissionInput) (*model.Commission, error) {
	base := in.Amount.Sub(in.TipAmount)
	if base.IsNegative() {
		base = decimal.Zero
	}

	var commission decimal.Decimal
	switch in.Rate.RateType {
	case model.RateTypeFlat:
		commission = in.Rate.FlatAmount
	case model.RateTypePercentage:
		commission = base.Mul(in.Rate.Percentage).Div(hundred)
	case model.RateTypeTimeBased:
		commission = in.Rate.HourlyRate.Mul(decimal.NewFromInt(int64(in.DurationMinutes))).Div(minutesInHour)
	case model.RateTypeHybrid:
		commission = in.Rate.FlatAmount.Add(base.Mul(in.Rate.Percentage).Div(hundred))
	default:
		return nil, fmt.Errorf("unknown rate type %q", in.Rate.RateType)
	}

	commission = commission.Round(2)
	tip := in.TipAmount.Round(2)

	return &model.Commission{
		StaffID:          in.Rate.StaffID,
		RateType:         in.Rate.RateType,
		BaseAmount:       base.Round(2),
		TipAmount:        tip,
		CommissionAmount: commission,
		TotalEarnings:    commission.Add(tip),
	}, nil
}
