// Package spending computes cardholder spend and decides when to grant funding tranches.
package spending

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/skippy/island-grown/pkg/benefits"
)

// Plan is the funding schedule shared by every cardholder.
type Plan struct {
	BaseFundingAmount    decimal.Decimal
	Interval             benefits.LimitInterval
	RefillTriggerPercent decimal.Decimal
	RefillAmounts        []decimal.Decimal
}

// Validate rejects schedules that cannot be applied.
func (plan Plan) Validate() error {
	if !plan.BaseFundingAmount.IsPositive() {
		return fmt.Errorf("%w: base funding amount must be positive", benefits.ErrInvalidAmount)
	}
	if _, err := benefits.ParseLimitInterval(plan.Interval.String()); err != nil {
		return err
	}
	if plan.RefillTriggerPercent.IsNegative() || plan.RefillTriggerPercent.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: refill trigger percent must be within [0, 1]", benefits.ErrInvalidServiceConfig)
	}
	for index, amount := range plan.RefillAmounts {
		if !amount.IsPositive() {
			return fmt.Errorf("%w: refill amount %d must be positive", benefits.ErrInvalidAmount, index)
		}
	}
	return nil
}

// BaseFundingCents is the base funding amount in minor units.
func (plan Plan) BaseFundingCents() benefits.AmountCents {
	return benefits.AmountFromDollars(plan.BaseFundingAmount)
}

// DefaultLimit is the limit a freshly initialized cardholder receives.
func (plan Plan) DefaultLimit() benefits.SpendingLimit {
	return benefits.SpendingLimit{Amount: plan.BaseFundingCents(), Interval: plan.Interval}
}
