package spending

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/skippy/island-grown/pkg/benefits"
)

// Decision explains what Recompute did, for logging.
type Decision int

const (
	DecisionNone Decision = iota
	DecisionDefaultsApplied
	DecisionRefillGranted
	DecisionDefaultsAndRefill
)

// Outcome is the result of a recompute.
type Outcome struct {
	Update      benefits.CardholderUpdate
	Decision    Decision
	RefillIndex int
	NewLimit    benefits.AmountCents
}

// Recompute decides the next funding step for cardholder given its current spend.
// It grants at most one tranche per call and never writes anything itself. Defaults are
// applied only when numRefills is missing or no limit exists for the plan interval;
// malformed funding metadata is returned as an error and leaves the cardholder untouched.
func Recompute(cardholder benefits.Cardholder, snapshot benefits.SpendSnapshot, plan Plan, now time.Time) (Outcome, error) {
	outcome := Outcome{RefillIndex: -1}
	limit := snapshot.SpendingLimit

	state, initialized, err := benefits.ParseFundingState(cardholder.Metadata)
	if err != nil {
		return outcome, err
	}
	_, hasLimit := cardholder.SpendingControls.LimitFor(plan.Interval)
	if !initialized || !hasLimit {
		state = benefits.DefaultFundingState(plan.BaseFundingAmount)
		outcome.Update.Metadata = benefits.ClearedFundingMetadata(cardholder.Metadata)
		for key, value := range state.Metadata() {
			outcome.Update.SetMetadata(key, value)
		}
		defaultLimit := plan.DefaultLimit()
		outcome.Update.SpendingLimit = &defaultLimit
		outcome.Decision = DecisionDefaultsApplied
		outcome.NewLimit = defaultLimit.Amount
		limit = defaultLimit.Amount
	}

	if !thresholdReached(snapshot.Spend, limit, plan.RefillTriggerPercent) {
		return outcome, nil
	}
	refillIndex := state.NumRefills
	if refillIndex >= len(plan.RefillAmounts) {
		return outcome, nil
	}

	refillAmount := plan.RefillAmounts[refillIndex]
	newLimit := limit + benefits.AmountFromDollars(refillAmount)
	for key, value := range benefits.RefillMetadata(refillIndex, refillAmount, now) {
		outcome.Update.SetMetadata(key, value)
	}
	outcome.Update.SpendingLimit = &benefits.SpendingLimit{Amount: newLimit, Interval: plan.Interval}
	outcome.RefillIndex = refillIndex
	outcome.NewLimit = newLimit
	if outcome.Decision == DecisionDefaultsApplied {
		outcome.Decision = DecisionDefaultsAndRefill
	} else {
		outcome.Decision = DecisionRefillGranted
	}
	return outcome, nil
}

// thresholdReached reports whether spend has reached limit × trigger; the boundary counts.
func thresholdReached(spend benefits.AmountCents, limit benefits.AmountCents, trigger decimal.Decimal) bool {
	return !spend.Dollars().LessThan(limit.Dollars().Mul(trigger))
}
