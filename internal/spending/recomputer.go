package spending

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/skippy/island-grown/pkg/benefits"
)

// SnapshotSource produces spend snapshots.
type SnapshotSource interface {
	SpendBalance(ctx context.Context, cardholder *benefits.Cardholder, includeTransactions bool) (*benefits.SpendSnapshot, error)
}

// RecomputerOption configures a Recomputer.
type RecomputerOption func(*Recomputer)

// WithOperationLogger wires a logger that receives every funding decision.
func WithOperationLogger(logger benefits.OperationLogger) RecomputerOption {
	return func(recomputer *Recomputer) {
		if logger != nil {
			recomputer.logger = logger
		}
	}
}

// Recomputer pairs a fresh snapshot with the funding state machine.
type Recomputer struct {
	snapshots SnapshotSource
	plan      Plan
	nowFn     func() time.Time
	logger    benefits.OperationLogger
}

// NewRecomputer wires a Recomputer.
func NewRecomputer(snapshots SnapshotSource, plan Plan, now func() time.Time, options ...RecomputerOption) (*Recomputer, error) {
	if snapshots == nil {
		return nil, fmt.Errorf("%w: snapshot source is nil", benefits.ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", benefits.ErrInvalidServiceConfig)
	}
	recomputer := &Recomputer{snapshots: snapshots, plan: plan, nowFn: now, logger: benefits.NopOperationLogger{}}
	for _, option := range options {
		if option != nil {
			option(recomputer)
		}
	}
	return recomputer, nil
}

// Plan returns the funding schedule in use.
func (recomputer *Recomputer) Plan() Plan {
	return recomputer.plan
}

// Recompute returns the update cardholder needs right now. The caller writes it.
func (recomputer *Recomputer) Recompute(ctx context.Context, cardholder benefits.Cardholder) (Outcome, error) {
	snapshot, err := recomputer.snapshots.SpendBalance(ctx, &cardholder, false)
	if err != nil {
		return Outcome{}, err
	}
	if snapshot == nil {
		return Outcome{}, benefits.ErrCardholderNotFound
	}
	outcome, err := Recompute(cardholder, *snapshot, recomputer.plan, recomputer.nowFn())
	if err != nil {
		recomputer.logger.LogOperation(ctx, benefits.OperationLog{
			Operation:    benefits.OperationRecomputeFunding,
			CardholderID: cardholder.ID,
			Amount:       snapshot.SpendingLimit,
			Status:       benefits.OperationStatusError,
			Error:        err,
		})
		return Outcome{}, err
	}
	switch outcome.Decision {
	case DecisionDefaultsApplied:
		recomputer.log(ctx, benefits.OperationApplyDefaults, cardholder.ID, outcome.NewLimit, "")
	case DecisionRefillGranted:
		recomputer.log(ctx, benefits.OperationGrantRefill, cardholder.ID, outcome.NewLimit, strconv.Itoa(outcome.RefillIndex))
	case DecisionDefaultsAndRefill:
		recomputer.log(ctx, benefits.OperationApplyDefaults, cardholder.ID, recomputer.plan.BaseFundingCents(), "")
		recomputer.log(ctx, benefits.OperationGrantRefill, cardholder.ID, outcome.NewLimit, strconv.Itoa(outcome.RefillIndex))
	}
	return outcome, nil
}

func (recomputer *Recomputer) log(ctx context.Context, operation string, cardholderID string, amount benefits.AmountCents, detail string) {
	recomputer.logger.LogOperation(ctx, benefits.OperationLog{
		Operation:    operation,
		CardholderID: cardholderID,
		Amount:       amount,
		Detail:       detail,
		Status:       benefits.OperationStatusOK,
	})
}
