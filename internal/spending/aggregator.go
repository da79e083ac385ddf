package spending

import (
	"context"
	"fmt"
	"time"

	"github.com/skippy/island-grown/pkg/benefits"
)

const (
	errorOperationSpend       = "spend"
	errorSubjectTransactions  = "transactions"
	errorSubjectAuthorization = "authorizations"
	errorCodeList             = "list"
)

// Aggregator builds spend snapshots from ledger activity.
type Aggregator struct {
	activity benefits.ActivitySource
	plan     Plan
	nowFn    func() time.Time
}

// NewAggregator wires an Aggregator.
func NewAggregator(activity benefits.ActivitySource, plan Plan, now func() time.Time) (*Aggregator, error) {
	if activity == nil {
		return nil, fmt.Errorf("%w: activity source is nil", benefits.ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", benefits.ErrInvalidServiceConfig)
	}
	return &Aggregator{activity: activity, plan: plan, nowFn: now}, nil
}

// SpendBalance returns the current snapshot for cardholder, or nil when there is no cardholder.
func (aggregator *Aggregator) SpendBalance(ctx context.Context, cardholder *benefits.Cardholder, includeTransactions bool) (*benefits.SpendSnapshot, error) {
	if cardholder == nil {
		return nil, nil
	}
	snapshot := &benefits.SpendSnapshot{SpendingLimit: aggregator.plan.BaseFundingCents()}
	if limit, ok := cardholder.SpendingControls.LimitFor(aggregator.plan.Interval); ok {
		snapshot.SpendingLimit = limit.Amount
	}
	if includeTransactions {
		snapshot.Transactions = []benefits.Transaction{}
	}

	query := benefits.ActivityQuery{
		CardholderID: cardholder.ID,
		Since:        aggregator.plan.Interval.WindowStart(aggregator.nowFn()),
	}
	err := aggregator.activity.ListTransactions(ctx, query, func(transaction benefits.Transaction) error {
		snapshot.Spend += transaction.SpendContribution()
		if includeTransactions {
			snapshot.Transactions = append(snapshot.Transactions, transaction)
		}
		return nil
	})
	if err != nil {
		return nil, benefits.WrapError(errorOperationSpend, errorSubjectTransactions, errorCodeList, err)
	}

	err = aggregator.activity.ListPendingAuthorizations(ctx, query, func(authorization benefits.Authorization) error {
		snapshot.PendingAmount += authorization.Amount.Abs()
		snapshot.PendingCount++
		return nil
	})
	if err != nil {
		return nil, benefits.WrapError(errorOperationSpend, errorSubjectAuthorization, errorCodeList, err)
	}
	snapshot.Spend += snapshot.PendingAmount
	return snapshot, nil
}
