package benefits

import "github.com/shopspring/decimal"

// SpendSnapshot is a point-in-time view of a cardholder's spend. It is rebuilt on
// every request and never cached.
type SpendSnapshot struct {
	SpendingLimit AmountCents
	// Spend is captures net of refunds plus pending holds.
	Spend         AmountCents
	PendingAmount AmountCents
	PendingCount  int
	Transactions  []Transaction
}

// Balance is the remaining allowance.
func (snapshot SpendSnapshot) Balance() AmountCents {
	return snapshot.SpendingLimit - snapshot.Spend
}

// SpendingLimitDollars renders the limit in major units rounded to cents.
func (snapshot SpendSnapshot) SpendingLimitDollars() decimal.Decimal {
	return snapshot.SpendingLimit.Dollars().Round(2)
}

// SpendDollars renders spend in major units rounded to cents.
func (snapshot SpendSnapshot) SpendDollars() decimal.Decimal {
	return snapshot.Spend.Dollars().Round(2)
}

// PendingDollars renders pending holds in major units rounded to cents.
func (snapshot SpendSnapshot) PendingDollars() decimal.Decimal {
	return snapshot.PendingAmount.Dollars().Round(2)
}

// BalanceDollars renders the balance in major units rounded to cents.
func (snapshot SpendSnapshot) BalanceDollars() decimal.Decimal {
	return snapshot.Balance().Dollars().Round(2)
}
