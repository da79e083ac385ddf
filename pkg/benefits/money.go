package benefits

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const centsExponent = -2

var hundred = decimal.NewFromInt(100)

// AmountCents is an integer currency amount in minor units, as the ledger reports it.
type AmountCents int64

// Int64 exposes the raw minor-unit value.
func (amount AmountCents) Int64() int64 {
	return int64(amount)
}

// Dollars converts the amount to a decimal in major units.
func (amount AmountCents) Dollars() decimal.Decimal {
	return decimal.New(int64(amount), centsExponent)
}

// Abs returns the absolute value.
func (amount AmountCents) Abs() AmountCents {
	if amount < 0 {
		return -amount
	}
	return amount
}

// AmountFromDollars converts a major-unit decimal to minor units, rounding half away from zero.
func AmountFromDollars(dollars decimal.Decimal) AmountCents {
	return AmountCents(dollars.Mul(hundred).Round(0).IntPart())
}

// ParseDollars parses a major-unit amount such as "150" or "75.50".
func ParseDollars(raw string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return decimal.Zero, fmt.Errorf("%w: empty value", ErrInvalidAmount)
	}
	value, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	return value, nil
}

// FormatDollars renders a major-unit amount rounded to cents without trailing zeros.
func FormatDollars(dollars decimal.Decimal) string {
	return dollars.Round(2).String()
}
