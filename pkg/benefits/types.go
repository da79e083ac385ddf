package benefits

import (
	"fmt"
	"net/mail"
	"strings"
	"time"
)

// LimitInterval is the window a spending limit applies to.
type LimitInterval string

const (
	IntervalAllTime LimitInterval = "all_time"
	IntervalYearly  LimitInterval = "yearly"
	IntervalMonthly LimitInterval = "monthly"
)

// ParseLimitInterval validates a configured interval.
func ParseLimitInterval(raw string) (LimitInterval, error) {
	switch interval := LimitInterval(strings.TrimSpace(raw)); interval {
	case IntervalAllTime, IntervalYearly, IntervalMonthly:
		return interval, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidInterval, raw)
	}
}

// String returns the wire value.
func (interval LimitInterval) String() string {
	return string(interval)
}

// WindowStart returns the inclusive lower bound of the interval containing now.
// The zero time means the window is unbounded.
func (interval LimitInterval) WindowStart(now time.Time) time.Time {
	switch interval {
	case IntervalYearly:
		return time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, now.Location())
	case IntervalMonthly:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	default:
		return time.Time{}
	}
}

// SpendingLimit caps spend within an interval.
type SpendingLimit struct {
	Amount   AmountCents
	Interval LimitInterval
}

// SpendingControls holds the limits attached to a cardholder or card.
type SpendingControls struct {
	SpendingLimits []SpendingLimit
}

// LimitFor returns the limit configured for interval, if any.
func (controls SpendingControls) LimitFor(interval LimitInterval) (SpendingLimit, bool) {
	for _, limit := range controls.SpendingLimits {
		if limit.Interval == interval {
			return limit, true
		}
	}
	return SpendingLimit{}, false
}

// CardholderStatus mirrors the ledger cardholder status.
type CardholderStatus string

const (
	CardholderStatusActive   CardholderStatus = "active"
	CardholderStatusInactive CardholderStatus = "inactive"
	CardholderStatusBlocked  CardholderStatus = "blocked"
)

// Cardholder is the person enrolled in the benefit program.
type Cardholder struct {
	ID               string
	Name             string
	Email            string
	PhoneNumber      string
	Status           CardholderStatus
	Livemode         bool
	Metadata         map[string]string
	SpendingControls SpendingControls
}

// MetadataValue returns the metadata value for key and whether it was present.
func (cardholder Cardholder) MetadataValue(key string) (string, bool) {
	value, ok := cardholder.Metadata[key]
	return value, ok
}

// Card is a payment card issued to a cardholder.
type Card struct {
	ID               string
	CardholderID     string
	Last4            string
	ExpMonth         int
	ExpYear          int
	Status           string
	SpendingControls SpendingControls
}

// MerchantData describes the merchant on an authorization or transaction.
type MerchantData struct {
	Name       string
	City       string
	State      string
	PostalCode string
}

// TransactionType classifies settled ledger activity.
type TransactionType string

const (
	TransactionCapture TransactionType = "capture"
	TransactionRefund  TransactionType = "refund"
)

// Transaction is a settled capture or refund. Amount is always non-negative.
type Transaction struct {
	ID       string
	Amount   AmountCents
	Type     TransactionType
	Created  time.Time
	Merchant MerchantData
}

// SpendContribution is the signed effect of the transaction on spend.
func (transaction Transaction) SpendContribution() AmountCents {
	switch transaction.Type {
	case TransactionCapture:
		return transaction.Amount
	case TransactionRefund:
		return -transaction.Amount
	default:
		return 0
	}
}

// AuthorizationStatus mirrors the ledger authorization status.
type AuthorizationStatus string

const (
	AuthorizationPending  AuthorizationStatus = "pending"
	AuthorizationClosed   AuthorizationStatus = "closed"
	AuthorizationReversed AuthorizationStatus = "reversed"
)

// RequestHistory records one decision made on an authorization.
type RequestHistory struct {
	Approved bool
	Reason   string
}

// Authorization is a card authorization, either still awaiting a decision or already decided.
type Authorization struct {
	ID             string
	Amount         AmountCents
	PendingAmount  AmountCents
	MerchantAmount AmountCents
	Approved       bool
	Status         AuthorizationStatus
	CardholderID   string
	Cardholder     *Cardholder
	Merchant       MerchantData
	Metadata       map[string]string
	RequestHistory []RequestHistory
	Created        time.Time
}

// RequestedAmount returns the amount the merchant asked for, preferring the pending request.
func (authorization Authorization) RequestedAmount() AmountCents {
	if authorization.PendingAmount != 0 {
		return authorization.PendingAmount.Abs()
	}
	return authorization.MerchantAmount.Abs()
}

// NormalizeEmail lower-cases and trims an e-mail address.
func NormalizeEmail(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// NewEmail validates and normalizes an e-mail address.
func NewEmail(raw string) (string, error) {
	normalized := NormalizeEmail(raw)
	if normalized == "" {
		return "", fmt.Errorf("%w: empty value", ErrInvalidEmail)
	}
	if _, err := mail.ParseAddress(normalized); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidEmail, raw)
	}
	return normalized, nil
}
