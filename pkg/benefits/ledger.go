package benefits

import (
	"context"
	"time"
)

// ActivityQuery selects ledger activity for one cardholder.
// A zero Since means no lower bound.
type ActivityQuery struct {
	CardholderID string
	Since        time.Time
}

// CardLookup identifies a card by the details printed on it.
type CardLookup struct {
	Last4    string
	ExpMonth int
	ExpYear  int
}

// CardholderFilter narrows a cardholder listing. Empty fields match everything.
type CardholderFilter struct {
	Email  string
	Status CardholderStatus
}

// CardholderDirectory finds cardholders.
// Lookups return ErrCardholderNotFound when nothing matches.
type CardholderDirectory interface {
	FindCardholderByEmail(ctx context.Context, email string) (Cardholder, error)
	FindCardholderByPhone(ctx context.Context, phoneNumber string) (Cardholder, error)
	FindCardholderByCard(ctx context.Context, lookup CardLookup) (Cardholder, error)
	GetCardholder(ctx context.Context, cardholderID string) (Cardholder, error)
	ListCardholders(ctx context.Context, filter CardholderFilter, visit func(Cardholder) error) error
}

// CardholderWriter persists cardholder changes.
type CardholderWriter interface {
	UpdateCardholder(ctx context.Context, cardholderID string, update CardholderUpdate) (Cardholder, error)
}

// ActivitySource streams ledger activity, most recent first.
type ActivitySource interface {
	ListTransactions(ctx context.Context, query ActivityQuery, visit func(Transaction) error) error
	ListPendingAuthorizations(ctx context.Context, query ActivityQuery, visit func(Authorization) error) error
}

// CardManager lists cards and clears card-level spending limits.
type CardManager interface {
	ListCards(ctx context.Context, cardholderID string, visit func(Card) error) error
	ClearCardSpendingLimits(ctx context.Context, cardID string) error
}

// EventVerifier authenticates and decodes webhook deliveries.
type EventVerifier interface {
	VerifyEvent(payload []byte, signatureHeader string) (Event, error)
	APIVersion() string
}

// Ledger is the card-issuing platform as seen by this system.
type Ledger interface {
	CardholderDirectory
	CardholderWriter
	ActivitySource
	CardManager
	EventVerifier
}
