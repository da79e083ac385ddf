// Package ledgertest provides an in-memory benefits.Ledger for tests.
package ledgertest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/skippy/island-grown/pkg/benefits"
)

// APIVersion is reported by the fake verifier.
const APIVersion = "2023-10-16"

// UpdateCall records one UpdateCardholder invocation.
type UpdateCall struct {
	CardholderID string
	Update       benefits.CardholderUpdate
}

// Fake is a concurrency-safe in-memory ledger.
type Fake struct {
	mutex           sync.Mutex
	cardholderOrder []string
	cardholders     map[string]benefits.Cardholder
	cardOrder       []string
	cards           map[string]benefits.Card
	transactions    map[string][]benefits.Transaction
	authorizations  map[string][]benefits.Authorization
	events          map[string]benefits.Event
	updates         []UpdateCall
	clearedCards    []string

	// Failure injection; nil means succeed.
	LookupErr           error
	ListCardholdersErr  error
	ListTransactionsErr error
	ListPendingErr      error
	ListCardsErr        error
	ClearCardErr        error
	UpdateErr           error
	UpdateErrFor        map[string]error
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{
		cardholders:    map[string]benefits.Cardholder{},
		cards:          map[string]benefits.Card{},
		transactions:   map[string][]benefits.Transaction{},
		authorizations: map[string][]benefits.Authorization{},
		events:         map[string]benefits.Event{},
		UpdateErrFor:   map[string]error{},
	}
}

// AddCardholder stores or replaces a cardholder.
func (fake *Fake) AddCardholder(cardholder benefits.Cardholder) {
	fake.mutex.Lock()
	defer fake.mutex.Unlock()
	if cardholder.Metadata == nil {
		cardholder.Metadata = map[string]string{}
	}
	if cardholder.Status == "" {
		cardholder.Status = benefits.CardholderStatusActive
	}
	if _, exists := fake.cardholders[cardholder.ID]; !exists {
		fake.cardholderOrder = append(fake.cardholderOrder, cardholder.ID)
	}
	fake.cardholders[cardholder.ID] = cardholder
}

// AddCard stores or replaces a card.
func (fake *Fake) AddCard(card benefits.Card) {
	fake.mutex.Lock()
	defer fake.mutex.Unlock()
	if _, exists := fake.cards[card.ID]; !exists {
		fake.cardOrder = append(fake.cardOrder, card.ID)
	}
	fake.cards[card.ID] = card
}

// AddTransaction records settled activity for a cardholder.
func (fake *Fake) AddTransaction(cardholderID string, transaction benefits.Transaction) {
	fake.mutex.Lock()
	defer fake.mutex.Unlock()
	fake.transactions[cardholderID] = append(fake.transactions[cardholderID], transaction)
}

// AddAuthorization records an authorization for a cardholder.
func (fake *Fake) AddAuthorization(cardholderID string, authorization benefits.Authorization) {
	fake.mutex.Lock()
	defer fake.mutex.Unlock()
	authorization.CardholderID = cardholderID
	fake.authorizations[cardholderID] = append(fake.authorizations[cardholderID], authorization)
}

// RegisterEvent makes VerifyEvent accept signatureHeader and return event.
func (fake *Fake) RegisterEvent(signatureHeader string, event benefits.Event) {
	fake.mutex.Lock()
	defer fake.mutex.Unlock()
	fake.events[signatureHeader] = event
}

// Cardholder returns the stored cardholder.
func (fake *Fake) Cardholder(cardholderID string) (benefits.Cardholder, bool) {
	fake.mutex.Lock()
	defer fake.mutex.Unlock()
	cardholder, ok := fake.cardholders[cardholderID]
	return cardholder, ok
}

// Card returns the stored card.
func (fake *Fake) Card(cardID string) (benefits.Card, bool) {
	fake.mutex.Lock()
	defer fake.mutex.Unlock()
	card, ok := fake.cards[cardID]
	return card, ok
}

// Updates returns every recorded UpdateCardholder call.
func (fake *Fake) Updates() []UpdateCall {
	fake.mutex.Lock()
	defer fake.mutex.Unlock()
	return append([]UpdateCall(nil), fake.updates...)
}

// UpdatesFor returns the recorded updates for one cardholder.
func (fake *Fake) UpdatesFor(cardholderID string) []UpdateCall {
	fake.mutex.Lock()
	defer fake.mutex.Unlock()
	calls := []UpdateCall{}
	for _, call := range fake.updates {
		if call.CardholderID == cardholderID {
			calls = append(calls, call)
		}
	}
	return calls
}

// ClearedCards returns the ids of cards whose limits were cleared.
func (fake *Fake) ClearedCards() []string {
	fake.mutex.Lock()
	defer fake.mutex.Unlock()
	return append([]string(nil), fake.clearedCards...)
}

// FindCardholderByEmail implements benefits.CardholderDirectory.
func (fake *Fake) FindCardholderByEmail(_ context.Context, email string) (benefits.Cardholder, error) {
	return fake.findActive(func(cardholder benefits.Cardholder) bool {
		return strings.EqualFold(cardholder.Email, email)
	})
}

// FindCardholderByPhone implements benefits.CardholderDirectory.
func (fake *Fake) FindCardholderByPhone(_ context.Context, phoneNumber string) (benefits.Cardholder, error) {
	return fake.findActive(func(cardholder benefits.Cardholder) bool {
		return cardholder.PhoneNumber != "" && cardholder.PhoneNumber == phoneNumber
	})
}

// FindCardholderByCard implements benefits.CardholderDirectory.
func (fake *Fake) FindCardholderByCard(_ context.Context, lookup benefits.CardLookup) (benefits.Cardholder, error) {
	fake.mutex.Lock()
	cardholderID := ""
	for _, cardID := range fake.cardOrder {
		card := fake.cards[cardID]
		if card.Last4 == lookup.Last4 && card.ExpMonth == lookup.ExpMonth && card.ExpYear == lookup.ExpYear {
			cardholderID = card.CardholderID
			break
		}
	}
	fake.mutex.Unlock()
	if cardholderID == "" {
		return benefits.Cardholder{}, benefits.ErrCardholderNotFound
	}
	return fake.GetCardholder(context.Background(), cardholderID)
}

// GetCardholder implements benefits.CardholderDirectory.
func (fake *Fake) GetCardholder(_ context.Context, cardholderID string) (benefits.Cardholder, error) {
	fake.mutex.Lock()
	defer fake.mutex.Unlock()
	if fake.LookupErr != nil {
		return benefits.Cardholder{}, fake.LookupErr
	}
	cardholder, ok := fake.cardholders[cardholderID]
	if !ok {
		return benefits.Cardholder{}, benefits.ErrCardholderNotFound
	}
	return cardholder, nil
}

// ListCardholders implements benefits.CardholderDirectory.
func (fake *Fake) ListCardholders(_ context.Context, filter benefits.CardholderFilter, visit func(benefits.Cardholder) error) error {
	fake.mutex.Lock()
	if fake.ListCardholdersErr != nil {
		fake.mutex.Unlock()
		return fake.ListCardholdersErr
	}
	matched := []benefits.Cardholder{}
	for _, cardholderID := range fake.cardholderOrder {
		cardholder := fake.cardholders[cardholderID]
		if filter.Email != "" && !strings.EqualFold(cardholder.Email, filter.Email) {
			continue
		}
		if filter.Status != "" && cardholder.Status != filter.Status {
			continue
		}
		matched = append(matched, cardholder)
	}
	fake.mutex.Unlock()
	for _, cardholder := range matched {
		if err := visit(cardholder); err != nil {
			return err
		}
	}
	return nil
}

// UpdateCardholder implements benefits.CardholderWriter.
func (fake *Fake) UpdateCardholder(_ context.Context, cardholderID string, update benefits.CardholderUpdate) (benefits.Cardholder, error) {
	fake.mutex.Lock()
	defer fake.mutex.Unlock()
	if fake.UpdateErr != nil {
		return benefits.Cardholder{}, fake.UpdateErr
	}
	if err := fake.UpdateErrFor[cardholderID]; err != nil {
		return benefits.Cardholder{}, err
	}
	cardholder, ok := fake.cardholders[cardholderID]
	if !ok {
		return benefits.Cardholder{}, benefits.ErrCardholderNotFound
	}
	fake.updates = append(fake.updates, UpdateCall{CardholderID: cardholderID, Update: update})
	updated := cardholder.Apply(update)
	fake.cardholders[cardholderID] = updated
	return updated, nil
}

// ListTransactions implements benefits.ActivitySource.
func (fake *Fake) ListTransactions(_ context.Context, query benefits.ActivityQuery, visit func(benefits.Transaction) error) error {
	fake.mutex.Lock()
	if fake.ListTransactionsErr != nil {
		fake.mutex.Unlock()
		return fake.ListTransactionsErr
	}
	matched := []benefits.Transaction{}
	for _, transaction := range fake.transactions[query.CardholderID] {
		if !query.Since.IsZero() && transaction.Created.Before(query.Since) {
			continue
		}
		matched = append(matched, transaction)
	}
	fake.mutex.Unlock()
	sort.SliceStable(matched, func(left, right int) bool {
		return matched[left].Created.After(matched[right].Created)
	})
	for _, transaction := range matched {
		if err := visit(transaction); err != nil {
			return err
		}
	}
	return nil
}

// ListPendingAuthorizations implements benefits.ActivitySource.
func (fake *Fake) ListPendingAuthorizations(_ context.Context, query benefits.ActivityQuery, visit func(benefits.Authorization) error) error {
	fake.mutex.Lock()
	if fake.ListPendingErr != nil {
		fake.mutex.Unlock()
		return fake.ListPendingErr
	}
	matched := []benefits.Authorization{}
	for _, authorization := range fake.authorizations[query.CardholderID] {
		if authorization.Status != benefits.AuthorizationPending {
			continue
		}
		if !query.Since.IsZero() && authorization.Created.Before(query.Since) {
			continue
		}
		matched = append(matched, authorization)
	}
	fake.mutex.Unlock()
	for _, authorization := range matched {
		if err := visit(authorization); err != nil {
			return err
		}
	}
	return nil
}

// ListCards implements benefits.CardManager.
func (fake *Fake) ListCards(_ context.Context, cardholderID string, visit func(benefits.Card) error) error {
	fake.mutex.Lock()
	if fake.ListCardsErr != nil {
		fake.mutex.Unlock()
		return fake.ListCardsErr
	}
	matched := []benefits.Card{}
	for _, cardID := range fake.cardOrder {
		if card := fake.cards[cardID]; card.CardholderID == cardholderID {
			matched = append(matched, card)
		}
	}
	fake.mutex.Unlock()
	for _, card := range matched {
		if err := visit(card); err != nil {
			return err
		}
	}
	return nil
}

// ClearCardSpendingLimits implements benefits.CardManager.
func (fake *Fake) ClearCardSpendingLimits(_ context.Context, cardID string) error {
	fake.mutex.Lock()
	defer fake.mutex.Unlock()
	if fake.ClearCardErr != nil {
		return fake.ClearCardErr
	}
	card, ok := fake.cards[cardID]
	if !ok {
		return fmt.Errorf("card %s not found", cardID)
	}
	card.SpendingControls = benefits.SpendingControls{}
	fake.cards[cardID] = card
	fake.clearedCards = append(fake.clearedCards, cardID)
	return nil
}

// VerifyEvent implements benefits.EventVerifier.
func (fake *Fake) VerifyEvent(_ []byte, signatureHeader string) (benefits.Event, error) {
	fake.mutex.Lock()
	defer fake.mutex.Unlock()
	event, ok := fake.events[signatureHeader]
	if !ok {
		return benefits.Event{}, benefits.ErrSignatureVerification
	}
	return event, nil
}

// APIVersion implements benefits.EventVerifier.
func (fake *Fake) APIVersion() string {
	return APIVersion
}

func (fake *Fake) findActive(match func(benefits.Cardholder) bool) (benefits.Cardholder, error) {
	fake.mutex.Lock()
	defer fake.mutex.Unlock()
	if fake.LookupErr != nil {
		return benefits.Cardholder{}, fake.LookupErr
	}
	for _, cardholderID := range fake.cardholderOrder {
		cardholder := fake.cardholders[cardholderID]
		if cardholder.Status == benefits.CardholderStatusActive && match(cardholder) {
			return cardholder, nil
		}
	}
	return benefits.Cardholder{}, benefits.ErrCardholderNotFound
}

var _ benefits.Ledger = (*Fake)(nil)
