// Package stripeledger implements the benefits ledger on Stripe Issuing.
package stripeledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/skippy/island-grown/pkg/benefits"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

const (
	errorOperationLedger   = "ledger"
	errorSubjectCardholder = "cardholder"
	errorSubjectCard       = "card"
	errorSubjectActivity   = "activity"
	errorCodeGet           = "get"
	errorCodeList          = "list"
	errorCodeUpdate        = "update"
	errorCodeClear         = "clear_limits"

	paramSpendingLimits = "spending_controls[spending_limits]"
	statusPending       = "pending"
)

// Config holds Stripe credentials.
type Config struct {
	APIKey string
	// WebhookSecrets are tried in order when verifying a delivery; Stripe issues one per endpoint.
	WebhookSecrets []string
	// Backends overrides the HTTP backends, for tests.
	Backends *stripe.Backends
}

// Ledger is a benefits.Ledger backed by the Stripe API.
type Ledger struct {
	api     *client.API
	secrets []string
}

// New builds a Ledger.
func New(cfg Config) (*Ledger, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("%w: stripe api key is required", benefits.ErrInvalidServiceConfig)
	}
	secrets := make([]string, 0, len(cfg.WebhookSecrets))
	for _, secret := range cfg.WebhookSecrets {
		if trimmed := strings.TrimSpace(secret); trimmed != "" {
			secrets = append(secrets, trimmed)
		}
	}
	if len(secrets) == 0 {
		return nil, fmt.Errorf("%w: stripe webhook secret is required", benefits.ErrInvalidServiceConfig)
	}
	return &Ledger{api: client.New(cfg.APIKey, cfg.Backends), secrets: secrets}, nil
}

// FindCardholderByEmail returns the active cardholder with email.
func (ledger *Ledger) FindCardholderByEmail(ctx context.Context, email string) (benefits.Cardholder, error) {
	normalized := benefits.NormalizeEmail(email)
	if normalized == "" {
		return benefits.Cardholder{}, benefits.ErrCardholderNotFound
	}
	params := &stripe.IssuingCardholderListParams{
		Email:  stripe.String(normalized),
		Status: stripe.String(string(stripe.IssuingCardholderStatusActive)),
	}
	return ledger.firstCardholder(ctx, params)
}

// FindCardholderByPhone returns the active cardholder with phoneNumber.
func (ledger *Ledger) FindCardholderByPhone(ctx context.Context, phoneNumber string) (benefits.Cardholder, error) {
	trimmed := strings.TrimSpace(phoneNumber)
	if trimmed == "" {
		return benefits.Cardholder{}, benefits.ErrCardholderNotFound
	}
	params := &stripe.IssuingCardholderListParams{
		PhoneNumber: stripe.String(trimmed),
		Status:      stripe.String(string(stripe.IssuingCardholderStatusActive)),
	}
	return ledger.firstCardholder(ctx, params)
}

// FindCardholderByCard returns the holder of the card with the given printed details.
func (ledger *Ledger) FindCardholderByCard(ctx context.Context, lookup benefits.CardLookup) (benefits.Cardholder, error) {
	params := &stripe.IssuingCardListParams{
		Last4:    stripe.String(lookup.Last4),
		ExpMonth: stripe.Int64(int64(lookup.ExpMonth)),
		ExpYear:  stripe.Int64(int64(lookup.ExpYear)),
	}
	params.Context = ctx
	params.Limit = stripe.Int64(1)
	iter := ledger.api.IssuingCards.List(params)
	for iter.Next() {
		card := iter.IssuingCard()
		if card.Cardholder == nil {
			continue
		}
		if card.Cardholder.Email == "" && card.Cardholder.Status == "" {
			return ledger.GetCardholder(ctx, card.Cardholder.ID)
		}
		return mapCardholder(card.Cardholder), nil
	}
	if err := iter.Err(); err != nil {
		return benefits.Cardholder{}, wrapLedgerError(errorSubjectCard, errorCodeList, err)
	}
	return benefits.Cardholder{}, benefits.ErrCardholderNotFound
}

// GetCardholder fetches a cardholder by id.
func (ledger *Ledger) GetCardholder(ctx context.Context, cardholderID string) (benefits.Cardholder, error) {
	if strings.TrimSpace(cardholderID) == "" {
		return benefits.Cardholder{}, benefits.ErrInvalidCardholderID
	}
	params := &stripe.IssuingCardholderParams{}
	params.Context = ctx
	cardholder, err := ledger.api.IssuingCardholders.Get(cardholderID, params)
	if err != nil {
		if isResourceMissing(err) {
			return benefits.Cardholder{}, benefits.ErrCardholderNotFound
		}
		return benefits.Cardholder{}, wrapLedgerError(errorSubjectCardholder, errorCodeGet, err)
	}
	return mapCardholder(cardholder), nil
}

// ListCardholders streams cardholders matching filter, following pagination.
func (ledger *Ledger) ListCardholders(ctx context.Context, filter benefits.CardholderFilter, visit func(benefits.Cardholder) error) error {
	params := &stripe.IssuingCardholderListParams{}
	if email := benefits.NormalizeEmail(filter.Email); email != "" {
		params.Email = stripe.String(email)
	}
	if filter.Status != "" {
		params.Status = stripe.String(string(filter.Status))
	}
	params.Context = ctx
	iter := ledger.api.IssuingCardholders.List(params)
	for iter.Next() {
		if err := visit(mapCardholder(iter.IssuingCardholder())); err != nil {
			return err
		}
	}
	return wrapLedgerError(errorSubjectCardholder, errorCodeList, iter.Err())
}

// UpdateCardholder writes update in a single call.
func (ledger *Ledger) UpdateCardholder(ctx context.Context, cardholderID string, update benefits.CardholderUpdate) (benefits.Cardholder, error) {
	params := cardholderParams(update)
	params.Context = ctx
	cardholder, err := ledger.api.IssuingCardholders.Update(cardholderID, params)
	if err != nil {
		return benefits.Cardholder{}, wrapLedgerError(errorSubjectCardholder, errorCodeUpdate, err)
	}
	return mapCardholder(cardholder), nil
}

// ListTransactions streams settled transactions, most recent first.
func (ledger *Ledger) ListTransactions(ctx context.Context, query benefits.ActivityQuery, visit func(benefits.Transaction) error) error {
	params := &stripe.IssuingTransactionListParams{Cardholder: stripe.String(query.CardholderID)}
	if !query.Since.IsZero() {
		params.CreatedRange = &stripe.RangeQueryParams{GreaterThanOrEqual: query.Since.Unix()}
	}
	params.Context = ctx
	iter := ledger.api.IssuingTransactions.List(params)
	for iter.Next() {
		if err := visit(mapTransaction(iter.IssuingTransaction())); err != nil {
			return err
		}
	}
	return wrapLedgerError(errorSubjectActivity, errorCodeList, iter.Err())
}

// ListPendingAuthorizations streams authorizations still holding funds.
func (ledger *Ledger) ListPendingAuthorizations(ctx context.Context, query benefits.ActivityQuery, visit func(benefits.Authorization) error) error {
	params := &stripe.IssuingAuthorizationListParams{
		Cardholder: stripe.String(query.CardholderID),
		Status:     stripe.String(statusPending),
	}
	if !query.Since.IsZero() {
		params.CreatedRange = &stripe.RangeQueryParams{GreaterThanOrEqual: query.Since.Unix()}
	}
	params.Context = ctx
	iter := ledger.api.IssuingAuthorizations.List(params)
	for iter.Next() {
		if err := visit(mapAuthorization(iter.IssuingAuthorization())); err != nil {
			return err
		}
	}
	return wrapLedgerError(errorSubjectActivity, errorCodeList, iter.Err())
}

// ListCards streams a cardholder's cards.
func (ledger *Ledger) ListCards(ctx context.Context, cardholderID string, visit func(benefits.Card) error) error {
	params := &stripe.IssuingCardListParams{Cardholder: stripe.String(cardholderID)}
	params.Context = ctx
	iter := ledger.api.IssuingCards.List(params)
	for iter.Next() {
		if err := visit(mapCard(iter.IssuingCard())); err != nil {
			return err
		}
	}
	return wrapLedgerError(errorSubjectCard, errorCodeList, iter.Err())
}

// ClearCardSpendingLimits removes every card-level spending limit.
func (ledger *Ledger) ClearCardSpendingLimits(ctx context.Context, cardID string) error {
	params := &stripe.IssuingCardParams{}
	params.Context = ctx
	params.AddExtra(paramSpendingLimits, "")
	_, err := ledger.api.IssuingCards.Update(cardID, params)
	return wrapLedgerError(errorSubjectCard, errorCodeClear, err)
}

func (ledger *Ledger) firstCardholder(ctx context.Context, params *stripe.IssuingCardholderListParams) (benefits.Cardholder, error) {
	params.Context = ctx
	params.Limit = stripe.Int64(1)
	iter := ledger.api.IssuingCardholders.List(params)
	if iter.Next() {
		return mapCardholder(iter.IssuingCardholder()), nil
	}
	if err := iter.Err(); err != nil {
		return benefits.Cardholder{}, wrapLedgerError(errorSubjectCardholder, errorCodeList, err)
	}
	return benefits.Cardholder{}, benefits.ErrCardholderNotFound
}

func cardholderParams(update benefits.CardholderUpdate) *stripe.IssuingCardholderParams {
	params := &stripe.IssuingCardholderParams{}
	if update.Email != nil {
		params.Email = stripe.String(*update.Email)
	}
	keys := make([]string, 0, len(update.Metadata))
	for key := range update.Metadata {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		params.AddMetadata(key, update.Metadata[key])
	}
	switch {
	case update.SpendingLimit != nil:
		params.SpendingControls = &stripe.IssuingCardholderSpendingControlsParams{
			SpendingLimits: []*stripe.IssuingCardholderSpendingControlsSpendingLimitParams{{
				Amount:   stripe.Int64(update.SpendingLimit.Amount.Int64()),
				Interval: stripe.String(update.SpendingLimit.Interval.String()),
			}},
		}
	case update.ClearSpendingLimits:
		params.AddExtra(paramSpendingLimits, "")
	}
	return params
}

func isResourceMissing(err error) bool {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return stripeErr.Code == stripe.ErrorCodeResourceMissing || stripeErr.HTTPStatusCode == 404
	}
	return false
}

func wrapLedgerError(subject string, code string, err error) error {
	return benefits.WrapError(errorOperationLedger, subject, code, err)
}

var _ benefits.Ledger = (*Ledger)(nil)
