// Package lifecycle keeps cardholders and cards consistent with the funding program as the
// ledger reports changes to them.
package lifecycle

import (
	"context"
	"fmt"

	"github.com/skippy/island-grown/internal/spending"
	"github.com/skippy/island-grown/pkg/benefits"
	"go.uber.org/zap"
)

const (
	errorOperationLifecycle = "lifecycle"
	errorSubjectCardholder  = "cardholder"
	errorSubjectCard        = "card"
	errorCodeInvalid        = "invalid"
	errorCodeOptIn          = "opt_in"
	errorCodeRecompute      = "recompute"
	errorCodeUpdate         = "update"
	errorCodeClear          = "clear_limits"
	errorCodeList           = "list"
)

// FundingRecomputer decides the next funding step for a cardholder.
type FundingRecomputer interface {
	Recompute(ctx context.Context, cardholder benefits.Cardholder) (spending.Outcome, error)
}

// WelcomeSender greets a cardholder once.
type WelcomeSender interface {
	SendWelcome(ctx context.Context, cardholder benefits.Cardholder, override bool) (bool, error)
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the diagnostic logger.
func WithLogger(logger *zap.Logger) Option {
	return func(handler *Handler) {
		if logger != nil {
			handler.logger = logger
		}
	}
}

// WithOperationLogger reports every ledger write.
func WithOperationLogger(logger benefits.OperationLogger) Option {
	return func(handler *Handler) {
		if logger != nil {
			handler.operations = logger
		}
	}
}

// WithWelcomeSender greets cardholders after each update.
func WithWelcomeSender(welcome WelcomeSender) Option {
	return func(handler *Handler) {
		handler.welcome = welcome
	}
}

// Handler reacts to cardholder and card events.
type Handler struct {
	writer     benefits.CardholderWriter
	cards      benefits.CardManager
	recomputer FundingRecomputer
	welcome    WelcomeSender
	logger     *zap.Logger
	operations benefits.OperationLogger
}

// NewHandler wires a Handler.
func NewHandler(writer benefits.CardholderWriter, cards benefits.CardManager, recomputer FundingRecomputer, options ...Option) (*Handler, error) {
	if writer == nil {
		return nil, fmt.Errorf("%w: cardholder writer is nil", benefits.ErrInvalidServiceConfig)
	}
	if cards == nil {
		return nil, fmt.Errorf("%w: card manager is nil", benefits.ErrInvalidServiceConfig)
	}
	if recomputer == nil {
		return nil, fmt.Errorf("%w: recomputer is nil", benefits.ErrInvalidServiceConfig)
	}
	handler := &Handler{
		writer:     writer,
		cards:      cards,
		recomputer: recomputer,
		logger:     zap.NewNop(),
		operations: benefits.NopOperationLogger{},
	}
	for _, option := range options {
		if option != nil {
			option(handler)
		}
	}
	return handler, nil
}

// Handle dispatches a verified event. Unhandled types are ignored.
func (handler *Handler) Handle(ctx context.Context, event benefits.Event) error {
	switch event.Type {
	case benefits.EventCardholderCreated:
		if event.Cardholder == nil {
			return missingPayload(errorSubjectCardholder)
		}
		return handler.CardholderCreated(ctx, *event.Cardholder)
	case benefits.EventCardholderUpdated:
		if event.Cardholder == nil {
			return missingPayload(errorSubjectCardholder)
		}
		_, err := handler.CardholderUpdated(ctx, *event.Cardholder)
		return err
	case benefits.EventCardCreated, benefits.EventCardUpdated:
		if event.Card == nil {
			return missingPayload(errorSubjectCard)
		}
		_, err := handler.CardChanged(ctx, *event.Card)
		return err
	default:
		handler.logger.Warn("unhandled event type", zap.String("event_id", event.ID), zap.String("event_type", string(event.Type)))
		return nil
	}
}

// CardholderCreated stores the SMS opt-in default for a new cardholder, then runs the update path.
func (handler *Handler) CardholderCreated(ctx context.Context, cardholder benefits.Cardholder) error {
	if _, present := cardholder.MetadataValue(benefits.MetadataSMSEnabled); !present {
		update := benefits.CardholderUpdate{}
		update.SetMetadata(benefits.MetadataSMSEnabled, benefits.MetadataValueTrue)
		updated, err := handler.write(ctx, cardholder.ID, update)
		if err != nil {
			return benefits.WrapError(errorOperationLifecycle, errorSubjectCardholder, errorCodeOptIn, err)
		}
		cardholder = updated
	}
	_, err := handler.CardholderUpdated(ctx, cardholder)
	return err
}

// CardholderUpdated normalizes the email, applies any funding step, and writes both in a single
// call. Nothing is written when nothing changed. It returns the cardholder as stored.
func (handler *Handler) CardholderUpdated(ctx context.Context, cardholder benefits.Cardholder) (benefits.Cardholder, error) {
	if cardholder.ID == "" {
		return cardholder, benefits.WrapError(errorOperationLifecycle, errorSubjectCardholder, errorCodeInvalid, benefits.ErrInvalidCardholderID)
	}
	update := benefits.CardholderUpdate{}
	if normalized := benefits.NormalizeEmail(cardholder.Email); normalized != cardholder.Email {
		update.Email = &normalized
	}
	outcome, err := handler.recomputer.Recompute(ctx, cardholder)
	if err != nil {
		return cardholder, benefits.WrapError(errorOperationLifecycle, errorSubjectCardholder, errorCodeRecompute, err)
	}
	update = update.Merge(outcome.Update)

	current := cardholder
	if !update.IsEmpty() {
		current, err = handler.write(ctx, cardholder.ID, update)
		if err != nil {
			return cardholder, benefits.WrapError(errorOperationLifecycle, errorSubjectCardholder, errorCodeUpdate, err)
		}
	}

	if handler.welcome != nil {
		if _, err := handler.welcome.SendWelcome(ctx, current, false); err != nil {
			handler.logger.Error("welcome message failed", zap.String("cardholder_id", cardholder.ID), zap.Error(err))
		}
	}
	return current, nil
}

// CardChanged removes card-level spending limits, which would conflict with the cardholder
// ceiling. It reports whether a write was needed.
func (handler *Handler) CardChanged(ctx context.Context, card benefits.Card) (bool, error) {
	if len(card.SpendingControls.SpendingLimits) == 0 {
		return false, nil
	}
	err := handler.cards.ClearCardSpendingLimits(ctx, card.ID)
	handler.operations.LogOperation(ctx, operationLog(benefits.OperationClearCardLimits, card.CardholderID, card.ID, err))
	if err != nil {
		return false, benefits.WrapError(errorOperationLifecycle, errorSubjectCard, errorCodeClear, err)
	}
	return true, nil
}

// ClearCardholderCards runs CardChanged for every card the cardholder holds and returns how
// many were cleared.
func (handler *Handler) ClearCardholderCards(ctx context.Context, cardholderID string) (int, error) {
	cleared := 0
	err := handler.cards.ListCards(ctx, cardholderID, func(card benefits.Card) error {
		changed, err := handler.CardChanged(ctx, card)
		if changed {
			cleared++
		}
		return err
	})
	if err != nil {
		return cleared, benefits.WrapError(errorOperationLifecycle, errorSubjectCard, errorCodeList, err)
	}
	return cleared, nil
}

func (handler *Handler) write(ctx context.Context, cardholderID string, update benefits.CardholderUpdate) (benefits.Cardholder, error) {
	updated, err := handler.writer.UpdateCardholder(ctx, cardholderID, update)
	entry := operationLog(benefits.OperationUpdateCardholder, cardholderID, "", err)
	if update.SpendingLimit != nil {
		entry.Amount = update.SpendingLimit.Amount
	}
	handler.operations.LogOperation(ctx, entry)
	return updated, err
}

func operationLog(operation string, cardholderID string, detail string, err error) benefits.OperationLog {
	entry := benefits.OperationLog{
		Operation:    operation,
		CardholderID: cardholderID,
		Detail:       detail,
		Status:       benefits.OperationStatusOK,
	}
	if err != nil {
		entry.Status = benefits.OperationStatusError
		entry.Error = err
	}
	return entry
}

func missingPayload(subject string) error {
	return benefits.WrapError(errorOperationLifecycle, subject, errorCodeInvalid, benefits.ErrUnsupportedEvent)
}
