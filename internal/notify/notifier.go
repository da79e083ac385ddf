package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/skippy/island-grown/pkg/benefits"
	"go.uber.org/zap"
)

const (
	errorOperationNotify = "notify"
	errorSubjectOptIn    = "opt_in"
	errorSubjectWelcome  = "welcome"
	errorSubjectDeclined = "declined"
	errorSubjectBalance  = "balance"
	errorCodePersist     = "persist"
	errorCodeSend        = "send"
	errorCodeSnapshot    = "snapshot"
)

// BalanceSource produces the spend snapshot quoted in messages.
type BalanceSource interface {
	SpendBalance(ctx context.Context, cardholder *benefits.Cardholder, includeTransactions bool) (*benefits.SpendSnapshot, error)
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithLogger sets the diagnostic logger.
func WithLogger(logger *zap.Logger) Option {
	return func(notifier *Notifier) {
		if logger != nil {
			notifier.logger = logger
		}
	}
}

// WithOperationLogger reports every delivery attempt.
func WithOperationLogger(logger benefits.OperationLogger) Option {
	return func(notifier *Notifier) {
		if logger != nil {
			notifier.operations = logger
		}
	}
}

// Notifier renders cardholder messages and tracks opt-in state in cardholder metadata.
type Notifier struct {
	sender     Sender
	writer     benefits.CardholderWriter
	balances   BalanceSource
	templates  Templates
	vendors    []string
	logger     *zap.Logger
	operations benefits.OperationLogger
}

// NewNotifier wires a Notifier.
func NewNotifier(sender Sender, writer benefits.CardholderWriter, balances BalanceSource, templates Templates, vendors []string, options ...Option) (*Notifier, error) {
	if sender == nil {
		return nil, fmt.Errorf("%w: sender is nil", benefits.ErrInvalidServiceConfig)
	}
	if writer == nil {
		return nil, fmt.Errorf("%w: cardholder writer is nil", benefits.ErrInvalidServiceConfig)
	}
	if balances == nil {
		return nil, fmt.Errorf("%w: balance source is nil", benefits.ErrInvalidServiceConfig)
	}
	notifier := &Notifier{
		sender:     sender,
		writer:     writer,
		balances:   balances,
		templates:  templates.WithDefaults(),
		vendors:    append([]string(nil), vendors...),
		logger:     zap.NewNop(),
		operations: benefits.NopOperationLogger{},
	}
	for _, option := range options {
		if option != nil {
			option(notifier)
		}
	}
	return notifier, nil
}

// IsEnabled reports whether cardholder may be messaged. override skips the opt-in check
// but never the need for an address.
func (notifier *Notifier) IsEnabled(cardholder benefits.Cardholder, override bool) bool {
	if !notifier.sender.CanReach(recipientFor(cardholder)) {
		notifier.logger.Info("cardholder has no address for notifications", zap.String("cardholder_id", cardholder.ID))
		return false
	}
	if override {
		return true
	}
	value, present := cardholder.MetadataValue(benefits.MetadataSMSEnabled)
	switch {
	case value == benefits.MetadataValueTrue:
		return true
	case !present:
		notifier.logger.Warn("cardholder opt-in is not set", zap.String("cardholder_id", cardholder.ID))
	default:
		notifier.logger.Info("cardholder opted out of notifications", zap.String("cardholder_id", cardholder.ID))
	}
	return false
}

// PersistEnabled records an opt-in.
func (notifier *Notifier) PersistEnabled(ctx context.Context, cardholder benefits.Cardholder) (benefits.Cardholder, error) {
	if cardholder.Metadata[benefits.MetadataSMSEnabled] == benefits.MetadataValueTrue {
		return cardholder, nil
	}
	return notifier.persistOptIn(ctx, cardholder, benefits.MetadataValueTrue)
}

// PersistDisabled records an opt-out.
func (notifier *Notifier) PersistDisabled(ctx context.Context, cardholder benefits.Cardholder) (benefits.Cardholder, error) {
	if cardholder.Metadata[benefits.MetadataSMSEnabled] == benefits.MetadataValueFalse {
		return cardholder, nil
	}
	return notifier.persistOptIn(ctx, cardholder, benefits.MetadataValueFalse)
}

func (notifier *Notifier) persistOptIn(ctx context.Context, cardholder benefits.Cardholder, value string) (benefits.Cardholder, error) {
	update := benefits.CardholderUpdate{}
	update.SetMetadata(benefits.MetadataSMSEnabled, value)
	updated, err := notifier.writer.UpdateCardholder(ctx, cardholder.ID, update)
	if err != nil {
		return cardholder, benefits.WrapError(errorOperationNotify, errorSubjectOptIn, errorCodePersist, err)
	}
	return updated, nil
}

// WelcomeMessage is the greeting sent once per cardholder.
func (notifier *Notifier) WelcomeMessage() string {
	return notifier.templates.Welcome
}

// HelpMessage lists the supported text commands.
func (notifier *Notifier) HelpMessage() string {
	return notifier.templates.Help
}

// VendorsMessage lists participating vendors.
func (notifier *Notifier) VendorsMessage() string {
	return render(notifier.templates.Vendors, PlaceholderVendorList, strings.Join(notifier.vendors, ", "))
}

// BalanceMessage quotes the current balance and limit.
func (notifier *Notifier) BalanceMessage(ctx context.Context, cardholder benefits.Cardholder) (string, error) {
	snapshot, err := notifier.snapshot(ctx, cardholder)
	if err != nil {
		return "", benefits.WrapError(errorOperationNotify, errorSubjectBalance, errorCodeSnapshot, err)
	}
	return render(notifier.templates.Balance,
		PlaceholderCurrentBalance, benefits.FormatDollars(snapshot.BalanceDollars()),
		PlaceholderSpendLimit, benefits.FormatDollars(snapshot.SpendingLimitDollars()),
	), nil
}

// SendWelcome sends the welcome message unless it was already sent, then records that it was.
func (notifier *Notifier) SendWelcome(ctx context.Context, cardholder benefits.Cardholder, override bool) (bool, error) {
	if !notifier.IsEnabled(cardholder, override) {
		notifier.skip(ctx, cardholder, errorSubjectWelcome)
		return false, nil
	}
	if _, sent := cardholder.MetadataValue(benefits.MetadataSMSWelcomeSent); sent {
		return false, nil
	}
	if err := notifier.send(ctx, cardholder, notifier.templates.Welcome, errorSubjectWelcome); err != nil {
		return false, err
	}
	update := benefits.CardholderUpdate{}
	update.SetMetadata(benefits.MetadataSMSWelcomeSent, "1")
	if _, err := notifier.writer.UpdateCardholder(ctx, cardholder.ID, update); err != nil {
		return true, benefits.WrapError(errorOperationNotify, errorSubjectWelcome, errorCodePersist, err)
	}
	return true, nil
}

// DeclinedMessage renders the explanation for a declined authorization. ok is false when the
// authorization was approved or the decline cannot be classified.
func (notifier *Notifier) DeclinedMessage(ctx context.Context, cardholder benefits.Cardholder, authorization benefits.Authorization) (string, bool, error) {
	var detail string
	switch reason := benefits.ClassifyDecline(authorization); reason {
	case benefits.DeclineVendorNotVerified:
		detail = notifier.templates.DeclinedVendorNotFound
	case benefits.DeclineOverBalance:
		detail = notifier.templates.DeclinedOverBalance
	case benefits.DeclineNone:
		notifier.logger.Error("authorization was not declined", zap.String("authorization_id", authorization.ID))
		return "", false, nil
	default:
		notifier.logger.Error("unexpected declined authorization", zap.String("authorization_id", authorization.ID), zap.String("reason", string(reason)))
		return "", false, nil
	}
	snapshot, err := notifier.snapshot(ctx, cardholder)
	if err != nil {
		return "", false, benefits.WrapError(errorOperationNotify, errorSubjectDeclined, errorCodeSnapshot, err)
	}
	message := render(notifier.templates.Declined, PlaceholderDeclinedMessage, detail)
	message = render(message,
		PlaceholderVendorName, authorization.Merchant.Name,
		PlaceholderAuthAmount, benefits.FormatDollars(authorization.RequestedAmount().Dollars()),
		PlaceholderCurrentBalance, benefits.FormatDollars(snapshot.BalanceDollars()),
	)
	return message, true, nil
}

// SendDeclined notifies cardholder about a declined authorization.
func (notifier *Notifier) SendDeclined(ctx context.Context, cardholder benefits.Cardholder, authorization benefits.Authorization, override bool) (bool, error) {
	if !notifier.IsEnabled(cardholder, override) {
		notifier.skip(ctx, cardholder, errorSubjectDeclined)
		return false, nil
	}
	message, ok, err := notifier.DeclinedMessage(ctx, cardholder, authorization)
	if err != nil || !ok {
		return false, err
	}
	if err := notifier.send(ctx, cardholder, message, errorSubjectDeclined); err != nil {
		return false, err
	}
	return true, nil
}

func (notifier *Notifier) send(ctx context.Context, cardholder benefits.Cardholder, body string, subject string) error {
	err := notifier.sender.Send(ctx, recipientFor(cardholder), Message{Subject: notifier.templates.Subject, Body: body})
	entry := benefits.OperationLog{
		Operation:    benefits.OperationSendNotification,
		CardholderID: cardholder.ID,
		Detail:       subject,
		Status:       benefits.OperationStatusOK,
	}
	if err != nil {
		entry.Status = benefits.OperationStatusError
		entry.Error = err
	}
	notifier.operations.LogOperation(ctx, entry)
	return benefits.WrapError(errorOperationNotify, subject, errorCodeSend, err)
}

func (notifier *Notifier) skip(ctx context.Context, cardholder benefits.Cardholder, subject string) {
	notifier.operations.LogOperation(ctx, benefits.OperationLog{
		Operation:    benefits.OperationSendNotification,
		CardholderID: cardholder.ID,
		Detail:       subject,
		Status:       benefits.OperationStatusSkipped,
		Error:        benefits.ErrNotificationDisabled,
	})
}

func (notifier *Notifier) snapshot(ctx context.Context, cardholder benefits.Cardholder) (*benefits.SpendSnapshot, error) {
	snapshot, err := notifier.balances.SpendBalance(ctx, &cardholder, false)
	if err != nil {
		return nil, err
	}
	if snapshot == nil {
		return nil, benefits.ErrCardholderNotFound
	}
	return snapshot, nil
}

func recipientFor(cardholder benefits.Cardholder) Recipient {
	return Recipient{
		CardholderID: cardholder.ID,
		Name:         cardholder.Name,
		PhoneNumber:  cardholder.PhoneNumber,
		Email:        cardholder.Email,
	}
}
