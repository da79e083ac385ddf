package benefits

import (
	"errors"
	"strings"
)

// Domain-level error values returned by the benefit card services.
var (
	ErrCardholderNotFound     = errors.New("cardholder not found")
	ErrInvalidCardholderID    = errors.New("invalid cardholder id")
	ErrInvalidEmail           = errors.New("invalid email")
	ErrInvalidInterval        = errors.New("invalid spending limit interval")
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrInvalidPostalCode      = errors.New("invalid postal code")
	ErrInvalidFundingMetadata = errors.New("invalid funding metadata")
	ErrSignatureVerification  = errors.New("webhook signature verification failed")
	ErrUnsupportedEvent       = errors.New("unsupported event")
	ErrNotificationDisabled   = errors.New("notifications disabled for cardholder")
	ErrInvalidServiceConfig   = errors.New("invalid service config")
)

// OperationError tags a failure with where it happened.
type OperationError struct {
	Operation string
	Subject   string
	Code      string
	Err       error
}

// Path is the stable dotted identifier, e.g. ledger.cardholder.lookup.
func (failure OperationError) Path() string {
	return strings.Join([]string{failure.Operation, failure.Subject, failure.Code}, ".")
}

func (failure OperationError) Error() string {
	if failure.Err == nil {
		return failure.Path()
	}
	return failure.Path() + ": " + failure.Err.Error()
}

func (failure OperationError) Unwrap() error {
	return failure.Err
}

// Is matches an OperationError with the same path, so callers can test against a bare
// OperationError{Operation: "ledger", Subject: "cardholder", Code: "lookup"}.
func (failure OperationError) Is(target error) bool {
	var other OperationError
	switch typed := target.(type) {
	case OperationError:
		other = typed
	case *OperationError:
		if typed == nil {
			return false
		}
		other = *typed
	default:
		return false
	}
	return other.Path() == failure.Path()
}

// WrapError tags err with operation, subject and code. A nil err stays nil.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{Operation: operation, Subject: subject, Code: code, Err: err}
}
