package benefits

import "context"

// Operation names reported to an OperationLogger.
const (
	OperationRecomputeFunding = "recompute_funding"
	OperationApplyDefaults    = "apply_defaults"
	OperationGrantRefill      = "grant_refill"
	OperationUpdateCardholder = "update_cardholder"
	OperationClearCardLimits  = "clear_card_limits"
	OperationSendNotification = "send_notification"
	OperationResetCardholder  = "reset_cardholder"
	OperationStatusOK         = "ok"
	OperationStatusSkipped    = "skipped"
	OperationStatusError      = "error"
)

// OperationLogger records domain-level events emitted by state-changing operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing operation on a cardholder.
type OperationLog struct {
	Operation    string
	CardholderID string
	Amount       AmountCents
	Detail       string
	Status       string
	Error        error
}

// NopOperationLogger discards every entry.
type NopOperationLogger struct{}

// LogOperation implements OperationLogger.
func (NopOperationLogger) LogOperation(context.Context, OperationLog) {}
