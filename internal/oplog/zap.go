// Package oplog reports domain operations to zap.
package oplog

import (
	"context"

	"github.com/skippy/island-grown/pkg/benefits"
	"go.uber.org/zap"
)

// ZapLogger implements benefits.OperationLogger.
type ZapLogger struct {
	logger *zap.Logger
}

// New wraps logger. A nil logger discards entries.
func New(logger *zap.Logger) *ZapLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapLogger{logger: logger}
}

// LogOperation implements benefits.OperationLogger.
func (operationLogger *ZapLogger) LogOperation(_ context.Context, entry benefits.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("cardholder_id", entry.CardholderID),
		zap.String("status", entry.Status),
	}
	if entry.Amount != 0 {
		fields = append(fields, zap.Int64("amount_cents", entry.Amount.Int64()))
	}
	if entry.Detail != "" {
		fields = append(fields, zap.String("detail", entry.Detail))
	}
	if entry.Status == benefits.OperationStatusSkipped {
		if entry.Error != nil {
			fields = append(fields, zap.NamedError("reason", entry.Error))
		}
		operationLogger.logger.Info("operation skipped", fields...)
		return
	}
	if entry.Error != nil {
		operationLogger.logger.Error("operation failed", append(fields, zap.Error(entry.Error))...)
		return
	}
	operationLogger.logger.Info("operation", fields...)
}
