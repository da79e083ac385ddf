// Package notify delivers cardholder messages over SMS, e-mail, or the log.
package notify

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// Channel names accepted in configuration.
const (
	ChannelTwilio = "twilio"
	ChannelSMTP   = "smtp"
	ChannelLog    = "log"
)

// Recipient is where a message goes.
type Recipient struct {
	CardholderID string
	Name         string
	PhoneNumber  string
	Email        string
}

// Message is a rendered notification.
type Message struct {
	Subject string
	Body    string
}

// Sender delivers a message on one channel.
type Sender interface {
	Send(ctx context.Context, recipient Recipient, message Message) error
	// CanReach reports whether the recipient has an address on this channel.
	CanReach(recipient Recipient) bool
}

// LogSender writes messages to the log instead of delivering them.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender wraps logger.
func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger}
}

// Send implements Sender.
func (sender *LogSender) Send(_ context.Context, recipient Recipient, message Message) error {
	sender.logger.Info("notification not delivered, log channel",
		zap.String("cardholder_id", recipient.CardholderID),
		zap.String("subject", message.Subject),
		zap.String("body", message.Body),
	)
	return nil
}

// CanReach implements Sender. Any cardholder with a phone number counts, matching the SMS opt-in rules.
func (sender *LogSender) CanReach(recipient Recipient) bool {
	return strings.TrimSpace(recipient.PhoneNumber) != ""
}
