package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/jordan-wright/email"
	"go.uber.org/zap"
)

// SMTPConfig holds outgoing mail settings.
type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

type mailDeliverer func(message *email.Email, address string, auth smtp.Auth) error

// EmailSender delivers notifications over SMTP.
type EmailSender struct {
	cfg     SMTPConfig
	deliver mailDeliverer
	logger  *zap.Logger
}

// NewEmailSender builds a sender for cfg.
func NewEmailSender(cfg SMTPConfig, logger *zap.Logger) (*EmailSender, error) {
	if strings.TrimSpace(cfg.Host) == "" || strings.TrimSpace(cfg.Port) == "" {
		return nil, fmt.Errorf("smtp host and port are required")
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, fmt.Errorf("smtp from address is required")
	}
	return newEmailSender(cfg, func(message *email.Email, address string, auth smtp.Auth) error {
		return message.Send(address, auth)
	}, logger), nil
}

func newEmailSender(cfg SMTPConfig, deliver mailDeliverer, logger *zap.Logger) *EmailSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EmailSender{cfg: cfg, deliver: deliver, logger: logger}
}

// Send implements Sender.
func (sender *EmailSender) Send(ctx context.Context, recipient Recipient, message Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	outgoing := email.NewEmail()
	outgoing.From = sender.cfg.From
	outgoing.To = []string{recipient.Email}
	outgoing.Subject = message.Subject
	outgoing.Text = []byte(message.Body)

	address := fmt.Sprintf("%s:%s", sender.cfg.Host, sender.cfg.Port)
	var auth smtp.Auth
	if sender.cfg.Username != "" {
		auth = smtp.PlainAuth("", sender.cfg.Username, sender.cfg.Password, sender.cfg.Host)
	}
	if err := sender.deliver(outgoing, address, auth); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	sender.logger.Debug("email sent", zap.String("cardholder_id", recipient.CardholderID), zap.String("subject", message.Subject))
	return nil
}

// CanReach implements Sender.
func (sender *EmailSender) CanReach(recipient Recipient) bool {
	return strings.TrimSpace(recipient.Email) != ""
}
