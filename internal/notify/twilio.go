package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/twilio/twilio-go"
	twilioclient "github.com/twilio/twilio-go/client"
	twilioapi "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"
)

// TwilioConfig holds Twilio credentials. Either AuthToken or APIKey/APISecret authenticates.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	APIKey     string
	APISecret  string
	FromNumber string
}

type messageCreator interface {
	CreateMessage(params *twilioapi.CreateMessageParams) (*twilioapi.ApiV2010Message, error)
}

// TwilioSender delivers SMS through the Twilio REST API.
type TwilioSender struct {
	messages   messageCreator
	fromNumber string
	logger     *zap.Logger
}

// NewTwilioSender builds a sender from credentials.
func NewTwilioSender(cfg TwilioConfig, logger *zap.Logger) (*TwilioSender, error) {
	if strings.TrimSpace(cfg.AccountSID) == "" {
		return nil, fmt.Errorf("twilio account sid is required")
	}
	if strings.TrimSpace(cfg.FromNumber) == "" {
		return nil, fmt.Errorf("twilio from number is required")
	}
	params := twilio.ClientParams{Username: cfg.AccountSID, Password: cfg.AuthToken, AccountSid: cfg.AccountSID}
	if cfg.APIKey != "" {
		params.Username = cfg.APIKey
		params.Password = cfg.APISecret
	}
	if params.Password == "" {
		return nil, fmt.Errorf("twilio auth token or api secret is required")
	}
	client := twilio.NewRestClientWithParams(params)
	return newTwilioSender(client.Api, cfg.FromNumber, logger), nil
}

func newTwilioSender(messages messageCreator, fromNumber string, logger *zap.Logger) *TwilioSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TwilioSender{messages: messages, fromNumber: fromNumber, logger: logger}
}

// Send implements Sender.
func (sender *TwilioSender) Send(ctx context.Context, recipient Recipient, message Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	params := &twilioapi.CreateMessageParams{}
	params.SetTo(recipient.PhoneNumber)
	params.SetFrom(sender.fromNumber)
	params.SetBody(message.Body)
	response, err := sender.messages.CreateMessage(params)
	if err != nil {
		return fmt.Errorf("twilio create message: %w", err)
	}
	if response != nil && response.ErrorCode != nil {
		errorMessage := ""
		if response.ErrorMessage != nil {
			errorMessage = *response.ErrorMessage
		}
		return fmt.Errorf("twilio create message: code %d: %s", *response.ErrorCode, errorMessage)
	}
	if response != nil && response.Sid != nil {
		sender.logger.Debug("sms sent", zap.String("cardholder_id", recipient.CardholderID), zap.String("sid", *response.Sid))
	}
	return nil
}

// CanReach implements Sender.
func (sender *TwilioSender) CanReach(recipient Recipient) bool {
	return strings.TrimSpace(recipient.PhoneNumber) != ""
}

// InboundValidator checks the X-Twilio-Signature header on inbound webhooks.
type InboundValidator struct {
	validator twilioclient.RequestValidator
}

// NewInboundValidator validates with the account auth token.
func NewInboundValidator(authToken string) *InboundValidator {
	return &InboundValidator{validator: twilioclient.NewRequestValidator(authToken)}
}

// Validate reports whether signature matches the request URL and form parameters.
func (validator *InboundValidator) Validate(requestURL string, params map[string]string, signature string) bool {
	return validator.validator.Validate(requestURL, params, signature)
}
