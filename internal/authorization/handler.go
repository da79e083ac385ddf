// Package authorization answers the issuing network's real-time authorization requests and
// follows up on finalized declines.
package authorization

import (
	"context"
	"fmt"
	"strings"

	"github.com/skippy/island-grown/internal/vendormatch"
	"github.com/skippy/island-grown/pkg/benefits"
	"go.uber.org/zap"
)

const (
	errorOperationAuthorization = "authorization"
	errorSubjectFinalized       = "finalized"
	errorCodeClaim              = "claim"
	errorCodeLookup             = "lookup"
	errorCodeNotify             = "notify"
	errorCodeInvalid            = "invalid"

	notificationKindDeclined = "declined"
)

// DeclineNotifier tells a cardholder why a purchase was declined.
type DeclineNotifier interface {
	SendDeclined(ctx context.Context, cardholder benefits.Cardholder, authorization benefits.Authorization, override bool) (bool, error)
}

// NotificationClaimer remembers which events already produced a notification.
type NotificationClaimer interface {
	ClaimNotification(ctx context.Context, eventID string, kind string, cardholderID string) (bool, error)
	ReleaseNotification(ctx context.Context, eventID string) error
}

// Decision is the response body the issuing network treats as the approve/decline instruction.
type Decision struct {
	Approved bool              `json:"approved"`
	Metadata map[string]string `json:"metadata"`
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

// WithNotificationClaims suppresses duplicate decline notifications on redelivered events.
func WithNotificationClaims(claims NotificationClaimer) Option {
	return func(handler *Handler) {
		handler.claims = claims
	}
}

// Handler runs the vendor check and decline follow-up.
type Handler struct {
	matcher   *vendormatch.Matcher
	directory benefits.CardholderDirectory
	notifier  DeclineNotifier
	claims    NotificationClaimer
	logger    *zap.Logger
}

// NewHandler wires a Handler.
func NewHandler(matcher *vendormatch.Matcher, directory benefits.CardholderDirectory, notifier DeclineNotifier, options ...Option) (*Handler, error) {
	if matcher == nil {
		return nil, fmt.Errorf("%w: vendor matcher is nil", benefits.ErrInvalidServiceConfig)
	}
	if directory == nil {
		return nil, fmt.Errorf("%w: cardholder directory is nil", benefits.ErrInvalidServiceConfig)
	}
	if notifier == nil {
		return nil, fmt.Errorf("%w: notifier is nil", benefits.ErrInvalidServiceConfig)
	}
	handler := &Handler{matcher: matcher, directory: directory, notifier: notifier, logger: zap.NewNop()}
	for _, option := range options {
		if option != nil {
			option(handler)
		}
	}
	return handler, nil
}

// Decide approves authorization when its merchant is a verified vendor. It makes no network calls.
func (handler *Handler) Decide(authorization benefits.Authorization) Decision {
	result := handler.matcher.Match(authorization.Merchant.Name, authorization.Merchant.PostalCode)
	decision := Decision{
		Approved: result.VendorVerified,
		Metadata: map[string]string{
			benefits.MetadataVendorFound:        valueOrFalse(result.Vendor),
			benefits.MetadataVendorPostalCode:   valueOrFalse(result.VendorPostalCode),
			benefits.MetadataMerchantPostalCode: result.MerchantPostalCode,
		},
	}
	if result.InApprovedPostalList {
		decision.Metadata[benefits.MetadataInApprovedPostalList] = benefits.MetadataValueTrue
	}
	handler.logger.Info("authorization decided",
		zap.String("authorization_id", authorization.ID),
		zap.Bool("approved", decision.Approved),
		zap.String("vendor_found", decision.Metadata[benefits.MetadataVendorFound]),
		zap.String("merchant_postal_code", result.MerchantPostalCode),
	)
	return decision
}

// Finalize notifies the cardholder when a finalized authorization was declined. It reports
// whether a message went out. A redelivered event is notified at most once when claims are wired.
func (handler *Handler) Finalize(ctx context.Context, event benefits.Event) (bool, error) {
	authorization := event.Authorization
	if authorization == nil {
		return false, benefits.WrapError(errorOperationAuthorization, errorSubjectFinalized, errorCodeInvalid, benefits.ErrUnsupportedEvent)
	}
	if authorization.Approved {
		return false, nil
	}
	cardholderID := authorization.CardholderID
	if cardholderID == "" && authorization.Cardholder != nil {
		cardholderID = authorization.Cardholder.ID
	}
	if strings.TrimSpace(cardholderID) == "" {
		return false, benefits.WrapError(errorOperationAuthorization, errorSubjectFinalized, errorCodeInvalid, benefits.ErrInvalidCardholderID)
	}

	if handler.claims != nil {
		claimed, err := handler.claims.ClaimNotification(ctx, event.ID, notificationKindDeclined, cardholderID)
		if err != nil {
			return false, benefits.WrapError(errorOperationAuthorization, errorSubjectFinalized, errorCodeClaim, err)
		}
		if !claimed {
			handler.logger.Info("decline already notified", zap.String("event_id", event.ID), zap.String("authorization_id", authorization.ID))
			return false, nil
		}
	}

	cardholder, err := handler.directory.GetCardholder(ctx, cardholderID)
	if err != nil {
		handler.release(ctx, event.ID)
		return false, benefits.WrapError(errorOperationAuthorization, errorSubjectFinalized, errorCodeLookup, err)
	}
	sent, err := handler.notifier.SendDeclined(ctx, cardholder, *authorization, false)
	if err != nil {
		handler.release(ctx, event.ID)
		return false, benefits.WrapError(errorOperationAuthorization, errorSubjectFinalized, errorCodeNotify, err)
	}
	return sent, nil
}

func (handler *Handler) release(ctx context.Context, eventID string) {
	if handler.claims == nil {
		return
	}
	if err := handler.claims.ReleaseNotification(ctx, eventID); err != nil {
		handler.logger.Error("release notification claim failed", zap.String("event_id", eventID), zap.Error(err))
	}
}

func valueOrFalse(value string) string {
	if value == "" {
		return benefits.MetadataValueFalse
	}
	return value
}
