package httpapi

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/skippy/island-grown/pkg/benefits"
	"go.uber.org/zap"
)

const (
	headerStripeSignature = "Stripe-Signature"
	headerStripeVersion   = "Stripe-Version"
	maxWebhookBytes       = 1 << 20
	messageWebhookError   = "Webhook Error: signature verification failed"
)

// verifiedEvent reads and authenticates the delivery. On failure it has already answered 400.
func (handler *Handler) verifiedEvent(ctx *gin.Context) (benefits.Event, bool) {
	payload, err := io.ReadAll(http.MaxBytesReader(ctx.Writer, ctx.Request.Body, maxWebhookBytes))
	if err != nil {
		ctx.String(http.StatusBadRequest, messageWebhookError)
		return benefits.Event{}, false
	}
	event, err := handler.deps.Events.VerifyEvent(payload, ctx.GetHeader(headerStripeSignature))
	if err != nil {
		handler.logger.Warn("webhook rejected", zap.String("path", ctx.FullPath()), zap.Error(err))
		ctx.String(http.StatusBadRequest, messageWebhookError)
		return benefits.Event{}, false
	}
	return event, true
}

func (handler *Handler) handleAuthorizationWebhook(ctx *gin.Context) {
	event, ok := handler.verifiedEvent(ctx)
	if !ok {
		return
	}
	switch event.Type {
	case benefits.EventAuthorizationRequested:
		if event.Authorization == nil {
			ctx.String(http.StatusBadRequest, "authorization payload missing")
			return
		}
		decision := handler.deps.Authorizations.Decide(*event.Authorization)
		ctx.Header(headerStripeVersion, handler.deps.Events.APIVersion())
		ctx.JSON(http.StatusOK, decision)
	case benefits.EventAuthorizationFinalized:
		notified, err := handler.deps.Authorizations.Finalize(ctx.Request.Context(), event)
		if err != nil {
			handler.logger.Error("finalized authorization follow-up failed", zap.String("event_id", event.ID), zap.Error(err))
		} else if notified {
			handler.logger.Info("decline notification sent", zap.String("event_id", event.ID))
		}
		ctx.Status(http.StatusOK)
	default:
		handler.logger.Warn("unhandled event type", zap.String("event_id", event.ID), zap.String("event_type", event.SourceType))
		ctx.Status(http.StatusOK)
	}
}

func (handler *Handler) handleCardholderWebhook(ctx *gin.Context) {
	event, ok := handler.verifiedEvent(ctx)
	if !ok {
		return
	}
	if err := handler.deps.Lifecycle.Handle(ctx.Request.Context(), event); err != nil {
		handler.logger.Error("cardholder event failed",
			zap.String("event_id", event.ID),
			zap.String("event_type", event.SourceType),
			zap.Error(err),
		)
	}
	ctx.Status(http.StatusOK)
}
