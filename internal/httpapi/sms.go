package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/skippy/island-grown/internal/notify"
	"github.com/skippy/island-grown/pkg/benefits"
	"go.uber.org/zap"
)

const (
	headerTwilioSignature = "X-Twilio-Signature"
	formFrom              = "From"
	formBody              = "Body"
)

type smsCommand int

const (
	commandHelp smsCommand = iota
	commandOptOut
	commandOptIn
	commandCarrierHelp
	commandWelcome
	commandVendors
	commandBalance
)

var smsCommands = map[string]smsCommand{
	"stop":        commandOptOut,
	"cancel":      commandOptOut,
	"end":         commandOptOut,
	"quit":        commandOptOut,
	"stopall":     commandOptOut,
	"unsubscribe": commandOptOut,
	"start":       commandOptIn,
	"unstop":      commandOptIn,
	"yes":         commandOptIn,
	"h":           commandCarrierHelp,
	"help":        commandCarrierHelp,
	"hel":         commandCarrierHelp,
	"info":        commandCarrierHelp,
	"in":          commandCarrierHelp,
	"w":           commandWelcome,
	"welcome":     commandWelcome,
	"v":           commandVendors,
	"vendor":      commandVendors,
	"vendors":     commandVendors,
	"ven":         commandVendors,
	"b":           commandBalance,
	"balance":     commandBalance,
	"bal":         commandBalance,
}

func parseCommand(body string) smsCommand {
	if command, ok := smsCommands[strings.ToLower(strings.TrimSpace(body))]; ok {
		return command
	}
	return commandHelp
}

func (handler *Handler) handleInboundSMS(ctx *gin.Context) {
	if err := ctx.Request.ParseForm(); err != nil {
		ctx.String(http.StatusBadRequest, "Bad Request")
		return
	}
	if handler.deps.InboundValidator != nil && !handler.validInboundSignature(ctx) {
		handler.logger.Warn("inbound sms signature rejected")
		ctx.String(http.StatusForbidden, "Forbidden")
		return
	}

	requestCtx := ctx.Request.Context()
	cardholder, err := handler.deps.Directory.FindCardholderByPhone(requestCtx, ctx.PostForm(formFrom))
	if errors.Is(err, benefits.ErrCardholderNotFound) {
		ctx.String(http.StatusNotFound, "Not Found")
		return
	}
	if err != nil {
		handler.logger.Error("inbound sms lookup failed", zap.Error(err))
		ctx.String(http.StatusInternalServerError, "Internal Server Error")
		return
	}

	messenger := handler.deps.Messenger
	command := parseCommand(ctx.PostForm(formBody))
	var reply string
	switch command {
	case commandOptOut:
		_, err = messenger.PersistDisabled(requestCtx, cardholder)
	case commandOptIn:
		_, err = messenger.PersistEnabled(requestCtx, cardholder)
	case commandCarrierHelp:
		// the carrier answers these keywords itself
	case commandWelcome:
		reply = messenger.WelcomeMessage()
	case commandVendors:
		reply = messenger.VendorsMessage()
	case commandBalance:
		reply, err = messenger.BalanceMessage(requestCtx, cardholder)
	default:
		reply = messenger.HelpMessage()
	}
	if err != nil {
		handler.logger.Error("inbound sms command failed", zap.String("cardholder_id", cardholder.ID), zap.Error(err))
		ctx.String(http.StatusInternalServerError, "Internal Server Error")
		return
	}
	if reply == "" {
		ctx.Status(http.StatusOK)
		return
	}
	document, err := notify.MessagingResponse(reply)
	if err != nil {
		handler.logger.Error("twiml render failed", zap.Error(err))
		ctx.String(http.StatusInternalServerError, "Internal Server Error")
		return
	}
	ctx.Data(http.StatusOK, notify.TwiMLContentType, []byte(document))
}

func (handler *Handler) validInboundSignature(ctx *gin.Context) bool {
	params := make(map[string]string, len(ctx.Request.PostForm))
	for key, values := range ctx.Request.PostForm {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}
	return handler.deps.InboundValidator.Validate(handler.inboundURL(ctx), params, ctx.GetHeader(headerTwilioSignature))
}

func (handler *Handler) inboundURL(ctx *gin.Context) string {
	if handler.deps.InboundURL != "" {
		return handler.deps.InboundURL
	}
	scheme := "http"
	if ctx.Request.TLS != nil {
		scheme = "https"
	}
	if forwarded := ctx.GetHeader("X-Forwarded-Proto"); forwarded != "" {
		scheme = forwarded
	}
	return scheme + "://" + ctx.Request.Host + ctx.Request.URL.RequestURI()
}
