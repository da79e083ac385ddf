package stripeledger

import (
	"encoding/json"
	"fmt"

	"github.com/skippy/island-grown/pkg/benefits"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

const errorSubjectEvent = "event"

var eventTypes = map[string]benefits.EventType{
	"issuing_authorization.request": benefits.EventAuthorizationRequested,
	"issuing_authorization.created": benefits.EventAuthorizationFinalized,
	"issuing_cardholder.created":    benefits.EventCardholderCreated,
	"issuing_cardholder.updated":    benefits.EventCardholderUpdated,
	"issuing_card.created":          benefits.EventCardCreated,
	"issuing_card.updated":          benefits.EventCardUpdated,
}

// APIVersion is the Stripe API version the client speaks; authorization responses echo it.
func (ledger *Ledger) APIVersion() string {
	return stripe.APIVersion
}

// VerifyEvent checks the Stripe-Signature header against every configured secret and decodes
// the event. Event types this system does not handle come back as EventUnhandled.
func (ledger *Ledger) VerifyEvent(payload []byte, signatureHeader string) (benefits.Event, error) {
	var (
		event   stripe.Event
		lastErr error
	)
	verified := false
	for _, secret := range ledger.secrets {
		candidate, err := webhook.ConstructEventWithOptions(payload, signatureHeader, secret, webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
		if err == nil {
			event = candidate
			verified = true
			break
		}
		lastErr = err
	}
	if !verified {
		return benefits.Event{}, fmt.Errorf("%w: %v", benefits.ErrSignatureVerification, lastErr)
	}
	return decodeEvent(event)
}

func decodeEvent(event stripe.Event) (benefits.Event, error) {
	decoded := benefits.Event{ID: event.ID, Type: benefits.EventUnhandled, SourceType: string(event.Type), Livemode: event.Livemode}
	eventType, handled := eventTypes[string(event.Type)]
	if !handled || event.Data == nil {
		return decoded, nil
	}
	decoded.Type = eventType
	switch eventType {
	case benefits.EventAuthorizationRequested, benefits.EventAuthorizationFinalized:
		var authorization stripe.IssuingAuthorization
		if err := json.Unmarshal(event.Data.Raw, &authorization); err != nil {
			return benefits.Event{}, wrapLedgerError(errorSubjectEvent, string(event.Type), err)
		}
		mapped := mapAuthorization(&authorization)
		decoded.Authorization = &mapped
	case benefits.EventCardholderCreated, benefits.EventCardholderUpdated:
		var cardholder stripe.IssuingCardholder
		if err := json.Unmarshal(event.Data.Raw, &cardholder); err != nil {
			return benefits.Event{}, wrapLedgerError(errorSubjectEvent, string(event.Type), err)
		}
		mapped := mapCardholder(&cardholder)
		decoded.Cardholder = &mapped
	case benefits.EventCardCreated, benefits.EventCardUpdated:
		var card stripe.IssuingCard
		if err := json.Unmarshal(event.Data.Raw, &card); err != nil {
			return benefits.Event{}, wrapLedgerError(errorSubjectEvent, string(event.Type), err)
		}
		mapped := mapCard(&card)
		decoded.Card = &mapped
	}
	return decoded, nil
}
