package benefits

// EventType names the webhook events this system reacts to.
type EventType string

const (
	EventAuthorizationRequested EventType = "authorization.requested"
	EventAuthorizationFinalized EventType = "authorization.finalized"
	EventCardholderCreated      EventType = "cardholder.created"
	EventCardholderUpdated      EventType = "cardholder.updated"
	EventCardCreated            EventType = "card.created"
	EventCardUpdated            EventType = "card.updated"
	EventUnhandled              EventType = "unhandled"
)

// Event is a verified webhook delivery. Exactly one payload field is set for handled types.
type Event struct {
	ID            string
	Type          EventType
	SourceType    string
	Livemode      bool
	Authorization *Authorization
	Cardholder    *Cardholder
	Card          *Card
}
