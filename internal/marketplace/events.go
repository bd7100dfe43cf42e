package marketplace

// Event is a protocol lifecycle notification published after a transition
// commits.
type Event struct {
	Type string `json:"type"`
	At   int64  `json:"at"`
	Data any    `json:"data"`
}

// Event types published by the service.
const (
	EventDomainCreated   = "domain.created"
	EventKeychainCreated = "keychain.created"
	EventKeyAdded        = "keychain.key_added"
	EventKeyConfirmed    = "keychain.key_confirmed"
	EventKeyRemoved      = "keychain.key_removed"
	EventListingCreated  = "listing.created"
	EventListingSold     = "listing.sold"
	EventListingDelisted = "listing.delisted"
)

// EventSink receives published events. Implementations must not block;
// slow consumers drop.
type EventSink interface {
	Publish(e Event)
}

// discardSink is the default sink when none is configured.
type discardSink struct{}

func (discardSink) Publish(Event) {}
