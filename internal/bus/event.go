package bus

import "time"

// Event kinds published inside one client process.
const (
	KindLinkStatusChanged = "link.status_changed"
	KindPeersChanged      = "link.peers_changed"

	KindOutboxQueued  = "outbox.queued"
	KindOutboxFlushed = "outbox.flushed"
	KindOutboxFailed  = "outbox.failed"

	KindWorldSaved = "world.saved"

	KindConversationChanged = "conversation.changed"
	KindMessageReceived     = "conversation.message_received"
)

// ConversationChange is the payload of KindConversationChanged.
type ConversationChange struct {
	Partition string `json:"partition"`
	Key       string `json:"key"`
}

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
