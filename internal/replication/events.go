// Package replication defines the envelope and typed events exchanged between
// clients, and the transport contract that moves them.
package replication

import (
	"encoding/json"

	"github.com/matheus3301/meshphone/internal/domain"
)

// Event names carried in Envelope.Name.
const (
	NameContactUpdate          = "contactUpdate"
	NameMessageUpdate          = "messageUpdate"
	NameMessageDeletion        = "messageDeletion"
	NameConversationClear      = "conversationClear"
	NameRequestMessageSync     = "requestMessageSync"
	NameMessageSyncResponse    = "messageSyncResponse"
	NameRequestCoordinatorSave = "requestCoordinatorSave"
	NameCoordinatorSaveResult  = "coordinatorSaveResult"
	NameDeviceUpdate           = "deviceUpdate"
	NameRequestWorldSnapshot   = "requestWorldSnapshot"
	NameWorldSnapshot          = "worldSnapshot"
)

// Event is one of the typed payloads below. The set is closed.
type Event interface {
	EventName() string
	event()
}

// ContactAction says how a contact edge changed.
type ContactAction string

const (
	ContactAdd     ContactAction = "add"
	ContactRemove  ContactAction = "remove"
	ContactAutoAdd ContactAction = "auto-add"
)

// ReasonMessageReceived tags the reciprocal edge added by the send flow.
const ReasonMessageReceived = "message-received"

// ContactUpdate propagates a change of the edge DeviceID -> ContactDeviceID.
type ContactUpdate struct {
	DeviceID        string        `json:"deviceId"`
	ContactDeviceID string        `json:"contactDeviceId"`
	Action          ContactAction `json:"action"`
	Reason          string        `json:"reason,omitempty"`
}

// MessageUpdate propagates a newly sent message.
type MessageUpdate struct {
	SenderID   string         `json:"senderId"`
	ReceiverID string         `json:"receiverId"`
	Message    domain.Message `json:"message"`
}

// MessageDeletion propagates an administrative deletion.
type MessageDeletion struct {
	DeviceIDA  string   `json:"deviceIdA"`
	DeviceIDB  string   `json:"deviceIdB"`
	MessageIDs []string `json:"messageIds"`
}

// ConversationClear propagates a one-sided history clear of DeviceID's copy.
type ConversationClear struct {
	DeviceID        string `json:"deviceId"`
	ContactDeviceID string `json:"contactDeviceId"`
}

// RequestMessageSync asks every peer for recent messages of DeviceID.
type RequestMessageSync struct {
	RequestID        string `json:"requestId"`
	RequestingUserID string `json:"requestingUserId"`
	DeviceID         string `json:"deviceId"`
	Timestamp        int64  `json:"timestamp"`
}

// SyncedMessage is a message tagged with its conversation key.
type SyncedMessage struct {
	ConversationKey string         `json:"conversationKey"`
	Message         domain.Message `json:"message"`
}

// MessageSyncResponse answers a RequestMessageSync. RequestTimestamp echoes
// the request's timestamp so the requester can judge staleness on its own clock.
type MessageSyncResponse struct {
	RequestID        string          `json:"requestId"`
	RespondingUserID string          `json:"respondingUserId"`
	RequestingUserID string          `json:"requestingUserId"`
	DeviceID         string          `json:"deviceId"`
	RequestTimestamp int64           `json:"requestTimestamp,omitempty"`
	Messages         []SyncedMessage `json:"messages"`
}

// RequestCoordinatorSave asks the coordinator to commit a world document.
type RequestCoordinatorSave struct {
	RequestID string          `json:"requestId"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
}

// CoordinatorSaveResult reports the outcome of a delegated save.
type CoordinatorSaveResult struct {
	RequestID string `json:"requestId"`
	Kind      string `json:"kind"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
}

// DeviceUpdate propagates device registrations and removals.
type DeviceUpdate struct {
	Devices      []domain.Device   `json:"devices,omitempty"`
	Removed      []string          `json:"removed,omitempty"`
	PhoneNumbers map[string]string `json:"phoneNumbers,omitempty"`
}

// RequestWorldSnapshot asks the coordinator for the full world documents.
type RequestWorldSnapshot struct {
	RequestingUserID string `json:"requestingUserId"`
}

// WorldSnapshot carries the coordinator's world documents.
type WorldSnapshot struct {
	Devices domain.DeviceData `json:"devices"`
	Phones  domain.PhoneData  `json:"phones"`
}

func (ContactUpdate) EventName() string          { return NameContactUpdate }
func (MessageUpdate) EventName() string          { return NameMessageUpdate }
func (MessageDeletion) EventName() string        { return NameMessageDeletion }
func (ConversationClear) EventName() string      { return NameConversationClear }
func (RequestMessageSync) EventName() string     { return NameRequestMessageSync }
func (MessageSyncResponse) EventName() string    { return NameMessageSyncResponse }
func (RequestCoordinatorSave) EventName() string { return NameRequestCoordinatorSave }
func (CoordinatorSaveResult) EventName() string  { return NameCoordinatorSaveResult }
func (DeviceUpdate) EventName() string           { return NameDeviceUpdate }
func (RequestWorldSnapshot) EventName() string   { return NameRequestWorldSnapshot }
func (WorldSnapshot) EventName() string          { return NameWorldSnapshot }

func (ContactUpdate) event()          {}
func (MessageUpdate) event()          {}
func (MessageDeletion) event()        {}
func (ConversationClear) event()      {}
func (RequestMessageSync) event()     {}
func (MessageSyncResponse) event()    {}
func (RequestCoordinatorSave) event() {}
func (CoordinatorSaveResult) event()  {}
func (DeviceUpdate) event()           {}
func (RequestWorldSnapshot) event()   {}
func (WorldSnapshot) event()          {}
