package replication

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Origin identifies the client that stamps outgoing envelopes.
type Origin struct {
	UserID    string
	UserName  string
	SessionID string
}

// Envelope is the common wrapper around every replicated event.
type Envelope struct {
	EventID        string          `json:"eventId"`
	Name           string          `json:"eventName"`
	Timestamp      int64           `json:"timestamp"`
	Seq            uint64          `json:"seq"`
	OriginUserID   string          `json:"originUserId"`
	OriginUserName string          `json:"originUserName"`
	SessionID      string          `json:"sessionId"`
	Payload        json.RawMessage `json:"payload"`
}

// Seal wraps ev in a new envelope with a fresh event ID.
func Seal(origin Origin, seq uint64, now time.Time, ev Event) (Envelope, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s: %w", ev.EventName(), err)
	}
	return Envelope{
		EventID:        uuid.NewString(),
		Name:           ev.EventName(),
		Timestamp:      now.UnixMilli(),
		Seq:            seq,
		OriginUserID:   origin.UserID,
		OriginUserName: origin.UserName,
		SessionID:      origin.SessionID,
		Payload:        payload,
	}, nil
}

// ErrUnknownEvent is returned by Open for names outside the event set.
type ErrUnknownEvent struct {
	Name string
}

func (e *ErrUnknownEvent) Error() string {
	return fmt.Sprintf("unknown event %q", e.Name)
}

// Open decodes the payload into the typed event named by the envelope.
func (e Envelope) Open() (Event, error) {
	var (
		ev  Event
		err error
	)
	switch e.Name {
	case NameContactUpdate:
		ev, err = decode[ContactUpdate](e.Payload)
	case NameMessageUpdate:
		ev, err = decode[MessageUpdate](e.Payload)
	case NameMessageDeletion:
		ev, err = decode[MessageDeletion](e.Payload)
	case NameConversationClear:
		ev, err = decode[ConversationClear](e.Payload)
	case NameRequestMessageSync:
		ev, err = decode[RequestMessageSync](e.Payload)
	case NameMessageSyncResponse:
		ev, err = decode[MessageSyncResponse](e.Payload)
	case NameRequestCoordinatorSave:
		ev, err = decode[RequestCoordinatorSave](e.Payload)
	case NameCoordinatorSaveResult:
		ev, err = decode[CoordinatorSaveResult](e.Payload)
	case NameDeviceUpdate:
		ev, err = decode[DeviceUpdate](e.Payload)
	case NameRequestWorldSnapshot:
		ev, err = decode[RequestWorldSnapshot](e.Payload)
	case NameWorldSnapshot:
		ev, err = decode[WorldSnapshot](e.Payload)
	default:
		return nil, &ErrUnknownEvent{Name: e.Name}
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", e.Name, err)
	}
	return ev, nil
}

func decode[T Event](raw json.RawMessage) (Event, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}
