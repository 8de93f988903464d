package domain

import (
	"sort"
	"time"

	"github.com/oklog/ulid/v2"
)

// Message is a single text message between two devices.
type Message struct {
	ID         string `json:"id"`
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
	Text       string `json:"text"`
	Timestamp  int64  `json:"timestamp"`
	Read       bool   `json:"read"`
}

// NewMessageID returns a globally unique, time-ordered message identifier.
func NewMessageID(now time.Time) string {
	return ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()
}

// Key returns the conversation key of the message's device pair.
func (m *Message) Key() string {
	return ConversationKey(m.SenderID, m.ReceiverID)
}

// Involves reports whether deviceID is the sender or receiver.
func (m *Message) Involves(deviceID string) bool {
	return m.SenderID == deviceID || m.ReceiverID == deviceID
}

// Before orders messages by timestamp, then by ID for equal timestamps.
func (m *Message) Before(o *Message) bool {
	if m.Timestamp != o.Timestamp {
		return m.Timestamp < o.Timestamp
	}
	return m.ID < o.ID
}

// SortMessages orders msgs in place using Before.
func SortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Before(&msgs[j]) })
}
