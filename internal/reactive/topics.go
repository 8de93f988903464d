package reactive

import "github.com/matheus3301/meshphone/internal/domain"

// Well-known topics.
const (
	DevicesTopic = "devices"
	StatusTopic  = "status"
)

// ConversationTopic is marked when the conversation of a device pair changes.
func ConversationTopic(a, b string) string {
	return "conversation:" + domain.ConversationKey(a, b)
}

// ConversationKeyTopic is ConversationTopic for an already built key.
func ConversationKeyTopic(key string) string {
	return "conversation:" + key
}

// ContactsTopic is marked when deviceID's contact list or its badges change.
func ContactsTopic(deviceID string) string {
	return "contacts:" + deviceID
}
