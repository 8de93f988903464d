package api

import (
	"time"

	"github.com/matheus3301/meshphone/internal/dispatch"
	"github.com/matheus3301/meshphone/internal/domain"
	"github.com/matheus3301/meshphone/internal/service"
)

// Empty is the request or response of calls without arguments.
type Empty struct{}

type StatusResponse struct {
	Session       string         `json:"session"`
	UserID        string         `json:"userId"`
	Coordinator   bool           `json:"coordinator"`
	Link          string         `json:"link"`
	LinkSince     time.Time      `json:"linkSince"`
	UptimeMs      int64          `json:"uptimeMs"`
	Peers         []string       `json:"peers"`
	Devices       int            `json:"devices"`
	LocalDevices  []string       `json:"localDevices"`
	MessageCount  int            `json:"messageCount"`
	PendingOutbox int            `json:"pendingOutbox"`
	Dispatch      dispatch.Stats `json:"dispatch"`
}

type DeviceRequest struct {
	DeviceID string `json:"deviceId,omitempty"`
	Owner    string `json:"owner,omitempty"`
	Source   string `json:"source,omitempty"`
	Label    string `json:"label,omitempty"`
}

type DeviceInfo struct {
	domain.Device
	PhoneNumber string `json:"phoneNumber"`
	Local       bool   `json:"local"`
}

type DevicesResponse struct {
	Devices []DeviceInfo `json:"devices"`
}

type OpenResponse struct {
	SyncRequestID string `json:"syncRequestId"`
}

type LookupRequest struct {
	Number string `json:"number"`
}

type SendRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
	Text string `json:"text"`
}

type MessageResponse struct {
	Message domain.Message `json:"message"`
}

type ConversationRequest struct {
	Viewer   string `json:"viewer"`
	Other    string `json:"other"`
	MarkRead bool   `json:"markRead,omitempty"`
}

type ConversationResponse struct {
	Messages []domain.Message `json:"messages"`
	Unread   int              `json:"unread"`
}

type ContactRequest struct {
	DeviceID  string `json:"deviceId"`
	ContactID string `json:"contactId,omitempty"`
	Number    string `json:"number,omitempty"`
}

type ContactResponse struct {
	ContactID string `json:"contactId"`
}

type ContactsResponse struct {
	Contacts []service.ContactEntry `json:"contacts"`
}

type CountResponse struct {
	Count int `json:"count"`
}

type DeleteRequest struct {
	DeviceA    string   `json:"deviceA"`
	DeviceB    string   `json:"deviceB"`
	MessageIDs []string `json:"messageIds"`
}

type MuteRequest struct {
	DeviceID  string `json:"deviceId"`
	ContactID string `json:"contactId"`
	Toggle    bool   `json:"toggle,omitempty"`
	Muted     bool   `json:"muted,omitempty"`
}

type MuteResponse struct {
	Muted bool `json:"muted"`
}

type WorldResponse struct {
	Devices domain.DeviceData `json:"devices"`
	Phones  domain.PhoneData  `json:"phones"`
}

// WatchRequest selects bus events by kind prefix; empty means all.
type WatchRequest struct {
	Prefix string `json:"prefix,omitempty"`
}

// WatchEvent is one bus event on the watch stream.
type WatchEvent struct {
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}
