package store

// MuteEntry is one muted conversation seen from DeviceID.
type MuteEntry struct {
	DeviceID  string
	ContactID string
}

// OutboxEntry is an envelope waiting to be replicated.
type OutboxEntry struct {
	ID           int64
	EventID      string
	Mode         string // broadcast, direct, coordinator
	Target       string
	Envelope     []byte
	Status       string // queued, sent, failed
	Attempts     int
	ErrorMessage string
}
