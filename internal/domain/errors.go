package domain

import "errors"

// Error taxonomy shared by every component. Callers wrap these with
// fmt.Errorf("...: %w", err) and match with errors.Is.
var (
	// ErrTransportUnavailable means the replication bus could not be reached.
	// Local state is already committed when this is returned.
	ErrTransportUnavailable = errors.New("replication transport unavailable")

	// ErrStaleEvent marks an event dropped because it is too old or self-originated.
	ErrStaleEvent = errors.New("stale event")

	// ErrDuplicateEntity marks a message or edge already present by identity.
	ErrDuplicateEntity = errors.New("duplicate entity")

	// ErrUnauthorizedWrite is returned when a non-coordinator writes world-scoped state.
	ErrUnauthorizedWrite = errors.New("unauthorized world store write")

	// ErrNotFound is returned for unknown device IDs or phone numbers.
	ErrNotFound = errors.New("not found")
)
