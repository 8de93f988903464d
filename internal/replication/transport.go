package replication

import (
	"context"
	"fmt"

	"github.com/matheus3301/meshphone/internal/domain"
)

// Mode is one of the three delivery modes of the bus.
type Mode string

const (
	ModeBroadcast   Mode = "broadcast"
	ModeDirect      Mode = "direct"
	ModeCoordinator Mode = "coordinator"
)

// Transport moves envelopes between clients. Delivery is asynchronous,
// unordered and at-least-once. Send failures wrap domain.ErrTransportUnavailable.
type Transport interface {
	BroadcastToAll(ctx context.Context, env Envelope) error
	SendTo(ctx context.Context, userID string, env Envelope) error
	SendToCoordinator(ctx context.Context, env Envelope) error
	// Inbound yields envelopes addressed to this client. It is closed by Close.
	Inbound() <-chan Envelope
	// Peers lists the other users currently reachable.
	Peers() []string
	// CoordinatorID names the current coordinator, or "" when none is known.
	CoordinatorID() string
	Close() error
}

// Deliver sends env over t using mode.
func Deliver(ctx context.Context, t Transport, mode Mode, target string, env Envelope) error {
	switch mode {
	case ModeBroadcast:
		return t.BroadcastToAll(ctx, env)
	case ModeDirect:
		return t.SendTo(ctx, target, env)
	case ModeCoordinator:
		return t.SendToCoordinator(ctx, env)
	default:
		return fmt.Errorf("unknown delivery mode %q", mode)
	}
}

// Unavailable wraps a transport failure in domain.ErrTransportUnavailable.
func Unavailable(op string, err error) error {
	if err == nil {
		return fmt.Errorf("%s: %w", op, domain.ErrTransportUnavailable)
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrTransportUnavailable, err)
}

// Publisher seals typed events and sends them. Implementations keep the
// envelope for a later retry when the transport is down, so an error that
// wraps domain.ErrTransportUnavailable still means "saved locally".
type Publisher interface {
	Publish(ctx context.Context, mode Mode, target string, ev Event) (Envelope, error)
	Peers() []string
	Self() Origin
	CoordinatorID() string
}
