package replication

import (
	"context"
	"errors"
	"sort"
	"sync"
)

const memoryInboxSize = 256

// MemoryHub connects in-process clients. It supports fault injection for
// offline clients and duplicate delivery.
type MemoryHub struct {
	mu          sync.RWMutex
	clients     map[string]*MemoryClient
	coordinator string
	offline     map[string]bool
	duplicate   bool
}

// NewMemoryHub returns an empty hub.
func NewMemoryHub() *MemoryHub {
	return &MemoryHub{
		clients: make(map[string]*MemoryClient),
		offline: make(map[string]bool),
	}
}

// Join attaches userID to the hub. Joining again replaces the previous client.
func (h *MemoryHub) Join(userID string, coordinator bool) *MemoryClient {
	c := &MemoryClient{
		hub:    h,
		userID: userID,
		inbox:  make(chan Envelope, memoryInboxSize),
	}
	h.mu.Lock()
	if old, ok := h.clients[userID]; ok {
		old.closeInbox()
	}
	h.clients[userID] = c
	if coordinator {
		h.coordinator = userID
	}
	h.mu.Unlock()
	return c
}

// SetOffline makes userID unreachable: its sends fail and nothing is delivered to it.
func (h *MemoryHub) SetOffline(userID string, offline bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if offline {
		h.offline[userID] = true
	} else {
		delete(h.offline, userID)
	}
}

// SetDuplicate makes every delivery happen twice.
func (h *MemoryHub) SetDuplicate(on bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.duplicate = on
}

func (h *MemoryHub) leave(c *MemoryClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c.userID] == c {
		delete(h.clients, c.userID)
		if h.coordinator == c.userID {
			h.coordinator = ""
		}
	}
	c.closeInbox()
}

func (h *MemoryHub) send(from string, targets func(string) bool, env Envelope) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.offline[from] {
		return Unavailable("memory hub", errors.New(from+" is offline"))
	}
	if _, ok := h.clients[from]; !ok {
		return Unavailable("memory hub", errors.New(from+" has left"))
	}
	copies := 1
	if h.duplicate {
		copies = 2
	}
	for id, c := range h.clients {
		if !targets(id) || h.offline[id] {
			continue
		}
		for range copies {
			c.push(env)
		}
	}
	return nil
}

// MemoryClient is one user's Transport on a MemoryHub.
type MemoryClient struct {
	hub    *MemoryHub
	userID string

	mu     sync.Mutex
	inbox  chan Envelope
	closed bool
}

var _ Transport = (*MemoryClient)(nil)

func (c *MemoryClient) push(env Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.inbox <- env:
	default:
		// Inbox full: the bus is lossy, merge-by-identity recovers on the next sync.
	}
}

func (c *MemoryClient) closeInbox() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.inbox)
	}
}

// BroadcastToAll delivers env to every other client.
func (c *MemoryClient) BroadcastToAll(_ context.Context, env Envelope) error {
	return c.hub.send(c.userID, func(id string) bool { return id != c.userID }, env)
}

// SendTo delivers env to userID only.
func (c *MemoryClient) SendTo(_ context.Context, userID string, env Envelope) error {
	return c.hub.send(c.userID, func(id string) bool { return id == userID }, env)
}

// SendToCoordinator delivers env to the coordinator, which may be this client.
func (c *MemoryClient) SendToCoordinator(_ context.Context, env Envelope) error {
	c.hub.mu.RLock()
	coord := c.hub.coordinator
	c.hub.mu.RUnlock()
	if coord == "" {
		return Unavailable("memory hub", errors.New("no coordinator"))
	}
	return c.hub.send(c.userID, func(id string) bool { return id == coord }, env)
}

// Inbound yields envelopes addressed to this client.
func (c *MemoryClient) Inbound() <-chan Envelope {
	return c.inbox
}

// CoordinatorID returns the user that joined as coordinator, if still attached.
func (c *MemoryClient) CoordinatorID() string {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	return c.hub.coordinator
}

// Peers lists the other online clients, sorted.
func (c *MemoryClient) Peers() []string {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	var out []string
	for id := range c.hub.clients {
		if id != c.userID && !c.hub.offline[id] {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Close leaves the hub and closes Inbound.
func (c *MemoryClient) Close() error {
	c.hub.leave(c)
	return nil
}
