// Package syncer implements join-time reconciliation and coordinator-mediated
// writes to the world store.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matheus3301/meshphone/internal/domain"
	"github.com/matheus3301/meshphone/internal/replication"
)

// State is the state of one sync request, or of one peer within it.
type State string

const (
	Idle          State = "IDLE"
	RequestSent   State = "REQUEST_SENT"
	AwaitingReply State = "AWAITING_REPLY"
	Merged        State = "MERGED"
	TimedOut      State = "TIMED_OUT"
)

// Defaults for Config.
const (
	DefaultWindow     = 24 * time.Hour
	DefaultStaleAfter = 30 * time.Second
)

// Config bounds reconciliation.
type Config struct {
	// Window is how far back a peer looks when answering a request.
	Window time.Duration
	// StaleAfter drops replies that arrive later than this after the request.
	StaleAfter time.Duration
}

func (c Config) withDefaults() Config {
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = DefaultStaleAfter
	}
	return c
}

// MessageStore is the part of the conversation store reconciliation needs.
type MessageStore interface {
	HasPartition(part string) bool
	Since(part string, cutoff int64) map[string][]domain.Message
	Merge(part, key string, msg domain.Message) bool
}

// Request is the bookkeeping of one outgoing sync request.
type Request struct {
	ID       string
	DeviceID string
	SentAt   int64
	State    State
	Peers    map[string]State
	Merged   int
}

func (r *Request) clone() Request {
	out := *r
	out.Peers = make(map[string]State, len(r.Peers))
	for k, v := range r.Peers {
		out.Peers[k] = v
	}
	return out
}

// settle recomputes the request state from its peers.
func (r *Request) settle() {
	if r.State == Idle {
		return
	}
	waiting, merged := 0, 0
	for _, s := range r.Peers {
		switch s {
		case AwaitingReply:
			waiting++
		case Merged:
			merged++
		}
	}
	switch {
	case merged > 0:
		r.State = Merged
	case waiting > 0:
		r.State = AwaitingReply
	case len(r.Peers) > 0:
		r.State = TimedOut
	}
}

// Reconciler pulls recent messages of a device from every peer and merges
// the replies by message identity.
type Reconciler struct {
	mu       sync.Mutex
	store    MessageStore
	pub      replication.Publisher
	cfg      Config
	now      func() time.Time
	requests map[string]*Request
	onMerge  func(deviceID string, keys []string)
	logger   *zap.Logger
}

// NewReconciler creates a reconciler. onMerge, if set, runs after a reply
// merged at least one message, with the affected conversation keys.
func NewReconciler(store MessageStore, pub replication.Publisher, cfg Config, now func() time.Time, onMerge func(string, []string), logger *zap.Logger) *Reconciler {
	if now == nil {
		now = time.Now
	}
	return &Reconciler{
		store:    store,
		pub:      pub,
		cfg:      cfg.withDefaults(),
		now:      now,
		requests: make(map[string]*Request),
		onMerge:  onMerge,
		logger:   logger,
	}
}

// Request broadcasts a sync request for deviceID. The request is tracked
// even when the broadcast fails, since the outbox may still deliver it.
func (r *Reconciler) Request(ctx context.Context, deviceID string) (string, error) {
	now := r.now()
	req := &Request{
		ID:       uuid.NewString(),
		DeviceID: deviceID,
		SentAt:   now.UnixMilli(),
		State:    Idle,
		Peers:    make(map[string]State),
	}

	r.mu.Lock()
	r.pruneLocked(now)
	r.requests[req.ID] = req
	r.mu.Unlock()

	_, err := r.pub.Publish(ctx, replication.ModeBroadcast, "", replication.RequestMessageSync{
		RequestID:        req.ID,
		RequestingUserID: r.pub.Self().UserID,
		DeviceID:         deviceID,
		Timestamp:        req.SentAt,
	})

	peers := r.pub.Peers()
	r.mu.Lock()
	req.State = RequestSent
	for _, p := range peers {
		req.Peers[p] = AwaitingReply
	}
	req.settle()
	r.mu.Unlock()

	r.logger.Debug("sync requested",
		zap.String("request_id", req.ID), zap.String("device_id", deviceID), zap.Int("peers", len(peers)))
	if err != nil {
		return req.ID, fmt.Errorf("request sync %s: %w", deviceID, err)
	}
	return req.ID, nil
}

// Status returns a copy of the request's bookkeeping.
func (r *Reconciler) Status(id string) (Request, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[id]
	if !ok {
		return Request{}, false
	}
	return req.clone(), true
}

// HandleRequest answers a peer's sync request with up to Window of the
// device's messages. Clients without the device's partition stay silent.
func (r *Reconciler) HandleRequest(ctx context.Context, env replication.Envelope, ev replication.RequestMessageSync) error {
	self := r.pub.Self().UserID
	if env.OriginUserID == self || ev.RequestingUserID == self {
		return fmt.Errorf("sync request %s: %w", ev.RequestID, domain.ErrStaleEvent)
	}
	if !r.store.HasPartition(ev.DeviceID) {
		return nil
	}

	cutoff := r.now().Add(-r.cfg.Window).UnixMilli()
	byKey := r.store.Since(ev.DeviceID, cutoff)
	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var synced []replication.SyncedMessage
	for _, k := range keys {
		for _, m := range byKey[k] {
			synced = append(synced, replication.SyncedMessage{ConversationKey: k, Message: m})
		}
	}

	target := ev.RequestingUserID
	if target == "" {
		target = env.OriginUserID
	}
	_, err := r.pub.Publish(ctx, replication.ModeDirect, target, replication.MessageSyncResponse{
		RequestID:        ev.RequestID,
		RespondingUserID: self,
		RequestingUserID: target,
		DeviceID:         ev.DeviceID,
		RequestTimestamp: ev.Timestamp,
		Messages:         synced,
	})
	if err != nil {
		return fmt.Errorf("answer sync %s: %w", ev.RequestID, err)
	}
	r.logger.Debug("sync answered",
		zap.String("request_id", ev.RequestID), zap.String("to", target), zap.Int("messages", len(synced)))
	return nil
}

// HandleResponse merges a peer's reply. Self-originated and stale replies
// are rejected with domain.ErrStaleEvent. Returns how many messages were new.
//
// Staleness is judged on this client's clock: the send time of the tracked
// request, else the echoed request timestamp, else the reply's own timestamp.
func (r *Reconciler) HandleResponse(env replication.Envelope, ev replication.MessageSyncResponse) (int, error) {
	self := r.pub.Self().UserID
	if env.OriginUserID == self || ev.RespondingUserID == self {
		return 0, fmt.Errorf("sync reply %s: %w", ev.RequestID, domain.ErrStaleEvent)
	}
	responder := ev.RespondingUserID
	if responder == "" {
		responder = env.OriginUserID
	}

	now := r.now()
	r.mu.Lock()
	req := r.requests[ev.RequestID]
	sentAt := ev.RequestTimestamp
	if req != nil {
		sentAt = req.SentAt
	}
	if sentAt == 0 {
		sentAt = env.Timestamp
	}
	if now.UnixMilli()-sentAt > r.cfg.StaleAfter.Milliseconds() {
		if req != nil {
			req.Peers[responder] = TimedOut
			req.settle()
		}
		r.mu.Unlock()
		return 0, fmt.Errorf("sync reply %s from %s: %w", ev.RequestID, responder, domain.ErrStaleEvent)
	}
	r.mu.Unlock()

	merged := 0
	touched := make(map[string]struct{})
	for _, sm := range ev.Messages {
		key := sm.Message.Key()
		if sm.ConversationKey != "" && sm.ConversationKey != key {
			r.logger.Warn("sync reply key mismatch, using message participants",
				zap.String("tagged", sm.ConversationKey), zap.String("derived", key))
		}
		if r.store.Merge(ev.DeviceID, key, sm.Message) {
			merged++
			touched[key] = struct{}{}
		}
	}

	r.mu.Lock()
	if req != nil {
		req.Peers[responder] = Merged
		req.Merged += merged
		req.settle()
	}
	r.mu.Unlock()

	if merged > 0 && r.onMerge != nil {
		keys := make([]string, 0, len(touched))
		for k := range touched {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		r.onMerge(ev.DeviceID, keys)
	}
	r.logger.Debug("sync reply merged",
		zap.String("request_id", ev.RequestID), zap.String("from", responder),
		zap.Int("received", len(ev.Messages)), zap.Int("merged", merged))
	return merged, nil
}

// pruneLocked forgets requests whose replies can no longer be accepted.
func (r *Reconciler) pruneLocked(now time.Time) {
	horizon := now.Add(-2 * r.cfg.StaleAfter).UnixMilli()
	for id, req := range r.requests {
		if req.SentAt < horizon {
			delete(r.requests, id)
		}
	}
}

// IsStale reports whether err marks a dropped stale or self-originated event.
func IsStale(err error) bool {
	return errors.Is(err, domain.ErrStaleEvent)
}
