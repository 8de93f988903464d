package relay

import (
	"errors"
	"io"
	"sort"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/matheus3301/meshphone/internal/replication"
)

const peerQueueSize = 256

type peer struct {
	userID      string
	coordinator bool
	out         chan *wrapperspb.BytesValue
	done        chan struct{}
	once        sync.Once
}

func (p *peer) stop() {
	p.once.Do(func() { close(p.done) })
}

// enqueue never blocks; a slow peer loses frames like any lossy bus.
func (p *peer) enqueue(v *wrapperspb.BytesValue) bool {
	select {
	case p.out <- v:
		return true
	default:
		return false
	}
}

// Hub routes frames between connected clients.
type Hub struct {
	mu          sync.RWMutex
	peers       map[string]*peer
	coordinator string
	closing     chan struct{}
	closeOnce   sync.Once
	logger      *zap.Logger
}

var _ RelayServer = (*Hub)(nil)

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		peers:   make(map[string]*peer),
		closing: make(chan struct{}),
		logger:  logger,
	}
}

// Close ends every open stream.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.closing) })
}

// Peers lists the connected user IDs.
func (h *Hub) Peers() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.peerIDsLocked()
}

// Coordinator returns the connected coordinator, if any.
func (h *Hub) Coordinator() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.coordinator
}

// Connect serves one client stream until it ends.
func (h *Hub) Connect(stream connectServerStream) error {
	select {
	case <-h.closing:
		return status.Error(codes.Unavailable, "relay shutting down")
	default:
	}
	userID, coordinator, err := identity(stream)
	if err != nil {
		return err
	}

	p, err := h.register(userID, coordinator)
	if err != nil {
		return err
	}
	logger := h.logger.With(zap.String("user_id", userID), zap.Bool("coordinator", coordinator))
	logger.Info("peer connected")
	defer func() {
		h.unregister(p)
		logger.Info("peer disconnected")
	}()

	errc := make(chan error, 1)
	go func() { errc <- h.readLoop(p, stream) }()

	for {
		select {
		case v := <-p.out:
			if err := stream.Send(v); err != nil {
				return err
			}
		case err := <-errc:
			return err
		case <-p.done:
			return status.Error(codes.Aborted, "replaced by a newer connection")
		case <-h.closing:
			return status.Error(codes.Unavailable, "relay shutting down")
		}
	}
}

func identity(stream connectServerStream) (string, bool, error) {
	md, _ := metadata.FromIncomingContext(stream.Context())
	ids := md.Get(MetadataUserID)
	if len(ids) == 0 || ids[0] == "" {
		return "", false, status.Error(codes.Unauthenticated, "missing "+MetadataUserID)
	}
	roles := md.Get(MetadataRole)
	return ids[0], len(roles) > 0 && roles[0] == RoleCoordinator, nil
}

func (h *Hub) register(userID string, coordinator bool) (*peer, error) {
	h.mu.Lock()
	if coordinator && h.coordinator != "" && h.coordinator != userID {
		h.mu.Unlock()
		return nil, status.Errorf(codes.AlreadyExists, "coordinator %s already connected", h.coordinator)
	}
	if old, ok := h.peers[userID]; ok {
		old.stop()
	}
	p := &peer{
		userID:      userID,
		coordinator: coordinator,
		out:         make(chan *wrapperspb.BytesValue, peerQueueSize),
		done:        make(chan struct{}),
	}
	h.peers[userID] = p
	if coordinator {
		h.coordinator = userID
	}
	h.broadcastPresenceLocked()
	h.mu.Unlock()
	return p, nil
}

func (h *Hub) unregister(p *peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.peers[p.userID] != p {
		return
	}
	delete(h.peers, p.userID)
	if h.coordinator == p.userID {
		h.coordinator = ""
	}
	h.broadcastPresenceLocked()
}

func (h *Hub) readLoop(p *peer, stream connectServerStream) error {
	for {
		v, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		f, err := decodeFrame(v)
		if err != nil || f.Kind != KindEnvelope || f.Envelope == nil {
			h.logger.Warn("dropping malformed frame", zap.String("from", p.userID), zap.Error(err))
			continue
		}
		f.From = p.userID
		h.route(f)
	}
}

func (h *Hub) route(f Frame) {
	v, err := encodeFrame(f)
	if err != nil {
		h.logger.Error("re-encode frame", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	var targets []*peer
	switch f.Mode {
	case replication.ModeBroadcast:
		for id, p := range h.peers {
			if id != f.From {
				targets = append(targets, p)
			}
		}
	case replication.ModeDirect:
		if p, ok := h.peers[f.Target]; ok {
			targets = append(targets, p)
		}
	case replication.ModeCoordinator:
		if p, ok := h.peers[h.coordinator]; ok {
			targets = append(targets, p)
		}
	}
	if len(targets) == 0 && f.Mode != replication.ModeBroadcast {
		h.logger.Debug("no route for frame",
			zap.String("from", f.From), zap.String("mode", string(f.Mode)), zap.String("target", f.Target),
			zap.String("event", f.Envelope.Name))
		return
	}
	for _, p := range targets {
		if !p.enqueue(v) {
			h.logger.Warn("peer queue full, frame dropped", zap.String("user_id", p.userID), zap.String("event", f.Envelope.Name))
		}
	}
}

func (h *Hub) broadcastPresenceLocked() {
	v, err := encodeFrame(Frame{
		Kind:        KindPresence,
		Peers:       h.peerIDsLocked(),
		Coordinator: h.coordinator,
	})
	if err != nil {
		h.logger.Error("encode presence", zap.Error(err))
		return
	}
	for _, p := range h.peers {
		p.enqueue(v)
	}
}

func (h *Hub) peerIDsLocked() []string {
	ids := make([]string, 0, len(h.peers))
	for id := range h.peers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
