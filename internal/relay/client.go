package relay

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/matheus3301/meshphone/internal/bus"
	"github.com/matheus3301/meshphone/internal/replication"
	"github.com/matheus3301/meshphone/internal/status"
)

// ClientConfig describes how a client reaches the relay.
type ClientConfig struct {
	Address     string
	UserID      string
	Coordinator bool
	MinBackoff  time.Duration
	MaxBackoff  time.Duration
	// DialOptions are appended to the defaults; tests use them to inject bufconn.
	DialOptions []grpc.DialOption
}

// Client is a replication.Transport backed by a relay stream. It keeps
// reconnecting until Close is called.
type Client struct {
	cfg     ClientConfig
	conn    *grpc.ClientConn
	logger  *zap.Logger
	machine *status.Machine
	events  *bus.Bus

	inbound chan replication.Envelope

	mu          sync.RWMutex
	stream      connectClientStream
	peers       []string
	coordinator string

	sendMu sync.Mutex

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

var _ replication.Transport = (*Client)(nil)

// Dial creates the client and starts its connection loop. machine and events may be nil.
func Dial(cfg ClientConfig, logger *zap.Logger, machine *status.Machine, events *bus.Bus) (*Client, error) {
	if cfg.UserID == "" {
		return nil, errors.New("relay client: user ID is required")
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = 100 * time.Millisecond
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = 5 * time.Second
	}

	opts := append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, cfg.DialOptions...)
	conn, err := grpc.NewClient(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("relay client %s: %w", cfg.Address, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		cfg:     cfg,
		conn:    conn,
		logger:  logger.With(zap.String("relay", cfg.Address)),
		machine: machine,
		events:  events,
		inbound: make(chan replication.Envelope, 256),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go c.run(ctx)
	return c, nil
}

// Connected reports whether a stream is currently established.
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stream != nil
}

// CoordinatorID returns the coordinator announced by the relay.
func (c *Client) CoordinatorID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.coordinator
}

// BroadcastToAll sends env to every other connected client.
func (c *Client) BroadcastToAll(ctx context.Context, env replication.Envelope) error {
	return c.send(ctx, Frame{Kind: KindEnvelope, Mode: replication.ModeBroadcast}, env)
}

// SendTo sends env to userID.
func (c *Client) SendTo(ctx context.Context, userID string, env replication.Envelope) error {
	return c.send(ctx, Frame{Kind: KindEnvelope, Mode: replication.ModeDirect, Target: userID}, env)
}

// SendToCoordinator sends env to the coordinator.
func (c *Client) SendToCoordinator(ctx context.Context, env replication.Envelope) error {
	if c.CoordinatorID() == "" {
		return replication.Unavailable("relay", errors.New("no coordinator connected"))
	}
	return c.send(ctx, Frame{Kind: KindEnvelope, Mode: replication.ModeCoordinator}, env)
}

// Inbound yields envelopes routed to this client.
func (c *Client) Inbound() <-chan replication.Envelope {
	return c.inbound
}

// Peers lists the other connected users.
func (c *Client) Peers() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.peers)
}

// Close stops reconnecting, closes the connection and then Inbound.
// Later calls return the first call's result.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		c.closeErr = c.conn.Close()
		<-c.done
		close(c.inbound)
	})
	return c.closeErr
}

func (c *Client) send(ctx context.Context, f Frame, env replication.Envelope) error {
	if err := ctx.Err(); err != nil {
		return replication.Unavailable("relay", err)
	}
	f.Envelope = &env
	v, err := encodeFrame(f)
	if err != nil {
		return err
	}

	c.mu.RLock()
	stream := c.stream
	c.mu.RUnlock()
	if stream == nil {
		return replication.Unavailable("relay", errors.New("not connected"))
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := stream.Send(v); err != nil {
		return replication.Unavailable("relay", err)
	}
	return nil
}

func (c *Client) run(ctx context.Context) {
	defer close(c.done)
	backoff := c.cfg.MinBackoff
	for {
		connected, err := c.session(ctx)
		if ctx.Err() != nil {
			return
		}
		if connected {
			backoff = c.cfg.MinBackoff
		}
		c.logger.Warn("relay stream lost", zap.Error(err), zap.Duration("retry_in", backoff))
		c.setLink(status.Degraded)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		backoff = min(backoff*2, c.cfg.MaxBackoff)
	}
}

func (c *Client) session(ctx context.Context) (bool, error) {
	c.setLink(status.Connecting)

	role := RoleParticipant
	if c.cfg.Coordinator {
		role = RoleCoordinator
	}
	sctx, cancel := context.WithCancel(metadata.AppendToOutgoingContext(ctx,
		MetadataUserID, c.cfg.UserID, MetadataRole, role))
	defer cancel()

	cs, err := c.conn.NewStream(sctx, &ServiceDesc.Streams[0], ConnectMethod)
	if err != nil {
		return false, err
	}
	stream := &grpc.GenericClientStream[wrapperspb.BytesValue, wrapperspb.BytesValue]{ClientStream: cs}

	// The hub answers every registration with a presence frame, so the first
	// Recv confirms the stream is live.
	first, err := stream.Recv()
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	c.stream = stream
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.stream = nil
		c.mu.Unlock()
	}()
	c.setLink(status.Online)
	c.logger.Info("relay connected")

	for v := first; ; {
		if err := c.handle(ctx, v); err != nil {
			return true, err
		}
		if v, err = stream.Recv(); err != nil {
			return true, err
		}
	}
}

func (c *Client) handle(ctx context.Context, v *wrapperspb.BytesValue) error {
	f, err := decodeFrame(v)
	if err != nil {
		c.logger.Warn("dropping malformed frame", zap.Error(err))
		return nil
	}
	switch f.Kind {
	case KindPresence:
		peers := slices.DeleteFunc(f.Peers, func(id string) bool { return id == c.cfg.UserID })
		c.mu.Lock()
		c.peers = peers
		c.coordinator = f.Coordinator
		c.mu.Unlock()
		if c.events != nil {
			c.events.Emit(bus.KindPeersChanged, peers)
		}
	case KindEnvelope:
		if f.Envelope == nil {
			return nil
		}
		select {
		case c.inbound <- *f.Envelope:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (c *Client) setLink(to status.State) {
	if c.machine == nil {
		return
	}
	if err := c.machine.Advance(to); err != nil {
		c.logger.Debug("link state unchanged", zap.Error(err))
	}
}
