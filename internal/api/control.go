package api

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/matheus3301/meshphone/internal/bus"
	"github.com/matheus3301/meshphone/internal/dispatch"
	"github.com/matheus3301/meshphone/internal/replication"
	"github.com/matheus3301/meshphone/internal/service"
	"github.com/matheus3301/meshphone/internal/status"
	"github.com/matheus3301/meshphone/internal/store"
)

// Control implements the control service over one client's components.
type Control struct {
	sessionName string
	startedAt   time.Time
	svc         *service.Service
	machine     *status.Machine
	pub         replication.Publisher
	db          *store.DB
	disp        *dispatch.Dispatcher
	bus         *bus.Bus
	logger      *zap.Logger
}

// NewControl creates the control service.
func NewControl(sessionName string, svc *service.Service, machine *status.Machine, pub replication.Publisher, db *store.DB, disp *dispatch.Dispatcher, b *bus.Bus, logger *zap.Logger) *Control {
	return &Control{
		sessionName: sessionName,
		startedAt:   time.Now(),
		svc:         svc,
		machine:     machine,
		pub:         pub,
		db:          db,
		disp:        disp,
		bus:         b,
		logger:      logger,
	}
}

func (c *Control) Status(_ context.Context, _ Empty) (StatusResponse, error) {
	self := c.svc.Self()
	resp := StatusResponse{
		Session:      c.sessionName,
		UserID:       self.UserID,
		Coordinator:  c.svc.IsCoordinator(),
		Link:         string(c.machine.Current()),
		LinkSince:    c.machine.Since(),
		UptimeMs:     time.Since(c.startedAt).Milliseconds(),
		Peers:        c.pub.Peers(),
		Devices:      len(c.svc.Devices()),
		LocalDevices: c.svc.LocalDevices(),
		Dispatch:     c.disp.Stats(),
	}
	if n, err := c.db.ForClient(self.UserID).MessageCount(); err == nil {
		resp.MessageCount = n
	}
	if pending, err := c.db.PendingOutbox(); err == nil {
		resp.PendingOutbox = len(pending)
	}
	return resp, nil
}

func (c *Control) World(_ context.Context, _ Empty) (WorldResponse, error) {
	devices, phones := c.svc.World()
	return WorldResponse{Devices: devices, Phones: phones}, nil
}

func (c *Control) RequestWorldSnapshot(ctx context.Context, _ Empty) (Empty, error) {
	c.svc.RequestWorldSnapshot(ctx)
	return Empty{}, nil
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	in := new(wrapperspb.BytesValue)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	var req WatchRequest
	if len(in.GetValue()) > 0 {
		if err := json.Unmarshal(in.GetValue(), &req); err != nil {
			return grpcstatus.Errorf(codes.InvalidArgument, "decode watch request: %v", err)
		}
	}
	return srv.(*Control).WatchEvents(req, stream)
}

// WatchEvents streams bus events whose kind starts with req.Prefix until
// the client goes away.
func (c *Control) WatchEvents(req WatchRequest, stream grpc.ServerStream) error {
	ch, unsub := c.bus.Subscribe(req.Prefix, 64)
	defer unsub()

	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return nil
			}
			raw, err := json.Marshal(WatchEvent{Kind: evt.Kind, Timestamp: evt.Timestamp, Payload: evt.Payload})
			if err != nil {
				c.logger.Warn("unencodable bus event", zap.String("kind", evt.Kind), zap.Error(err))
				continue
			}
			if err := stream.SendMsg(wrapperspb.Bytes(raw)); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

func required(fields ...string) error {
	for i := 0; i+1 < len(fields); i += 2 {
		if strings.TrimSpace(fields[i+1]) == "" {
			return grpcstatus.Errorf(codes.InvalidArgument, "%s is required", fields[i])
		}
	}
	return nil
}
