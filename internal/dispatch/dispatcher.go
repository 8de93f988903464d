// Package dispatch consumes inbound envelopes on a dedicated goroutine and
// hands each decoded event to a typed handler.
package dispatch

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/matheus3301/meshphone/internal/domain"
	"github.com/matheus3301/meshphone/internal/replication"
)

// Handler applies remote events to local state. Every method receives the
// envelope for origin and timing information.
type Handler interface {
	ApplyContactUpdate(ctx context.Context, env replication.Envelope, ev replication.ContactUpdate) error
	ApplyMessageUpdate(ctx context.Context, env replication.Envelope, ev replication.MessageUpdate) error
	ApplyMessageDeletion(ctx context.Context, env replication.Envelope, ev replication.MessageDeletion) error
	ApplyConversationClear(ctx context.Context, env replication.Envelope, ev replication.ConversationClear) error
	ApplyRequestMessageSync(ctx context.Context, env replication.Envelope, ev replication.RequestMessageSync) error
	ApplyMessageSyncResponse(ctx context.Context, env replication.Envelope, ev replication.MessageSyncResponse) error
	ApplyRequestCoordinatorSave(ctx context.Context, env replication.Envelope, ev replication.RequestCoordinatorSave) error
	ApplyCoordinatorSaveResult(ctx context.Context, env replication.Envelope, ev replication.CoordinatorSaveResult) error
	ApplyDeviceUpdate(ctx context.Context, env replication.Envelope, ev replication.DeviceUpdate) error
	ApplyRequestWorldSnapshot(ctx context.Context, env replication.Envelope, ev replication.RequestWorldSnapshot) error
	ApplyWorldSnapshot(ctx context.Context, env replication.Envelope, ev replication.WorldSnapshot) error
}

// DefaultSeenSize bounds the duplicate-detection window.
const DefaultSeenSize = 4096

// Stats are cumulative counters.
type Stats struct {
	Applied    uint64
	Duplicates uint64
	Self       uint64
	Stale      uint64
	Failed     uint64
}

// Dispatcher reads a transport's inbound channel.
type Dispatcher struct {
	self       string
	handler    Handler
	seen       *seenSet
	watermarks *replication.Watermarks
	logger     *zap.Logger

	stats  statsCounters
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a dispatcher for the client selfUserID.
func New(selfUserID string, handler Handler, seenSize int, logger *zap.Logger) *Dispatcher {
	if seenSize <= 0 {
		seenSize = DefaultSeenSize
	}
	return &Dispatcher{
		self:       selfUserID,
		handler:    handler,
		seen:       newSeenSet(seenSize),
		watermarks: replication.NewWatermarks(),
		logger:     logger,
	}
}

// Start consumes in until it is closed or ctx is done.
func (d *Dispatcher) Start(ctx context.Context, in <-chan replication.Envelope) {
	ctx, d.cancel = context.WithCancel(ctx)
	d.done = make(chan struct{})
	go func() {
		defer close(d.done)
		for {
			select {
			case env, ok := <-in:
				if !ok {
					return
				}
				d.Dispatch(ctx, env)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends the goroutine and waits for the event in flight.
func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
		<-d.done
	}
}

// Stats returns a snapshot of the counters.
func (d *Dispatcher) Stats() Stats {
	return d.stats.snapshot()
}

// Watermarks exposes the per-origin sequence tracker.
func (d *Dispatcher) Watermarks() *replication.Watermarks {
	return d.watermarks
}

// Dispatch applies one envelope synchronously. Exposed for tests and for
// replaying queued envelopes.
func (d *Dispatcher) Dispatch(ctx context.Context, env replication.Envelope) {
	if env.OriginUserID == d.self {
		d.stats.self.Add(1)
		return
	}
	if !d.seen.add(env.EventID) {
		d.stats.duplicates.Add(1)
		return
	}
	d.watermarks.Observe(env.OriginUserID, env.Seq)

	logger := d.logger.With(
		zap.String("event", env.Name),
		zap.String("event_id", env.EventID),
		zap.String("origin", env.OriginUserID),
		zap.Uint64("seq", env.Seq),
	)

	ev, err := env.Open()
	if err != nil {
		d.stats.failed.Add(1)
		logger.Warn("dropping undecodable envelope", zap.Error(err))
		return
	}

	if err := d.apply(ctx, env, ev); err != nil {
		switch {
		case errors.Is(err, domain.ErrStaleEvent):
			d.stats.stale.Add(1)
			logger.Debug("stale event dropped", zap.Error(err))
		case errors.Is(err, domain.ErrTransportUnavailable):
			d.stats.applied.Add(1)
			logger.Warn("event applied, reply not replicated", zap.Error(err))
		default:
			d.stats.failed.Add(1)
			logger.Error("failed to apply event", zap.Error(err))
		}
		return
	}
	d.stats.applied.Add(1)
	logger.Debug("event applied")
}

func (d *Dispatcher) apply(ctx context.Context, env replication.Envelope, ev replication.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()

	switch ev := ev.(type) {
	case replication.ContactUpdate:
		return d.handler.ApplyContactUpdate(ctx, env, ev)
	case replication.MessageUpdate:
		return d.handler.ApplyMessageUpdate(ctx, env, ev)
	case replication.MessageDeletion:
		return d.handler.ApplyMessageDeletion(ctx, env, ev)
	case replication.ConversationClear:
		return d.handler.ApplyConversationClear(ctx, env, ev)
	case replication.RequestMessageSync:
		return d.handler.ApplyRequestMessageSync(ctx, env, ev)
	case replication.MessageSyncResponse:
		return d.handler.ApplyMessageSyncResponse(ctx, env, ev)
	case replication.RequestCoordinatorSave:
		return d.handler.ApplyRequestCoordinatorSave(ctx, env, ev)
	case replication.CoordinatorSaveResult:
		return d.handler.ApplyCoordinatorSaveResult(ctx, env, ev)
	case replication.DeviceUpdate:
		return d.handler.ApplyDeviceUpdate(ctx, env, ev)
	case replication.RequestWorldSnapshot:
		return d.handler.ApplyRequestWorldSnapshot(ctx, env, ev)
	case replication.WorldSnapshot:
		return d.handler.ApplyWorldSnapshot(ctx, env, ev)
	}
	return nil
}
