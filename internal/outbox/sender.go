// Package outbox publishes replication events and keeps the ones the bus
// could not take, retrying them until they go through.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/meshphone/internal/bus"
	"github.com/matheus3301/meshphone/internal/domain"
	"github.com/matheus3301/meshphone/internal/replication"
	"github.com/matheus3301/meshphone/internal/store"
)

// MaxAttempts is how many deliveries an entry gets before it is marked failed.
const MaxAttempts = 50

// ClockCheckpointKey returns the sync_state key holding a user's sequence clock.
func ClockCheckpointKey(userID string) string {
	return "clock/" + userID
}

// Sender implements replication.Publisher over a Transport, parking
// undeliverable envelopes in the local outbox.
type Sender struct {
	db        *store.DB
	transport replication.Transport
	clock     *replication.Clock
	origin    replication.Origin
	bus       *bus.Bus
	logger    *zap.Logger
	now       func() time.Time
	interval  time.Duration
	cancel    context.CancelFunc
	done      chan struct{}
}

var _ replication.Publisher = (*Sender)(nil)

// NewSender creates a sender. The clock resumes from its stored checkpoint.
func NewSender(db *store.DB, transport replication.Transport, origin replication.Origin, b *bus.Bus, logger *zap.Logger) (*Sender, error) {
	checkpoint, err := db.GetCheckpoint(ClockCheckpointKey(origin.UserID))
	if err != nil {
		return nil, fmt.Errorf("load clock checkpoint: %w", err)
	}
	return &Sender{
		db:        db,
		transport: transport,
		clock:     replication.ParseClock(checkpoint),
		origin:    origin,
		bus:       b,
		logger:    logger,
		now:       time.Now,
		interval:  500 * time.Millisecond,
	}, nil
}

// SetInterval changes the retry period. Call before Start.
func (s *Sender) SetInterval(d time.Duration) {
	s.interval = d
}

// Self returns the identity stamped on outgoing envelopes.
func (s *Sender) Self() replication.Origin {
	return s.origin
}

// Peers lists the users currently reachable over the transport.
func (s *Sender) Peers() []string {
	return s.transport.Peers()
}

// CoordinatorID names the coordinator known to the transport.
func (s *Sender) CoordinatorID() string {
	return s.transport.CoordinatorID()
}

// Clock exposes the sequence clock.
func (s *Sender) Clock() *replication.Clock {
	return s.clock
}

// Publish seals ev and sends it. When the transport is unavailable the
// envelope is queued and the returned error wraps domain.ErrTransportUnavailable.
func (s *Sender) Publish(ctx context.Context, mode replication.Mode, target string, ev replication.Event) (replication.Envelope, error) {
	env, err := replication.Seal(s.origin, s.clock.Next(), s.now(), ev)
	if err != nil {
		return env, err
	}

	sendErr := replication.Deliver(ctx, s.transport, mode, target, env)
	if sendErr == nil {
		return env, nil
	}
	if !errors.Is(sendErr, domain.ErrTransportUnavailable) {
		return env, sendErr
	}

	if err := s.queue(mode, target, env); err != nil {
		s.logger.Error("failed to queue envelope", zap.Error(err), zap.String("event_id", env.EventID))
		return env, errors.Join(sendErr, err)
	}
	s.logger.Warn("bus unavailable, envelope queued",
		zap.String("event", env.Name), zap.String("event_id", env.EventID), zap.Error(sendErr))
	return env, sendErr
}

func (s *Sender) queue(mode replication.Mode, target string, env replication.Envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if err := s.db.QueueOutbox(env.EventID, string(mode), target, raw); err != nil {
		return err
	}
	s.bus.Emit(bus.KindOutboxQueued, env.EventID)
	return nil
}

// Start begins retrying queued envelopes.
func (s *Sender) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx)
}

// Stop stops the retry loop and saves the clock position.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	s.saveClock()
}

func (s *Sender) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Flush(ctx)
			s.saveClock()
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sender) saveClock() {
	if err := s.db.UpdateCheckpoint(ClockCheckpointKey(s.origin.UserID), s.clock.Checkpoint()); err != nil {
		s.logger.Warn("failed to save clock checkpoint", zap.Error(err))
	}
}

// Flush retries every queued envelope once, oldest first, and returns how
// many went through. It stops at the first transport failure.
func (s *Sender) Flush(ctx context.Context) int {
	pending, err := s.db.PendingOutbox()
	if err != nil {
		s.logger.Error("failed to read outbox", zap.Error(err))
		return 0
	}

	delivered := 0
	for _, entry := range pending {
		var env replication.Envelope
		if err := json.Unmarshal(entry.Envelope, &env); err != nil {
			s.fail(entry, fmt.Errorf("decode envelope: %w", err))
			continue
		}

		err := replication.Deliver(ctx, s.transport, replication.Mode(entry.Mode), entry.Target, env)
		if err == nil {
			if err := s.db.MarkOutboxSent(entry.EventID); err != nil {
				s.logger.Error("failed to mark sent", zap.Error(err), zap.String("event_id", entry.EventID))
			}
			delivered++
			s.bus.Emit(bus.KindOutboxFlushed, entry.EventID)
			continue
		}

		if errors.Is(err, domain.ErrTransportUnavailable) && entry.Attempts+1 < MaxAttempts {
			_ = s.db.MarkOutboxRetry(entry.EventID, err.Error())
			break
		}
		s.fail(entry, err)
	}

	if delivered > 0 {
		s.logger.Info("outbox flushed", zap.Int("delivered", delivered), zap.Int("pending", len(pending)-delivered))
	}
	return delivered
}

func (s *Sender) fail(entry store.OutboxEntry, err error) {
	s.logger.Error("giving up on envelope", zap.Error(err), zap.String("event_id", entry.EventID), zap.Int("attempts", entry.Attempts+1))
	_ = s.db.MarkOutboxFailed(entry.EventID, err.Error())
	s.bus.Emit(bus.KindOutboxFailed, map[string]string{
		"event_id": entry.EventID,
		"error":    err.Error(),
	})
}
