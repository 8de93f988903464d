package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matheus3301/meshphone/internal/bus"
	"github.com/matheus3301/meshphone/internal/domain"
	"github.com/matheus3301/meshphone/internal/replication"
)

// World is the coordinator's world store.
type World interface {
	Coordinator() bool
	Devices() (domain.DeviceData, error)
	Phones() (domain.PhoneData, error)
	Commit(kind string, v any) error
}

// Writer persists world documents. The coordinator commits directly; every
// other client delegates the write to the coordinator over the bus.
type Writer struct {
	mu       sync.Mutex
	commitMu sync.Mutex
	world    World
	pub      replication.Publisher
	events   *bus.Bus
	pending  map[string]*pendingSave
	// answered holds IDs of results nobody has collected yet, oldest first.
	answered []string
	logger   *zap.Logger
}

// maxUncollected bounds the answered saves kept for a later Await.
const maxUncollected = 256

type pendingSave struct {
	done   chan struct{}
	result replication.CoordinatorSaveResult
	ok     bool
}

// NewWriter creates a writer. world is nil on participants.
func NewWriter(world World, pub replication.Publisher, events *bus.Bus, logger *zap.Logger) *Writer {
	return &Writer{
		world:   world,
		pub:     pub,
		events:  events,
		pending: make(map[string]*pendingSave),
		logger:  logger,
	}
}

// IsCoordinator reports whether this writer commits directly.
func (w *Writer) IsCoordinator() bool {
	return w.world != nil && w.world.Coordinator()
}

// Save persists a partial world document of the given kind. On the
// coordinator it returns after the commit with an empty request ID. Elsewhere
// it sends a delegated save request and returns its ID for Await; an error
// wrapping domain.ErrTransportUnavailable means the request was queued.
func (w *Writer) Save(ctx context.Context, kind string, payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", kind, err)
	}
	if w.IsCoordinator() {
		return "", w.commit(kind, raw)
	}

	id := uuid.NewString()
	w.mu.Lock()
	w.pending[id] = &pendingSave{done: make(chan struct{})}
	w.mu.Unlock()

	if _, err := w.pub.Publish(ctx, replication.ModeCoordinator, "", replication.RequestCoordinatorSave{
		RequestID: id,
		Kind:      kind,
		Payload:   raw,
	}); err != nil {
		return id, fmt.Errorf("delegate %s save: %w", kind, err)
	}
	return id, nil
}

// CommitDirect writes without delegation. Only the coordinator may call it.
func (w *Writer) CommitDirect(kind string, payload any) error {
	if !w.IsCoordinator() {
		return fmt.Errorf("commit %s: %w", kind, domain.ErrUnauthorizedWrite)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", kind, err)
	}
	return w.commit(kind, raw)
}

// Await waits for the coordinator's answer to a delegated save. The answer
// may arrive before or after Await is called.
func (w *Writer) Await(ctx context.Context, requestID string) error {
	w.mu.Lock()
	p, ok := w.pending[requestID]
	w.mu.Unlock()
	if !ok {
		return fmt.Errorf("save request %s: %w", requestID, domain.ErrNotFound)
	}

	select {
	case <-p.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	w.mu.Lock()
	delete(w.pending, requestID)
	w.mu.Unlock()
	if !p.result.OK {
		return fmt.Errorf("coordinator rejected %s save: %s", p.result.Kind, p.result.Error)
	}
	return nil
}

// Pending returns how many delegated saves have not been answered.
func (w *Writer) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, p := range w.pending {
		if !p.ok {
			n++
		}
	}
	return n
}

// HandleSaveRequest commits a participant's delegated save and replies with
// the outcome. Non-coordinators reject the request.
func (w *Writer) HandleSaveRequest(ctx context.Context, env replication.Envelope, ev replication.RequestCoordinatorSave) error {
	if !w.IsCoordinator() {
		return fmt.Errorf("delegated %s save from %s: %w", ev.Kind, env.OriginUserID, domain.ErrUnauthorizedWrite)
	}

	result := replication.CoordinatorSaveResult{RequestID: ev.RequestID, Kind: ev.Kind, OK: true}
	commitErr := w.commit(ev.Kind, ev.Payload)
	if commitErr != nil {
		result.OK = false
		result.Error = commitErr.Error()
		w.logger.Warn("delegated save failed",
			zap.String("from", env.OriginUserID), zap.String("kind", ev.Kind), zap.Error(commitErr))
	}

	if _, err := w.pub.Publish(ctx, replication.ModeDirect, env.OriginUserID, result); err != nil {
		return errors.Join(commitErr, fmt.Errorf("reply to %s: %w", env.OriginUserID, err))
	}
	return commitErr
}

// HandleSaveResult records the coordinator's answer for Await. Unknown and
// repeated IDs are ignored.
func (w *Writer) HandleSaveResult(ev replication.CoordinatorSaveResult) {
	w.mu.Lock()
	p, ok := w.pending[ev.RequestID]
	if !ok || p.ok {
		w.mu.Unlock()
		return
	}
	p.result = ev
	p.ok = true
	close(p.done)
	w.answered = append(w.answered, ev.RequestID)
	for len(w.answered) > maxUncollected {
		delete(w.pending, w.answered[0])
		w.answered = w.answered[1:]
	}
	w.mu.Unlock()

	if !ev.OK {
		w.logger.Warn("coordinator rejected save", zap.String("kind", ev.Kind), zap.String("error", ev.Error))
	}
}

func (w *Writer) commit(kind string, raw json.RawMessage) error {
	w.commitMu.Lock()
	defer w.commitMu.Unlock()
	switch kind {
	case domain.KindDeviceData:
		var partial domain.DeviceData
		if err := json.Unmarshal(raw, &partial); err != nil {
			return fmt.Errorf("decode %s: %w", kind, err)
		}
		base, err := w.world.Devices()
		if err != nil {
			return err
		}
		if err := w.world.Commit(kind, MergeDeviceData(base, partial)); err != nil {
			return err
		}
		if len(partial.Removed) > 0 {
			phones, err := w.world.Phones()
			if err != nil {
				return err
			}
			if err := w.world.Commit(domain.KindPhoneData, MergePhoneData(phones, domain.NewPhoneData(), partial.Removed)); err != nil {
				return err
			}
		}
	case domain.KindPhoneData:
		var partial domain.PhoneData
		if err := json.Unmarshal(raw, &partial); err != nil {
			return fmt.Errorf("decode %s: %w", kind, err)
		}
		base, err := w.world.Phones()
		if err != nil {
			return err
		}
		if err := w.world.Commit(kind, MergePhoneData(base, partial, nil)); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown world document %q", kind)
	}
	if w.events != nil {
		w.events.Emit(bus.KindWorldSaved, kind)
	}
	return nil
}
