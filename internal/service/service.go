// Package service composes the registry, conversation store, caches and
// replication into the per-client sync service. Local operations mutate
// state under one mutex and replicate afterwards; the Apply methods receive
// events from the dispatcher.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/meshphone/internal/bus"
	"github.com/matheus3301/meshphone/internal/conversation"
	"github.com/matheus3301/meshphone/internal/domain"
	"github.com/matheus3301/meshphone/internal/mute"
	"github.com/matheus3301/meshphone/internal/reactive"
	"github.com/matheus3301/meshphone/internal/registry"
	"github.com/matheus3301/meshphone/internal/replication"
	"github.com/matheus3301/meshphone/internal/store"
	"github.com/matheus3301/meshphone/internal/syncer"
	"github.com/matheus3301/meshphone/internal/unread"
)

// ErrNoLocalAccess is returned when an operation needs a device partition
// this client has not opened.
var ErrNoLocalAccess = errors.New("device not accessible on this client")

// Notifier receives the UI topics touched by a state change.
type Notifier interface {
	MarkTopicsDirty(topics ...string)
	MarkAllDirty()
}

// Alerter is told about inbound messages for conversations that are not muted.
type Alerter interface {
	Alert(deviceID string, msg domain.Message)
}

// Deps are the collaborators of a Service.
type Deps struct {
	Local     *store.Local
	Mutes     *mute.Store
	Publisher replication.Publisher
	// World is the world store on the coordinator and nil elsewhere.
	World    syncer.World
	Events   *bus.Bus
	Notifier Notifier
	Alerter  Alerter
	Sync     syncer.Config
	Now      func() time.Time
	Logger   *zap.Logger
}

// Service is the sync service of one client.
type Service struct {
	mu   sync.Mutex
	self replication.Origin

	registry   *registry.Registry
	convs      *conversation.Store
	unread     *unread.Cache
	mutes      *mute.Store
	local      *store.Local
	pub        replication.Publisher
	world      syncer.World
	writer     *syncer.Writer
	reconciler *syncer.Reconciler
	events     *bus.Bus
	notifier   Notifier
	alerter    Alerter
	now        func() time.Time
	logger     *zap.Logger

	// opened holds devices of other owners whose interface was opened here.
	opened map[string]bool
}

// New builds the service. On the coordinator the registry is seeded from
// the world store.
func New(d Deps) (*Service, error) {
	if d.Local == nil || d.Mutes == nil || d.Publisher == nil {
		return nil, errors.New("service: local store, mutes and publisher are required")
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Notifier == nil {
		d.Notifier = nopNotifier{}
	}
	if d.Alerter == nil {
		d.Alerter = nopAlerter{}
	}

	s := &Service{
		self:     d.Publisher.Self(),
		registry: registry.New(),
		mutes:    d.Mutes,
		local:    d.Local,
		pub:      d.Publisher,
		world:    d.World,
		events:   d.Events,
		notifier: d.Notifier,
		alerter:  d.Alerter,
		now:      d.Now,
		logger:   d.Logger,
		opened:   make(map[string]bool),
	}
	s.convs = conversation.New()
	s.unread = unread.New(s.convs)
	s.convs.Observe(s.unread)
	s.convs.Observe(topicObserver{n: d.Notifier, events: d.Events})

	s.writer = syncer.NewWriter(d.World, d.Publisher, d.Events, d.Logger.Named("writer"))
	// onMerge runs inside ApplyMessageSyncResponse, which holds s.mu.
	s.reconciler = syncer.NewReconciler(s.convs, d.Publisher, d.Sync, d.Now, func(deviceID string, _ []string) {
		s.persistLocked(deviceID)
		s.notifier.MarkTopicsDirty(reactive.ContactsTopic(deviceID))
	}, d.Logger.Named("reconciler"))

	if s.writer.IsCoordinator() {
		devices, err := d.World.Devices()
		if err != nil {
			return nil, fmt.Errorf("load world devices: %w", err)
		}
		phones, err := d.World.Phones()
		if err != nil {
			return nil, fmt.Errorf("load world phones: %w", err)
		}
		s.registry.Load(devices, phones)
		s.logger.Info("registry seeded from world store", zap.Int("devices", len(devices.Devices)))
	}
	return s, nil
}

// Self returns the identity this service publishes under.
func (s *Service) Self() replication.Origin {
	return s.self
}

// IsCoordinator reports whether this client owns the world store.
func (s *Service) IsCoordinator() bool {
	return s.writer.IsCoordinator()
}

// Writer exposes the world writer for callers that await delegated saves.
func (s *Service) Writer() *syncer.Writer {
	return s.writer
}

// Reconciler exposes the reconciliation bookkeeping.
func (s *Service) Reconciler() *syncer.Reconciler {
	return s.reconciler
}

// Restore loads every persisted partition back into memory, treats those
// devices as opened and asks peers for anything missed while offline.
// Participants also request the world snapshot.
func (s *Service) Restore(ctx context.Context) error {
	parts, err := s.local.Partitions()
	if err != nil {
		return fmt.Errorf("list partitions: %w", err)
	}

	s.mu.Lock()
	for _, p := range parts {
		if err := s.convs.Load(p, s.local); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("load partition %s: %w", p, err)
		}
		s.opened[p] = true
	}
	s.mu.Unlock()

	s.logger.Info("partitions restored", zap.Int("count", len(parts)))
	s.notifier.MarkAllDirty()

	if !s.IsCoordinator() {
		s.RequestWorldSnapshot(ctx)
	}
	for _, p := range parts {
		if _, err := s.reconciler.Request(ctx, p); err != nil {
			s.logReplication("request sync", err, zap.String("device_id", p))
		}
	}
	return nil
}

// hasLocalAccessLocked reports whether deviceID's partition lives on this
// client: the device is owned by this user or was opened here.
func (s *Service) hasLocalAccessLocked(deviceID string) bool {
	if s.opened[deviceID] {
		return true
	}
	d, err := s.registry.Device(deviceID)
	return err == nil && d.OwnerID == s.self.UserID
}

// persistLocked writes a partition to the local store. Failures are logged;
// the in-memory state stays authoritative until the next successful save.
func (s *Service) persistLocked(deviceID string) {
	if err := s.convs.Save(deviceID, s.local); err != nil {
		s.logger.Error("failed to persist partition", zap.String("device_id", deviceID), zap.Error(err))
	}
}

// outgoing is an event queued during a locked mutation and published after.
type outgoing struct {
	mode   replication.Mode
	target string
	ev     replication.Event
}

func broadcast(ev replication.Event) outgoing {
	return outgoing{mode: replication.ModeBroadcast, ev: ev}
}

func (s *Service) publish(ctx context.Context, out ...outgoing) {
	for _, o := range out {
		if _, err := s.pub.Publish(ctx, o.mode, o.target, o.ev); err != nil {
			s.logReplication("publish "+o.ev.EventName(), err)
		}
	}
}

// saveWorld persists partial world documents, directly or through the coordinator.
func (s *Service) saveWorld(ctx context.Context, devices *domain.DeviceData, phones *domain.PhoneData) {
	if devices != nil && (len(devices.Devices) > 0 || len(devices.Removed) > 0) {
		if _, err := s.writer.Save(ctx, domain.KindDeviceData, devices); err != nil {
			s.logReplication("save device data", err)
		}
	}
	if phones != nil && len(phones.DevicePhoneNumbers) > 0 {
		if _, err := s.writer.Save(ctx, domain.KindPhoneData, phones); err != nil {
			s.logReplication("save phone data", err)
		}
	}
}

func (s *Service) logReplication(op string, err error, fields ...zap.Field) {
	fields = append(fields, zap.String("op", op), zap.Error(err))
	if errors.Is(err, domain.ErrTransportUnavailable) {
		s.logger.Warn("replication deferred", fields...)
		return
	}
	s.logger.Error("replication failed", fields...)
}

type topicObserver struct {
	n      Notifier
	events *bus.Bus
}

func (o topicObserver) ConversationChanged(partition, key string) {
	o.n.MarkTopicsDirty(reactive.ConversationKeyTopic(key), reactive.ContactsTopic(partition))
	if o.events != nil {
		o.events.Emit(bus.KindConversationChanged, bus.ConversationChange{Partition: partition, Key: key})
	}
}

type nopNotifier struct{}

func (nopNotifier) MarkTopicsDirty(...string) {}
func (nopNotifier) MarkAllDirty()             {}

type nopAlerter struct{}

func (nopAlerter) Alert(string, domain.Message) {}
