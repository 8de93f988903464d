package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/matheus3301/meshphone/internal/bus"
	"github.com/matheus3301/meshphone/internal/dispatch"
	"github.com/matheus3301/meshphone/internal/domain"
	"github.com/matheus3301/meshphone/internal/reactive"
	"github.com/matheus3301/meshphone/internal/replication"
)

var _ dispatch.Handler = (*Service)(nil)

// ApplyContactUpdate mirrors a remote contact edge change. Unknown devices
// get stub records so the edge survives until the device itself arrives.
func (s *Service) ApplyContactUpdate(_ context.Context, env replication.Envelope, ev replication.ContactUpdate) error {
	if ev.DeviceID == "" || ev.ContactDeviceID == "" {
		return fmt.Errorf("contact update from %s: missing device", env.OriginUserID)
	}

	s.mu.Lock()
	s.registry.EnsureStub(ev.DeviceID)
	s.registry.EnsureStub(ev.ContactDeviceID)
	var changed bool
	var err error
	switch ev.Action {
	case replication.ContactAdd, replication.ContactAutoAdd:
		changed, err = s.registry.AddContact(ev.DeviceID, ev.ContactDeviceID)
	case replication.ContactRemove:
		changed, err = s.registry.RemoveContact(ev.DeviceID, ev.ContactDeviceID)
	default:
		err = fmt.Errorf("unknown contact action %q", ev.Action)
	}
	s.mu.Unlock()

	if err != nil {
		return fmt.Errorf("contact update from %s: %w", env.OriginUserID, err)
	}
	if changed {
		s.notifier.MarkTopicsDirty(reactive.ContactsTopic(ev.DeviceID))
	}
	return nil
}

// ApplyMessageUpdate merges a remote message into every local partition of
// the pair and repeats the send flow's edge additions. Merging by ID makes
// redelivery harmless.
func (s *Service) ApplyMessageUpdate(_ context.Context, env replication.Envelope, ev replication.MessageUpdate) error {
	msg := ev.Message
	if msg.ID == "" {
		return fmt.Errorf("message update from %s: missing message id", env.OriginUserID)
	}
	if msg.SenderID == "" {
		msg.SenderID = ev.SenderID
	}
	if msg.ReceiverID == "" {
		msg.ReceiverID = ev.ReceiverID
	}
	key := msg.Key()

	s.mu.Lock()
	s.registry.EnsureStub(msg.SenderID)
	s.registry.EnsureStub(msg.ReceiverID)
	fwd, _ := s.registry.AddContact(msg.SenderID, msg.ReceiverID)
	rev, _ := s.registry.AddContact(msg.ReceiverID, msg.SenderID)

	alert := false
	for _, part := range []string{msg.SenderID, msg.ReceiverID} {
		if !s.hasLocalAccessLocked(part) {
			continue
		}
		if s.convs.Merge(part, key, msg) {
			s.persistLocked(part)
			if part == msg.ReceiverID {
				alert = true
			}
		}
	}
	s.mu.Unlock()

	if fwd || rev {
		s.notifier.MarkTopicsDirty(reactive.ContactsTopic(msg.SenderID), reactive.ContactsTopic(msg.ReceiverID))
	}
	if alert {
		if s.events != nil {
			s.events.Emit(bus.KindMessageReceived, msg)
		}
		if !s.mutes.IsMuted(msg.ReceiverID, msg.SenderID) {
			s.alerter.Alert(msg.ReceiverID, msg)
		}
	}
	return nil
}

// ApplyMessageDeletion removes messages from local partitions. Only the
// coordinator may originate deletions.
func (s *Service) ApplyMessageDeletion(_ context.Context, env replication.Envelope, ev replication.MessageDeletion) error {
	if err := s.requireCoordinatorOrigin(env, "message deletion"); err != nil {
		return err
	}
	s.mu.Lock()
	n := s.deleteLocked(ev.DeviceIDA, ev.DeviceIDB, ev.MessageIDs)
	s.mu.Unlock()
	s.logger.Debug("remote deletion applied", zap.String("from", env.OriginUserID), zap.Int("removed", n))
	return nil
}

// ApplyConversationClear clears the local copy of the clearing device's
// partition, if this client holds it.
func (s *Service) ApplyConversationClear(_ context.Context, _ replication.Envelope, ev replication.ConversationClear) error {
	key := domain.ConversationKey(ev.DeviceID, ev.ContactDeviceID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.convs.HasPartition(ev.DeviceID) {
		return nil
	}
	if s.convs.Clear(ev.DeviceID, key) > 0 {
		s.persistLocked(ev.DeviceID)
	}
	return nil
}

// ApplyRequestMessageSync answers a peer's reconciliation request.
func (s *Service) ApplyRequestMessageSync(ctx context.Context, env replication.Envelope, ev replication.RequestMessageSync) error {
	return s.reconciler.HandleRequest(ctx, env, ev)
}

// ApplyMessageSyncResponse merges a reconciliation reply for a device whose
// partition lives here. Replies for other devices are dropped as stale.
func (s *Service) ApplyMessageSyncResponse(_ context.Context, env replication.Envelope, ev replication.MessageSyncResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasLocalAccessLocked(ev.DeviceID) {
		return fmt.Errorf("sync reply %s for %q: %w: %w", ev.RequestID, ev.DeviceID, domain.ErrStaleEvent, ErrNoLocalAccess)
	}
	_, err := s.reconciler.HandleResponse(env, ev)
	return err
}

// ApplyRequestCoordinatorSave commits a delegated world write.
func (s *Service) ApplyRequestCoordinatorSave(ctx context.Context, env replication.Envelope, ev replication.RequestCoordinatorSave) error {
	return s.writer.HandleSaveRequest(ctx, env, ev)
}

// ApplyCoordinatorSaveResult completes a delegated write.
func (s *Service) ApplyCoordinatorSaveResult(_ context.Context, _ replication.Envelope, ev replication.CoordinatorSaveResult) error {
	s.writer.HandleSaveResult(ev)
	return nil
}

// ApplyDeviceUpdate merges remote device registrations and removals.
func (s *Service) ApplyDeviceUpdate(_ context.Context, _ replication.Envelope, ev replication.DeviceUpdate) error {
	devices := domain.NewDeviceData()
	for _, d := range ev.Devices {
		devices.Devices[d.ID] = d
	}
	devices.Removed = ev.Removed
	phones := domain.NewPhoneData()
	for id, number := range ev.PhoneNumbers {
		phones.DevicePhoneNumbers[id] = number
		phones.PhoneNumberDictionary[number] = id
	}

	s.mu.Lock()
	s.registry.Load(devices, phones)
	for _, id := range ev.Removed {
		delete(s.opened, id)
	}
	s.mu.Unlock()

	topics := []string{reactive.DevicesTopic}
	for _, d := range ev.Devices {
		topics = append(topics, reactive.ContactsTopic(d.ID))
	}
	s.notifier.MarkTopicsDirty(topics...)
	return nil
}

// ApplyRequestWorldSnapshot sends the world documents to the requester.
// Only the coordinator answers.
func (s *Service) ApplyRequestWorldSnapshot(ctx context.Context, env replication.Envelope, ev replication.RequestWorldSnapshot) error {
	if !s.IsCoordinator() {
		return nil
	}
	devices, err := s.world.Devices()
	if err != nil {
		return fmt.Errorf("read world devices: %w", err)
	}
	phones, err := s.world.Phones()
	if err != nil {
		return fmt.Errorf("read world phones: %w", err)
	}
	target := ev.RequestingUserID
	if target == "" {
		target = env.OriginUserID
	}
	if _, err := s.pub.Publish(ctx, replication.ModeDirect, target, replication.WorldSnapshot{Devices: devices, Phones: phones}); err != nil {
		return fmt.Errorf("send world snapshot to %s: %w", target, err)
	}
	return nil
}

// ApplyWorldSnapshot merges the coordinator's world documents.
func (s *Service) ApplyWorldSnapshot(_ context.Context, env replication.Envelope, ev replication.WorldSnapshot) error {
	if err := s.requireCoordinatorOrigin(env, "world snapshot"); err != nil {
		return err
	}
	s.mu.Lock()
	s.registry.Load(ev.Devices, ev.Phones)
	s.mu.Unlock()
	s.logger.Info("world snapshot applied",
		zap.String("from", env.OriginUserID), zap.Int("devices", len(ev.Devices.Devices)))
	s.notifier.MarkAllDirty()
	return nil
}

// requireCoordinatorOrigin rejects events that only the coordinator may send.
func (s *Service) requireCoordinatorOrigin(env replication.Envelope, what string) error {
	coord := s.pub.CoordinatorID()
	if coord == "" || env.OriginUserID != coord {
		return fmt.Errorf("%s from %s: %w", what, env.OriginUserID, domain.ErrUnauthorizedWrite)
	}
	return nil
}
