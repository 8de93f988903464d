package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/matheus3301/meshphone/internal/domain"
	"github.com/matheus3301/meshphone/internal/reactive"
	"github.com/matheus3301/meshphone/internal/replication"
)

// RegisterDevice creates the device for (ownerID, sourceID), assigns its
// phone number and replicates both. Registering an existing device returns
// it unchanged.
func (s *Service) RegisterDevice(ctx context.Context, ownerID, sourceID, label string) (domain.Device, error) {
	if ownerID == "" || sourceID == "" {
		return domain.Device{}, fmt.Errorf("register device: owner and source are required")
	}

	s.mu.Lock()
	dev, created := s.registry.RegisterDevice(ownerID, sourceID, label, s.now())
	if !created {
		s.mu.Unlock()
		return dev, nil
	}
	number, _ := s.registry.PhoneNumber(dev.ID)
	devices := s.registry.Subset(dev.ID)
	phones := s.registry.PhoneEntry(dev.ID)
	s.mu.Unlock()

	s.logger.Info("device registered",
		zap.String("device_id", dev.ID), zap.String("owner", ownerID), zap.String("number", number))
	s.notifier.MarkTopicsDirty(reactive.DevicesTopic)

	s.publish(ctx, broadcast(replication.DeviceUpdate{
		Devices:      []domain.Device{dev},
		PhoneNumbers: map[string]string{dev.ID: number},
	}))
	s.saveWorld(ctx, &devices, &phones)
	return dev, nil
}

// RemoveDevice deletes a destroyed device together with its phone mapping
// and every contact edge pointing at it. Conversation history is kept.
func (s *Service) RemoveDevice(ctx context.Context, deviceID string) error {
	s.mu.Lock()
	removed, touched := s.registry.RemoveDevice(deviceID)
	if !removed {
		s.mu.Unlock()
		return fmt.Errorf("remove device %q: %w", deviceID, domain.ErrNotFound)
	}
	delete(s.opened, deviceID)
	devices := s.registry.Subset(touched...)
	devices.Removed = []string{deviceID}
	var changed []domain.Device
	for _, id := range touched {
		if d, ok := devices.Devices[id]; ok {
			changed = append(changed, d)
		}
	}
	s.mu.Unlock()

	s.logger.Info("device removed", zap.String("device_id", deviceID), zap.Int("edges_dropped", len(touched)))
	topics := []string{reactive.DevicesTopic, reactive.ContactsTopic(deviceID)}
	for _, id := range touched {
		topics = append(topics, reactive.ContactsTopic(id))
	}
	s.notifier.MarkTopicsDirty(topics...)

	s.publish(ctx, broadcast(replication.DeviceUpdate{Devices: changed, Removed: []string{deviceID}}))
	s.saveWorld(ctx, &devices, nil)
	return nil
}

// OpenDevice gives this client local access to a device's partition, loads
// any persisted history and asks peers for recent messages. Returns the sync
// request ID.
func (s *Service) OpenDevice(ctx context.Context, deviceID string) (string, error) {
	s.mu.Lock()
	if !s.registry.Has(deviceID) {
		s.mu.Unlock()
		return "", fmt.Errorf("open device %q: %w", deviceID, domain.ErrNotFound)
	}
	s.opened[deviceID] = true
	if !s.convs.HasPartition(deviceID) {
		if err := s.convs.Load(deviceID, s.local); err != nil {
			s.logger.Error("failed to load partition", zap.String("device_id", deviceID), zap.Error(err))
		}
	}
	if err := s.registry.Touch(deviceID, s.now()); err != nil {
		s.logger.Warn("touch failed", zap.String("device_id", deviceID), zap.Error(err))
	}
	devices := s.registry.Subset(deviceID)
	s.mu.Unlock()

	s.notifier.MarkTopicsDirty(reactive.ContactsTopic(deviceID), reactive.DevicesTopic)
	s.saveWorld(ctx, &devices, nil)

	id, err := s.reconciler.Request(ctx, deviceID)
	if err != nil {
		s.logReplication("request sync", err, zap.String("device_id", deviceID))
	}
	return id, nil
}

// CloseDevice drops local access to a device opened from another owner.
// Owned devices stay accessible.
func (s *Service) CloseDevice(deviceID string) {
	s.mu.Lock()
	delete(s.opened, deviceID)
	s.mu.Unlock()
}

// HasLocalAccess reports whether deviceID's partition lives on this client.
func (s *Service) HasLocalAccess(deviceID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasLocalAccessLocked(deviceID)
}

// Device returns one device record.
func (s *Service) Device(deviceID string) (domain.Device, error) {
	return s.registry.Device(deviceID)
}

// Devices returns every known device.
func (s *Service) Devices() []domain.Device {
	return s.registry.Devices()
}

// LocalDevices returns the devices whose partitions live on this client.
func (s *Service) LocalDevices() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, d := range s.registry.Devices() {
		if s.hasLocalAccessLocked(d.ID) {
			out = append(out, d.ID)
		}
	}
	return out
}

// PhoneNumber returns the device's phone number, assigning and persisting it
// on first use.
func (s *Service) PhoneNumber(ctx context.Context, deviceID string) (string, error) {
	if !s.registry.Has(deviceID) {
		return "", fmt.Errorf("phone number of %q: %w", deviceID, domain.ErrNotFound)
	}
	number, created := s.registry.PhoneNumber(deviceID)
	if created {
		phones := s.registry.PhoneEntry(deviceID)
		s.saveWorld(ctx, nil, &phones)
	}
	return number, nil
}

// LookupPhoneNumber resolves a number to its device. Formatting is ignored.
func (s *Service) LookupPhoneNumber(number string) (string, error) {
	return s.registry.Resolve(number)
}

// RequestWorldSnapshot asks the coordinator for the full world documents.
// The coordinator already holds them and does nothing.
func (s *Service) RequestWorldSnapshot(ctx context.Context) {
	if s.IsCoordinator() {
		return
	}
	s.publish(ctx, outgoing{
		mode: replication.ModeCoordinator,
		ev:   replication.RequestWorldSnapshot{RequestingUserID: s.self.UserID},
	})
}

// World returns this client's view of the world documents.
func (s *Service) World() (domain.DeviceData, domain.PhoneData) {
	return s.registry.Snapshot(), s.registry.PhoneSnapshot()
}
