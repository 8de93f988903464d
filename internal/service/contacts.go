package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/matheus3301/meshphone/internal/domain"
	"github.com/matheus3301/meshphone/internal/reactive"
	"github.com/matheus3301/meshphone/internal/replication"
)

// ErrNoContactFound is returned by AddContactByNumber for unknown numbers.
var ErrNoContactFound = errors.New("no contact found")

// AddContact adds contactID to deviceID's contacts. Adding an existing
// contact is a no-op.
func (s *Service) AddContact(ctx context.Context, deviceID, contactID string) error {
	s.mu.Lock()
	if !s.registry.Has(contactID) {
		s.mu.Unlock()
		return fmt.Errorf("add contact %q: %w", contactID, domain.ErrNotFound)
	}
	added, err := s.registry.AddContact(deviceID, contactID)
	if err != nil || !added {
		s.mu.Unlock()
		return err
	}
	devices := s.registry.Subset(deviceID)
	s.mu.Unlock()

	s.notifier.MarkTopicsDirty(reactive.ContactsTopic(deviceID))
	s.publish(ctx, broadcast(replication.ContactUpdate{
		DeviceID:        deviceID,
		ContactDeviceID: contactID,
		Action:          replication.ContactAdd,
	}))
	s.saveWorld(ctx, &devices, nil)
	return nil
}

// AddContactByNumber resolves number through the phone directory and adds
// the device behind it. Returns the contact's device ID.
func (s *Service) AddContactByNumber(ctx context.Context, deviceID, number string) (string, error) {
	contactID, err := s.registry.Resolve(number)
	if errors.Is(err, domain.ErrNotFound) {
		return "", fmt.Errorf("%w for %s", ErrNoContactFound, number)
	}
	if err != nil {
		return "", err
	}
	return contactID, s.AddContact(ctx, deviceID, contactID)
}

// RemoveContact drops contactID from deviceID's contacts. The reverse edge
// and the conversation history are kept.
func (s *Service) RemoveContact(ctx context.Context, deviceID, contactID string) error {
	s.mu.Lock()
	removed, err := s.registry.RemoveContact(deviceID, contactID)
	if err != nil || !removed {
		s.mu.Unlock()
		return err
	}
	devices := s.registry.Subset(deviceID)
	s.mu.Unlock()

	s.notifier.MarkTopicsDirty(reactive.ContactsTopic(deviceID))
	s.publish(ctx, broadcast(replication.ContactUpdate{
		DeviceID:        deviceID,
		ContactDeviceID: contactID,
		Action:          replication.ContactRemove,
	}))
	s.saveWorld(ctx, &devices, nil)
	return nil
}

// IsContact reports whether contactID is in deviceID's contacts.
func (s *Service) IsContact(deviceID, contactID string) bool {
	return s.registry.IsContact(deviceID, contactID)
}

// Contacts returns deviceID's contact IDs, sorted.
func (s *Service) Contacts(deviceID string) ([]string, error) {
	return s.registry.Contacts(deviceID)
}

// IsMuted reports whether deviceID muted its conversation with contactID.
func (s *Service) IsMuted(deviceID, contactID string) bool {
	return s.mutes.IsMuted(deviceID, contactID)
}

// SetMuted stores a mute preference on this client only.
func (s *Service) SetMuted(deviceID, contactID string, muted bool) error {
	if err := s.mutes.SetMuted(deviceID, contactID, muted); err != nil {
		return err
	}
	s.notifier.MarkTopicsDirty(reactive.ContactsTopic(deviceID))
	return nil
}

// ToggleMute flips the mute preference and returns the new value.
func (s *Service) ToggleMute(deviceID, contactID string) (bool, error) {
	muted, err := s.mutes.Toggle(deviceID, contactID)
	if err != nil {
		return false, err
	}
	s.notifier.MarkTopicsDirty(reactive.ContactsTopic(deviceID))
	return muted, nil
}

// ContactEntry is one row of a device's contact list.
type ContactEntry struct {
	DeviceID    string
	Label       string
	PhoneNumber string
	Unread      int
	Muted       bool
	Last        *domain.Message
}

// ContactList returns deviceID's contacts with their badges, in contact order.
// Phone numbers assigned while listing are saved to the world store.
func (s *Service) ContactList(ctx context.Context, deviceID string) ([]ContactEntry, error) {
	contacts, err := s.registry.Contacts(deviceID)
	if err != nil {
		return nil, err
	}
	out := make([]ContactEntry, 0, len(contacts))
	assigned := domain.NewPhoneData()
	for _, id := range contacts {
		e := ContactEntry{
			DeviceID: id,
			Unread:   s.unread.Count(deviceID, id),
			Muted:    s.mutes.IsMuted(deviceID, id),
		}
		if d, err := s.registry.Device(id); err == nil {
			e.Label = d.Label
		}
		var created bool
		e.PhoneNumber, created = s.registry.PhoneNumber(id)
		if created {
			assigned.DevicePhoneNumbers[id] = e.PhoneNumber
			assigned.PhoneNumberDictionary[e.PhoneNumber] = id
		}
		if last, ok := s.convs.Last(deviceID, domain.ConversationKey(deviceID, id)); ok {
			e.Last = &last
		}
		out = append(out, e)
	}
	s.saveWorld(ctx, nil, &assigned)
	return out, nil
}
