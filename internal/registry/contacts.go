package registry

import (
	"fmt"

	"github.com/matheus3301/meshphone/internal/domain"
)

// AddContact adds the directed edge deviceID -> contactID. Returns false
// without error if the edge already exists.
func (r *Registry) AddContact(deviceID, contactID string) (bool, error) {
	if deviceID == contactID {
		return false, fmt.Errorf("device %q cannot add itself as a contact", deviceID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[deviceID]
	if !ok {
		return false, fmt.Errorf("device %q: %w", deviceID, domain.ErrNotFound)
	}
	return d.AddContact(contactID), nil
}

// RemoveContact deletes the edge deviceID -> contactID only. The reciprocal
// edge is left untouched.
func (r *Registry) RemoveContact(deviceID, contactID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[deviceID]
	if !ok {
		return false, fmt.Errorf("device %q: %w", deviceID, domain.ErrNotFound)
	}
	return d.RemoveContact(contactID), nil
}

// IsContact reports whether contactID is in deviceID's contact list.
func (r *Registry) IsContact(deviceID, contactID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[deviceID]
	return ok && d.HasContact(contactID)
}

// Contacts returns deviceID's contact list.
func (r *Registry) Contacts(deviceID string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[deviceID]
	if !ok {
		return nil, fmt.Errorf("device %q: %w", deviceID, domain.ErrNotFound)
	}
	return append([]string(nil), d.Contacts...), nil
}
