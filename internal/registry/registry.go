// Package registry holds the device records, the contact edges stored on
// them, and the phone-number directory derived from device IDs.
package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/matheus3301/meshphone/internal/domain"
)

// Registry is the in-memory entity registry of one client.
type Registry struct {
	mu        sync.RWMutex
	devices   map[string]*domain.Device
	owners    map[string][]string // ownerID -> sorted device IDs
	phones    map[string]string   // deviceID -> formatted number
	directory map[string]string   // normalized number -> deviceID
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		devices:   make(map[string]*domain.Device),
		owners:    make(map[string][]string),
		phones:    make(map[string]string),
		directory: make(map[string]string),
	}
}

// RegisterDevice creates the device derived from (ownerID, sourceID). If it
// already exists the call is a no-op and created is false.
func (r *Registry) RegisterDevice(ownerID, sourceID, label string, now time.Time) (domain.Device, bool) {
	id := domain.DeviceID(ownerID, sourceID)

	r.mu.Lock()
	defer r.mu.Unlock()

	if d, ok := r.devices[id]; ok {
		if !d.IsStub() {
			return d.Clone(), false
		}
		// Fill in a stub created from an early edge or message.
		d.OwnerID = ownerID
		d.SourceID = sourceID
		d.Label = label
		r.indexOwnerLocked(ownerID, id)
		return d.Clone(), true
	}

	ms := now.UnixMilli()
	d := &domain.Device{
		ID:         id,
		OwnerID:    ownerID,
		SourceID:   sourceID,
		Label:      label,
		CreatedAt:  ms,
		LastUsedAt: ms,
	}
	r.devices[id] = d
	r.indexOwnerLocked(ownerID, id)
	return d.Clone(), true
}

// EnsureStub makes sure a record exists for id so that edges referencing it
// are not lost when events arrive before the device itself.
func (r *Registry) EnsureStub(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.devices[id]; ok {
		return false
	}
	r.devices[id] = &domain.Device{ID: id}
	return true
}

// Upsert replaces the stored record for d.ID. Contact lists are owned by the
// device's client, so the incoming set wins.
func (r *Registry) Upsert(d domain.Device) {
	d = d.Clone()
	d.Contacts = domain.SortedSet(d.Contacts)

	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.devices[d.ID]; ok && prev.OwnerID != "" && prev.OwnerID != d.OwnerID {
		r.unindexOwnerLocked(prev.OwnerID, d.ID)
	}
	r.devices[d.ID] = &d
	if d.OwnerID != "" {
		r.indexOwnerLocked(d.OwnerID, d.ID)
	}
}

// Device returns a copy of the device record.
func (r *Registry) Device(id string) (domain.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[id]
	if !ok {
		return domain.Device{}, fmt.Errorf("device %q: %w", id, domain.ErrNotFound)
	}
	return d.Clone(), nil
}

// Has reports whether the registry knows id (stubs included).
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.devices[id]
	return ok
}

// Devices returns all device records sorted by ID.
func (r *Registry) Devices() []domain.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// DevicesForOwner returns the IDs of devices owned by ownerID.
func (r *Registry) DevicesForOwner(ownerID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.owners[ownerID]...)
}

// Touch updates the device's last-used time.
func (r *Registry) Touch(id string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[id]
	if !ok {
		return fmt.Errorf("device %q: %w", id, domain.ErrNotFound)
	}
	d.LastUsedAt = now.UnixMilli()
	return nil
}

// RemoveDevice garbage-collects a device together with its phone mapping
// and every contact edge that points at it. Returns the IDs of devices whose
// contact lists changed.
func (r *Registry) RemoveDevice(id string) (bool, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[id]
	if !ok {
		return false, nil
	}
	delete(r.devices, id)
	if d.OwnerID != "" {
		r.unindexOwnerLocked(d.OwnerID, id)
	}
	if number, ok := r.phones[id]; ok {
		delete(r.phones, id)
		norm := domain.NormalizePhoneNumber(number)
		if r.directory[norm] == id {
			delete(r.directory, norm)
		}
	}

	var touched []string
	for otherID, other := range r.devices {
		if other.RemoveContact(id) {
			touched = append(touched, otherID)
		}
	}
	sort.Strings(touched)
	return true, touched
}

func (r *Registry) indexOwnerLocked(ownerID, id string) {
	ids := r.owners[ownerID]
	i := sort.SearchStrings(ids, id)
	if i < len(ids) && ids[i] == id {
		return
	}
	ids = append(ids, "")
	copy(ids[i+1:], ids[i:])
	ids[i] = id
	r.owners[ownerID] = ids
}

func (r *Registry) unindexOwnerLocked(ownerID, id string) {
	ids := r.owners[ownerID]
	i := sort.SearchStrings(ids, id)
	if i >= len(ids) || ids[i] != id {
		return
	}
	ids = append(ids[:i], ids[i+1:]...)
	if len(ids) == 0 {
		delete(r.owners, ownerID)
		return
	}
	r.owners[ownerID] = ids
}
