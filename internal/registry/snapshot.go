package registry

import (
	"github.com/matheus3301/meshphone/internal/domain"
)

// Snapshot returns the full device document as stored in the world store.
func (r *Registry) Snapshot() domain.DeviceData {
	data := domain.NewDeviceData()
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, d := range r.devices {
		data.Devices[id] = d.Clone()
	}
	for owner, ids := range r.owners {
		data.DeviceMappings[owner] = append([]string(nil), ids...)
	}
	return data
}

// PhoneSnapshot returns the full phone directory document.
func (r *Registry) PhoneSnapshot() domain.PhoneData {
	data := domain.NewPhoneData()
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, number := range r.phones {
		data.DevicePhoneNumbers[id] = number
		data.PhoneNumberDictionary[number] = id
	}
	return data
}

// Subset returns a device document holding only the listed devices.
func (r *Registry) Subset(ids ...string) domain.DeviceData {
	data := domain.NewDeviceData()
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range ids {
		d, ok := r.devices[id]
		if !ok || d.IsStub() {
			continue
		}
		data.Devices[id] = d.Clone()
		data.DeviceMappings[d.OwnerID] = append(data.DeviceMappings[d.OwnerID], id)
	}
	return data
}

// Load merges world-store documents into the registry. Unknown devices are
// added; for known devices the contact sets are unioned so edges written
// locally before the snapshot arrived survive. Removed IDs are collected.
func (r *Registry) Load(devices domain.DeviceData, phones domain.PhoneData) {
	r.mu.Lock()
	for id, in := range devices.Devices {
		in = in.Clone()
		in.ID = id
		in.Contacts = domain.SortedSet(in.Contacts)
		cur, ok := r.devices[id]
		if !ok {
			r.devices[id] = &in
		} else {
			contacts := domain.SortedSet(append(cur.Contacts, in.Contacts...))
			if cur.IsStub() || in.LastUsedAt >= cur.LastUsedAt {
				*cur = in
			}
			cur.Contacts = contacts
		}
		if in.OwnerID != "" {
			r.indexOwnerLocked(in.OwnerID, id)
		}
	}
	for id, number := range phones.DevicePhoneNumbers {
		if _, ok := r.phones[id]; ok {
			continue
		}
		r.phones[id] = number
		norm := domain.NormalizePhoneNumber(number)
		if _, taken := r.directory[norm]; !taken {
			r.directory[norm] = id
		}
	}
	r.mu.Unlock()

	for _, id := range devices.Removed {
		r.RemoveDevice(id)
	}
}
