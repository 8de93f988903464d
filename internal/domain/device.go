package domain

import "sort"

// Device is an addressable messaging endpoint bound to an owning entity.
type Device struct {
	ID         string   `json:"id" yaml:"id"`
	OwnerID    string   `json:"ownerId" yaml:"owner_id"`
	SourceID   string   `json:"sourceId,omitempty" yaml:"source_id,omitempty"`
	Label      string   `json:"label,omitempty" yaml:"label,omitempty"`
	Contacts   []string `json:"contacts,omitempty" yaml:"contacts,omitempty"`
	CreatedAt  int64    `json:"createdAt" yaml:"created_at"`
	LastUsedAt int64    `json:"lastUsedAt" yaml:"last_used_at"`
}

// IsStub reports whether the record was created from a reference only
// (an edge or message arrived before the device itself).
func (d *Device) IsStub() bool {
	return d.OwnerID == ""
}

// HasContact reports whether id is in the device's contact list.
func (d *Device) HasContact(id string) bool {
	i := sort.SearchStrings(d.Contacts, id)
	return i < len(d.Contacts) && d.Contacts[i] == id
}

// AddContact inserts id keeping Contacts sorted. Returns false if already present.
func (d *Device) AddContact(id string) bool {
	i := sort.SearchStrings(d.Contacts, id)
	if i < len(d.Contacts) && d.Contacts[i] == id {
		return false
	}
	d.Contacts = append(d.Contacts, "")
	copy(d.Contacts[i+1:], d.Contacts[i:])
	d.Contacts[i] = id
	return true
}

// RemoveContact deletes id from the contact list. Returns false if absent.
func (d *Device) RemoveContact(id string) bool {
	i := sort.SearchStrings(d.Contacts, id)
	if i >= len(d.Contacts) || d.Contacts[i] != id {
		return false
	}
	d.Contacts = append(d.Contacts[:i], d.Contacts[i+1:]...)
	return true
}

// Clone returns a deep copy safe to hand out of a locked registry.
func (d Device) Clone() Device {
	if d.Contacts != nil {
		d.Contacts = append([]string(nil), d.Contacts...)
	}
	return d
}
