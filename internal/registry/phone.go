package registry

import (
	"fmt"

	"github.com/matheus3301/meshphone/internal/domain"
)

// PhoneNumber returns the device's number, computing and caching it on the
// first call. The second return value is true when the mapping was created
// by this call and still needs to be persisted.
func (r *Registry) PhoneNumber(deviceID string) (string, bool) {
	r.mu.RLock()
	number, ok := r.phones[deviceID]
	r.mu.RUnlock()
	if ok {
		return number, false
	}

	number = domain.PhoneNumber(deviceID)

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.phones[deviceID]; ok {
		return existing, false
	}
	r.phones[deviceID] = number
	norm := domain.NormalizePhoneNumber(number)
	if _, taken := r.directory[norm]; !taken {
		r.directory[norm] = deviceID
	}
	return number, true
}

// Resolve looks up the device behind a phone number. Formatting is ignored.
func (r *Registry) Resolve(number string) (string, error) {
	norm := domain.NormalizePhoneNumber(number)
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id, ok := r.directory[norm]; ok && norm != "" {
		return id, nil
	}
	return "", fmt.Errorf("phone number %q: %w", number, domain.ErrNotFound)
}

// PhoneEntry returns the phone data for a single device, for delegated saves.
func (r *Registry) PhoneEntry(deviceID string) domain.PhoneData {
	data := domain.NewPhoneData()
	r.mu.RLock()
	defer r.mu.RUnlock()
	if number, ok := r.phones[deviceID]; ok {
		data.DevicePhoneNumbers[deviceID] = number
		data.PhoneNumberDictionary[number] = deviceID
	}
	return data
}
