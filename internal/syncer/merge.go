package syncer

import (
	"sort"

	"github.com/matheus3301/meshphone/internal/domain"
)

// MergeDeviceData applies a partial device document onto base. Each device
// record in partial replaces the stored one, since only its owner's client
// writes it. Removed devices are dropped and owner mappings are rebuilt.
func MergeDeviceData(base, partial domain.DeviceData) domain.DeviceData {
	out := domain.NewDeviceData()
	for id, d := range base.Devices {
		out.Devices[id] = d
	}
	for id, d := range partial.Devices {
		if d.ID == "" {
			d.ID = id
		}
		out.Devices[id] = d.Clone()
	}
	for _, id := range partial.Removed {
		delete(out.Devices, id)
		for oid, d := range out.Devices {
			if d.HasContact(id) {
				d = d.Clone()
				d.RemoveContact(id)
				out.Devices[oid] = d
			}
		}
	}
	for id, d := range out.Devices {
		if d.OwnerID == "" {
			continue
		}
		out.DeviceMappings[d.OwnerID] = append(out.DeviceMappings[d.OwnerID], id)
	}
	for owner := range out.DeviceMappings {
		sort.Strings(out.DeviceMappings[owner])
	}
	return out
}

// MergePhoneData unions the phone directory. Mappings are derived from the
// device ID and never change, so existing entries win.
func MergePhoneData(base, partial domain.PhoneData, removed []string) domain.PhoneData {
	out := domain.NewPhoneData()
	for n, id := range base.PhoneNumberDictionary {
		out.PhoneNumberDictionary[n] = id
	}
	for id, n := range base.DevicePhoneNumbers {
		out.DevicePhoneNumbers[id] = n
	}
	for n, id := range partial.PhoneNumberDictionary {
		if _, ok := out.PhoneNumberDictionary[n]; !ok {
			out.PhoneNumberDictionary[n] = id
		}
	}
	for id, n := range partial.DevicePhoneNumbers {
		if _, ok := out.DevicePhoneNumbers[id]; !ok {
			out.DevicePhoneNumbers[id] = n
		}
	}
	for _, id := range removed {
		delete(out.DevicePhoneNumbers, id)
		for n, owner := range out.PhoneNumberDictionary {
			if owner == id {
				delete(out.PhoneNumberDictionary, n)
			}
		}
	}
	return out
}
