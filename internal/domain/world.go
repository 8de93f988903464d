package domain

// World store keys.
const (
	KindDeviceData = "device-data"
	KindPhoneData  = "phone-number-data"
)

// DeviceData is the world-store document holding every device record.
// Removed lists devices deleted since the last save; it is only used in
// delegated save payloads and never persisted.
type DeviceData struct {
	Devices        map[string]Device   `json:"devices" yaml:"devices"`
	DeviceMappings map[string][]string `json:"deviceMappings" yaml:"device_mappings"`
	Removed        []string            `json:"removed,omitempty" yaml:"-"`
}

// PhoneData is the world-store document holding the phone directory.
type PhoneData struct {
	PhoneNumberDictionary map[string]string `json:"phoneNumberDictionary" yaml:"phone_number_dictionary"`
	DevicePhoneNumbers    map[string]string `json:"devicePhoneNumbers" yaml:"device_phone_numbers"`
}

// NewDeviceData returns an empty, non-nil document.
func NewDeviceData() DeviceData {
	return DeviceData{
		Devices:        make(map[string]Device),
		DeviceMappings: make(map[string][]string),
	}
}

// NewPhoneData returns an empty, non-nil document.
func NewPhoneData() PhoneData {
	return PhoneData{
		PhoneNumberDictionary: make(map[string]string),
		DevicePhoneNumbers:    make(map[string]string),
	}
}
