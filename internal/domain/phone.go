package domain

import (
	"fmt"
	"strings"
)

// PhoneNumber derives the synthetic phone number of a device. The mapping is
// a pure function of the ID: a 32-bit rolling hash split into area code,
// exchange and line number. Collisions are possible and accepted.
func PhoneNumber(deviceID string) string {
	h := phoneHash(deviceID)
	area := 200 + h%800
	exchange := 200 + (h/800)%800
	line := (h / 640000) % 10000
	return fmt.Sprintf("+1 %03d %03d %04d", area, exchange, line)
}

// NormalizePhoneNumber strips everything but digits so "+1 (415) 212-0002"
// and "14152120002" address the same directory entry.
func NormalizePhoneNumber(number string) string {
	var b strings.Builder
	for _, r := range number {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func phoneHash(s string) uint32 {
	var h int32
	for _, c := range s {
		h = h*31 + int32(c)
	}
	if h < 0 {
		// widen first: -MinInt32 does not fit in int32.
		return uint32(-int64(h))
	}
	return uint32(h)
}
