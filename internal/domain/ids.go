package domain

import (
	"sort"
	"strings"
)

// KeySeparator joins the two device IDs of a conversation key.
const KeySeparator = "|"

// DeviceID derives the canonical device identifier for a source item owned
// by an entity. The same (owner, source) pair always yields the same ID.
func DeviceID(ownerID, sourceID string) string {
	return "dev-" + sanitizeIDPart(ownerID) + "-" + sanitizeIDPart(sourceID)
}

// ConversationKey returns the order-independent key for a device pair.
func ConversationKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + KeySeparator + b
}

// SplitConversationKey returns the two device IDs of a key in sorted order.
func SplitConversationKey(key string) (string, string, bool) {
	a, b, ok := strings.Cut(key, KeySeparator)
	if !ok || a == "" || b == "" {
		return "", "", false
	}
	return a, b, true
}

// OtherParty returns the device on the opposite side of key from deviceID.
func OtherParty(key, deviceID string) (string, bool) {
	a, b, ok := SplitConversationKey(key)
	if !ok {
		return "", false
	}
	switch deviceID {
	case a:
		return b, true
	case b:
		return a, true
	}
	return "", false
}

// SortedSet returns the sorted, de-duplicated copy of ids.
func SortedSet(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func sanitizeIDPart(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '.':
			b.WriteRune(r)
		default:
			// The separators of the derived ID must stay unambiguous.
			b.WriteRune('_')
		}
	}
	return b.String()
}
