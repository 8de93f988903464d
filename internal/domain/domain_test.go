package domain

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversationKeySymmetric(t *testing.T) {
	pairs := [][2]string{
		{"dev-a-1", "dev-b-2"},
		{"z", "a"},
		{"same", "same"},
		{"dev-alice-phone", "dev-alice-phone2"},
	}
	for _, p := range pairs {
		assert.Equal(t, ConversationKey(p[0], p[1]), ConversationKey(p[1], p[0]), "pair %v", p)
	}

	a, b, ok := SplitConversationKey(ConversationKey("z", "a"))
	require.True(t, ok)
	assert.Equal(t, "a", a)
	assert.Equal(t, "z", b)
}

func TestOtherParty(t *testing.T) {
	key := ConversationKey("d1", "d2")

	other, ok := OtherParty(key, "d1")
	require.True(t, ok)
	assert.Equal(t, "d2", other)

	_, ok = OtherParty(key, "d3")
	assert.False(t, ok)

	_, ok = OtherParty("garbage", "d1")
	assert.False(t, ok)
}

func TestDeviceIDDeterministic(t *testing.T) {
	assert.Equal(t, DeviceID("alice", "item-7"), DeviceID("alice", "item-7"))
	assert.NotEqual(t, DeviceID("alice", "item-7"), DeviceID("bob", "item-7"))
	// Separators in the inputs must not leak into the derived ID structure.
	assert.Equal(t, "dev-a_b-c", DeviceID("A|b", "c"))
}

func TestPhoneNumberDeterministic(t *testing.T) {
	shape := regexp.MustCompile(`^\+1 [2-9]\d{2} [2-9]\d{2} \d{4}$`)
	for _, id := range []string{"D1", "D2", "dev-alice-1", "", "dev-ü-ñ"} {
		first := PhoneNumber(id)
		assert.Equal(t, first, PhoneNumber(id), "phone number for %q must be stable", id)
		assert.Regexp(t, shape, first)
	}
}

func TestNormalizePhoneNumber(t *testing.T) {
	assert.Equal(t, "14152120002", NormalizePhoneNumber("+1 (415) 212-0002"))
	assert.Equal(t, "", NormalizePhoneNumber("no digits"))
}

func TestDeviceContactSet(t *testing.T) {
	d := Device{ID: "d1"}
	assert.True(t, d.AddContact("c"))
	assert.True(t, d.AddContact("a"))
	assert.False(t, d.AddContact("c"))
	assert.Equal(t, []string{"a", "c"}, d.Contacts)
	assert.True(t, d.HasContact("a"))

	clone := d.Clone()
	assert.True(t, d.RemoveContact("a"))
	assert.False(t, d.RemoveContact("a"))
	assert.Equal(t, []string{"c"}, d.Contacts)
	assert.Equal(t, []string{"a", "c"}, clone.Contacts)
}

func TestNewMessageIDUnique(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		id := NewMessageID(now)
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %s", id)
		seen[id] = struct{}{}
	}
}

func TestSortMessages(t *testing.T) {
	msgs := []Message{
		{ID: "b", Timestamp: 2},
		{ID: "c", Timestamp: 1},
		{ID: "a", Timestamp: 2},
	}
	SortMessages(msgs)
	assert.Equal(t, []string{"c", "a", "b"}, []string{msgs[0].ID, msgs[1].ID, msgs[2].ID})
}

func TestSortedSet(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, SortedSet([]string{"b", "", "a", "b"}))
	assert.Nil(t, SortedSet(nil))
}
