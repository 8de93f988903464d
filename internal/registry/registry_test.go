package registry

import (
	"errors"
	"testing"
	"time"

	"github.com/matheus3301/meshphone/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.UnixMilli(1_700_000_000_000)

func TestRegisterDeviceIdempotent(t *testing.T) {
	r := New()

	d, created := r.RegisterDevice("alice", "item-1", "Alice's phone", t0)
	require.True(t, created)
	assert.Equal(t, domain.DeviceID("alice", "item-1"), d.ID)
	assert.Equal(t, t0.UnixMilli(), d.CreatedAt)

	again, created := r.RegisterDevice("alice", "item-1", "renamed", t0.Add(time.Hour))
	assert.False(t, created)
	assert.Equal(t, "Alice's phone", again.Label)
	assert.Len(t, r.Devices(), 1)
	assert.Equal(t, []string{d.ID}, r.DevicesForOwner("alice"))
}

func TestRegisterFillsStub(t *testing.T) {
	r := New()
	id := domain.DeviceID("bob", "x")
	require.True(t, r.EnsureStub(id))
	require.False(t, r.EnsureStub(id))

	d, created := r.RegisterDevice("bob", "x", "Bob", t0)
	assert.True(t, created)
	assert.Equal(t, "bob", d.OwnerID)
	assert.Equal(t, []string{id}, r.DevicesForOwner("bob"))
}

func TestPhoneNumberCachedAndResolvable(t *testing.T) {
	r := New()
	d, _ := r.RegisterDevice("alice", "item-1", "", t0)

	number, created := r.PhoneNumber(d.ID)
	require.True(t, created)
	assert.Equal(t, domain.PhoneNumber(d.ID), number)

	again, created := r.PhoneNumber(d.ID)
	assert.False(t, created)
	assert.Equal(t, number, again)

	got, err := r.Resolve(number)
	require.NoError(t, err)
	assert.Equal(t, d.ID, got)

	// Formatting differences do not matter.
	got, err = r.Resolve(domain.NormalizePhoneNumber(number))
	require.NoError(t, err)
	assert.Equal(t, d.ID, got)
}

func TestResolveNotFound(t *testing.T) {
	r := New()
	_, err := r.Resolve("+1 999 999 9999")
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	_, err = r.Resolve("")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestContactEdgesDirected(t *testing.T) {
	r := New()
	a, _ := r.RegisterDevice("alice", "1", "", t0)
	b, _ := r.RegisterDevice("bob", "1", "", t0)

	added, err := r.AddContact(a.ID, b.ID)
	require.NoError(t, err)
	assert.True(t, added)
	assert.True(t, r.IsContact(a.ID, b.ID))
	assert.False(t, r.IsContact(b.ID, a.ID))

	added, err = r.AddContact(a.ID, b.ID)
	require.NoError(t, err)
	assert.False(t, added)

	_, err = r.AddContact("missing", b.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = r.AddContact(a.ID, a.ID)
	assert.Error(t, err)

	_, _ = r.AddContact(b.ID, a.ID)
	removed, err := r.RemoveContact(a.ID, b.ID)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.False(t, r.IsContact(a.ID, b.ID))
	assert.True(t, r.IsContact(b.ID, a.ID), "reciprocal edge must survive removal")
}

func TestRemoveDeviceGarbageCollects(t *testing.T) {
	r := New()
	a, _ := r.RegisterDevice("alice", "1", "", t0)
	b, _ := r.RegisterDevice("bob", "1", "", t0)
	c, _ := r.RegisterDevice("carol", "1", "", t0)
	_, _ = r.AddContact(a.ID, b.ID)
	_, _ = r.AddContact(c.ID, b.ID)
	_, _ = r.AddContact(b.ID, a.ID)
	number, _ := r.PhoneNumber(b.ID)

	removed, touched := r.RemoveDevice(b.ID)
	require.True(t, removed)
	assert.Equal(t, []string{a.ID, c.ID}, touched)
	assert.False(t, r.Has(b.ID))
	assert.False(t, r.IsContact(a.ID, b.ID))
	assert.Empty(t, r.DevicesForOwner("bob"))

	_, err := r.Resolve(number)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	removed, _ = r.RemoveDevice(b.ID)
	assert.False(t, removed)
}

func TestSnapshotLoadRoundTrip(t *testing.T) {
	src := New()
	a, _ := src.RegisterDevice("alice", "1", "A", t0)
	b, _ := src.RegisterDevice("bob", "1", "B", t0)
	_, _ = src.AddContact(a.ID, b.ID)
	_, _ = src.PhoneNumber(a.ID)

	dst := New()
	// An edge written locally before the snapshot arrives must survive the load.
	dst.EnsureStub(a.ID)
	_, _ = dst.AddContact(a.ID, "dev-local-only")

	dst.Load(src.Snapshot(), src.PhoneSnapshot())

	got, err := dst.Device(a.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.OwnerID)
	assert.Equal(t, []string{b.ID, "dev-local-only"}, got.Contacts)
	assert.Equal(t, []string{a.ID}, dst.DevicesForOwner("alice"))

	id, err := dst.Resolve(domain.PhoneNumber(a.ID))
	require.NoError(t, err)
	assert.Equal(t, a.ID, id)
}

func TestLoadAppliesRemovals(t *testing.T) {
	r := New()
	a, _ := r.RegisterDevice("alice", "1", "", t0)

	data := domain.NewDeviceData()
	data.Removed = []string{a.ID}
	r.Load(data, domain.NewPhoneData())
	assert.False(t, r.Has(a.ID))
}

func TestSubsetSkipsStubs(t *testing.T) {
	r := New()
	a, _ := r.RegisterDevice("alice", "1", "", t0)
	r.EnsureStub("dev-stub")

	sub := r.Subset(a.ID, "dev-stub", "dev-missing")
	assert.Len(t, sub.Devices, 1)
	assert.Equal(t, []string{a.ID}, sub.DeviceMappings["alice"])
}

func TestUpsertReplacesContacts(t *testing.T) {
	r := New()
	a, _ := r.RegisterDevice("alice", "1", "", t0)
	_, _ = r.AddContact(a.ID, "x")

	a.Contacts = []string{"z", "y", "y"}
	r.Upsert(a)

	got, err := r.Contacts(a.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"y", "z"}, got)
}
