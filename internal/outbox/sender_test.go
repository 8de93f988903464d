package outbox

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/matheus3301/meshphone/internal/bus"
	"github.com/matheus3301/meshphone/internal/domain"
	"github.com/matheus3301/meshphone/internal/replication"
	"github.com/matheus3301/meshphone/internal/store"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	_, err = db.Migrate()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newSender(t *testing.T, db *store.DB, tr replication.Transport, b *bus.Bus) *Sender {
	t.Helper()
	s, err := NewSender(db, tr, replication.Origin{UserID: "alice", SessionID: "s1"}, b, zaptest.NewLogger(t))
	require.NoError(t, err)
	return s
}

func recv(t *testing.T, c *replication.MemoryClient) replication.Envelope {
	t.Helper()
	select {
	case env := <-c.Inbound():
		return env
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for envelope")
		return replication.Envelope{}
	}
}

func TestPublishDeliversDirectly(t *testing.T) {
	hub := replication.NewMemoryHub()
	alice := hub.Join("alice", false)
	bob := hub.Join("bob", false)
	db := testDB(t)
	s := newSender(t, db, alice, bus.New())

	env, err := s.Publish(context.Background(), replication.ModeBroadcast, "",
		replication.ConversationClear{DeviceID: "dev-a", ContactDeviceID: "dev-b"})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), env.Seq)
	assert.Equal(t, "alice", env.OriginUserID)

	got := recv(t, bob)
	assert.Equal(t, env.EventID, got.EventID)

	pending, err := db.PendingOutbox()
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.Equal(t, []string{"bob"}, s.Peers())
}

func TestPublishQueuesWhenOfflineAndFlushesLater(t *testing.T) {
	hub := replication.NewMemoryHub()
	alice := hub.Join("alice", false)
	bob := hub.Join("bob", false)
	db := testDB(t)
	b := bus.New()
	events, unsub := b.Subscribe("outbox.", 10)
	defer unsub()
	s := newSender(t, db, alice, b)

	hub.SetOffline("alice", true)
	env, err := s.Publish(context.Background(), replication.ModeDirect, "bob",
		replication.ContactUpdate{DeviceID: "dev-a", ContactDeviceID: "dev-b", Action: replication.ContactAdd})
	require.ErrorIs(t, err, domain.ErrTransportUnavailable)

	pending, err := db.PendingOutbox()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, env.EventID, pending[0].EventID)
	assert.Equal(t, "direct", pending[0].Mode)
	assert.Equal(t, bus.KindOutboxQueued, (<-events).Kind)

	// Still offline: the entry stays queued with one more attempt.
	assert.Zero(t, s.Flush(context.Background()))
	pending, err = db.PendingOutbox()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].Attempts)

	hub.SetOffline("alice", false)
	assert.Equal(t, 1, s.Flush(context.Background()))
	got := recv(t, bob)
	assert.Equal(t, env.EventID, got.EventID)
	assert.Equal(t, env.Seq, got.Seq)
	assert.Equal(t, bus.KindOutboxFlushed, (<-events).Kind)

	pending, err = db.PendingOutbox()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRetryLoopAndClockCheckpoint(t *testing.T) {
	hub := replication.NewMemoryHub()
	alice := hub.Join("alice", false)
	bob := hub.Join("bob", false)
	db := testDB(t)
	s := newSender(t, db, alice, bus.New())
	s.interval = 10 * time.Millisecond

	hub.SetOffline("alice", true)
	_, err := s.Publish(context.Background(), replication.ModeBroadcast, "", replication.RequestWorldSnapshot{RequestingUserID: "alice"})
	require.ErrorIs(t, err, domain.ErrTransportUnavailable)

	s.Start(context.Background())
	hub.SetOffline("alice", false)
	recv(t, bob)
	s.Stop()

	v, err := db.GetCheckpoint(ClockCheckpointKey("alice"))
	require.NoError(t, err)
	assert.Equal(t, "1", v)

	resumed := newSender(t, db, alice, bus.New())
	assert.Equal(t, uint64(2), resumed.Clock().Next())
}
