package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matheus3301/meshphone/internal/domain"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	require.NoError(t, err)
	_, err = db.Migrate()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := testDB(t)

	// testDB already migrated; a second run must be a no-op.
	result, err := db.Migrate()
	require.NoError(t, err)
	assert.False(t, result.Changed)
	assert.Equal(t, uint(2), result.Version)
	assert.False(t, result.Dirty)

	version, dirty, err := db.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)
}

func TestMigrateSchemaHasRequiredTables(t *testing.T) {
	db := testDB(t)

	ops := []struct {
		desc  string
		query string
		args  []any
	}{
		{"insert message", "INSERT INTO messages (client_user_id, device_id, conversation_key, msg_id, sender_id, receiver_id, body, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?, ?)", []any{"u1", "d1", "d1|d2", "m1", "d1", "d2", "hi", 1000}},
		{"insert partition", "INSERT INTO partitions (client_user_id, device_id) VALUES (?, ?)", []any{"u1", "d1"}},
		{"insert mute", "INSERT INTO mutes (client_user_id, device_id, contact_device_id, muted) VALUES (?, ?, ?, ?)", []any{"u1", "d1", "d2", true}},
		{"insert read mark", "INSERT INTO read_marks (client_user_id, device_id, contact_device_id, read_at) VALUES (?, ?, ?, ?)", []any{"u1", "d1", "d2", 1}},
		{"queue outbox", "INSERT INTO outbox (event_id, mode, envelope) VALUES (?, ?, ?)", []any{"e1", "broadcast", []byte("{}")}},
		{"set sync state", "INSERT INTO sync_state (key, value) VALUES (?, ?)", []any{"k", "v"}},
	}
	for _, op := range ops {
		t.Run(op.desc, func(t *testing.T) {
			_, err := db.Exec(op.query, op.args...)
			require.NoError(t, err)
		})
	}
}

func TestPartitionRoundTrip(t *testing.T) {
	db := testDB(t)
	local := db.ForClient("alice")

	key := domain.ConversationKey("dev-a", "dev-b")
	convs := map[string][]domain.Message{
		key: {
			{ID: "m2", SenderID: "dev-b", ReceiverID: "dev-a", Text: "yo", Timestamp: 2000},
			{ID: "m1", SenderID: "dev-a", ReceiverID: "dev-b", Text: "hi", Timestamp: 1000, Read: true},
		},
	}
	require.NoError(t, local.SavePartition("dev-a", convs))

	got, err := local.LoadPartition("dev-a")
	require.NoError(t, err)
	require.Len(t, got[key], 2)
	assert.Equal(t, "m1", got[key][0].ID)
	assert.True(t, got[key][0].Read)
	assert.Equal(t, "yo", got[key][1].Text)

	ids, err := local.Partitions()
	require.NoError(t, err)
	assert.Equal(t, []string{"dev-a"}, ids)

	// Saving again replaces rather than appends.
	convs[key] = convs[key][:1]
	require.NoError(t, local.SavePartition("dev-a", convs))
	n, err := local.MessageCount()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPartitionsAreNamespacedByClient(t *testing.T) {
	db := testDB(t)
	alice := db.ForClient("alice")
	bob := db.ForClient("bob")

	msgs := map[string][]domain.Message{"dev-a|dev-b": {{ID: "m1", SenderID: "dev-a", ReceiverID: "dev-b", Timestamp: 1}}}
	require.NoError(t, alice.SavePartition("dev-a", msgs))

	got, err := bob.LoadPartition("dev-a")
	require.NoError(t, err)
	assert.Empty(t, got)

	ids, err := bob.Partitions()
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestMutesAndReadMarks(t *testing.T) {
	db := testDB(t)
	local := db.ForClient("alice")

	require.NoError(t, local.SetMute("dev-a", "dev-b", true))
	require.NoError(t, local.SetMute("dev-a", "dev-c", true))
	require.NoError(t, local.SetMute("dev-a", "dev-c", false))

	mutes, err := local.Mutes()
	require.NoError(t, err)
	assert.Equal(t, []MuteEntry{{DeviceID: "dev-a", ContactID: "dev-b"}}, mutes)

	at, err := local.ReadMark("dev-a", "dev-b")
	require.NoError(t, err)
	assert.Zero(t, at)

	require.NoError(t, local.SetReadMark("dev-a", "dev-b", 500))
	require.NoError(t, local.SetReadMark("dev-a", "dev-b", 100))
	at, err = local.ReadMark("dev-a", "dev-b")
	require.NoError(t, err)
	assert.Equal(t, int64(500), at)
}

func TestOutboxLifecycle(t *testing.T) {
	db := testDB(t)

	require.NoError(t, db.QueueOutbox("e1", "broadcast", "", []byte(`{"a":1}`)))
	require.NoError(t, db.QueueOutbox("e2", "direct", "bob", []byte(`{"b":2}`)))
	require.NoError(t, db.QueueOutbox("e1", "broadcast", "", []byte(`{"dup":true}`)))

	pending, err := db.PendingOutbox()
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "e1", pending[0].EventID)
	assert.JSONEq(t, `{"a":1}`, string(pending[0].Envelope))

	require.NoError(t, db.MarkOutboxRetry("e2", "relay down"))
	require.NoError(t, db.MarkOutboxSent("e1"))

	pending, err = db.PendingOutbox()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "e2", pending[0].EventID)
	assert.Equal(t, 1, pending[0].Attempts)
	assert.Equal(t, "relay down", pending[0].ErrorMessage)

	require.NoError(t, db.MarkOutboxFailed("e2", "gave up"))
	pending, err = db.PendingOutbox()
	require.NoError(t, err)
	assert.Empty(t, pending)

	all, err := db.OutboxEntries()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "sent", all[0].Status)
	assert.Equal(t, "failed", all[1].Status)
}

func TestCheckpoints(t *testing.T) {
	db := testDB(t)

	v, err := db.GetCheckpoint("clock/alice")
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, db.UpdateCheckpoint("clock/alice", "7"))
	require.NoError(t, db.UpdateCheckpoint("clock/alice", "9"))
	v, err = db.GetCheckpoint("clock/alice")
	require.NoError(t, err)
	assert.Equal(t, "9", v)
}
