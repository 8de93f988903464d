package replication

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matheus3301/meshphone/internal/domain"
)

var testOrigin = Origin{UserID: "alice", UserName: "Alice", SessionID: "s1"}

func TestSealOpenRoundTrip(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	msg := domain.Message{ID: "m1", SenderID: "dev-a", ReceiverID: "dev-b", Text: "hi", Timestamp: now.UnixMilli()}

	env, err := Seal(testOrigin, 7, now, MessageUpdate{SenderID: "dev-a", ReceiverID: "dev-b", Message: msg})
	require.NoError(t, err)
	assert.NotEmpty(t, env.EventID)
	assert.Equal(t, NameMessageUpdate, env.Name)
	assert.Equal(t, uint64(7), env.Seq)
	assert.Equal(t, "alice", env.OriginUserID)
	assert.Equal(t, now.UnixMilli(), env.Timestamp)

	ev, err := env.Open()
	require.NoError(t, err)
	update, ok := ev.(MessageUpdate)
	require.True(t, ok, "got %T", ev)
	assert.Equal(t, msg, update.Message)
}

func TestOpenRejectsUnknownAndMalformed(t *testing.T) {
	_, err := Envelope{Name: "nope", Payload: []byte(`{}`)}.Open()
	var unknown *ErrUnknownEvent
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "nope", unknown.Name)

	_, err = Envelope{Name: NameContactUpdate, Payload: []byte(`{"deviceId": 5}`)}.Open()
	assert.Error(t, err)
}

func TestOpenEveryEvent(t *testing.T) {
	events := []Event{
		ContactUpdate{DeviceID: "a", ContactDeviceID: "b", Action: ContactAutoAdd, Reason: ReasonMessageReceived},
		MessageUpdate{SenderID: "a", ReceiverID: "b"},
		MessageDeletion{DeviceIDA: "a", DeviceIDB: "b", MessageIDs: []string{"m1"}},
		ConversationClear{DeviceID: "a", ContactDeviceID: "b"},
		RequestMessageSync{RequestID: "r", RequestingUserID: "alice", DeviceID: "a", Timestamp: 1},
		MessageSyncResponse{RequestID: "r", DeviceID: "a", Messages: []SyncedMessage{{ConversationKey: "a|b"}}},
		RequestCoordinatorSave{RequestID: "r", Kind: domain.KindDeviceData, Payload: []byte(`{}`)},
		CoordinatorSaveResult{RequestID: "r", OK: true},
		DeviceUpdate{Removed: []string{"a"}},
		RequestWorldSnapshot{RequestingUserID: "alice"},
		WorldSnapshot{Devices: domain.NewDeviceData(), Phones: domain.NewPhoneData()},
	}
	for _, ev := range events {
		t.Run(ev.EventName(), func(t *testing.T) {
			env, err := Seal(testOrigin, 1, time.Now(), ev)
			require.NoError(t, err)
			got, err := env.Open()
			require.NoError(t, err)
			assert.Equal(t, ev.EventName(), got.EventName())
		})
	}
}

func TestClockAndWatermarks(t *testing.T) {
	c := ParseClock("41")
	assert.Equal(t, uint64(42), c.Next())
	assert.Equal(t, "42", c.Checkpoint())
	assert.Equal(t, uint64(1), ParseClock("garbage").Next())

	w := NewWatermarks()
	assert.True(t, w.Observe("alice", 3))
	assert.False(t, w.Observe("alice", 2))
	assert.False(t, w.Observe("alice", 3))
	assert.True(t, w.Observe("bob", 1))
	assert.Equal(t, uint64(3), w.High("alice"))
}

func recv(t *testing.T, c *MemoryClient) Envelope {
	t.Helper()
	select {
	case env := <-c.Inbound():
		return env
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for envelope")
		return Envelope{}
	}
}

func assertEmpty(t *testing.T, c *MemoryClient) {
	t.Helper()
	select {
	case env := <-c.Inbound():
		t.Fatalf("unexpected envelope %s", env.Name)
	default:
	}
}

func TestMemoryHubRouting(t *testing.T) {
	ctx := context.Background()
	hub := NewMemoryHub()
	coord := hub.Join("coord", true)
	alice := hub.Join("alice", false)
	bob := hub.Join("bob", false)

	assert.Equal(t, []string{"bob", "coord"}, alice.Peers())

	env, err := Seal(testOrigin, 1, time.Now(), RequestWorldSnapshot{RequestingUserID: "alice"})
	require.NoError(t, err)

	require.NoError(t, alice.BroadcastToAll(ctx, env))
	assert.Equal(t, env.EventID, recv(t, bob).EventID)
	assert.Equal(t, env.EventID, recv(t, coord).EventID)
	assertEmpty(t, alice)

	require.NoError(t, alice.SendTo(ctx, "bob", env))
	recv(t, bob)
	assertEmpty(t, coord)

	require.NoError(t, alice.SendToCoordinator(ctx, env))
	recv(t, coord)
	assertEmpty(t, bob)

	require.NoError(t, Deliver(ctx, alice, ModeDirect, "coord", env))
	recv(t, coord)
}

func TestMemoryHubFaults(t *testing.T) {
	ctx := context.Background()
	hub := NewMemoryHub()
	alice := hub.Join("alice", false)
	bob := hub.Join("bob", false)

	env, err := Seal(testOrigin, 1, time.Now(), ConversationClear{DeviceID: "a", ContactDeviceID: "b"})
	require.NoError(t, err)

	err = alice.SendToCoordinator(ctx, env)
	assert.ErrorIs(t, err, domain.ErrTransportUnavailable)

	hub.SetOffline("alice", true)
	err = alice.BroadcastToAll(ctx, env)
	assert.ErrorIs(t, err, domain.ErrTransportUnavailable)
	assert.Empty(t, bob.Peers())

	hub.SetOffline("alice", false)
	hub.SetDuplicate(true)
	require.NoError(t, alice.BroadcastToAll(ctx, env))
	first, second := recv(t, bob), recv(t, bob)
	assert.Equal(t, first.EventID, second.EventID)

	require.NoError(t, bob.Close())
	_, open := <-bob.Inbound()
	assert.False(t, open)
	assert.Empty(t, alice.Peers())
}
