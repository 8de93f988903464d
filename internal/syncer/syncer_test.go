package syncer

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/matheus3301/meshphone/internal/conversation"
	"github.com/matheus3301/meshphone/internal/domain"
	"github.com/matheus3301/meshphone/internal/replication"
	"github.com/matheus3301/meshphone/internal/worldstore"
)

type sent struct {
	mode   replication.Mode
	target string
	env    replication.Envelope
	ev     replication.Event
}

type fakePublisher struct {
	mu          sync.Mutex
	self        replication.Origin
	peers       []string
	coordinator string
	sent        []sent
	err         error
	now         func() time.Time
}

func (p *fakePublisher) Publish(_ context.Context, mode replication.Mode, target string, ev replication.Event) (replication.Envelope, error) {
	env, err := replication.Seal(p.self, 1, p.now(), ev)
	if err != nil {
		return env, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, sent{mode: mode, target: target, env: env, ev: ev})
	return env, p.err
}

func (p *fakePublisher) Peers() []string          { return p.peers }
func (p *fakePublisher) Self() replication.Origin { return p.self }
func (p *fakePublisher) CoordinatorID() string    { return p.coordinator }

func (p *fakePublisher) last(t *testing.T) sent {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	require.NotEmpty(t, p.sent)
	return p.sent[len(p.sent)-1]
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newClock() *testClock {
	return &testClock{t: time.UnixMilli(1_700_000_000_000)}
}

func msg(id, from, to string, ts int64) domain.Message {
	return domain.Message{ID: id, SenderID: from, ReceiverID: to, Text: id, Timestamp: ts}
}

func TestRequestTracksPeers(t *testing.T) {
	clock := newClock()
	pub := &fakePublisher{self: replication.Origin{UserID: "alice"}, peers: []string{"bob", "carol"}, now: clock.Now}
	r := NewReconciler(conversation.New(), pub, Config{}, clock.Now, nil, zaptest.NewLogger(t))

	id, err := r.Request(context.Background(), "dev-alice-1")
	require.NoError(t, err)

	last := pub.last(t)
	assert.Equal(t, replication.ModeBroadcast, last.mode)
	req, ok := last.ev.(replication.RequestMessageSync)
	require.True(t, ok)
	assert.Equal(t, id, req.RequestID)
	assert.Equal(t, "alice", req.RequestingUserID)
	assert.Equal(t, clock.Now().UnixMilli(), req.Timestamp)

	st, ok := r.Status(id)
	require.True(t, ok)
	assert.Equal(t, AwaitingReply, st.State)
	assert.Equal(t, map[string]State{"bob": AwaitingReply, "carol": AwaitingReply}, st.Peers)
}

func TestRequestWithoutPeersStaysSent(t *testing.T) {
	clock := newClock()
	pub := &fakePublisher{self: replication.Origin{UserID: "alice"}, now: clock.Now, err: domain.ErrTransportUnavailable}
	r := NewReconciler(conversation.New(), pub, Config{}, clock.Now, nil, zaptest.NewLogger(t))

	id, err := r.Request(context.Background(), "dev-alice-1")
	assert.ErrorIs(t, err, domain.ErrTransportUnavailable)
	st, ok := r.Status(id)
	require.True(t, ok)
	assert.Equal(t, RequestSent, st.State)
}

func TestHandleRequestAnswersWithinWindow(t *testing.T) {
	clock := newClock()
	now := clock.Now().UnixMilli()
	store := conversation.New()
	key := domain.ConversationKey("dev-a", "dev-b")
	store.Append("dev-a", key, msg("old", "dev-a", "dev-b", now-int64(25*time.Hour/time.Millisecond)))
	store.Append("dev-a", key, msg("new", "dev-b", "dev-a", now-1000))

	pub := &fakePublisher{self: replication.Origin{UserID: "bob"}, now: clock.Now}
	r := NewReconciler(store, pub, Config{}, clock.Now, nil, zaptest.NewLogger(t))

	env := replication.Envelope{OriginUserID: "alice", Timestamp: now}
	require.NoError(t, r.HandleRequest(context.Background(), env, replication.RequestMessageSync{
		RequestID: "r1", RequestingUserID: "alice", DeviceID: "dev-a", Timestamp: now - 500,
	}))

	last := pub.last(t)
	assert.Equal(t, replication.ModeDirect, last.mode)
	assert.Equal(t, "alice", last.target)
	resp, ok := last.ev.(replication.MessageSyncResponse)
	require.True(t, ok)
	assert.Equal(t, "r1", resp.RequestID)
	assert.Equal(t, "bob", resp.RespondingUserID)
	assert.Equal(t, now-500, resp.RequestTimestamp)
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, "new", resp.Messages[0].Message.ID)
	assert.Equal(t, key, resp.Messages[0].ConversationKey)
}

func TestHandleRequestSilentWithoutPartition(t *testing.T) {
	clock := newClock()
	pub := &fakePublisher{self: replication.Origin{UserID: "bob"}, now: clock.Now}
	r := NewReconciler(conversation.New(), pub, Config{}, clock.Now, nil, zaptest.NewLogger(t))

	require.NoError(t, r.HandleRequest(context.Background(), replication.Envelope{OriginUserID: "alice"},
		replication.RequestMessageSync{RequestID: "r1", RequestingUserID: "alice", DeviceID: "dev-x"}))
	assert.Empty(t, pub.sent)

	err := r.HandleRequest(context.Background(), replication.Envelope{OriginUserID: "bob"},
		replication.RequestMessageSync{RequestID: "r2", RequestingUserID: "bob", DeviceID: "dev-x"})
	assert.ErrorIs(t, err, domain.ErrStaleEvent)
}

func TestHandleResponseMergesOnce(t *testing.T) {
	clock := newClock()
	store := conversation.New()
	pub := &fakePublisher{self: replication.Origin{UserID: "alice"}, peers: []string{"bob"}, now: clock.Now}

	var mergedKeys []string
	r := NewReconciler(store, pub, Config{}, clock.Now, func(_ string, keys []string) {
		mergedKeys = append(mergedKeys, keys...)
	}, zaptest.NewLogger(t))

	id, err := r.Request(context.Background(), "dev-a")
	require.NoError(t, err)

	now := clock.Now().UnixMilli()
	key := domain.ConversationKey("dev-a", "dev-b")
	reply := replication.MessageSyncResponse{
		RequestID: id, RespondingUserID: "bob", RequestingUserID: "alice", DeviceID: "dev-a", RequestTimestamp: now,
		Messages: []replication.SyncedMessage{
			{ConversationKey: key, Message: msg("m2", "dev-b", "dev-a", now-10)},
			{ConversationKey: key, Message: msg("m1", "dev-a", "dev-b", now-20)},
		},
	}
	env := replication.Envelope{OriginUserID: "bob", Timestamp: now}

	clock.Advance(time.Second)
	n, err := r.HandleResponse(env, reply)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = r.HandleResponse(env, reply)
	require.NoError(t, err)
	assert.Zero(t, n)

	msgs := store.Messages("dev-a", key)
	require.Len(t, msgs, 2)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, []string{key}, mergedKeys)

	st, _ := r.Status(id)
	assert.Equal(t, Merged, st.State)
	assert.Equal(t, Merged, st.Peers["bob"])
	assert.Equal(t, 2, st.Merged)
}

func TestHandleResponseDropsStaleAndSelf(t *testing.T) {
	clock := newClock()
	store := conversation.New()
	pub := &fakePublisher{self: replication.Origin{UserID: "alice"}, peers: []string{"bob"}, now: clock.Now}
	r := NewReconciler(store, pub, Config{StaleAfter: 30 * time.Second}, clock.Now, nil, zaptest.NewLogger(t))

	id, err := r.Request(context.Background(), "dev-a")
	require.NoError(t, err)
	reply := replication.MessageSyncResponse{
		RequestID: id, RespondingUserID: "bob", RequestingUserID: "alice", DeviceID: "dev-a",
		Messages: []replication.SyncedMessage{{Message: msg("m1", "dev-a", "dev-b", 1)}},
	}

	_, err = r.HandleResponse(replication.Envelope{OriginUserID: "alice"}, reply)
	assert.ErrorIs(t, err, domain.ErrStaleEvent)

	clock.Advance(31 * time.Second)
	// The responder's clock is irrelevant: only the request's send time counts.
	_, err = r.HandleResponse(replication.Envelope{OriginUserID: "bob", Timestamp: clock.Now().UnixMilli()}, reply)
	assert.ErrorIs(t, err, domain.ErrStaleEvent)
	assert.True(t, IsStale(err))

	assert.False(t, store.HasPartition("dev-a"))
	st, _ := r.Status(id)
	assert.Equal(t, TimedOut, st.State)
}

func TestHandleResponseUntrackedUsesEchoedTimestamp(t *testing.T) {
	clock := newClock()
	pub := &fakePublisher{self: replication.Origin{UserID: "alice"}, now: clock.Now}
	r := NewReconciler(conversation.New(), pub, Config{}, clock.Now, nil, zaptest.NewLogger(t))

	reply := replication.MessageSyncResponse{
		RequestID: "unknown", RespondingUserID: "bob", DeviceID: "dev-a",
		RequestTimestamp: clock.Now().Add(-time.Minute).UnixMilli(),
	}
	_, err := r.HandleResponse(replication.Envelope{OriginUserID: "bob", Timestamp: clock.Now().UnixMilli()}, reply)
	assert.ErrorIs(t, err, domain.ErrStaleEvent)

	reply.RequestTimestamp = clock.Now().UnixMilli()
	_, err = r.HandleResponse(replication.Envelope{OriginUserID: "bob"}, reply)
	assert.NoError(t, err)
}

// Two clients ask for the same device within the same second; each merges
// overlapping replies from two peers without duplicates.
func TestOverlappingRepliesMergeWithoutDuplicates(t *testing.T) {
	clock := newClock()
	now := clock.Now().UnixMilli()
	key := domain.ConversationKey("dev-a", "dev-b")
	shared := []domain.Message{msg("m1", "dev-a", "dev-b", now-300), msg("m2", "dev-b", "dev-a", now-200)}
	extra := msg("m3", "dev-a", "dev-b", now-100)

	for _, requester := range []string{"alice", "carol"} {
		store := conversation.New()
		pub := &fakePublisher{self: replication.Origin{UserID: requester}, peers: []string{"bob", "dave"}, now: clock.Now}
		r := NewReconciler(store, pub, Config{}, clock.Now, nil, zaptest.NewLogger(t))
		id, err := r.Request(context.Background(), "dev-a")
		require.NoError(t, err)

		for _, responder := range []struct {
			user string
			msgs []domain.Message
		}{
			{"bob", shared},
			{"dave", append(append([]domain.Message(nil), shared...), extra)},
		} {
			var synced []replication.SyncedMessage
			for _, m := range responder.msgs {
				synced = append(synced, replication.SyncedMessage{ConversationKey: key, Message: m})
			}
			_, err := r.HandleResponse(replication.Envelope{OriginUserID: responder.user}, replication.MessageSyncResponse{
				RequestID: id, RespondingUserID: responder.user, RequestingUserID: requester, DeviceID: "dev-a", Messages: synced,
			})
			require.NoError(t, err)
		}

		msgs := store.Messages("dev-a", key)
		require.Len(t, msgs, 3, requester)
		assert.Equal(t, []string{"m1", "m2", "m3"}, []string{msgs[0].ID, msgs[1].ID, msgs[2].ID})
	}
}

func openWorld(t *testing.T, coordinator bool) *worldstore.Store {
	t.Helper()
	w, err := worldstore.Open("", coordinator, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func TestWriterCoordinatorCommitsDirectly(t *testing.T) {
	world := openWorld(t, true)
	pub := &fakePublisher{self: replication.Origin{UserID: "coord"}, now: time.Now}
	w := NewWriter(world, pub, nil, zaptest.NewLogger(t))

	data := domain.NewDeviceData()
	data.Devices["dev-a-1"] = domain.Device{ID: "dev-a-1", OwnerID: "a"}
	id, err := w.Save(context.Background(), domain.KindDeviceData, data)
	require.NoError(t, err)
	assert.Empty(t, id)
	assert.Empty(t, pub.sent)

	got, err := world.Devices()
	require.NoError(t, err)
	assert.Contains(t, got.Devices, "dev-a-1")
	assert.Equal(t, []string{"dev-a-1"}, got.DeviceMappings["a"])
}

func TestWriterDelegatesAndAwaits(t *testing.T) {
	ctx := context.Background()
	coordWorld := openWorld(t, true)
	coordPub := &fakePublisher{self: replication.Origin{UserID: "coord"}, now: time.Now}
	coord := NewWriter(coordWorld, coordPub, nil, zaptest.NewLogger(t))

	partPub := &fakePublisher{self: replication.Origin{UserID: "alice"}, now: time.Now}
	part := NewWriter(nil, partPub, nil, zaptest.NewLogger(t))

	phones := domain.NewPhoneData()
	phones.DevicePhoneNumbers["dev-a-1"] = "+1 415 212 0002"
	phones.PhoneNumberDictionary["+1 415 212 0002"] = "dev-a-1"

	id, err := part.Save(ctx, domain.KindPhoneData, phones)
	require.NoError(t, err)
	require.NotEmpty(t, id)
	assert.Equal(t, 1, part.Pending())

	req := partPub.last(t)
	assert.Equal(t, replication.ModeCoordinator, req.mode)
	saveReq, ok := req.ev.(replication.RequestCoordinatorSave)
	require.True(t, ok)

	require.NoError(t, coord.HandleSaveRequest(ctx, req.env, saveReq))
	got, err := coordWorld.Phones()
	require.NoError(t, err)
	assert.Equal(t, "dev-a-1", got.PhoneNumberDictionary["+1 415 212 0002"])

	reply := coordPub.last(t)
	assert.Equal(t, replication.ModeDirect, reply.mode)
	assert.Equal(t, "alice", reply.target)
	result, ok := reply.ev.(replication.CoordinatorSaveResult)
	require.True(t, ok)
	assert.True(t, result.OK)

	part.HandleSaveResult(result)
	require.NoError(t, part.Await(ctx, id))
	assert.Zero(t, part.Pending())
}

func TestWriterRejectsUnauthorizedWrites(t *testing.T) {
	ctx := context.Background()
	pub := &fakePublisher{self: replication.Origin{UserID: "alice"}, now: time.Now}
	w := NewWriter(openWorld(t, false), pub, nil, zaptest.NewLogger(t))
	assert.False(t, w.IsCoordinator())

	err := w.CommitDirect(domain.KindDeviceData, domain.NewDeviceData())
	assert.ErrorIs(t, err, domain.ErrUnauthorizedWrite)

	err = w.HandleSaveRequest(ctx, replication.Envelope{OriginUserID: "bob"}, replication.RequestCoordinatorSave{
		RequestID: "r", Kind: domain.KindDeviceData, Payload: json.RawMessage(`{}`),
	})
	assert.ErrorIs(t, err, domain.ErrUnauthorizedWrite)

	err = w.Await(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestWriterReportsFailedDelegatedSave(t *testing.T) {
	ctx := context.Background()
	coordPub := &fakePublisher{self: replication.Origin{UserID: "coord"}, now: time.Now}
	coord := NewWriter(openWorld(t, true), coordPub, nil, zaptest.NewLogger(t))

	err := coord.HandleSaveRequest(ctx, replication.Envelope{OriginUserID: "alice"}, replication.RequestCoordinatorSave{
		RequestID: "r1", Kind: "bogus", Payload: json.RawMessage(`{}`),
	})
	assert.Error(t, err)
	result, ok := coordPub.last(t).ev.(replication.CoordinatorSaveResult)
	require.True(t, ok)
	assert.False(t, result.OK)

	part := NewWriter(nil, &fakePublisher{self: replication.Origin{UserID: "alice"}, now: time.Now}, nil, zaptest.NewLogger(t))
	id, err := part.Save(ctx, domain.KindDeviceData, domain.NewDeviceData())
	require.NoError(t, err)
	result.RequestID = id
	part.HandleSaveResult(result)
	err = part.Await(ctx, id)
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrNotFound)
	assert.Contains(t, err.Error(), "coordinator rejected")
	assert.Contains(t, err.Error(), result.Error)
}

func TestWriterAwaitBeforeResult(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	part := NewWriter(nil, &fakePublisher{self: replication.Origin{UserID: "alice"}, now: time.Now}, nil, zaptest.NewLogger(t))
	id, err := part.Save(ctx, domain.KindDeviceData, domain.NewDeviceData())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- part.Await(ctx, id) }()

	part.HandleSaveResult(replication.CoordinatorSaveResult{RequestID: id, Kind: domain.KindDeviceData, OK: true})
	// A redelivered result is ignored.
	part.HandleSaveResult(replication.CoordinatorSaveResult{RequestID: id, Kind: domain.KindDeviceData, OK: false})
	require.NoError(t, <-done)
	assert.Zero(t, part.Pending())
	assert.ErrorIs(t, part.Await(ctx, id), domain.ErrNotFound)
}

func TestWriterDropsOldUncollectedResults(t *testing.T) {
	ctx := context.Background()
	part := NewWriter(nil, &fakePublisher{self: replication.Origin{UserID: "alice"}, now: time.Now}, nil, zaptest.NewLogger(t))

	var ids []string
	for i := 0; i < maxUncollected+1; i++ {
		id, err := part.Save(ctx, domain.KindDeviceData, domain.NewDeviceData())
		require.NoError(t, err)
		part.HandleSaveResult(replication.CoordinatorSaveResult{RequestID: id, Kind: domain.KindDeviceData, OK: true})
		ids = append(ids, id)
	}
	assert.Zero(t, part.Pending())
	assert.ErrorIs(t, part.Await(ctx, ids[0]), domain.ErrNotFound)
	assert.NoError(t, part.Await(ctx, ids[len(ids)-1]))
}

func TestMergeDeviceDataAppliesRemovals(t *testing.T) {
	base := domain.NewDeviceData()
	base.Devices["dev-a-1"] = domain.Device{ID: "dev-a-1", OwnerID: "a", Contacts: []string{"dev-b-1"}}
	base.Devices["dev-b-1"] = domain.Device{ID: "dev-b-1", OwnerID: "b", Contacts: []string{"dev-a-1"}}

	partial := domain.NewDeviceData()
	partial.Devices["dev-c-1"] = domain.Device{ID: "dev-c-1", OwnerID: "c"}
	partial.Removed = []string{"dev-b-1"}

	got := MergeDeviceData(base, partial)
	assert.NotContains(t, got.Devices, "dev-b-1")
	assert.Empty(t, got.Devices["dev-a-1"].Contacts)
	assert.Equal(t, []string{"dev-c-1"}, got.DeviceMappings["c"])
	assert.NotContains(t, got.DeviceMappings, "b")
	// base is untouched
	assert.Equal(t, []string{"dev-b-1"}, base.Devices["dev-a-1"].Contacts)
}
