package relay

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/matheus3301/meshphone/internal/domain"
	"github.com/matheus3301/meshphone/internal/replication"
	linkstatus "github.com/matheus3301/meshphone/internal/status"
)

type testRelay struct {
	hub    *Hub
	srv    *grpc.Server
	dialer grpc.DialOption
}

func startRelay(t *testing.T) *testRelay {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	hub := NewHub(zaptest.NewLogger(t))
	srv := grpc.NewServer()
	RegisterRelayServer(srv, hub)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(func() {
		hub.Close()
		srv.Stop()
	})
	return &testRelay{
		hub: hub,
		srv: srv,
		dialer: grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	}
}

func (r *testRelay) join(t *testing.T, userID string, coordinator bool, machine *linkstatus.Machine) *Client {
	t.Helper()
	c, err := Dial(ClientConfig{
		Address:     "passthrough:///bufnet",
		UserID:      userID,
		Coordinator: coordinator,
		MinBackoff:  10 * time.Millisecond,
		MaxBackoff:  50 * time.Millisecond,
		DialOptions: []grpc.DialOption{r.dialer},
	}, zaptest.NewLogger(t), machine, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	require.Eventually(t, c.Connected, 2*time.Second, 10*time.Millisecond)
	return c
}

func envelope(t *testing.T, from string) replication.Envelope {
	t.Helper()
	env, err := replication.Seal(replication.Origin{UserID: from}, 1, time.Now(),
		replication.ConversationClear{DeviceID: "dev-a", ContactDeviceID: "dev-b"})
	require.NoError(t, err)
	return env
}

func recv(t *testing.T, c *Client) replication.Envelope {
	t.Helper()
	select {
	case env := <-c.Inbound():
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for envelope")
		return replication.Envelope{}
	}
}

func assertQuiet(t *testing.T, c *Client) {
	t.Helper()
	select {
	case env := <-c.Inbound():
		t.Fatalf("unexpected envelope %s", env.EventID)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRelayRoutesEveryMode(t *testing.T) {
	r := startRelay(t)
	ctx := context.Background()

	coord := r.join(t, "coord", true, nil)
	alice := r.join(t, "alice", false, nil)
	bob := r.join(t, "bob", false, nil)

	require.Eventually(t, func() bool { return len(alice.Peers()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"bob", "coord"}, alice.Peers())
	assert.Equal(t, "coord", alice.CoordinatorID())
	assert.Equal(t, []string{"alice", "bob", "coord"}, r.hub.Peers())

	env := envelope(t, "alice")
	require.NoError(t, alice.BroadcastToAll(ctx, env))
	assert.Equal(t, env.EventID, recv(t, bob).EventID)
	assert.Equal(t, env.EventID, recv(t, coord).EventID)
	assertQuiet(t, alice)

	direct := envelope(t, "alice")
	require.NoError(t, alice.SendTo(ctx, "bob", direct))
	assert.Equal(t, direct.EventID, recv(t, bob).EventID)
	assertQuiet(t, coord)

	toCoord := envelope(t, "bob")
	require.NoError(t, bob.SendToCoordinator(ctx, toCoord))
	got := recv(t, coord)
	assert.Equal(t, toCoord.EventID, got.EventID)
	assert.Equal(t, replication.NameConversationClear, got.Name)
	assertQuiet(t, alice)
}

func TestRelayPresenceTracksDepartures(t *testing.T) {
	r := startRelay(t)
	alice := r.join(t, "alice", false, nil)
	bob := r.join(t, "bob", false, nil)

	require.Eventually(t, func() bool { return len(alice.Peers()) == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, bob.Close())
	require.Eventually(t, func() bool { return len(alice.Peers()) == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.NotPanics(t, func() { assert.NoError(t, bob.Close()) })
	_, open := <-bob.Inbound()
	assert.False(t, open)

	err := alice.SendToCoordinator(context.Background(), envelope(t, "alice"))
	assert.ErrorIs(t, err, domain.ErrTransportUnavailable)
}

func TestRelayRejectsSecondCoordinator(t *testing.T) {
	r := startRelay(t)
	r.join(t, "coord", true, nil)

	conn, err := grpc.NewClient("passthrough:///bufnet", r.dialer, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	for _, tc := range []struct {
		name string
		md   []string
		code codes.Code
	}{
		{"missing identity", nil, codes.Unauthenticated},
		{"second coordinator", []string{MetadataUserID, "other", MetadataRole, RoleCoordinator}, codes.AlreadyExists},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			if tc.md != nil {
				ctx = metadataContext(ctx, tc.md...)
			}
			cs, err := conn.NewStream(ctx, &ServiceDesc.Streams[0], ConnectMethod)
			require.NoError(t, err)
			stream := &grpc.GenericClientStream[wrapperspb.BytesValue, wrapperspb.BytesValue]{ClientStream: cs}
			_, err = stream.Recv()
			assert.Equal(t, tc.code, status.Code(err))
		})
	}
}

func TestClientReportsLinkState(t *testing.T) {
	r := startRelay(t)
	machine := linkstatus.NewMachine(nil)
	r.join(t, "alice", false, machine)
	assert.Equal(t, linkstatus.Online, machine.Current())

	r.hub.Close()
	require.Eventually(t, func() bool { return machine.Current() != linkstatus.Online }, 2*time.Second, 10*time.Millisecond)
}

func TestSendWithoutStreamIsUnavailable(t *testing.T) {
	c, err := Dial(ClientConfig{Address: "passthrough:///nowhere", UserID: "alice",
		DialOptions: []grpc.DialOption{grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) {
			return nil, context.DeadlineExceeded
		})},
	}, zaptest.NewLogger(t), nil, nil)
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	err = c.BroadcastToAll(context.Background(), envelope(t, "alice"))
	assert.ErrorIs(t, err, domain.ErrTransportUnavailable)

	_, err = Dial(ClientConfig{Address: "passthrough:///nowhere"}, zaptest.NewLogger(t), nil, nil)
	assert.Error(t, err)
}

func metadataContext(ctx context.Context, kv ...string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, kv...)
}
