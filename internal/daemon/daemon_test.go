package daemon

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap/zaptest"

	"github.com/matheus3301/meshphone/internal/api"
	"github.com/matheus3301/meshphone/internal/config"
	"github.com/matheus3301/meshphone/internal/reactive"
	"github.com/matheus3301/meshphone/internal/replication"
)

func testParams(t *testing.T, hub *replication.MemoryHub, user string, coordinator bool) Params {
	t.Helper()
	// Use a short path to avoid the 104-char Unix socket limit on macOS.
	dir, err := os.MkdirTemp("/tmp", "mesh-*")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	cfg := config.Default()
	cfg.Identity.UserID = user
	cfg.Identity.UserName = user
	cfg.Identity.Coordinator = coordinator
	cfg.Sync.FlushInterval = config.Duration{Duration: 20 * time.Millisecond}

	return Params{
		SessionName: "test",
		Config:      cfg,
		Dir:         dir,
		Logger:      zaptest.NewLogger(t).Named(user),
		Transport:   hub.Join(user, coordinator),
		Scheduler:   &reactive.ManualScheduler{},
	}
}

func startDaemon(t *testing.T, p Params) *api.Client {
	t.Helper()
	app := fxtest.New(t, fx.NopLogger, Module(p))
	app.RequireStart()
	t.Cleanup(app.RequireStop)

	client, err := api.Dial(p.socketPath())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestDaemonLifecycle(t *testing.T) {
	hub := replication.NewMemoryHub()
	client := startDaemon(t, testParams(t, hub, "host", true))
	ctx := context.Background()

	st, err := client.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "test", st.Session)
	assert.Equal(t, "host", st.UserID)
	assert.True(t, st.Coordinator)
	assert.Equal(t, "ONLINE", st.Link)
	assert.Zero(t, st.Devices)

	a, err := client.RegisterDevice(ctx, api.DeviceRequest{Source: "cli-work", Label: "work"})
	require.NoError(t, err)
	assert.Equal(t, "host", a.OwnerID)
	assert.NotEmpty(t, a.PhoneNumber)
	assert.True(t, a.Local)

	b, err := client.RegisterDevice(ctx, api.DeviceRequest{Source: "cli-home", Label: "home"})
	require.NoError(t, err)
	require.NotEqual(t, a.ID, b.ID)

	sent, err := client.SendMessage(ctx, api.SendRequest{From: a.ID, To: b.ID, Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "hello", sent.Message.Text)

	conv, err := client.Conversation(ctx, api.ConversationRequest{Viewer: b.ID, Other: a.ID})
	require.NoError(t, err)
	require.Len(t, conv.Messages, 1)
	assert.Equal(t, 1, conv.Unread)

	n, err := client.MarkRead(ctx, b.ID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	contacts, err := client.Contacts(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, contacts.Contacts, 1)
	assert.Equal(t, a.ID, contacts.Contacts[0].DeviceID)
	assert.Zero(t, contacts.Contacts[0].Unread)

	found, err := client.LookupPhoneNumber(ctx, a.PhoneNumber)
	require.NoError(t, err)
	assert.Equal(t, a.ID, found.ID)

	world, err := client.World(ctx)
	require.NoError(t, err)
	assert.Len(t, world.Devices.Devices, 2)
	assert.Len(t, world.Phones.PhoneNumberDictionary, 2)
}

func TestControlErrorsMapToCodes(t *testing.T) {
	hub := replication.NewMemoryHub()
	client := startDaemon(t, testParams(t, hub, "host", true))
	ctx := context.Background()

	_, err := client.SendMessage(ctx, api.SendRequest{From: "nope", To: "missing", Text: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NotFound")

	_, err = client.Contacts(ctx, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "InvalidArgument")
}

func TestMessagesCrossDaemons(t *testing.T) {
	hub := replication.NewMemoryHub()
	host := startDaemon(t, testParams(t, hub, "host", true))
	alice := startDaemon(t, testParams(t, hub, "alice", false))
	ctx := context.Background()

	devH, err := host.RegisterDevice(ctx, api.DeviceRequest{Source: "cli", Label: "desk"})
	require.NoError(t, err)
	devA, err := alice.RegisterDevice(ctx, api.DeviceRequest{Source: "cli", Label: "phone"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		devices, err := alice.Devices(ctx)
		return err == nil && len(devices) == 2
	}, 2*time.Second, 10*time.Millisecond, "host device never reached alice")

	_, err = alice.SendMessage(ctx, api.SendRequest{From: devA.ID, To: devH.ID, Text: "ping"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		conv, err := host.Conversation(ctx, api.ConversationRequest{Viewer: devH.ID, Other: devA.ID})
		return err == nil && len(conv.Messages) == 1 && conv.Unread == 1
	}, 2*time.Second, 10*time.Millisecond, "message never reached host")

	require.Eventually(t, func() bool {
		world, err := host.World(ctx)
		if err != nil {
			return false
		}
		d, ok := world.Devices.Devices[devA.ID]
		return ok && d.OwnerID == "alice"
	}, 2*time.Second, 10*time.Millisecond, "alice's device never saved on the coordinator")
}

func TestWatchEventsStreamsConversationChanges(t *testing.T) {
	hub := replication.NewMemoryHub()
	client := startDaemon(t, testParams(t, hub, "host", true))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	a, err := client.RegisterDevice(ctx, api.DeviceRequest{Source: "cli-a"})
	require.NoError(t, err)
	b, err := client.RegisterDevice(ctx, api.DeviceRequest{Source: "cli-b"})
	require.NoError(t, err)
	require.NotEqual(t, a.ID, b.ID)

	events, err := client.WatchEvents(ctx, "conversation.")
	require.NoError(t, err)

	// The stream subscribes asynchronously; keep sending until an event shows.
	deadline := time.After(2 * time.Second)
	for {
		_, err := client.SendMessage(ctx, api.SendRequest{From: a.ID, To: b.ID, Text: "hi"})
		require.NoError(t, err)
		select {
		case evt, ok := <-events:
			require.True(t, ok)
			assert.True(t, strings.HasPrefix(evt.Kind, "conversation."), evt.Kind)
			return
		case <-time.After(50 * time.Millisecond):
		case <-deadline:
			t.Fatal("no conversation event received")
		}
	}
}

func TestSecondDaemonOnSameSessionFails(t *testing.T) {
	hub := replication.NewMemoryHub()
	p := testParams(t, hub, "host", true)
	startDaemon(t, p)

	second := p
	second.Transport = hub.Join("host-2", false)
	second.SocketPath = p.Dir + "/second.sock"
	app := fx.New(fx.NopLogger, Module(second))
	require.Error(t, app.Err())
}
