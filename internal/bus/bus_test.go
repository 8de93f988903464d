package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case evt := <-ch:
		return evt
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
		return Event{}
	}
}

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("link.", 10)
	defer unsub()

	b.Emit(KindLinkStatusChanged, "test")

	evt := receive(t, ch)
	assert.Equal(t, KindLinkStatusChanged, evt.Kind)
	assert.Equal(t, "test", evt.Payload)
	assert.False(t, evt.Timestamp.IsZero())
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("outbox.", 10)
	defer unsub()

	b.Emit(KindLinkStatusChanged, nil)
	b.Emit(KindOutboxQueued, nil)

	assert.Equal(t, KindOutboxQueued, receive(t, ch).Kind)

	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("link.", 10)
	unsub()
	unsub()

	b.Emit(KindLinkStatusChanged, nil)

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("outbox.", 1)
	defer unsub()

	b.Emit(KindOutboxQueued, 1)
	b.Emit(KindOutboxQueued, 2)

	evt := <-ch
	require.Equal(t, 1, evt.Payload)
	assert.Equal(t, uint64(1), b.Dropped())
}
