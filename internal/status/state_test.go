package status

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matheus3301/meshphone/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	assert.Equal(t, Booting, m.Current())
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		path []State
	}{
		{[]State{Connecting, Online}},
		{[]State{Connecting, Online, Degraded, Connecting, Online}},
		{[]State{Degraded, Online}},
		{[]State{Connecting, Error, Booting}},
	}
	for _, tt := range tests {
		m := NewMachine(nil)
		for _, to := range tt.path {
			require.NoError(t, m.Transition(to), "-> %s", to)
		}
		assert.Equal(t, tt.path[len(tt.path)-1], m.Current())
	}
}

func TestInvalidTransition(t *testing.T) {
	m := NewMachine(nil)
	assert.Error(t, m.Transition(Online))
	assert.Equal(t, Booting, m.Current())

	require.NoError(t, m.Transition(Connecting))
	assert.Error(t, m.Transition(Connecting))
}

func TestAdvanceIsIdempotent(t *testing.T) {
	m := NewMachine(nil)
	require.NoError(t, m.Advance(Connecting))
	require.NoError(t, m.Advance(Connecting))
	assert.Equal(t, Connecting, m.Current())
	assert.Error(t, m.Advance(Booting))
}

func TestTransitionPublishesEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("link.", 10)
	defer unsub()

	m := NewMachine(b)
	require.NoError(t, m.Transition(Connecting))

	select {
	case evt := <-ch:
		assert.Equal(t, bus.KindLinkStatusChanged, evt.Kind)
		sc, ok := evt.Payload.(StatusChange)
		require.True(t, ok)
		assert.Equal(t, StatusChange{From: Booting, To: Connecting}, sc)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for status event")
	}
}
