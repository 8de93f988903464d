package reactive

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/matheus3301/meshphone/internal/bus"
)

func newController(t *testing.T, maxPending int) (*Controller, *ManualScheduler) {
	t.Helper()
	sched := &ManualScheduler{}
	return New(sched, maxPending, zaptest.NewLogger(t)), sched
}

func counter(c *Controller, id string) *int {
	n := new(int)
	c.Register(id, id, func() { *n++ })
	return n
}

func TestMarksCoalesceIntoOneFlush(t *testing.T) {
	c, sched := newController(t, 0)
	a := counter(c, "a")
	b := counter(c, "b")

	c.MarkDirty("a")
	c.MarkDirty("a")
	c.MarkDirtyMultiple("a", "b")
	assert.Equal(t, Scheduled, c.State())
	assert.Equal(t, 1, sched.Len())

	sched.RunPending()
	assert.Equal(t, 1, *a)
	assert.Equal(t, 1, *b)
	assert.Equal(t, Idle, c.State())
	assert.Zero(t, sched.Len())

	st := c.Stats()
	assert.Equal(t, uint64(1), st.Flushes)
	assert.Equal(t, uint64(2), st.Callbacks)
}

func TestMarkDuringFlushWaitsForNextFlush(t *testing.T) {
	c, sched := newController(t, 0)
	var runs int
	var seen []State
	c.Register("self", nil, func() {
		runs++
		seen = append(seen, c.State())
		if runs == 1 {
			// Re-entrant mark must not recurse.
			c.MarkDirty("self")
			assert.Equal(t, 1, runs)
		}
	})

	c.MarkDirty("self")
	sched.RunPending()
	assert.Equal(t, 1, runs)
	assert.Equal(t, Scheduled, c.State())
	assert.Equal(t, 1, sched.Len())

	sched.RunPending()
	assert.Equal(t, 2, runs)
	assert.Equal(t, Idle, c.State())
	assert.Equal(t, []State{Flushing, Flushing}, seen)
}

func TestUnregisteredComponentsAreDroppedSilently(t *testing.T) {
	c, sched := newController(t, 0)
	a := counter(c, "a")
	counter(c, "b")

	c.MarkDirtyMultiple("a", "b", "ghost")
	c.Unregister("b")
	sched.RunPending()

	assert.Equal(t, 1, *a)
	assert.Equal(t, uint64(2), c.Stats().Dropped)
}

func TestUnregisterDuringFlush(t *testing.T) {
	c, sched := newController(t, 0)
	c.Register("a", nil, func() { c.Unregister("b") })
	b := counter(c, "b")

	c.MarkDirtyMultiple("a", "b")
	sched.RunPending()
	assert.Zero(t, *b)
	assert.Equal(t, uint64(1), c.Stats().Dropped)
}

func TestMarkAllDirty(t *testing.T) {
	c, sched := newController(t, 0)
	a := counter(c, "a")
	b := counter(c, "b")

	c.MarkAllDirty()
	c.MarkDirty("a")
	sched.RunPending()
	assert.Equal(t, 1, *a)
	assert.Equal(t, 1, *b)
}

func TestPendingSetCollapsesWhenFull(t *testing.T) {
	c, sched := newController(t, 2)
	a := counter(c, "a")
	b := counter(c, "b")
	d := counter(c, "c")

	c.MarkDirtyMultiple("a", "b", "c")
	assert.Equal(t, uint64(1), c.Stats().Collapsed)
	assert.Zero(t, c.Stats().Pending)

	sched.RunPending()
	assert.Equal(t, []int{1, 1, 1}, []int{*a, *b, *d})
}

func TestPanickingCallbackIsRecovered(t *testing.T) {
	c, sched := newController(t, 0)
	c.Register("bad", nil, func() { panic("boom") })
	good := counter(c, "good")

	c.MarkDirtyMultiple("bad", "good")
	require.NotPanics(t, func() { sched.RunPending() })
	assert.Equal(t, 1, *good)
	assert.Equal(t, uint64(1), c.Stats().Panics)
	assert.Equal(t, Idle, c.State())
}

func TestTopicSubscriptions(t *testing.T) {
	c, sched := newController(t, 0)
	thread := counter(c, "thread")
	list := counter(c, "list")
	other := counter(c, "other")
	c.Subscribe("thread", ConversationTopic("dev-a", "dev-b"))
	c.Subscribe("list", ContactsTopic("dev-b"), StatusTopic)

	c.MarkTopicsDirty(ConversationTopic("dev-b", "dev-a"), ContactsTopic("dev-b"))
	sched.RunPending()
	assert.Equal(t, 1, *thread)
	assert.Equal(t, 1, *list)
	assert.Zero(t, *other)

	c.Unregister("list")
	c.MarkTopicsDirty(StatusTopic)
	assert.Zero(t, sched.Len())

	h, ok := c.Handle("thread")
	require.True(t, ok)
	assert.Equal(t, "thread", h)
	assert.Equal(t, 2, c.Registered())
}

func TestFrameLoopFlushes(t *testing.T) {
	loop := NewFrameLoop(5 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	c := New(loop, 0, zaptest.NewLogger(t))
	var n atomic.Int32
	c.Register("a", nil, func() { n.Add(1) })
	c.MarkDirty("a")

	require.Eventually(t, func() bool { return n.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return c.State() == Idle }, time.Second, 5*time.Millisecond)
}

func TestBridgeMarksStatusTopic(t *testing.T) {
	loop := NewFrameLoop(5 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	b := bus.New()
	c := New(loop, 0, zaptest.NewLogger(t))
	var n atomic.Int32
	c.Register("status", nil, func() { n.Add(1) })
	c.Subscribe("status", StatusTopic)

	br := NewBridge(b, c)
	br.Start(ctx)
	defer br.Stop()

	b.Emit(bus.KindOutboxQueued, "e1")
	require.Eventually(t, func() bool { return n.Load() >= 1 }, time.Second, 5*time.Millisecond)
}
