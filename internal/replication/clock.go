package replication

import (
	"strconv"
	"sync"
	"sync/atomic"
)

// Clock stamps outgoing envelopes with a strictly increasing sequence
// number. Receivers use the (origin, seq) pair instead of wall-clock time
// to recognise replays.
type Clock struct {
	seq atomic.Uint64
}

// NewClockAt creates a clock that resumes after start.
func NewClockAt(start uint64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// ParseClock restores a clock from a checkpoint string. Empty or malformed
// checkpoints start from zero.
func ParseClock(checkpoint string) *Clock {
	n, _ := strconv.ParseUint(checkpoint, 10, 64)
	return NewClockAt(n)
}

// Next returns the next sequence number.
func (c *Clock) Next() uint64 {
	return c.seq.Add(1)
}

// Current returns the last issued sequence number.
func (c *Clock) Current() uint64 {
	return c.seq.Load()
}

// Checkpoint renders the current position for persistence.
func (c *Clock) Checkpoint() string {
	return strconv.FormatUint(c.Current(), 10)
}

// Watermarks tracks the highest sequence number seen from each origin.
type Watermarks struct {
	mu   sync.Mutex
	high map[string]uint64
}

// NewWatermarks returns an empty tracker.
func NewWatermarks() *Watermarks {
	return &Watermarks{high: make(map[string]uint64)}
}

// Observe records seq for origin and reports whether it advanced the
// watermark. Out-of-order envelopes return false but are still valid.
func (w *Watermarks) Observe(origin string, seq uint64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if seq <= w.high[origin] {
		return false
	}
	w.high[origin] = seq
	return true
}

// High returns the highest sequence seen from origin.
func (w *Watermarks) High(origin string) uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.high[origin]
}
