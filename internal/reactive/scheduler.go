package reactive

import (
	"context"
	"sync"
	"time"
)

// FrameLoop runs scheduled work on a fixed tick, like an animation frame.
type FrameLoop struct {
	interval time.Duration

	mu     sync.Mutex
	queued []func()
}

// NewFrameLoop creates a loop ticking every interval.
func NewFrameLoop(interval time.Duration) *FrameLoop {
	if interval <= 0 {
		interval = 16 * time.Millisecond
	}
	return &FrameLoop{interval: interval}
}

// Schedule queues fn for the next tick.
func (f *FrameLoop) Schedule(fn func()) {
	f.mu.Lock()
	f.queued = append(f.queued, fn)
	f.mu.Unlock()
}

// Run ticks until ctx is done.
func (f *FrameLoop) Run(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			f.tick()
		case <-ctx.Done():
			return
		}
	}
}

func (f *FrameLoop) tick() {
	f.mu.Lock()
	work := f.queued
	f.queued = nil
	f.mu.Unlock()
	for _, fn := range work {
		fn()
	}
}

// ManualScheduler holds scheduled work until the test runs it.
type ManualScheduler struct {
	mu     sync.Mutex
	queued []func()
}

// Schedule queues fn.
func (m *ManualScheduler) Schedule(fn func()) {
	m.mu.Lock()
	m.queued = append(m.queued, fn)
	m.mu.Unlock()
}

// Len returns how many frames are waiting.
func (m *ManualScheduler) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queued)
}

// RunPending runs the frames queued so far, not the ones they schedule.
func (m *ManualScheduler) RunPending() int {
	m.mu.Lock()
	work := m.queued
	m.queued = nil
	m.mu.Unlock()
	for _, fn := range work {
		fn()
	}
	return len(work)
}
