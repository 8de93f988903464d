package dispatch

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// seenSet remembers the most recent event IDs in a ring.
type seenSet struct {
	mu   sync.Mutex
	ids  map[string]struct{}
	ring []string
	next int
}

func newSeenSet(size int) *seenSet {
	return &seenSet{
		ids:  make(map[string]struct{}, size),
		ring: make([]string, size),
	}
}

// add records id and reports whether it was new. Envelopes without an ID
// are always treated as new.
func (s *seenSet) add(id string) bool {
	if id == "" {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; ok {
		return false
	}
	if old := s.ring[s.next]; old != "" {
		delete(s.ids, old)
	}
	s.ring[s.next] = id
	s.ids[id] = struct{}{}
	s.next = (s.next + 1) % len(s.ring)
	return true
}

type statsCounters struct {
	applied, duplicates, self, stale, failed atomic.Uint64
}

func (c *statsCounters) snapshot() Stats {
	return Stats{
		Applied:    c.applied.Load(),
		Duplicates: c.duplicates.Load(),
		Self:       c.self.Load(),
		Stale:      c.stale.Load(),
		Failed:     c.failed.Load(),
	}
}

// PanicError wraps a panic raised by a handler.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("handler panicked: %v", e.Value)
}
