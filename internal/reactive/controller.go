// Package reactive turns change notifications into batched, non-re-entrant
// redraw work. Components register a callback; marks coalesce into one flush
// per frame, and marks raised during a flush wait for the next one.
package reactive

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Scheduler runs fn at the next frame. Implementations must not run fn
// synchronously from inside Schedule.
type Scheduler interface {
	Schedule(fn func())
}

// State of the flush cycle.
type State int

const (
	Idle State = iota
	Scheduled
	Flushing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scheduled:
		return "scheduled"
	case Flushing:
		return "flushing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// DefaultMaxPending bounds the pending set before it collapses into "all dirty".
const DefaultMaxPending = 1024

// Stats are cumulative counters.
type Stats struct {
	Flushes   uint64
	Callbacks uint64
	// Dropped counts marks for components unregistered before their flush.
	Dropped   uint64
	Panics    uint64
	Collapsed uint64
	Pending   int
}

type component struct {
	handle   any
	callback func()
}

// Controller is the registry of visual components and their dirty state.
type Controller struct {
	mu         sync.Mutex
	sched      Scheduler
	components map[string]component
	topics     map[string]map[string]struct{}
	subs       map[string]map[string]struct{}
	pending    map[string]struct{}
	allDirty   bool
	maxPending int
	state      State
	stats      Stats
	logger     *zap.Logger
}

// New creates a controller. maxPending <= 0 uses DefaultMaxPending.
func New(sched Scheduler, maxPending int, logger *zap.Logger) *Controller {
	if maxPending <= 0 {
		maxPending = DefaultMaxPending
	}
	return &Controller{
		sched:      sched,
		components: make(map[string]component),
		topics:     make(map[string]map[string]struct{}),
		subs:       make(map[string]map[string]struct{}),
		pending:    make(map[string]struct{}),
		maxPending: maxPending,
		logger:     logger,
	}
}

// Register adds or replaces a component.
func (c *Controller) Register(id string, handle any, callback func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.components[id] = component{handle: handle, callback: callback}
}

// Unregister removes a component and its subscriptions. Pending marks for
// it are dropped at the next flush.
func (c *Controller) Unregister(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.components, id)
	for topic := range c.subs[id] {
		delete(c.topics[topic], id)
		if len(c.topics[topic]) == 0 {
			delete(c.topics, topic)
		}
	}
	delete(c.subs, id)
}

// Handle returns the handle a component registered with.
func (c *Controller) Handle(id string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	comp, ok := c.components[id]
	return comp.handle, ok
}

// Registered reports how many components are registered.
func (c *Controller) Registered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.components)
}

// Subscribe marks id dirty whenever one of topics is.
func (c *Controller) Subscribe(id string, topics ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, topic := range topics {
		if c.topics[topic] == nil {
			c.topics[topic] = make(map[string]struct{})
		}
		c.topics[topic][id] = struct{}{}
		if c.subs[id] == nil {
			c.subs[id] = make(map[string]struct{})
		}
		c.subs[id][topic] = struct{}{}
	}
}

// MarkDirty schedules id for the next flush.
func (c *Controller) MarkDirty(id string) {
	c.MarkDirtyMultiple(id)
}

// MarkDirtyMultiple schedules every id for the next flush.
func (c *Controller) MarkDirtyMultiple(ids ...string) {
	if len(ids) == 0 {
		return
	}
	c.mu.Lock()
	for _, id := range ids {
		c.addLocked(id)
	}
	schedule := c.requestLocked()
	c.mu.Unlock()
	if schedule {
		c.sched.Schedule(c.flush)
	}
}

// MarkAllDirty schedules every registered component.
func (c *Controller) MarkAllDirty() {
	c.mu.Lock()
	c.allDirty = true
	clear(c.pending)
	schedule := c.requestLocked()
	c.mu.Unlock()
	if schedule {
		c.sched.Schedule(c.flush)
	}
}

// MarkTopicsDirty schedules every subscriber of topics.
func (c *Controller) MarkTopicsDirty(topics ...string) {
	c.mu.Lock()
	var ids []string
	for _, topic := range topics {
		for id := range c.topics[topic] {
			ids = append(ids, id)
		}
	}
	c.mu.Unlock()
	c.MarkDirtyMultiple(ids...)
}

// State returns the current phase of the flush cycle.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Stats returns a snapshot of the counters.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Pending = len(c.pending)
	return s
}

func (c *Controller) addLocked(id string) {
	if c.allDirty {
		return
	}
	if _, ok := c.pending[id]; ok {
		return
	}
	if len(c.pending) >= c.maxPending {
		c.allDirty = true
		clear(c.pending)
		c.stats.Collapsed++
		return
	}
	c.pending[id] = struct{}{}
}

// requestLocked moves Idle to Scheduled and reports whether the caller must
// hand a flush to the scheduler. Marks made while Scheduled or Flushing
// ride on the flush already in flight or the one that follows it.
func (c *Controller) requestLocked() bool {
	if c.state != Idle {
		return false
	}
	c.state = Scheduled
	return true
}

func (c *Controller) flush() {
	c.mu.Lock()
	c.state = Flushing
	var ids []string
	if c.allDirty {
		ids = make([]string, 0, len(c.components))
		for id := range c.components {
			ids = append(ids, id)
		}
		c.allDirty = false
	} else {
		ids = make([]string, 0, len(c.pending))
		for id := range c.pending {
			ids = append(ids, id)
		}
	}
	clear(c.pending)
	c.stats.Flushes++
	c.mu.Unlock()

	sort.Strings(ids)
	for _, id := range ids {
		c.mu.Lock()
		comp, ok := c.components[id]
		if !ok {
			c.stats.Dropped++
		}
		c.mu.Unlock()
		if ok {
			c.invoke(id, comp.callback)
		}
	}

	c.mu.Lock()
	again := len(c.pending) > 0 || c.allDirty
	if again {
		c.state = Scheduled
	} else {
		c.state = Idle
	}
	c.mu.Unlock()
	if again {
		c.sched.Schedule(c.flush)
	}
}

func (c *Controller) invoke(id string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.mu.Lock()
			c.stats.Panics++
			c.mu.Unlock()
			c.logger.Error("component update panicked", zap.String("component", id), zap.Any("panic", r))
		}
	}()
	fn()
	c.mu.Lock()
	c.stats.Callbacks++
	c.mu.Unlock()
}
