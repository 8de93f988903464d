// Package conversation stores message lists per device partition and
// canonical conversation key.
//
// A partition is the local copy of one device's history. The same logical
// conversation exists once in each participant's partition, which is what
// makes clearing history one-sided.
package conversation

import (
	"sort"
	"sync"

	"github.com/matheus3301/meshphone/internal/domain"
)

// Observer is notified after every write to a conversation.
type Observer interface {
	ConversationChanged(partition, key string)
}

// Persister saves and loads whole partitions.
type Persister interface {
	SavePartition(deviceID string, convs map[string][]domain.Message) error
	LoadPartition(deviceID string) (map[string][]domain.Message, error)
}

type partition map[string][]domain.Message

// Store is the conversation store of one client.
type Store struct {
	mu         sync.RWMutex
	partitions map[string]partition
	observers  []Observer
}

// New creates an empty store.
func New(observers ...Observer) *Store {
	return &Store{
		partitions: make(map[string]partition),
		observers:  observers,
	}
}

// Observe adds an observer.
func (s *Store) Observe(o Observer) {
	s.mu.Lock()
	s.observers = append(s.observers, o)
	s.mu.Unlock()
}

// Append pushes msg to the end of the conversation.
func (s *Store) Append(part, key string, msg domain.Message) {
	s.mu.Lock()
	p := s.partitionLocked(part)
	p[key] = append(p[key], msg)
	s.mu.Unlock()
	s.notify(part, key)
}

// Merge inserts msg unless a message with the same ID is already present.
// Identity is the only conflict rule: content and arrival order are ignored.
// Reports whether the message was inserted.
func (s *Store) Merge(part, key string, msg domain.Message) bool {
	s.mu.Lock()
	p := s.partitionLocked(part)
	msgs := p[key]
	for i := range msgs {
		if msgs[i].ID == msg.ID {
			s.mu.Unlock()
			return false
		}
	}
	i := sort.Search(len(msgs), func(i int) bool { return msg.Before(&msgs[i]) })
	msgs = append(msgs, domain.Message{})
	copy(msgs[i+1:], msgs[i:])
	msgs[i] = msg
	p[key] = msgs
	s.mu.Unlock()
	s.notify(part, key)
	return true
}

// Delete removes the messages whose IDs are in ids and returns how many
// were removed.
func (s *Store) Delete(part, key string, ids []string) int {
	if len(ids) == 0 {
		return 0
	}
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}

	s.mu.Lock()
	p, ok := s.partitions[part]
	if !ok {
		s.mu.Unlock()
		return 0
	}
	msgs := p[key]
	kept := msgs[:0]
	for _, m := range msgs {
		if _, ok := drop[m.ID]; !ok {
			kept = append(kept, m)
		}
	}
	removed := len(msgs) - len(kept)
	if removed > 0 {
		clear(msgs[len(kept):])
		p[key] = kept
	}
	s.mu.Unlock()

	if removed > 0 {
		s.notify(part, key)
	}
	return removed
}

// Clear empties one partition's copy of the conversation. Other partitions
// holding the same key are not touched.
func (s *Store) Clear(part, key string) int {
	s.mu.Lock()
	p, ok := s.partitions[part]
	if !ok {
		s.mu.Unlock()
		return 0
	}
	n := len(p[key])
	delete(p, key)
	s.mu.Unlock()

	if n > 0 {
		s.notify(part, key)
	}
	return n
}

// MarkRead flags every unread message addressed to viewer as read.
func (s *Store) MarkRead(part, key, viewer string) int {
	s.mu.Lock()
	p, ok := s.partitions[part]
	if !ok {
		s.mu.Unlock()
		return 0
	}
	n := 0
	msgs := p[key]
	for i := range msgs {
		if msgs[i].ReceiverID == viewer && !msgs[i].Read {
			msgs[i].Read = true
			n++
		}
	}
	s.mu.Unlock()

	if n > 0 {
		s.notify(part, key)
	}
	return n
}

func (s *Store) partitionLocked(part string) partition {
	p, ok := s.partitions[part]
	if !ok {
		p = make(partition)
		s.partitions[part] = p
	}
	return p
}

func (s *Store) notify(part, key string) {
	s.mu.RLock()
	observers := s.observers
	s.mu.RUnlock()
	for _, o := range observers {
		o.ConversationChanged(part, key)
	}
}
