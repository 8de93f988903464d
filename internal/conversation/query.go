package conversation

import (
	"sort"

	"github.com/matheus3301/meshphone/internal/domain"
)

// Messages returns a copy of one conversation in a partition.
func (s *Store) Messages(part, key string) []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.partitions[part]
	if !ok {
		return nil
	}
	return append([]domain.Message(nil), p[key]...)
}

// Last returns the most recent message of a conversation.
func (s *Store) Last(part, key string) (domain.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.partitions[part][key]
	if len(msgs) == 0 {
		return domain.Message{}, false
	}
	return msgs[len(msgs)-1], true
}

// Conversations returns the non-empty conversation keys of a partition.
func (s *Store) Conversations(part string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for key, msgs := range s.partitions[part] {
		if len(msgs) > 0 {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// HasPartition reports whether the store holds any data for a device.
func (s *Store) HasPartition(part string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.partitions[part]
	return ok
}

// Partitions returns the IDs of all loaded partitions.
func (s *Store) Partitions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.partitions))
	for id := range s.partitions {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Partition returns a deep copy of a partition, suitable for persisting.
func (s *Store) Partition(part string) map[string][]domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p := s.partitions[part]
	out := make(map[string][]domain.Message, len(p))
	for key, msgs := range p {
		if len(msgs) > 0 {
			out[key] = append([]domain.Message(nil), msgs...)
		}
	}
	return out
}

// Since returns the messages of a partition with Timestamp >= cutoff,
// grouped by conversation key.
func (s *Store) Since(part string, cutoff int64) map[string][]domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]domain.Message)
	for key, msgs := range s.partitions[part] {
		for _, m := range msgs {
			if m.Timestamp >= cutoff {
				out[key] = append(out[key], m)
			}
		}
	}
	return out
}

// LoadPartition replaces a partition with persisted data. Observers are
// notified for every key so derived caches start clean.
func (s *Store) LoadPartition(part string, convs map[string][]domain.Message) {
	p := make(partition, len(convs))
	for key, msgs := range convs {
		cp := append([]domain.Message(nil), msgs...)
		domain.SortMessages(cp)
		p[key] = cp
	}
	s.mu.Lock()
	s.partitions[part] = p
	s.mu.Unlock()
	for key := range p {
		s.notify(part, key)
	}
}

// Load reads a partition through a Persister.
func (s *Store) Load(part string, from Persister) error {
	convs, err := from.LoadPartition(part)
	if err != nil {
		return err
	}
	s.LoadPartition(part, convs)
	return nil
}

// Save writes a partition through a Persister.
func (s *Store) Save(part string, to Persister) error {
	return to.SavePartition(part, s.Partition(part))
}
