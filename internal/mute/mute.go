// Package mute keeps per-viewer conversation mute preferences. Mutes are
// local to one client and are never replicated.
package mute

import (
	"fmt"
	"sort"
	"sync"

	"github.com/matheus3301/meshphone/internal/store"
)

type pair struct {
	device  string
	contact string
}

// Store caches mute flags in memory and writes them through to the local store.
type Store struct {
	mu    sync.RWMutex
	local *store.Local
	muted map[pair]bool
}

// Open loads every mute of the client that owns local.
func Open(local *store.Local) (*Store, error) {
	entries, err := local.Mutes()
	if err != nil {
		return nil, fmt.Errorf("load mutes: %w", err)
	}
	s := &Store{local: local, muted: make(map[pair]bool, len(entries))}
	for _, e := range entries {
		s.muted[pair{e.DeviceID, e.ContactID}] = true
	}
	return s, nil
}

// IsMuted reports whether deviceID has muted its conversation with contactID.
func (s *Store) IsMuted(deviceID, contactID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.muted[pair{deviceID, contactID}]
}

// SetMuted persists the flag and updates the cache.
func (s *Store) SetMuted(deviceID, contactID string, muted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.local.SetMute(deviceID, contactID, muted); err != nil {
		return fmt.Errorf("save mute: %w", err)
	}
	k := pair{deviceID, contactID}
	if muted {
		s.muted[k] = true
	} else {
		delete(s.muted, k)
	}
	return nil
}

// Toggle flips the flag and returns the new value.
func (s *Store) Toggle(deviceID, contactID string) (bool, error) {
	next := !s.IsMuted(deviceID, contactID)
	if err := s.SetMuted(deviceID, contactID, next); err != nil {
		return !next, err
	}
	return next, nil
}

// Muted lists the contacts deviceID has muted.
func (s *Store) Muted(deviceID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for k := range s.muted {
		if k.device == deviceID {
			out = append(out, k.contact)
		}
	}
	sort.Strings(out)
	return out
}
