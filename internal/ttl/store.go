// Package ttl provides a generic TTL-indexed store and a periodic sweep
// scheduler. Every short-lived tracking table in Conductor (the dedup
// window, reaction markers, recent-own-reply guards, pending-input
// bookkeeping) is an instance of Store rather than a hand-rolled map,
// so the sweep logic exists exactly once.
package ttl

import (
	"sync"
	"time"
)

// Entry pairs a stored value with its insertion timestamp.
type Entry[V any] struct {
	Value     V
	Timestamp time.Time
}

// Store is a map whose entries expire after the store's TTL. Expiry is
// eventually consistent: Get applies the TTL on read, while memory for
// expired entries is reclaimed by Sweep (driven by a Scheduler).
type Store[V any] struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]Entry[V]
}

// NewStore creates a Store whose entries expire after ttl.
func NewStore[V any](ttl time.Duration) *Store[V] {
	return &Store[V]{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]Entry[V]),
	}
}

// Put inserts or replaces the entry for key, stamping it with the current time.
func (s *Store[V]) Put(key string, value V) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = Entry[V]{Value: value, Timestamp: s.now()}
}

// Get returns the live value for key. Entries older than the TTL are
// treated as absent even if not yet swept.
func (s *Store[V]) Get(key string) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || s.now().Sub(e.Timestamp) >= s.ttl {
		var zero V
		return zero, false
	}
	return e.Value, true
}

// Touch refreshes the timestamp of an existing live entry. Returns false if
// the key is absent or already expired.
func (s *Store[V]) Touch(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || s.now().Sub(e.Timestamp) >= s.ttl {
		return false
	}
	e.Timestamp = s.now()
	s.entries[key] = e
	return true
}

// Delete removes the entry for key if present.
func (s *Store[V]) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

// Len returns the number of entries currently held, including expired
// entries not yet swept.
func (s *Store[V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Sweep removes all expired entries and returns how many were removed.
func (s *Store[V]) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for k, e := range s.entries {
		if now.Sub(e.Timestamp) >= s.ttl {
			delete(s.entries, k)
			removed++
		}
	}
	return removed
}

// setClock overrides the store's time source. Test hook.
func (s *Store[V]) setClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}
