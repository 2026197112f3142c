// Package dedup suppresses duplicate webhook deliveries within a sliding
// window. Trackers redeliver on timeouts and reconnects, so the same
// notification arriving more than once is expected, not an error.
package dedup

import (
	"time"

	"github.com/zulandar/conductor/internal/event"
	"github.com/zulandar/conductor/internal/ttl"
)

// DefaultWindow is the dedup window used when none is configured.
const DefaultWindow = 5 * time.Minute

// Deduplicator records event fingerprints and reports repeats within the
// window. A full table never fails; stale entries are reclaimed by the
// shared TTL sweep.
type Deduplicator struct {
	window time.Duration
	seen   *ttl.Store[struct{}]
}

// New creates a Deduplicator with the given window. A non-positive window
// falls back to DefaultWindow.
func New(window time.Duration) *Deduplicator {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Deduplicator{
		window: window,
		seen:   ttl.NewStore[struct{}](window),
	}
}

// IsDuplicate returns false and records fp on its first appearance within
// the window; subsequent calls within the window return true. After the
// window elapses the fingerprint counts as new again.
func (d *Deduplicator) IsDuplicate(fp event.Fingerprint) bool {
	if _, ok := d.seen.Get(string(fp)); ok {
		return true
	}
	d.seen.Put(string(fp), struct{}{})
	return false
}

// Window returns the configured dedup window.
func (d *Deduplicator) Window() time.Duration {
	return d.window
}

// Sweep evicts expired fingerprints. Implements ttl.Sweeper so the
// Deduplicator registers with the shared cleanup scheduler.
func (d *Deduplicator) Sweep() int {
	return d.seen.Sweep()
}

// Len returns the number of tracked fingerprints (including expired entries
// not yet swept). Exposed for memory-bound checks in tests and status output.
func (d *Deduplicator) Len() int {
	return d.seen.Len()
}
