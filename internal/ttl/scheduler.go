package ttl

import (
	"context"
	"log"
	"sync"
	"time"
)

// Sweeper is anything the scheduler can sweep. Both Store instances and
// custom tables (e.g. the orchestrator's session retention pass) satisfy it.
type Sweeper interface {
	Sweep() int
}

// SweeperFunc adapts a function to the Sweeper interface.
type SweeperFunc func() int

// Sweep calls f.
func (f SweeperFunc) Sweep() int { return f() }

// DefaultSweepInterval is used when no interval is configured.
const DefaultSweepInterval = 30 * time.Second

// Scheduler periodically sweeps a set of registered tables. Sweep failures
// and counts are bookkeeping only and never affect the caller's main path.
type Scheduler struct {
	interval time.Duration

	mu       sync.Mutex
	sweepers map[string]Sweeper
}

// NewScheduler creates a Scheduler that fires every interval. A
// non-positive interval falls back to DefaultSweepInterval.
func NewScheduler(interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Scheduler{
		interval: interval,
		sweepers: make(map[string]Sweeper),
	}
}

// Register adds a named table to the sweep set. Registering the same name
// again replaces the previous sweeper.
func (sc *Scheduler) Register(name string, s Sweeper) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.sweepers[name] = s
}

// Run sweeps all registered tables on the scheduler's interval until ctx is
// cancelled. It runs in the calling goroutine; start it with `go sc.Run(ctx)`.
func (sc *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(sc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sc.SweepAll()
		}
	}
}

// SweepAll sweeps every registered table once and returns the total number
// of evicted entries.
func (sc *Scheduler) SweepAll() int {
	sc.mu.Lock()
	names := make([]string, 0, len(sc.sweepers))
	sweepers := make([]Sweeper, 0, len(sc.sweepers))
	for name, s := range sc.sweepers {
		names = append(names, name)
		sweepers = append(sweepers, s)
	}
	sc.mu.Unlock()

	total := 0
	for i, s := range sweepers {
		n := s.Sweep()
		total += n
		if n > 0 {
			log.Printf("ttl: swept %d entries from %s", n, names[i])
		}
	}
	return total
}
