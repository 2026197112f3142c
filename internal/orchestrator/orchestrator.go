// Package orchestrator is the session orchestration engine: it consumes
// deduplicated, routed tracker events, maintains the durable mapping from
// conversation threads to running agent sessions, drives each session's
// state machine, and survives restarts by persisting its state per
// repository.
package orchestrator

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/zulandar/conductor/internal/agent"
	"github.com/zulandar/conductor/internal/config"
	"github.com/zulandar/conductor/internal/dedup"
	"github.com/zulandar/conductor/internal/event"
	"github.com/zulandar/conductor/internal/notify"
	"github.com/zulandar/conductor/internal/router"
	"github.com/zulandar/conductor/internal/session"
	"github.com/zulandar/conductor/internal/store"
	"github.com/zulandar/conductor/internal/tracker"
	"github.com/zulandar/conductor/internal/ttl"
)

// Outcome is the disposition of a submitted event. Duplicates and
// unroutable events are normal outcomes, not errors.
type Outcome int

const (
	// OutcomeAccepted: the event was queued for its thread.
	OutcomeAccepted Outcome = iota
	// OutcomeDuplicate: the event repeated within the dedup window.
	OutcomeDuplicate
	// OutcomeUnroutable: no repository config matched the event.
	OutcomeUnroutable
)

// sessionState pairs a Session with its live worker process and the input
// queued while no worker can accept it. Only the session's own thread
// queue mutates a state, but sess and proc are also read from other
// goroutines (persist for sibling threads, reapIdle, sweeps, the read
// projections), so those two fields are written under Orchestrator.mu;
// pending, seq, and convSeq never leave the owning queue.
type sessionState struct {
	sess    *session.Session
	repo    *config.RepositoryConfig
	proc    agent.Process
	pending []string // input waiting for the worker to become ready
	seq     int      // reply sequence, used for idempotency keys
	convSeq int      // next conversation row sequence; 0 until loaded
}

// Orchestrator owns the thread→session and session maps exclusively; other
// components interact through method calls, never by reaching into the
// maps. One Orchestrator instance is constructed with explicit
// dependencies so several can coexist (tests, per-shard deployments).
type Orchestrator struct {
	cfg      *config.Config
	deduper  *dedup.Deduplicator
	router   *router.Router
	store    *store.Store
	spawner  agent.Spawner
	gateway  tracker.Gateway
	notifier notify.Notifier
	db       *gorm.DB
	out      io.Writer

	// qmu guards queue submission against shutdown: enqueue holds the read
	// side for the whole check-and-send, Shutdown takes the write side to
	// flip closed, so no task is ever sent to a closed queue.
	qmu    sync.RWMutex
	closed bool

	// submitMu makes dedup acceptance and queue insertion one atomic step,
	// so two events for the same thread enqueue in acceptance order.
	submitMu sync.Mutex

	mu              sync.Mutex
	queues          map[string]*threadQueue  // threadKey → serialized work
	sessions        map[string]*sessionState // session.Key() → state
	threadToSession map[string]string        // threadKey → session key

	replyGuard *ttl.Store[string]   // threadKey → hash of last posted reply
	reactions  *ttl.Store[struct{}] // event ID → ack reaction already sent

	wg sync.WaitGroup
}

// Opts holds dependencies for creating an Orchestrator.
type Opts struct {
	Config   *config.Config
	Dedup    *dedup.Deduplicator
	Router   *router.Router
	Store    *store.Store
	Spawner  agent.Spawner
	Gateway  tracker.Gateway
	Notifier notify.Notifier // optional; defaults to notify.Nop
	DB       *gorm.DB
	Out      io.Writer // defaults to os.Stdout
}

// New creates an Orchestrator and recovers persisted state for every
// configured repository. A missing or corrupt snapshot starts that
// repository cold; it never fails construction.
func New(opts Opts) (*Orchestrator, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("orchestrator: config is required")
	}
	if opts.Dedup == nil {
		return nil, fmt.Errorf("orchestrator: dedup is required")
	}
	if opts.Router == nil {
		return nil, fmt.Errorf("orchestrator: router is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("orchestrator: store is required")
	}
	if opts.Spawner == nil {
		return nil, fmt.Errorf("orchestrator: spawner is required")
	}
	if opts.Gateway == nil {
		return nil, fmt.Errorf("orchestrator: gateway is required")
	}
	if opts.DB == nil {
		return nil, fmt.Errorf("orchestrator: db is required")
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.Nop{}
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}

	o := &Orchestrator{
		cfg:             opts.Config,
		deduper:         opts.Dedup,
		router:          opts.Router,
		store:           opts.Store,
		spawner:         opts.Spawner,
		gateway:         opts.Gateway,
		notifier:        notifier,
		db:              opts.DB,
		out:             out,
		queues:          make(map[string]*threadQueue),
		sessions:        make(map[string]*sessionState),
		threadToSession: make(map[string]string),
		replyGuard:      ttl.NewStore[string](opts.Config.TTL.ReplyGuard()),
		reactions:       ttl.NewStore[struct{}](opts.Config.TTL.Reaction()),
	}

	o.recover()
	return o, nil
}

// RegisterSweepers registers the orchestrator's TTL-governed tables with
// the shared cleanup scheduler.
func (o *Orchestrator) RegisterSweepers(sc *ttl.Scheduler) {
	sc.Register("dedup_window", o.deduper)
	sc.Register("reply_guard", o.replyGuard)
	sc.Register("reaction_markers", o.reactions)
	sc.Register("pending_input", ttl.SweeperFunc(o.sweepPendingInput))
	sc.Register("session_retention", ttl.SweeperFunc(o.sweepSessions))
}

// threadKey builds the serialization key for a thread within a repository.
func threadKey(repositoryID, threadRootID string) string {
	return repositoryID + "/" + threadRootID
}

// Submit runs the inbound pipeline for one event: dedup, route, then
// enqueue on the owning thread's serial queue. The returned Outcome is the
// event's disposition; processing itself is asynchronous.
func (o *Orchestrator) Submit(ev event.Event) Outcome {
	o.submitMu.Lock()
	defer o.submitMu.Unlock()

	fp := ev.Fingerprint()
	if o.deduper.IsDuplicate(fp) {
		// Expected under redelivery; debug-level noise only.
		log.Printf("orchestrator: duplicate event %s (fingerprint %s)", ev.ID, fp)
		return OutcomeDuplicate
	}

	match := o.router.Route(ev)
	if match == nil {
		log.Printf("orchestrator: warning: unroutable event %s (type=%s team=%s labels=%v project=%s)",
			ev.ID, ev.Type, ev.Data.TeamKey, ev.Data.Labels, ev.Data.ProjectName)
		o.alert(notify.Alert{
			Title:    "Unroutable event",
			Body:     fmt.Sprintf("Event %s (%s/%s) matched no repository config.", ev.ID, ev.Type, ev.Action),
			Severity: notify.SeverityWarning,
		})
		return OutcomeUnroutable
	}

	repo := match.Config
	fmt.Fprintf(o.out, "orchestrator: event %s → %s (rule=%s)\n", ev.ID, repo.ID, match.Rule)

	tk := threadKey(repo.ID, ev.ThreadRootID())
	o.enqueue(tk, func() {
		o.process(ev, repo)
	})
	return OutcomeAccepted
}

// threadQueue serializes all work for one thread. A new operation for a
// thread waits for the prior one's state mutation to complete; operations
// for different threads proceed fully concurrently.
type threadQueue struct {
	tasks chan func()
}

// enqueue appends task to the thread's FIFO, creating the queue goroutine
// on first use. Enqueue order is submission order, which is dedup
// acceptance order for events. Tasks submitted after Shutdown are dropped.
func (o *Orchestrator) enqueue(tk string, task func()) {
	o.qmu.RLock()
	defer o.qmu.RUnlock()
	if o.closed {
		return
	}

	o.mu.Lock()
	q, ok := o.queues[tk]
	if !ok {
		q = &threadQueue{tasks: make(chan func(), 128)}
		o.queues[tk] = q
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			for t := range q.tasks {
				t()
			}
		}()
	}
	o.mu.Unlock()
	q.tasks <- task
}

// Shutdown stops accepting work, terminates all live worker processes,
// and drains the per-thread queues.
func (o *Orchestrator) Shutdown() {
	o.qmu.Lock()
	if o.closed {
		o.qmu.Unlock()
		return
	}
	o.closed = true
	o.qmu.Unlock()

	o.mu.Lock()
	queues := make([]*threadQueue, 0, len(o.queues))
	for _, q := range o.queues {
		queues = append(queues, q)
	}
	procs := make([]agent.Process, 0, len(o.sessions))
	for _, st := range o.sessions {
		if st.proc != nil {
			procs = append(procs, st.proc)
		}
	}
	o.mu.Unlock()

	for _, q := range queues {
		close(q.tasks)
	}
	// Closing the processes ends their message pumps, which the wait
	// below depends on.
	for _, p := range procs {
		p.Close()
	}
	o.wg.Wait()
}

// recover loads the persisted snapshot for every configured repository and
// rebuilds the in-memory maps. Restored non-terminal sessions have no live
// worker; the next event on their thread resumes them.
func (o *Orchestrator) recover() {
	for i := range o.cfg.Repositories {
		repo := &o.cfg.Repositories[i]
		snap, err := o.store.Load(repo.ID)
		if err != nil {
			if err != store.ErrNotFound {
				log.Printf("orchestrator: load snapshot %s: %v", repo.ID, err)
			}
			continue
		}

		restored := 0
		for key, rec := range snap.State.Sessions {
			sess := session.FromRecord(rec)
			o.sessions[key] = &sessionState{sess: sess, repo: repo}
			restored++
		}
		for threadRootID, key := range snap.State.ThreadToSession {
			o.threadToSession[threadKey(repo.ID, threadRootID)] = key
		}
		fmt.Fprintf(o.out, "orchestrator: recovered %d sessions for %s (snapshot from %s)\n",
			restored, repo.ID, snap.SavedAt.Format(time.RFC3339))
	}
}

// persist writes the repository's snapshot. Persistence failure degrades
// to in-memory-only operation: the error is logged and the next state
// change retries. It never aborts the main path.
func (o *Orchestrator) persist(repositoryID string) {
	snap := &store.Snapshot{State: store.State{
		ThreadToSession: make(map[string]string),
		Sessions:        make(map[string]session.Record),
	}}

	o.mu.Lock()
	for key, st := range o.sessions {
		if st.sess.RepositoryID != repositoryID {
			continue
		}
		snap.State.Sessions[key] = st.sess.ToRecord()
	}
	prefix := repositoryID + "/"
	for tk, key := range o.threadToSession {
		if len(tk) > len(prefix) && tk[:len(prefix)] == prefix {
			snap.State.ThreadToSession[tk[len(prefix):]] = key
		}
	}
	o.mu.Unlock()

	if err := o.store.Save(repositoryID, snap); err != nil {
		log.Printf("orchestrator: error: persist %s: %v (continuing in-memory)", repositoryID, err)
	}
}

// transition applies a status change under the state lock, so persist,
// reapIdle, the sweeps, and the read projections never observe a
// half-written session.
func (o *Orchestrator) transition(st *sessionState, to session.Status) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return st.sess.Transition(to)
}

// touch stamps the session's activity time under the state lock.
func (o *Orchestrator) touch(st *sessionState) {
	o.mu.Lock()
	st.sess.Touch()
	o.mu.Unlock()
}

// setProc swaps the session's worker process under the state lock.
func (o *Orchestrator) setProc(st *sessionState, p agent.Process) {
	o.mu.Lock()
	st.proc = p
	o.mu.Unlock()
}

// SessionForThread returns the session record currently mapped to a
// thread, if any. Read-only projection for status surfaces and tests.
func (o *Orchestrator) SessionForThread(repositoryID, threadRootID string) (session.Record, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	key, ok := o.threadToSession[threadKey(repositoryID, threadRootID)]
	if !ok {
		return session.Record{}, false
	}
	st, ok := o.sessions[key]
	if !ok {
		return session.Record{}, false
	}
	return st.sess.ToRecord(), true
}

// ActiveSessionCount returns the number of non-terminal sessions. Exposed
// for status output and the at-most-one-per-thread checks in tests.
func (o *Orchestrator) ActiveSessionCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, st := range o.sessions {
		if !st.sess.Status.Terminal() {
			n++
		}
	}
	return n
}

// sweepSessions removes terminal sessions older than the retention period
// from the in-memory maps and re-persists affected repositories. Sessions
// that are still non-terminal are never evicted, regardless of age.
func (o *Orchestrator) sweepSessions() int {
	cutoff := time.Now().Add(-o.cfg.TTL.Retention())

	o.mu.Lock()
	repos := make(map[string]bool)
	removed := 0
	for key, st := range o.sessions {
		if !st.sess.Status.Terminal() {
			continue
		}
		if st.sess.LastActivityAt.After(cutoff) {
			continue
		}
		delete(o.sessions, key)
		tk := threadKey(st.sess.RepositoryID, st.sess.ThreadRootID)
		if o.threadToSession[tk] == key {
			delete(o.threadToSession, tk)
		}
		repos[st.sess.RepositoryID] = true
		removed++
	}
	o.mu.Unlock()

	for repoID := range repos {
		o.persist(repoID)
	}
	return removed
}

// sweepPendingInput fails sessions whose spawned worker never reported
// ready within the pending-input TTL. Without it, input buffered for a
// hung spawn would be held forever. Restored sessions with no live
// process are exempt; the next event on their thread resumes them.
func (o *Orchestrator) sweepPendingInput() int {
	cutoff := time.Now().Add(-o.cfg.TTL.PendingInput())

	o.mu.Lock()
	var stuck []*sessionState
	for _, st := range o.sessions {
		if st.sess.Status == session.StatusPending && st.proc != nil && st.sess.StartedAt.Before(cutoff) {
			stuck = append(stuck, st)
		}
	}
	o.mu.Unlock()

	for _, st := range stuck {
		st := st
		tk := threadKey(st.sess.RepositoryID, st.sess.ThreadRootID)
		o.enqueue(tk, func() {
			if st.sess.Status != session.StatusPending {
				return
			}
			log.Printf("orchestrator: warning: session %s worker never started, terminating", st.sess.Key())
			o.failSession(st, "The agent worker did not start in time; queued messages were dropped.")
		})
	}
	return len(stuck)
}

// alert sends an operator notification. Best-effort: failures are logged
// and contained here.
func (o *Orchestrator) alert(a notify.Alert) {
	ctx, cancel := contextWithTimeout(10 * time.Second)
	defer cancel()
	if err := o.notifier.Notify(ctx, a); err != nil {
		log.Printf("orchestrator: notify: %v", err)
	}
}
