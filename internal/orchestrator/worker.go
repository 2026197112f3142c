package orchestrator

import (
	"context"
	"fmt"
	"hash/fnv"
	"log"
	"time"

	"github.com/zulandar/conductor/internal/agent"
	"github.com/zulandar/conductor/internal/event"
	"github.com/zulandar/conductor/internal/session"
)

// handleWorkerMessage applies one worker lifecycle message to its session.
// Runs on the session's thread queue, so mutations here are serialized
// with event processing for the same thread.
func (o *Orchestrator) handleWorkerMessage(st *sessionState, msg agent.Message) {
	if st.sess.Status.Terminal() {
		// Late message from a worker whose session was already failed or
		// cancelled; nothing left to apply it to.
		log.Printf("orchestrator: dropping %s message for terminal session %s", msg.Kind, st.sess.Key())
		return
	}

	switch msg.Kind {
	case agent.MessageStarted:
		o.handleStarted(st, msg.SessionID)

	case agent.MessageProgress:
		o.touch(st)
		o.recordConversation(st, "assistant", "", msg.Content)
		o.postReply(st, msg.Content)
		o.auditUpdate(st)
		o.persist(st.sess.RepositoryID)

	case agent.MessageBlocked:
		if err := o.transition(st, session.StatusAwaitingInput); err != nil {
			log.Printf("orchestrator: %v", err)
			return
		}
		fmt.Fprintf(o.out, "orchestrator: session %s awaiting input\n", st.sess.Key())
		o.auditUpdate(st)
		o.persist(st.sess.RepositoryID)

	case agent.MessageCompleted:
		o.handleCompleted(st, msg.Result)

	case agent.MessageFailed:
		log.Printf("orchestrator: error: session %s worker failed: %s", st.sess.Key(), msg.Err)
		o.notifyParent(st, fmt.Sprintf("Sub-session %s failed: %s", st.sess.Key(), msg.Err))
		o.failSession(st, "The agent worker reported an error: "+msg.Err)

	default:
		// The message union is closed; reaching here means the agent
		// package grew a kind this switch does not know about.
		log.Printf("orchestrator: error: internal: unhandled worker message kind %s for session %s",
			msg.Kind, st.sess.Key())
	}
}

// handleStarted reconciles the provisional session key with the
// worker-assigned ID and releases any input buffered during the Pending
// window.
func (o *Orchestrator) handleStarted(st *sessionState, workerID string) {
	prov := st.sess.ProvisionalID

	// ID assignment, rekeying, and the status change happen under one lock
	// hold so no cross-thread reader sees the session between the two keys.
	o.mu.Lock()
	if err := st.sess.AssignID(workerID); err != nil {
		o.mu.Unlock()
		log.Printf("orchestrator: error: %v", err)
		o.failSession(st, "The agent worker reported an inconsistent session identity.")
		return
	}
	if workerID != prov {
		delete(o.sessions, prov)
		o.sessions[workerID] = st
	}
	tk := threadKey(st.sess.RepositoryID, st.sess.ThreadRootID)
	o.threadToSession[tk] = workerID
	var terr error
	if st.sess.Status == session.StatusPending {
		terr = st.sess.Transition(session.StatusActive)
	} else {
		st.sess.Touch()
	}
	o.mu.Unlock()
	if terr != nil {
		log.Printf("orchestrator: %v", terr)
	}

	o.auditAssign(prov, st)
	fmt.Fprintf(o.out, "orchestrator: session %s active (was %s)\n", workerID, prov)

	// Flush input that arrived while the worker was starting, in arrival
	// order.
	for _, input := range st.pending {
		if err := st.proc.Send(input); err != nil {
			log.Printf("orchestrator: error: flush pending input to %s: %v", workerID, err)
			break
		}
	}
	st.pending = nil

	o.persist(st.sess.RepositoryID)
}

// handleCompleted finalizes a successful session: posts the result, marks
// the issue done, and hands feedback to a waiting parent session.
func (o *Orchestrator) handleCompleted(st *sessionState, result string) {
	if err := o.transition(st, session.StatusComplete); err != nil {
		log.Printf("orchestrator: %v", err)
		return
	}
	fmt.Fprintf(o.out, "orchestrator: session %s complete\n", st.sess.Key())

	if result != "" {
		o.recordConversation(st, "assistant", "", result)
		o.postReply(st, result)
	}

	ctx, cancel := contextWithTimeout(15 * time.Second)
	defer cancel()
	issueID := st.repo.Repo + "#" + st.sess.IssueID
	if err := o.gateway.UpdateStatus(ctx, issueID, "done"); err != nil {
		log.Printf("orchestrator: update status for %s: %v", issueID, err)
	}

	o.notifyParent(st, fmt.Sprintf("Sub-session %s completed:\n%s", st.sess.Key(), result))
	o.auditComplete(st)
	o.persist(st.sess.RepositoryID)
}

// handleWorkerExit runs after the worker's message stream and process have
// both finished. A session still non-terminal at this point lost its
// worker without a result.
func (o *Orchestrator) handleWorkerExit(st *sessionState, proc agent.Process) {
	if st.proc == proc {
		o.setProc(st, nil)
	}
	if st.sess.Status.Terminal() {
		return
	}
	log.Printf("orchestrator: error: session %s worker exited without a result", st.sess.Key())
	o.notifyParent(st, fmt.Sprintf("Sub-session %s aborted: worker exited unexpectedly", st.sess.Key()))
	o.failSession(st, "The agent worker exited unexpectedly.")
}

// failSession moves a session to Error, terminates its worker, and posts
// a best-effort diagnostic reply so the thread is not left silent.
func (o *Orchestrator) failSession(st *sessionState, diagnostic string) {
	if st.sess.Status.Terminal() {
		return
	}
	if err := o.transition(st, session.StatusError); err != nil {
		log.Printf("orchestrator: %v", err)
		return
	}
	if st.proc != nil {
		if err := st.proc.Close(); err != nil {
			log.Printf("orchestrator: close worker for %s: %v", st.sess.Key(), err)
		}
		o.setProc(st, nil)
	}
	st.pending = nil

	o.postReply(st, diagnostic)
	o.auditComplete(st)
	o.persist(st.sess.RepositoryID)
}

// postReply relays text to the session's thread through the throttled
// gateway. A reply identical to the thread's most recent one is skipped,
// which keeps a resumed worker from reposting its last message. Delivery
// failure after retries is logged and the session continues; replies are
// not rolled back.
func (o *Orchestrator) postReply(st *sessionState, body string) {
	if body == "" {
		return
	}

	tk := threadKey(st.sess.RepositoryID, st.sess.ThreadRootID)
	hash := bodyHash(body)
	if prev, ok := o.replyGuard.Get(tk); ok && prev == hash {
		log.Printf("orchestrator: suppressing repeated reply for %s", st.sess.Key())
		return
	}

	target := st.sess.IssueID
	if st.sess.Metadata.ShouldReplyInThread {
		target = st.sess.ThreadRootID
	}
	threadID := st.repo.Repo + "#" + target

	st.seq++
	idemKey := fmt.Sprintf("%s-%d", st.sess.Key(), st.seq)

	ctx, cancel := contextWithTimeout(60 * time.Second)
	defer cancel()
	if _, err := o.gateway.PostReply(ctx, threadID, body, idemKey); err != nil {
		log.Printf("orchestrator: error: post reply for %s: %v", st.sess.Key(), err)
		return
	}
	o.replyGuard.Put(tk, hash)
}

func bodyHash(body string) string {
	h := fnv.New64a()
	h.Write([]byte(body))
	return fmt.Sprintf("%x", h.Sum64())
}

// SpawnChild starts a sub-session on behalf of a running parent session.
// The parent link is recorded at creation, before the child's worker can
// emit its first message. The child's completion or failure is fed back to
// the parent if it is still running then.
func (o *Orchestrator) SpawnChild(parentKey string, ev event.Event) error {
	o.mu.Lock()
	parent, ok := o.sessions[parentKey]
	var parentStatus session.Status
	if ok {
		parentStatus = parent.sess.Status
	}
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("orchestrator: unknown parent session %s", parentKey)
	}
	if parentStatus.Terminal() {
		return fmt.Errorf("orchestrator: parent session %s is %s", parentKey, parentStatus)
	}

	match := o.router.Route(ev)
	if match == nil {
		return fmt.Errorf("orchestrator: sub-session event %s matched no repository", ev.ID)
	}

	repo := match.Config
	tk := threadKey(repo.ID, ev.ThreadRootID())
	o.enqueue(tk, func() {
		o.mu.Lock()
		var existing *sessionState
		if key, ok := o.threadToSession[tk]; ok {
			existing = o.sessions[key]
		}
		o.mu.Unlock()
		if existing != nil && !existing.sess.Status.Terminal() {
			log.Printf("orchestrator: warning: sub-session for %s not started, thread already has session %s",
				parentKey, existing.sess.Key())
			return
		}
		o.startSession(ev, repo, tk, parentKey)
	})
	return nil
}

// notifyParent feeds a child session's outcome to its parent. If the
// parent finished or lost its worker first, the feedback is dropped with a
// warning; that is the designed outcome, not an error.
func (o *Orchestrator) notifyParent(st *sessionState, feedback string) bool {
	parentKey := st.sess.ParentSessionID
	if parentKey == "" {
		return false
	}

	o.mu.Lock()
	parent, ok := o.sessions[parentKey]
	running := ok && !parent.sess.Status.Terminal() && parent.proc != nil
	o.mu.Unlock()
	if !running {
		log.Printf("orchestrator: warning: dropping sub-session feedback from %s, parent %s no longer running",
			st.sess.Key(), parentKey)
		return false
	}

	ptk := threadKey(parent.sess.RepositoryID, parent.sess.ThreadRootID)
	o.enqueue(ptk, func() {
		if parent.sess.Status.Terminal() || parent.proc == nil {
			log.Printf("orchestrator: warning: dropping sub-session feedback from %s, parent %s finished first",
				st.sess.Key(), parentKey)
			return
		}
		if parent.sess.Status == session.StatusAwaitingInput {
			if err := o.transition(parent, session.StatusActive); err != nil {
				log.Printf("orchestrator: %v", err)
			}
		} else {
			o.touch(parent)
		}
		if err := parent.proc.Send(feedback); err != nil {
			log.Printf("orchestrator: error: deliver sub-session feedback to %s: %v", parentKey, err)
			return
		}
		o.recordConversation(parent, "system", "", feedback)
		o.persist(parent.sess.RepositoryID)
	})
	return true
}

// RunIdleMonitor periodically terminates Active sessions whose worker has
// produced nothing for longer than the configured idle timeout. Sessions
// in AwaitingInput are exempt: they are quiet because they are blocked on
// a person, not because they stalled. Blocks until ctx is cancelled.
func (o *Orchestrator) RunIdleMonitor(ctx context.Context) {
	interval := o.cfg.Sessions.IdleTimeout() / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.reapIdle()
		}
	}
}

// reapIdle enqueues a timeout check for each candidate session onto its
// thread queue, where the decision is re-made serially against current
// state.
func (o *Orchestrator) reapIdle() {
	timeout := o.cfg.Sessions.IdleTimeout()
	deadline := time.Now().Add(-timeout)

	o.mu.Lock()
	var idle []*sessionState
	for _, st := range o.sessions {
		if st.sess.Status == session.StatusActive && st.proc != nil && st.sess.LastActivityAt.Before(deadline) {
			idle = append(idle, st)
		}
	}
	o.mu.Unlock()

	for _, st := range idle {
		st := st
		tk := threadKey(st.sess.RepositoryID, st.sess.ThreadRootID)
		o.enqueue(tk, func() {
			if st.sess.Status != session.StatusActive || st.sess.LastActivityAt.After(deadline) {
				return
			}
			log.Printf("orchestrator: warning: session %s idle for over %s, terminating", st.sess.Key(), timeout)
			o.failSession(st, fmt.Sprintf("Session terminated after %s of inactivity.", timeout))
		})
	}
}
