package orchestrator

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/zulandar/conductor/internal/agent"
	"github.com/zulandar/conductor/internal/config"
	"github.com/zulandar/conductor/internal/event"
	"github.com/zulandar/conductor/internal/notify"
	"github.com/zulandar/conductor/internal/session"
)

// ackReaction is added to the triggering comment so the user sees the
// event was picked up before any reply arrives.
const ackReaction = "eyes"

// threadContextLimit caps how much thread history goes into a fresh
// worker's prompt.
const threadContextLimit = 20

func contextWithTimeout(d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), d)
}

// process handles one routed event on its thread's serial queue. Exactly
// one of three things happens: the event cancels the thread's session,
// feeds an existing session, or starts a new one.
func (o *Orchestrator) process(ev event.Event, repo *config.RepositoryConfig) {
	tk := threadKey(repo.ID, ev.ThreadRootID())

	if isCancellation(ev) {
		o.cancelThread(tk, "unassigned from issue")
		return
	}

	o.mu.Lock()
	var st *sessionState
	if key, ok := o.threadToSession[tk]; ok {
		st = o.sessions[key]
	}
	o.mu.Unlock()

	if st != nil && !st.sess.Status.Terminal() {
		o.feed(st, ev)
		return
	}

	// No live session for the thread (or only a terminal one): this event
	// starts a new session. At most one non-terminal session per thread is
	// guaranteed here because all work for a thread runs on one queue.
	o.startSession(ev, repo, tk, "")
}

// isCancellation reports whether the event withdraws the assignment that
// started the thread's work.
func isCancellation(ev event.Event) bool {
	if ev.Type == "issue.unassigned" {
		return true
	}
	return ev.Type == "issue.assigned" && ev.Action == "remove"
}

// feed delivers an event's body to an existing non-terminal session. A
// Pending session queues it; a running worker receives it immediately; a
// restored session without a worker is resumed first.
func (o *Orchestrator) feed(st *sessionState, ev event.Event) {
	input := formatUserInput(ev)

	switch {
	case st.sess.Status == session.StatusPending && st.proc != nil:
		// Worker spawned but no Started message yet; hold the input until
		// the worker reports ready.
		st.pending = append(st.pending, input)
		o.recordConversation(st, "user", ev.Data.ActorName, ev.Data.Body)

	case st.proc != nil:
		if st.sess.Status == session.StatusAwaitingInput {
			if err := o.transition(st, session.StatusActive); err != nil {
				log.Printf("orchestrator: %v", err)
			}
		} else {
			o.touch(st)
		}
		if err := st.proc.Send(input); err != nil {
			log.Printf("orchestrator: error: send to session %s: %v", st.sess.Key(), err)
			o.failSession(st, fmt.Sprintf("Delivering your message failed: %v", err))
			return
		}
		o.recordConversation(st, "user", ev.Data.ActorName, ev.Data.Body)
		o.auditUpdate(st)
		o.persist(st.sess.RepositoryID)

	default:
		// Non-terminal session restored from a snapshot with no live
		// worker. Resume it with its prior conversation and the new
		// message.
		o.resumeSession(st, ev)
	}
}

// startSession creates a session for the thread and spawns its worker.
// parentKey is non-empty for sub-sessions and is recorded before the
// worker can emit its first message.
func (o *Orchestrator) startSession(ev event.Event, repo *config.RepositoryConfig, tk, parentKey string) {
	prov, err := session.NewProvisionalID()
	if err != nil {
		log.Printf("orchestrator: error: %v", err)
		return
	}

	now := time.Now()
	st := &sessionState{
		sess: &session.Session{
			ProvisionalID:   prov,
			IssueID:         ev.Data.ResourceID,
			RepositoryID:    repo.ID,
			ThreadRootID:    ev.ThreadRootID(),
			ParentSessionID: parentKey,
			Status:          session.StatusPending,
			StartedAt:       now,
			LastActivityAt:  now,
			Metadata: session.Metadata{
				ShouldReplyInThread: repo.ReplyInThread,
				OriginalEventID:     ev.ID,
			},
		},
		repo: repo,
	}

	o.mu.Lock()
	o.sessions[prov] = st
	o.threadToSession[tk] = prov
	o.mu.Unlock()

	o.auditCreate(st)
	o.persist(repo.ID)
	o.react(ev, repo)
	o.recordConversation(st, "user", ev.Data.ActorName, ev.Data.Body)

	fmt.Fprintf(o.out, "orchestrator: session %s starting for thread %s (%s)\n", prov, tk, repo.ID)
	o.spawn(st, o.buildPrompt(ev, repo), "")
}

// resumeSession restarts a worker for a session that survived a daemon
// restart. The worker resumes under its original ID where possible; the
// recovery prompt replays the stored conversation plus the new message.
func (o *Orchestrator) resumeSession(st *sessionState, ev event.Event) {
	fmt.Fprintf(o.out, "orchestrator: resuming session %s (status %s)\n", st.sess.Key(), st.sess.Status)
	o.recordConversation(st, "user", ev.Data.ActorName, ev.Data.Body)

	prompt := o.buildRecoveryPrompt(st, ev)
	o.spawn(st, prompt, st.sess.ID)
}

// spawn launches the worker process and starts the goroutine that pumps
// its messages back onto the thread queue. Spawn failure is terminal for
// the session; there is no automatic respawn.
func (o *Orchestrator) spawn(st *sessionState, prompt, resumeID string) {
	proc, err := o.spawner.Spawn(context.Background(), agent.SpawnOpts{
		Prompt:       prompt,
		WorkDir:      st.repo.WorkspaceRoot,
		AllowedTools: st.repo.AllowedTools,
		ResumeID:     resumeID,
	})
	if err != nil {
		log.Printf("orchestrator: error: spawn worker for %s: %v", st.sess.Key(), err)
		o.failSession(st, fmt.Sprintf("could not start the agent worker: %v", err))
		o.alert(notify.Alert{
			Title:    "Worker spawn failed",
			Body:     fmt.Sprintf("Session %s on %s: %v", st.sess.Key(), st.sess.RepositoryID, err),
			Severity: notify.SeverityError,
		})
		return
	}
	o.setProc(st, proc)

	// The pump holds the state pointer, not the session key: the key
	// changes when the worker assigns the real session ID.
	tk := threadKey(st.sess.RepositoryID, st.sess.ThreadRootID)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		for msg := range proc.Messages() {
			m := msg
			o.enqueue(tk, func() { o.handleWorkerMessage(st, m) })
		}
		<-proc.Done()
		o.enqueue(tk, func() { o.handleWorkerExit(st, proc) })
	}()
}

// react acknowledges the triggering comment with an emoji. Duplicate
// deliveries outside the dedup window are caught by the reaction marker
// table. Best-effort: a failed reaction never blocks the session.
func (o *Orchestrator) react(ev event.Event, repo *config.RepositoryConfig) {
	if ev.Type != "comment" || ev.Data.ResourceID == "" {
		return
	}
	if _, seen := o.reactions.Get(ev.ID); seen {
		return
	}
	o.reactions.Put(ev.ID, struct{}{})

	ctx, cancel := contextWithTimeout(15 * time.Second)
	defer cancel()
	commentID := repo.Repo + "#" + ev.Data.ResourceID
	if err := o.gateway.PostReaction(ctx, commentID, ackReaction); err != nil {
		log.Printf("orchestrator: react to %s: %v", commentID, err)
	}
}

// cancelThread terminates the thread's non-terminal session, posting a
// diagnostic reply so the thread is not left silent.
func (o *Orchestrator) cancelThread(tk, reason string) {
	o.mu.Lock()
	var st *sessionState
	if key, ok := o.threadToSession[tk]; ok {
		st = o.sessions[key]
	}
	o.mu.Unlock()

	if st == nil || st.sess.Status.Terminal() {
		return
	}
	fmt.Fprintf(o.out, "orchestrator: cancelling session %s (%s)\n", st.sess.Key(), reason)
	o.failSession(st, "Session cancelled: "+reason+".")
}

// formatUserInput shapes an inbound event's body for delivery to a worker.
func formatUserInput(ev event.Event) string {
	author := ev.Data.ActorName
	if author == "" {
		author = ev.Data.ActorID
	}
	if author == "" {
		return ev.Data.Body
	}
	return fmt.Sprintf("[%s] %s", author, ev.Data.Body)
}

// buildPrompt assembles the initial prompt for a fresh worker: recent
// thread history (best-effort) followed by the triggering message.
func (o *Orchestrator) buildPrompt(ev event.Event, repo *config.RepositoryConfig) string {
	var b strings.Builder
	b.WriteString("You are working on repository ")
	b.WriteString(repo.Repo)
	b.WriteString(".\n\n")

	ctx, cancel := contextWithTimeout(15 * time.Second)
	defer cancel()
	history, err := o.gateway.ThreadContext(ctx, repo.Repo+"#"+ev.ThreadRootID(), threadContextLimit)
	if err != nil {
		log.Printf("orchestrator: thread context for %s: %v", ev.ThreadRootID(), err)
	} else if len(history) > 0 {
		b.WriteString("Recent conversation in this thread:\n")
		for _, m := range history {
			fmt.Fprintf(&b, "[%s] %s\n", m.Author, m.Body)
		}
		b.WriteString("\n")
	}

	b.WriteString("New request:\n")
	b.WriteString(formatUserInput(ev))
	return b.String()
}

// buildRecoveryPrompt assembles the resume prompt for a restored session
// from its stored conversation rows plus the new message.
func (o *Orchestrator) buildRecoveryPrompt(st *sessionState, ev event.Event) string {
	var b strings.Builder
	b.WriteString("You are resuming work after a restart. Prior conversation:\n")
	for _, c := range o.loadConversation(st.sess.Key()) {
		fmt.Fprintf(&b, "[%s] %s\n", c.Role, c.Content)
	}
	b.WriteString("\nNew request:\n")
	b.WriteString(formatUserInput(ev))
	return b.String()
}
