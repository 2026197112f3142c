// Package agent spawns coding-agent worker subprocesses and streams their
// typed lifecycle messages back to the orchestrator.
package agent

import (
	"context"
	"fmt"
)

// MessageKind is the closed set of worker lifecycle message kinds. The
// orchestrator matches it exhaustively; unknown kinds from the wire are
// logged loudly and dropped before they reach consumers.
type MessageKind int

const (
	// MessageStarted carries the worker-assigned session ID. Always the
	// first message of a healthy run.
	MessageStarted MessageKind = iota
	// MessageProgress carries text or tool activity to relay as a reply.
	MessageProgress
	// MessageBlocked signals the worker is waiting on user input mid-turn.
	MessageBlocked
	// MessageCompleted signals a successful termination with a final result.
	MessageCompleted
	// MessageFailed signals a worker error; the process will exit.
	MessageFailed
)

// String returns the kind name for logging.
func (k MessageKind) String() string {
	switch k {
	case MessageStarted:
		return "started"
	case MessageProgress:
		return "progress"
	case MessageBlocked:
		return "blocked"
	case MessageCompleted:
		return "completed"
	case MessageFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Message is one worker lifecycle message. Fields beyond Kind are populated
// per kind: SessionID for Started, Content for Progress, Result for
// Completed, Err for Failed.
type Message struct {
	Kind      MessageKind
	SessionID string
	Content   string
	Result    string
	Err       string
}

// SpawnOpts holds parameters for spawning one worker.
type SpawnOpts struct {
	Prompt       string   // initial prompt; empty means feed via Send
	WorkDir      string   // workspace root for the run
	AllowedTools []string // tool policy from the repository config
	ResumeID     string   // worker session ID to resume, if any
}

// Spawner abstracts worker creation for testability.
type Spawner interface {
	Spawn(ctx context.Context, opts SpawnOpts) (Process, error)
}

// Process is a running worker with streamed lifecycle I/O. Closing the
// Messages channel followed by Done closing signals process exit.
type Process interface {
	// Send delivers additional user input to the running worker.
	Send(msg string) error
	// Messages returns the ordered stream of lifecycle messages.
	Messages() <-chan Message
	// Done returns a channel that closes when the process exits.
	Done() <-chan struct{}
	// Close terminates the worker now. Idempotent.
	Close() error
}
