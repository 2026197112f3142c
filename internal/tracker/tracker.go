// Package tracker talks to the external issue tracker: posting replies and
// reactions, updating issue status, and reading thread context. All
// production calls go through the Throttled decorator (rate limit first,
// then retry-wrapped execution).
package tracker

import (
	"context"
	"time"
)

// Gateway is the outbound call surface the orchestrator requires. Each
// operation must be idempotent-safe under retry: callers supply a
// client-generated idempotency hint so a retried post that actually
// succeeded server-side is not duplicated.
type Gateway interface {
	// PostReply posts body as a reply under threadID and returns the new
	// reply's ID. A non-empty idemKey suppresses duplicates across retries.
	PostReply(ctx context.Context, threadID, body, idemKey string) (string, error)

	// PostReaction adds an emoji reaction to a comment.
	PostReaction(ctx context.Context, commentID, reaction string) error

	// UpdateStatus moves the underlying issue to a new workflow status.
	UpdateStatus(ctx context.Context, issueID, status string) error

	// ThreadContext retrieves up to limit recent messages from a thread,
	// oldest first.
	ThreadContext(ctx context.Context, threadID string, limit int) ([]ThreadMessage, error)
}

// ThreadMessage is a single message within a thread's history.
type ThreadMessage struct {
	ID        string
	Author    string
	Body      string
	Timestamp time.Time
}
