// Package event defines the inbound notification event shape delivered by
// the transport layer and the fingerprint used for duplicate suppression.
package event

import "time"

// Event is a single inbound tracker notification, already authenticated by
// the transport layer before it reaches Conductor.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`   // e.g. "issue.assigned", "comment"
	Action    string    `json:"action"` // e.g. "create", "update", "remove"
	Timestamp time.Time `json:"timestamp"`
	Data      Data      `json:"data"`
}

// Data carries the routing-relevant payload fields. Tracker-specific schema
// beyond these fields is not modeled.
type Data struct {
	ResourceID     string   `json:"resourceId"`
	ThreadID       string   `json:"threadId,omitempty"`
	RepositoryHint string   `json:"repositoryHint,omitempty"`
	ActorID        string   `json:"actorId"`
	Body           string   `json:"body,omitempty"`
	ActorName      string   `json:"actorName,omitempty"`
	Labels         []string `json:"labels,omitempty"`
	TeamKey        string   `json:"teamKey,omitempty"`
	ProjectName    string   `json:"projectName,omitempty"`
}

// Fingerprint is the derived dedup key for an event.
type Fingerprint string

// Fingerprint derives the dedup key "{type}:{action}:{resourceId}". Two
// deliveries of the same tracker notification always produce the same key.
func (e Event) Fingerprint() Fingerprint {
	return Fingerprint(e.Type + ":" + e.Action + ":" + e.Data.ResourceID)
}

// ThreadRootID returns the conversation root this event belongs to. Events
// without an explicit thread (e.g. an issue assignment) root a new thread at
// the resource itself, so follow-up comments on that resource find the same
// session.
func (e Event) ThreadRootID() string {
	if e.Data.ThreadID != "" {
		return e.Data.ThreadID
	}
	return e.Data.ResourceID
}
