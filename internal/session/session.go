// Package session defines the Session record and its status state machine.
// A Session is the orchestrator's record of one agent worker's lifecycle
// against one conversation thread.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// Status is a Session's lifecycle state.
type Status string

const (
	// StatusPending: created, worker spawn requested, no worker message yet.
	StatusPending Status = "pending"
	// StatusActive: worker is running and has reported its session ID.
	StatusActive Status = "active"
	// StatusAwaitingInput: worker is blocked on user input mid-turn. Not
	// subject to idle timeout: quiet because blocked, not because stalled.
	StatusAwaitingInput Status = "awaiting_input"
	// StatusComplete: worker finished normally. Terminal.
	StatusComplete Status = "complete"
	// StatusError: worker crashed, spawn failed, or the session was
	// cancelled. Terminal.
	StatusError Status = "error"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusError
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusAwaitingInput, StatusComplete, StatusError:
		return true
	}
	return false
}

// transitions lists the legal status moves. Error is reachable from every
// non-terminal state; Complete only from a running worker.
var transitions = map[Status][]Status{
	StatusPending:       {StatusActive, StatusError},
	StatusActive:        {StatusAwaitingInput, StatusComplete, StatusError},
	StatusAwaitingInput: {StatusActive, StatusComplete, StatusError},
}

// CanTransition reports whether from → to is a legal move.
func CanTransition(from, to Status) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Metadata is the small bag of per-session flags.
type Metadata struct {
	ShouldReplyInThread bool   `json:"shouldReplyInThread"`
	OriginalEventID     string `json:"originalEventId"`
}

// Session is the unit of ongoing work bound to one conversation thread.
//
// ID is assigned by the worker process on its first lifecycle message, not
// by the orchestrator, so a session exists transiently with an empty ID
// between creation and first worker message; ProvisionalID keys it during
// that window. ID is immutable once assigned.
type Session struct {
	ID              string
	ProvisionalID   string
	IssueID         string
	RepositoryID    string
	ThreadRootID    string
	ParentSessionID string
	Status          Status
	StartedAt       time.Time
	LastActivityAt  time.Time
	Metadata        Metadata
}

// Key returns the identifier under which the session is tracked: the
// worker-assigned ID once known, the provisional ID before that.
func (s *Session) Key() string {
	if s.ID != "" {
		return s.ID
	}
	return s.ProvisionalID
}

// Transition moves the session to a new status, enforcing the state
// machine, and stamps LastActivityAt.
func (s *Session) Transition(to Status) error {
	if !CanTransition(s.Status, to) {
		return fmt.Errorf("session: illegal transition %s → %s for %s", s.Status, to, s.Key())
	}
	s.Status = to
	s.LastActivityAt = time.Now()
	return nil
}

// AssignID sets the worker-assigned session ID. Assigning a different ID
// after one is set is an internal error.
func (s *Session) AssignID(id string) error {
	if id == "" {
		return fmt.Errorf("session: empty worker session ID")
	}
	if s.ID != "" && s.ID != id {
		return fmt.Errorf("session: ID already assigned (%s, got %s)", s.ID, id)
	}
	s.ID = id
	return nil
}

// Touch stamps LastActivityAt. Called on every worker message.
func (s *Session) Touch() {
	s.LastActivityAt = time.Now()
}

// NewProvisionalID creates a unique provisional key in prov-xxxxxxxx format.
func NewProvisionalID() (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("session: generate provisional ID: %w", err)
	}
	return "prov-" + hex.EncodeToString(b), nil
}

// Record is the persisted form of a Session, stored inside snapshots.
type Record struct {
	ID              string    `json:"id"`
	ProvisionalID   string    `json:"provisionalId,omitempty"`
	IssueID         string    `json:"issueId"`
	RepositoryID    string    `json:"repositoryId"`
	ThreadRootID    string    `json:"threadRootId"`
	ParentSessionID string    `json:"parentSessionId,omitempty"`
	Status          Status    `json:"status"`
	StartedAt       time.Time `json:"startedAt"`
	LastActivityAt  time.Time `json:"lastActivityAt"`
	Metadata        Metadata  `json:"metadata"`
}

// ToRecord converts the session to its persisted form.
func (s *Session) ToRecord() Record {
	return Record{
		ID:              s.ID,
		ProvisionalID:   s.ProvisionalID,
		IssueID:         s.IssueID,
		RepositoryID:    s.RepositoryID,
		ThreadRootID:    s.ThreadRootID,
		ParentSessionID: s.ParentSessionID,
		Status:          s.Status,
		StartedAt:       s.StartedAt,
		LastActivityAt:  s.LastActivityAt,
		Metadata:        s.Metadata,
	}
}

// FromRecord rebuilds a Session from its persisted form.
func FromRecord(r Record) *Session {
	return &Session{
		ID:              r.ID,
		ProvisionalID:   r.ProvisionalID,
		IssueID:         r.IssueID,
		RepositoryID:    r.RepositoryID,
		ThreadRootID:    r.ThreadRootID,
		ParentSessionID: r.ParentSessionID,
		Status:          r.Status,
		StartedAt:       r.StartedAt,
		LastActivityAt:  r.LastActivityAt,
		Metadata:        r.Metadata,
	}
}
