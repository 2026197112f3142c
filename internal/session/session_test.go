package session

import (
	"strings"
	"testing"
	"time"
)

func TestStatus_Terminal(t *testing.T) {
	cases := []struct {
		status Status
		want   bool
	}{
		{StatusPending, false},
		{StatusActive, false},
		{StatusAwaitingInput, false},
		{StatusComplete, true},
		{StatusError, true},
	}
	for _, tc := range cases {
		if got := tc.status.Terminal(); got != tc.want {
			t.Errorf("%s.Terminal() = %v, want %v", tc.status, got, tc.want)
		}
	}
}

func TestCanTransition(t *testing.T) {
	legal := []struct{ from, to Status }{
		{StatusPending, StatusActive},
		{StatusPending, StatusError},
		{StatusActive, StatusAwaitingInput},
		{StatusActive, StatusComplete},
		{StatusActive, StatusError},
		{StatusAwaitingInput, StatusActive},
		{StatusAwaitingInput, StatusComplete},
		{StatusAwaitingInput, StatusError},
	}
	for _, tc := range legal {
		if !CanTransition(tc.from, tc.to) {
			t.Errorf("expected %s → %s to be legal", tc.from, tc.to)
		}
	}

	illegal := []struct{ from, to Status }{
		{StatusPending, StatusComplete},
		{StatusPending, StatusAwaitingInput},
		{StatusComplete, StatusActive},
		{StatusComplete, StatusError},
		{StatusError, StatusActive},
		{StatusError, StatusComplete},
	}
	for _, tc := range illegal {
		if CanTransition(tc.from, tc.to) {
			t.Errorf("expected %s → %s to be illegal", tc.from, tc.to)
		}
	}
}

func TestTransition_StampsActivity(t *testing.T) {
	s := &Session{Status: StatusPending, LastActivityAt: time.Now().Add(-time.Hour)}
	before := s.LastActivityAt

	if err := s.Transition(StatusActive); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if s.Status != StatusActive {
		t.Errorf("Status = %s, want %s", s.Status, StatusActive)
	}
	if !s.LastActivityAt.After(before) {
		t.Error("expected LastActivityAt to advance")
	}
}

func TestTransition_Illegal(t *testing.T) {
	s := &Session{Status: StatusComplete}
	if err := s.Transition(StatusActive); err == nil {
		t.Fatal("expected error on transition out of a terminal state")
	}
	if s.Status != StatusComplete {
		t.Errorf("status changed on failed transition: %s", s.Status)
	}
}

func TestKey_PrefersAssignedID(t *testing.T) {
	s := &Session{ProvisionalID: "prov-abcd1234"}
	if got := s.Key(); got != "prov-abcd1234" {
		t.Errorf("Key = %q, want provisional ID", got)
	}

	if err := s.AssignID("worker-1"); err != nil {
		t.Fatalf("AssignID: %v", err)
	}
	if got := s.Key(); got != "worker-1" {
		t.Errorf("Key = %q, want %q", got, "worker-1")
	}
}

func TestAssignID_Immutable(t *testing.T) {
	s := &Session{ProvisionalID: "prov-abcd1234"}
	if err := s.AssignID("worker-1"); err != nil {
		t.Fatalf("AssignID: %v", err)
	}
	// Re-assigning the same ID is a no-op.
	if err := s.AssignID("worker-1"); err != nil {
		t.Errorf("re-assigning same ID: %v", err)
	}
	if err := s.AssignID("worker-2"); err == nil {
		t.Fatal("expected error on conflicting re-assignment")
	}
}

func TestAssignID_Empty(t *testing.T) {
	s := &Session{ProvisionalID: "prov-abcd1234"}
	if err := s.AssignID(""); err == nil {
		t.Fatal("expected error on empty worker ID")
	}
}

func TestNewProvisionalID(t *testing.T) {
	a, err := NewProvisionalID()
	if err != nil {
		t.Fatalf("NewProvisionalID: %v", err)
	}
	if !strings.HasPrefix(a, "prov-") || len(a) != len("prov-")+8 {
		t.Errorf("unexpected provisional ID format: %q", a)
	}

	b, _ := NewProvisionalID()
	if a == b {
		t.Error("consecutive provisional IDs should differ")
	}
}

func TestRecordRoundTrip(t *testing.T) {
	s := &Session{
		ID:              "worker-1",
		ProvisionalID:   "prov-abcd1234",
		IssueID:         "issue-7",
		RepositoryID:    "backend",
		ThreadRootID:    "issue-7",
		ParentSessionID: "worker-0",
		Status:          StatusAwaitingInput,
		StartedAt:       time.Now().Add(-time.Hour),
		LastActivityAt:  time.Now(),
		Metadata:        Metadata{ShouldReplyInThread: true, OriginalEventID: "ev-1"},
	}

	got := FromRecord(s.ToRecord())
	if got.ID != s.ID || got.Status != s.Status || got.ParentSessionID != s.ParentSessionID {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if got.Metadata != s.Metadata {
		t.Errorf("Metadata = %+v, want %+v", got.Metadata, s.Metadata)
	}
}
