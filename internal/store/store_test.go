package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/zulandar/conductor/internal/session"
)

func testSnapshot() *Snapshot {
	return &Snapshot{State: State{
		ThreadToSession: map[string]string{"issue-7": "worker-1"},
		Sessions: map[string]session.Record{
			"worker-1": {
				ID:             "worker-1",
				IssueID:        "issue-7",
				RepositoryID:   "backend",
				ThreadRootID:   "issue-7",
				Status:         session.StatusActive,
				StartedAt:      time.Now().Add(-time.Hour),
				LastActivityAt: time.Now(),
			},
		},
	}}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := s.Save("backend", testSnapshot()); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Load("backend")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Version != SnapshotVersion {
		t.Errorf("Version = %d, want %d", got.Version, SnapshotVersion)
	}
	if got.RepositoryID != "backend" {
		t.Errorf("RepositoryID = %q, want %q", got.RepositoryID, "backend")
	}
	if got.State.ThreadToSession["issue-7"] != "worker-1" {
		t.Errorf("ThreadToSession = %v", got.State.ThreadToSession)
	}
	rec, ok := got.State.Sessions["worker-1"]
	if !ok {
		t.Fatal("expected session worker-1 in snapshot")
	}
	if rec.Status != session.StatusActive {
		t.Errorf("Status = %s, want %s", rec.Status, session.StatusActive)
	}
}

func TestLoad_Missing(t *testing.T) {
	s, _ := New(t.TempDir())
	if _, err := s.Load("backend"); err != ErrNotFound {
		t.Fatalf("Load = %v, want ErrNotFound", err)
	}
}

func TestLoad_Corrupted(t *testing.T) {
	dir := t.TempDir()
	s, _ := New(dir)

	if err := os.WriteFile(filepath.Join(dir, "backend.json"), []byte("{truncated"), 0o644); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}
	// Corruption degrades to a cold start, never a crash.
	if _, err := s.Load("backend"); err != ErrNotFound {
		t.Fatalf("Load = %v, want ErrNotFound for corrupted snapshot", err)
	}
}

func TestLoad_NewerVersion(t *testing.T) {
	dir := t.TempDir()
	s, _ := New(dir)

	data := []byte(`{"version": 99, "state": {}}`)
	if err := os.WriteFile(filepath.Join(dir, "backend.json"), data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := s.Load("backend"); err != ErrNotFound {
		t.Fatalf("Load = %v, want ErrNotFound for newer version", err)
	}
}

func TestLoad_NilMapsInitialized(t *testing.T) {
	dir := t.TempDir()
	s, _ := New(dir)

	data := []byte(`{"version": 1, "state": {}}`)
	if err := os.WriteFile(filepath.Join(dir, "backend.json"), data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := s.Load("backend")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.State.ThreadToSession == nil || got.State.Sessions == nil {
		t.Fatal("expected maps to be initialized on load")
	}
}

func TestSave_NoTempFileLeftBehind(t *testing.T) {
	dir := t.TempDir()
	s, _ := New(dir)

	if err := s.Save("backend", testSnapshot()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "backend.json" {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("dir contents = %v, want only backend.json", names)
	}
}

func TestSave_OverwritesPrevious(t *testing.T) {
	s, _ := New(t.TempDir())

	snap := testSnapshot()
	if err := s.Save("backend", snap); err != nil {
		t.Fatalf("Save: %v", err)
	}

	snap.State.ThreadToSession["issue-8"] = "worker-2"
	if err := s.Save("backend", snap); err != nil {
		t.Fatalf("Save again: %v", err)
	}

	got, err := s.Load("backend")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got.State.ThreadToSession) != 2 {
		t.Errorf("ThreadToSession = %v, want 2 entries", got.State.ThreadToSession)
	}
}

func TestSanitize(t *testing.T) {
	if got := sanitize("acme/backend repo"); got != "acme_backend_repo" {
		t.Errorf("sanitize = %q, want %q", got, "acme_backend_repo")
	}
	if got := sanitize("safe-name_1.0"); got != "safe-name_1.0" {
		t.Errorf("sanitize = %q, want unchanged", got)
	}
}
