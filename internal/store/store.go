// Package store persists the orchestrator's per-repository state snapshots
// to disk. Writes are atomic (write-to-temp-then-rename) so a crash mid-write
// never leaves a partially written snapshot visible to Load.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/zulandar/conductor/internal/session"
)

// SnapshotVersion is the current snapshot format version. Load rejects
// snapshots written by a newer format rather than misreading them.
const SnapshotVersion = 1

// ErrNotFound is returned by Load when no usable snapshot exists for a
// repository. Corrupted or unreadable files also load as ErrNotFound (with
// a warning): the orchestrator starts cold, it never crashes.
var ErrNotFound = errors.New("store: snapshot not found")

// Snapshot is the persisted per-repository state: the thread→session map
// and every retained session record.
type Snapshot struct {
	Version      int                       `json:"version"`
	SavedAt      time.Time                 `json:"savedAt"`
	RepositoryID string                    `json:"repositoryId"`
	State        State                     `json:"state"`
}

// State holds the serialized orchestrator maps.
type State struct {
	ThreadToSession map[string]string             `json:"threadToSession"`
	Sessions        map[string]session.Record     `json:"sessions"`
}

// Store reads and writes snapshots under a base directory, one file per
// repository. Writes for the same repository are serialized to avoid
// interleaved partial writes; different repositories write concurrently.
type Store struct {
	dir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a Store rooted at dir, creating the directory if needed.
func New(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("store: dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create dir %s: %w", dir, err)
	}
	return &Store{dir: dir, locks: make(map[string]*sync.Mutex)}, nil
}

// Save writes the snapshot for repositoryID atomically. The version and
// timestamp fields are stamped here; callers only fill State.
func (s *Store) Save(repositoryID string, snap *Snapshot) error {
	if repositoryID == "" {
		return fmt.Errorf("store: repositoryID is required")
	}
	if snap == nil {
		return fmt.Errorf("store: snapshot is required")
	}

	lock := s.repoLock(repositoryID)
	lock.Lock()
	defer lock.Unlock()

	snap.Version = SnapshotVersion
	snap.SavedAt = time.Now().UTC()
	snap.RepositoryID = repositoryID

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal snapshot %s: %w", repositoryID, err)
	}

	final := s.path(repositoryID)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("store: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("store: rename %s: %w", final, err)
	}
	return nil
}

// Load reads the snapshot for repositoryID. Missing, corrupted, or
// version-incompatible files return ErrNotFound; corruption is logged so
// operators can investigate, but startup proceeds cold.
func (s *Store) Load(repositoryID string) (*Snapshot, error) {
	if repositoryID == "" {
		return nil, fmt.Errorf("store: repositoryID is required")
	}

	lock := s.repoLock(repositoryID)
	lock.Lock()
	defer lock.Unlock()

	data, err := os.ReadFile(s.path(repositoryID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		log.Printf("store: read snapshot %s: %v (starting cold)", repositoryID, err)
		return nil, ErrNotFound
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Printf("store: snapshot %s is corrupted: %v (starting cold)", repositoryID, err)
		return nil, ErrNotFound
	}
	if snap.Version > SnapshotVersion {
		log.Printf("store: snapshot %s has version %d, newer than supported %d (starting cold)",
			repositoryID, snap.Version, SnapshotVersion)
		return nil, ErrNotFound
	}
	if snap.State.ThreadToSession == nil {
		snap.State.ThreadToSession = make(map[string]string)
	}
	if snap.State.Sessions == nil {
		snap.State.Sessions = make(map[string]session.Record)
	}
	return &snap, nil
}

// path returns the snapshot file path for a repository.
func (s *Store) path(repositoryID string) string {
	return filepath.Join(s.dir, sanitize(repositoryID)+".json")
}

// repoLock returns the per-repository write lock, creating it on first use.
func (s *Store) repoLock(repositoryID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[repositoryID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[repositoryID] = l
	}
	return l
}

// sanitize maps a repository ID to a safe file name component.
func sanitize(id string) string {
	out := make([]rune, 0, len(id))
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
