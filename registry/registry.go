// Package registry keeps a small local catalog of known remote apps
// (workspaces), keyed by kind. The backing store is a single JSON array
// file, read and rewritten whole on every mutation; an absent file is an
// empty registry.
//
// At most one entry per kind is active at any time. Activating a new entry
// demotes every prior entry of that kind to inactive; old entries are kept
// for history, never deleted.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Kind classifies what a remote app is used for.
type Kind string

const (
	// KindTask is the workspace holding task-list tables.
	KindTask Kind = "task"
	// KindLog is the workspace receiving collected data tables.
	KindLog Kind = "log"
)

// Entry is one known remote app.
type Entry struct {
	AppToken       string `json:"app_token"`
	DefaultTableID string `json:"default_table_id,omitempty"`
	FolderToken    string `json:"folder_token,omitempty"`
	Name           string `json:"name"`
	URL            string `json:"url,omitempty"`
	Kind           Kind   `json:"type"`
	Active         bool   `json:"active"`
}

// Store is a file-backed registry. Writes within one process are
// serialised; concurrent writers in separate processes are
// last-writer-wins.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore creates a Store at the given file path. The file and its parent
// directory are created lazily on first write.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// All returns every registry entry. An absent file yields an empty slice.
func (s *Store) All() ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readAll()
}

// ActiveByKind returns the single active entry of the given kind, if any.
func (s *Store) ActiveByKind(kind Kind) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := s.readAll()
	if err != nil {
		return Entry{}, false, err
	}
	for _, e := range entries {
		if e.Kind == kind && e.Active {
			return e, true, nil
		}
	}
	return Entry{}, false, nil
}

// Activate records entry as the active app of its kind, demoting every
// prior entry of that kind to inactive.
func (s *Store) Activate(entry Entry) error {
	if entry.AppToken == "" {
		return errors.New("registry: entry has no app token")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.readAll()
	if err != nil {
		return err
	}

	kept := entries[:0]
	for _, e := range entries {
		if e.AppToken == entry.AppToken {
			continue // replaced below
		}
		if e.Kind == entry.Kind {
			e.Active = false
		}
		kept = append(kept, e)
	}
	entry.Active = true
	kept = append(kept, entry)
	return s.writeAll(kept)
}

// Deactivate marks the entry with the given app token inactive.
func (s *Store) Deactivate(appToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.readAll()
	if err != nil {
		return err
	}
	found := false
	for i := range entries {
		if entries[i].AppToken == appToken {
			entries[i].Active = false
			found = true
		}
	}
	if !found {
		return fmt.Errorf("registry: unknown app token %q", appToken)
	}
	return s.writeAll(entries)
}

func (s *Store) readAll() ([]Entry, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("registry: read %s: %w", s.path, err)
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("registry: decode %s: %w", s.path, err)
	}
	return entries, nil
}

func (s *Store) writeAll(entries []Entry) error {
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("registry: mkdir %s: %w", dir, err)
		}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("registry: encode: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("registry: write %s: %w", s.path, err)
	}
	return nil
}
