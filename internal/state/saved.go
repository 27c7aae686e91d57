package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/user/skyq/internal/query"
)

// SavedQuery is a named query that can be run on demand or on a cron schedule.
type SavedQuery struct {
	Name     string       `json:"name"`
	Type     query.Type   `json:"query_type"`
	Params   query.Params `json:"params"`
	Schedule string       `json:"schedule,omitempty"`
	// Preset, when set, replaces start/stop with a time preset evaluated at
	// run time, so scheduled queries always cover a fresh window.
	Preset string `json:"preset,omitempty"`
	// Notify is the origin key that receives a completion notice.
	Notify  string `json:"notify,omitempty"`
	Enabled bool   `json:"enabled"`
}

// SavedQueryStore is a JSON-file-backed store for saved queries.
type SavedQueryStore struct {
	path string
	mu   sync.RWMutex
}

// NewSavedQueryStore creates a new file-backed store at the given file path.
func NewSavedQueryStore(path string) *SavedQueryStore {
	return &SavedQueryStore{path: path}
}

// Path returns the file path used by this store.
func (s *SavedQueryStore) Path() string {
	return s.path
}

// List returns all saved queries. Returns an empty slice if the file doesn't exist.
func (s *SavedQueryStore) List() ([]*SavedQuery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	saved, err := s.load()
	if err != nil {
		return nil, err
	}
	if saved == nil {
		return []*SavedQuery{}, nil
	}
	return saved, nil
}

// Get finds a saved query by name.
func (s *SavedQueryStore) Get(name string) (*SavedQuery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	saved, err := s.load()
	if err != nil {
		return nil, err
	}
	for _, q := range saved {
		if q.Name == name {
			return q, nil
		}
	}
	return nil, fmt.Errorf("saved query not found: %s", name)
}

// Add appends a saved query. Names must be unique.
func (s *SavedQueryStore) Add(q *SavedQuery) error {
	if q.Name == "" {
		return fmt.Errorf("saved query needs a name")
	}
	if q.Type == "" {
		q.Type = query.DefaultType
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	saved, err := s.load()
	if err != nil {
		return err
	}
	for _, existing := range saved {
		if existing.Name == q.Name {
			return fmt.Errorf("saved query already exists: %s", q.Name)
		}
	}
	return s.save(append(saved, q))
}

// Remove deletes a saved query by name.
func (s *SavedQueryStore) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	saved, err := s.load()
	if err != nil {
		return err
	}
	for i, q := range saved {
		if q.Name == name {
			saved = append(saved[:i], saved[i+1:]...)
			return s.save(saved)
		}
	}
	return fmt.Errorf("saved query not found: %s", name)
}

// SetEnabled toggles the enabled flag for a saved query.
func (s *SavedQueryStore) SetEnabled(name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	saved, err := s.load()
	if err != nil {
		return err
	}
	for _, q := range saved {
		if q.Name == name {
			q.Enabled = enabled
			return s.save(saved)
		}
	}
	return fmt.Errorf("saved query not found: %s", name)
}

func (s *SavedQueryStore) load() ([]*SavedQuery, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read saved queries: %w", err)
	}

	var saved []*SavedQuery
	if err := json.Unmarshal(data, &saved); err != nil {
		return nil, fmt.Errorf("unmarshal saved queries: %w", err)
	}
	return saved, nil
}

// save writes the list with a temp file and rename.
func (s *SavedQueryStore) save(saved []*SavedQuery) error {
	data, err := json.MarshalIndent(saved, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal saved queries: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create saved queries dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp saved queries file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp saved queries file: %w", err)
	}
	return nil
}
