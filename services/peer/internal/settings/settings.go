package settings

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// Settings holds the locally persisted peer configuration
type Settings struct {
	SharingEnabled bool     `json:"sharing_enabled"`
	ShareAll       bool     `json:"share_all"`
	SharedPaths    []string `json:"shared_paths"`
	ServerURL      string   `json:"server_url"`
	ClientID       string   `json:"client_id"`
	DisplayName    string   `json:"display_name"`
}

// Store is a file-backed settings store. Every update is written through
// to disk so identity and share policy survive restarts.
type Store struct {
	mu      sync.RWMutex
	path    string
	current Settings
}

// NewStore loads settings from path, or starts with defaults when the
// file does not exist yet.
func NewStore(path string) (*Store, error) {
	s := &Store{
		path: path,
		current: Settings{
			ShareAll: true,
		},
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return s, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, &s.current); err != nil {
		return nil, err
	}
	return s, nil
}

// Get returns a copy of the current settings
func (s *Store) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := s.current
	out.SharedPaths = append([]string(nil), s.current.SharedPaths...)
	return out
}

// Update applies fn to the settings and persists the result
func (s *Store) Update(fn func(*Settings)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fn(&s.current)
	return s.save()
}

// save must be called with the lock held
func (s *Store) save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s.current, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0644)
}
