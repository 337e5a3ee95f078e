package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const bindingsFileMode = 0600

// Binding ties a project path to the chat destination that receives
// its authorization cards and escalations.
type Binding struct {
	ProjectPath string    `json:"project_path"`
	Channel     string    `json:"channel"`
	ChatID      string    `json:"chat_id"`
	OperatorID  string    `json:"operator_id,omitempty"`
	SessionID   string    `json:"session_id,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Store persists project bindings as a single JSON file keyed by
// cleaned project path.
type Store struct {
	path string
	now  func() time.Time

	mu       sync.Mutex
	bindings map[string]Binding
}

// NewStore creates a binding store backed by the given file. Call Load
// before first use.
func NewStore(path string) *Store {
	return &Store{
		path:     path,
		now:      time.Now,
		bindings: make(map[string]Binding),
	}
}

// Load reads bindings from disk. A missing file is an empty store.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.bindings = make(map[string]Binding)
			return nil
		}
		return fmt.Errorf("read bindings file: %w", err)
	}

	var list []Binding
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("parse bindings file: %w", err)
	}

	s.bindings = make(map[string]Binding, len(list))
	for _, b := range list {
		key := cleanPath(b.ProjectPath)
		if key == "" || b.Channel == "" || b.ChatID == "" {
			continue
		}
		b.ProjectPath = key
		s.bindings[key] = b
	}
	return nil
}

// Bind upserts the binding for its project path and persists the store.
func (s *Store) Bind(b Binding) error {
	key := cleanPath(b.ProjectPath)
	if key == "" {
		return fmt.Errorf("binding requires a project path")
	}
	if strings.TrimSpace(b.Channel) == "" || strings.TrimSpace(b.ChatID) == "" {
		return fmt.Errorf("binding requires channel and chat id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b.ProjectPath = key
	b.UpdatedAt = s.now().UTC()
	s.bindings[key] = b
	return s.saveLocked()
}

// Lookup resolves the binding for a working directory. The directory
// itself is tried first, then each ancestor, so a binding at the
// project root covers every subdirectory.
func (s *Store) Lookup(dir string) (Binding, bool) {
	key := cleanPath(dir)
	if key == "" {
		return Binding{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		if b, ok := s.bindings[key]; ok {
			return b, true
		}
		parent := filepath.Dir(key)
		if parent == key {
			return Binding{}, false
		}
		key = parent
	}
}

// Last returns the most recently updated binding, used as the routing
// fallback when a request's directory matches nothing.
func (s *Store) Last() (Binding, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best Binding
	found := false
	for _, b := range s.bindings {
		if !found || b.UpdatedAt.After(best.UpdatedAt) {
			best = b
			found = true
		}
	}
	return best, found
}

// Remove deletes the binding for the exact project path.
func (s *Store) Remove(dir string) (bool, error) {
	key := cleanPath(dir)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.bindings[key]; !ok {
		return false, nil
	}
	delete(s.bindings, key)
	return true, s.saveLocked()
}

// List returns all bindings sorted by project path.
func (s *Store) List() []Binding {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Binding, 0, len(s.bindings))
	for _, b := range s.bindings {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProjectPath < out[j].ProjectPath })
	return out
}

func (s *Store) saveLocked() error {
	list := make([]Binding, 0, len(s.bindings))
	for _, b := range s.bindings {
		list = append(list, b)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ProjectPath < list[j].ProjectPath })

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal bindings: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".bindings-*.json")
	if err != nil {
		return fmt.Errorf("create temp bindings file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write bindings: %w", err)
	}
	if err := tmp.Chmod(bindingsFileMode); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("chmod bindings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close bindings: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace bindings file: %w", err)
	}
	return nil
}

func cleanPath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	return filepath.Clean(p)
}
