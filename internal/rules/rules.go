package rules

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	rulesFileMode = 0644
	rulesDirMode  = 0755
)

// Scope controls where an auto-allow rule applies.
type Scope string

const (
	ScopeAlways  Scope = "always"
	ScopeProject Scope = "project"
)

// PermissionRule is a persisted auto-allow policy.
type PermissionRule struct {
	ID             string    `json:"id"`
	Tool           string    `json:"tool"`
	CommandPattern string    `json:"command_pattern,omitempty"`
	ProjectPath    string    `json:"project_path,omitempty"`
	Scope          Scope     `json:"scope"`
	CreatedAt      time.Time `json:"created_at"`
}

// AddInput contains fields needed to create a rule.
type AddInput struct {
	Tool           string
	CommandPattern string
	ProjectPath    string
	Scope          Scope
}

// Store holds the ordered rule list and persists it to disk after
// every mutation. Matching is first-match-wins in insertion order.
type Store struct {
	path  string
	now   func() time.Time
	mu    sync.Mutex
	rules []PermissionRule
}

// NewStore creates a rule store backed by the given file path.
func NewStore(path string) *Store {
	return &Store{
		path: path,
		now:  time.Now,
	}
}

// Load reads persisted rules from disk. A missing file is an empty store.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.rules = []PermissionRule{}
			return nil
		}
		return fmt.Errorf("read rule store: %w", err)
	}

	var parsed []PermissionRule
	if err := json.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("parse rule store: %w", err)
	}
	if parsed == nil {
		parsed = []PermissionRule{}
	}
	s.rules = parsed
	return nil
}

// Add assigns an id and timestamp, appends the rule and persists.
func (s *Store) Add(input AddInput) (PermissionRule, error) {
	rule := PermissionRule{
		ID:             uuid.NewString(),
		Tool:           strings.TrimSpace(input.Tool),
		CommandPattern: strings.TrimSpace(input.CommandPattern),
		ProjectPath:    normalizeProjectPath(input.ProjectPath),
		Scope:          input.Scope,
		CreatedAt:      s.now().UTC(),
	}
	if rule.Scope == "" {
		rule.Scope = ScopeAlways
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.rules = append(s.rules, rule)
	if err := s.saveLocked(); err != nil {
		return PermissionRule{}, err
	}
	return rule, nil
}

// Remove deletes a rule by id. Returns true when a rule was removed.
func (s *Store) Remove(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.rules[:0]
	removed := false
	for _, r := range s.rules {
		if r.ID == id {
			removed = true
			continue
		}
		kept = append(kept, r)
	}
	s.rules = kept
	if !removed {
		return false, nil
	}
	if err := s.saveLocked(); err != nil {
		return true, err
	}
	return true, nil
}

// Match returns the first rule (insertion order) matching the candidate,
// or nil when no rule applies.
func (s *Store) Match(tool, command, candidatePath string) *PermissionRule {
	tool = strings.TrimSpace(tool)
	candidate := normalizeProjectPath(candidatePath)

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.rules {
		rule := &s.rules[i]
		if rule.Tool != tool {
			continue
		}
		if rule.Scope == ScopeProject {
			if candidate == "" || !pathContains(rule.ProjectPath, candidate) {
				continue
			}
		}
		if rule.CommandPattern != "" {
			if command == "" || !MatchCommand(rule.CommandPattern, command) {
				continue
			}
		}
		matched := *rule
		return &matched
	}
	return nil
}

// Rules returns a snapshot of the rule list.
func (s *Store) Rules() []PermissionRule {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]PermissionRule, len(s.rules))
	copy(out, s.rules)
	return out
}

func (s *Store) saveLocked() error {
	encoded, err := json.MarshalIndent(s.rules, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal rule store: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, rulesDirMode); err != nil {
		return fmt.Errorf("create rule store dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, "rules-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp rule store: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath)

	if _, err := tmpFile.Write(encoded); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("write temp rule store: %w", err)
	}
	if err := tmpFile.Chmod(rulesFileMode); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("chmod temp rule store: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp rule store: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("replace rule store: %w", err)
	}
	return nil
}

// normalizeProjectPath cleans a directory path for comparison. Directories
// are never folded together beyond lexical cleaning: every directory is
// its own project.
func normalizeProjectPath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	return filepath.Clean(p)
}

// pathContains reports whether candidate equals root or is nested under it.
// The prefix check is anchored on a path separator so /proj never matches
// /project2.
func pathContains(root, candidate string) bool {
	if root == "" {
		return false
	}
	if candidate == root {
		return true
	}
	return strings.HasPrefix(candidate, root+string(filepath.Separator))
}
