package session

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore(filepath.Join(t.TempDir(), "bindings.json"))
	if err := s.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	return s
}

func TestStore_BindAndLookup(t *testing.T) {
	s := newTestStore(t)

	err := s.Bind(Binding{
		ProjectPath: "/home/user/project",
		Channel:     "telegram",
		ChatID:      "42",
		OperatorID:  "op",
	})
	if err != nil {
		t.Fatalf("bind: %v", err)
	}

	b, ok := s.Lookup("/home/user/project")
	if !ok || b.ChatID != "42" {
		t.Fatalf("exact lookup failed: %+v %v", b, ok)
	}

	// Subdirectories resolve to the project root binding.
	b, ok = s.Lookup("/home/user/project/internal/deep")
	if !ok || b.Channel != "telegram" {
		t.Fatalf("ancestor lookup failed: %+v %v", b, ok)
	}

	if _, ok := s.Lookup("/home/user/other"); ok {
		t.Fatal("unrelated path must not resolve")
	}
}

func TestStore_PersistAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bindings.json")
	s := NewStore(path)
	if err := s.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := s.Bind(Binding{ProjectPath: "/p/a", Channel: "slack", ChatID: "C1"}); err != nil {
		t.Fatalf("bind: %v", err)
	}

	reloaded := NewStore(path)
	if err := reloaded.Load(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	b, ok := reloaded.Lookup("/p/a")
	if !ok || b.Channel != "slack" {
		t.Fatalf("binding lost across reload: %+v %v", b, ok)
	}
}

func TestStore_BindValidation(t *testing.T) {
	s := newTestStore(t)
	if err := s.Bind(Binding{Channel: "slack", ChatID: "C1"}); err == nil {
		t.Fatal("expected error for missing project path")
	}
	if err := s.Bind(Binding{ProjectPath: "/p", ChatID: "C1"}); err == nil {
		t.Fatal("expected error for missing channel")
	}
}

func TestStore_Last(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 4, 6, 9, 0, 0, 0, time.UTC)

	s.now = func() time.Time { return base }
	if err := s.Bind(Binding{ProjectPath: "/p/a", Channel: "telegram", ChatID: "1"}); err != nil {
		t.Fatalf("bind: %v", err)
	}
	s.now = func() time.Time { return base.Add(time.Minute) }
	if err := s.Bind(Binding{ProjectPath: "/p/b", Channel: "slack", ChatID: "C2"}); err != nil {
		t.Fatalf("bind: %v", err)
	}

	b, ok := s.Last()
	if !ok || b.ProjectPath != "/p/b" {
		t.Fatalf("expected most recent binding, got %+v %v", b, ok)
	}
}

func TestStore_Remove(t *testing.T) {
	s := newTestStore(t)
	if err := s.Bind(Binding{ProjectPath: "/p/a", Channel: "telegram", ChatID: "1"}); err != nil {
		t.Fatalf("bind: %v", err)
	}

	ok, err := s.Remove("/p/a")
	if err != nil || !ok {
		t.Fatalf("remove: %v %v", ok, err)
	}
	if _, found := s.Lookup("/p/a"); found {
		t.Fatal("binding still resolvable after remove")
	}
	if ok, _ := s.Remove("/p/a"); ok {
		t.Fatal("second remove must report false")
	}
}

func TestStore_CleansPathsOnLoad(t *testing.T) {
	s := newTestStore(t)
	if err := s.Bind(Binding{ProjectPath: "/p/a/", Channel: "telegram", ChatID: "1"}); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if _, ok := s.Lookup("/p/a"); !ok {
		t.Fatal("trailing slash must not affect the key")
	}
}
