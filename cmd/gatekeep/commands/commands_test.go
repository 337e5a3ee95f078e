package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mquinn/gatekeep/internal/config"
	"github.com/spf13/cobra"
)

// withTempHome points the config and state directories at a throwaway
// home so command tests never touch the real one.
func withTempHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	return home
}

func executeCommand(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := executeCommand(t, NewVersionCmd())
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.HasPrefix(out, "gatekeep ") {
		t.Errorf("unexpected version output: %q", out)
	}
}

func TestInitCreatesConfigAndStateDir(t *testing.T) {
	home := withTempHome(t)

	if err := NewInitCmd().Execute(); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	configPath := filepath.Join(home, ".gatekeep", "config.json")
	if _, err := os.Stat(configPath); err != nil {
		t.Fatalf("config not created: %v", err)
	}
	if _, err := os.Stat(filepath.Join(home, ".gatekeep", "state")); err != nil {
		t.Fatalf("state dir not created: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load after init: %v", err)
	}
	if cfg.Server.Port != 18990 {
		t.Errorf("Port = %d, want 18990", cfg.Server.Port)
	}
}

func TestInitIsIdempotent(t *testing.T) {
	withTempHome(t)

	if err := NewInitCmd().Execute(); err != nil {
		t.Fatalf("first init failed: %v", err)
	}
	if err := NewInitCmd().Execute(); err != nil {
		t.Fatalf("second init failed: %v", err)
	}
}

func TestRulesAddListRemove(t *testing.T) {
	withTempHome(t)

	out, err := executeCommand(t, NewRulesCmd(), "add", "Bash", "--pattern", "git push**")
	if err != nil {
		t.Fatalf("rules add failed: %v", err)
	}
	if !strings.HasPrefix(out, "Rule added: ") {
		t.Fatalf("unexpected add output: %q", out)
	}
	ruleID := strings.TrimSpace(strings.TrimPrefix(out, "Rule added: "))

	out, err = executeCommand(t, NewRulesCmd(), "list")
	if err != nil {
		t.Fatalf("rules list failed: %v", err)
	}
	if !strings.Contains(out, "tool=Bash") || !strings.Contains(out, `pattern="git push**"`) {
		t.Errorf("list output missing rule: %q", out)
	}

	out, err = executeCommand(t, NewRulesCmd(), "remove", ruleID)
	if err != nil {
		t.Fatalf("rules remove failed: %v", err)
	}
	if !strings.Contains(out, "Rule removed") {
		t.Errorf("unexpected remove output: %q", out)
	}

	out, err = executeCommand(t, NewRulesCmd(), "list")
	if err != nil {
		t.Fatalf("rules list after remove failed: %v", err)
	}
	if !strings.Contains(out, "No rules stored.") {
		t.Errorf("expected empty list, got %q", out)
	}
}

func TestRulesRemoveUnknownID(t *testing.T) {
	withTempHome(t)

	if _, err := executeCommand(t, NewRulesCmd(), "remove", "nope"); err == nil {
		t.Fatal("expected error for unknown rule id")
	}
}

func TestBindAndStatus(t *testing.T) {
	withTempHome(t)
	project := t.TempDir()

	out, err := executeCommand(t, NewBindCmd(), project, "--channel", "telegram", "--chat", "42", "--operator", "99")
	if err != nil {
		t.Fatalf("bind failed: %v", err)
	}
	if !strings.Contains(out, "telegram/42") {
		t.Errorf("unexpected bind output: %q", out)
	}

	out, err = executeCommand(t, NewStatusCmd())
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if !strings.Contains(out, "Bindings: 1") {
		t.Errorf("status missing binding count: %q", out)
	}
	if !strings.Contains(out, "telegram/42") {
		t.Errorf("status missing binding detail: %q", out)
	}
	if !strings.Contains(out, "Activity: none recorded yet") {
		t.Errorf("status missing empty-activity line: %q", out)
	}
}

func TestBindRequiresChat(t *testing.T) {
	withTempHome(t)

	if _, err := executeCommand(t, NewBindCmd(), t.TempDir()); err == nil {
		t.Fatal("expected error when --chat is missing")
	}
}

func TestParseLogLevel(t *testing.T) {
	if _, err := parseLogLevel("bogus", ""); err == nil {
		t.Error("expected error for invalid level")
	}
	level, err := parseLogLevel("info", "debug")
	if err != nil {
		t.Fatalf("parseLogLevel: %v", err)
	}
	if got := level.String(); got != "DEBUG" {
		t.Errorf("override level = %s, want DEBUG", got)
	}
}
