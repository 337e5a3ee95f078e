package hookclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mquinn/gatekeep/internal/config"
)

func testConfig(serverURL string) config.AuthorizationConfig {
	return config.AuthorizationConfig{
		TTLSeconds:          300,
		PollIntervalMS:      1,
		PollDeadlineSeconds: 300,
		ServerURL:           serverURL,
	}
}

func newTestClient(serverURL string) *Client {
	c := New(testConfig(serverURL), "secret")
	c.sleep = func(time.Duration) {}
	return c
}

func TestAuthorize_SafeCommandSkipsServer(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	d, err := c.Authorize(context.Background(), HookInput{
		SessionID: "s1",
		ToolName:  "Bash",
		ToolInput: map[string]any{"command": "git status -sb"},
	})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if !d.Allow || d.Reason != "whitelisted" {
		t.Fatalf("unexpected decision: %+v", d)
	}
	if hits.Load() != 0 {
		t.Fatalf("whitelisted command must not contact the server, got %d hits", hits.Load())
	}
}

func TestAuthorize_ImmediateRuleMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/authorizations" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("missing bearer token")
		}
		json.NewEncoder(w).Encode(map[string]any{
			"status":   "resolved",
			"decision": "allow",
			"reason":   "auto_allowed",
			"rule_id":  "rule-1",
		})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	d, err := c.Authorize(context.Background(), HookInput{
		ToolName:  "Bash",
		ToolInput: map[string]any{"command": "docker push img"},
	})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if !d.Allow || d.Reason != "auto_allowed" {
		t.Fatalf("unexpected decision: %+v", d)
	}
}

func TestAuthorize_PollsUntilResolved(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/authorizations":
			json.NewEncoder(w).Encode(map[string]any{"request_id": "req-1", "status": "pending"})
		case "/v1/authorizations/poll":
			if polls.Add(1) < 3 {
				json.NewEncoder(w).Encode(map[string]any{"status": "pending"})
				return
			}
			json.NewEncoder(w).Encode(map[string]any{
				"status":   "resolved",
				"decision": "allow",
				"reason":   "Yes, always",
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	d, err := c.Authorize(context.Background(), HookInput{
		ToolName:  "Bash",
		ToolInput: map[string]any{"command": "docker push img"},
	})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if !d.Allow || d.Label != "Yes, always" {
		t.Fatalf("unexpected decision: %+v", d)
	}
	if !d.DeriveRule {
		t.Fatal("always label must request a client-side rule")
	}
	if polls.Load() != 3 {
		t.Fatalf("expected 3 polls, got %d", polls.Load())
	}
}

func TestAuthorize_ExpiredDenies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/authorizations":
			json.NewEncoder(w).Encode(map[string]any{"request_id": "req-1", "status": "pending"})
		case "/v1/authorizations/poll":
			json.NewEncoder(w).Encode(map[string]any{"status": "expired"})
		}
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	d, err := c.Authorize(context.Background(), HookInput{ToolName: "Write"})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if d.Allow || d.Reason != "expired" {
		t.Fatalf("unexpected decision: %+v", d)
	}
}

func TestAuthorize_UnknownRequestDenies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/authorizations":
			json.NewEncoder(w).Encode(map[string]any{"request_id": "req-1", "status": "pending"})
		case "/v1/authorizations/poll":
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	d, err := c.Authorize(context.Background(), HookInput{ToolName: "Write"})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if d.Allow || d.Reason != "expired" {
		t.Fatalf("unexpected decision: %+v", d)
	}
}

func TestAuthorize_DeadlineTimesOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/authorizations":
			json.NewEncoder(w).Encode(map[string]any{"request_id": "req-1", "status": "pending"})
		case "/v1/authorizations/poll":
			json.NewEncoder(w).Encode(map[string]any{"status": "pending"})
		}
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	// Virtual clock: every sleep advances past the deadline.
	base := time.Date(2026, 4, 8, 9, 0, 0, 0, time.UTC)
	current := base
	c.now = func() time.Time { return current }
	c.sleep = func(time.Duration) { current = current.Add(10 * time.Minute) }

	d, err := c.Authorize(context.Background(), HookInput{ToolName: "Write"})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if d.Allow || d.Reason != "timeout" {
		t.Fatalf("unexpected decision: %+v", d)
	}
}

func TestAuthorize_NetworkErrorsRetrySilently(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/authorizations":
			json.NewEncoder(w).Encode(map[string]any{"request_id": "req-1", "status": "pending"})
		case "/v1/authorizations/poll":
			if polls.Add(1) == 1 {
				// Break the first poll mid-response.
				hj, ok := w.(http.Hijacker)
				if !ok {
					t.Fatal("recorder does not support hijack")
				}
				conn, _, _ := hj.Hijack()
				conn.Close()
				return
			}
			json.NewEncoder(w).Encode(map[string]any{"status": "resolved", "decision": "deny", "reason": "No"})
		}
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	d, err := c.Authorize(context.Background(), HookInput{ToolName: "Write"})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if d.Allow || d.Reason != "No" {
		t.Fatalf("unexpected decision: %+v", d)
	}
	if polls.Load() < 2 {
		t.Fatalf("expected a retried poll, got %d", polls.Load())
	}
}

func TestIsSafeCommand(t *testing.T) {
	cases := []struct {
		command string
		want    bool
	}{
		{"git status", true},
		{"git status -sb", true},
		{"git stash", false},
		{"ls -la /tmp", true},
		{"cat go.mod", true},
		{"rm -rf /", false},
		{"", false},
		{"  pwd  ", true},
		{"echo hello", true},
		{"git push origin main", false},
	}
	for _, tc := range cases {
		if got := IsSafeCommand(tc.command); got != tc.want {
			t.Errorf("IsSafeCommand(%q) = %v, want %v", tc.command, got, tc.want)
		}
	}
}
