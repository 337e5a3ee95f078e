package hookclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mquinn/gatekeep/internal/authorize"
	"github.com/mquinn/gatekeep/internal/config"
)

const shellTool = "Bash"

// HookInput is the tool-use event handed to the hook on stdin.
type HookInput struct {
	SessionID string         `json:"session_id"`
	ToolName  string         `json:"tool_name"`
	ToolInput map[string]any `json:"tool_input"`
	CWD       string         `json:"cwd"`
}

// Decision is the outcome of one authorization attempt.
type Decision struct {
	Allow   bool
	Reason  string
	Label   string
	Tool    string
	Command string

	// DeriveRule marks decisions whose label asked for a client-side
	// "always allow" rule in the nested output format.
	DeriveRule bool
}

// Client is the blocking caller-side loop: one instance per hook
// invocation, polling at a fixed interval until a decision or the
// deadline.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	interval   time.Duration
	deadline   time.Duration

	now   func() time.Time
	sleep func(d time.Duration)
}

// New creates a poll client from the authorization settings.
func New(cfg config.AuthorizationConfig, token string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.ServerURL), "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		interval:   cfg.PollInterval(),
		deadline:   cfg.PollDeadline(),
		now:        time.Now,
		sleep:      time.Sleep,
	}
}

// Authorize runs the full attempt: whitelist short-circuit, request
// creation, then fixed-interval polling to the deadline. It returns an
// error only for conditions where no decision should be emitted.
func (c *Client) Authorize(ctx context.Context, input HookInput) (Decision, error) {
	tool := strings.TrimSpace(input.ToolName)
	if tool == "" {
		return Decision{}, fmt.Errorf("tool name is required")
	}
	command := commandFromInput(input.ToolInput)

	if tool == shellTool && IsSafeCommand(command) {
		return Decision{
			Allow:   true,
			Reason:  "whitelisted",
			Tool:    tool,
			Command: command,
		}, nil
	}

	submitted, err := c.submit(ctx, input)
	if err != nil {
		return Decision{}, fmt.Errorf("create authorization: %w", err)
	}
	if submitted.Status == string(authorize.StatusResolved) {
		return c.decisionFrom(tool, command, submitted.Decision, submitted.Reason), nil
	}
	if submitted.RequestID == "" {
		return Decision{}, fmt.Errorf("server returned neither decision nor request id")
	}

	return c.pollUntilDecided(ctx, tool, command, submitted.RequestID)
}

type submitResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
	Decision  string `json:"decision"`
	Reason    string `json:"reason"`
	RuleID    string `json:"rule_id"`
}

type pollResponse struct {
	Status   string `json:"status"`
	Decision string `json:"decision"`
	Reason   string `json:"reason"`
}

func (c *Client) submit(ctx context.Context, input HookInput) (submitResponse, error) {
	body := map[string]any{
		"session_id": input.SessionID,
		"tool":       input.ToolName,
		"tool_input": input.ToolInput,
		"cwd":        input.CWD,
		"options":    []string{"Yes", "Yes, always", "Yes, don't ask again for this project", "No"},
	}

	var resp submitResponse
	status, err := c.postJSON(ctx, "/v1/authorizations", body, &resp)
	if err != nil {
		return submitResponse{}, err
	}
	if status != http.StatusOK {
		return submitResponse{}, fmt.Errorf("server status %d", status)
	}
	return resp, nil
}

// pollUntilDecided retries network failures silently; only timeout and
// expiry are user-visible outcomes.
func (c *Client) pollUntilDecided(ctx context.Context, tool, command, requestID string) (Decision, error) {
	deadline := c.now().Add(c.deadline)
	body := map[string]any{"request_id": requestID}

	for {
		if ctx.Err() != nil {
			return Decision{}, ctx.Err()
		}
		if c.now().After(deadline) {
			return c.denyDecision(tool, command, "timeout"), nil
		}

		var resp pollResponse
		status, err := c.postJSON(ctx, "/v1/authorizations/poll", body, &resp)
		switch {
		case err != nil:
			slog.Debug("poll attempt failed", "request_id", requestID, "error", err)
		case status == http.StatusNotFound:
			// The server forgot the request, typically after a restart.
			return c.denyDecision(tool, command, "expired"), nil
		case status != http.StatusOK:
			slog.Debug("poll attempt rejected", "request_id", requestID, "status", status)
		case resp.Status == string(authorize.StatusResolved):
			return c.decisionFrom(tool, command, resp.Decision, resp.Reason), nil
		case resp.Status == string(authorize.StatusExpired):
			return c.denyDecision(tool, command, "expired"), nil
		}

		c.sleep(c.interval)
	}
}

func (c *Client) decisionFrom(tool, command, decision, reason string) Decision {
	allow := decision == string(authorize.DecisionAllow)
	return Decision{
		Allow:      allow,
		Reason:     reason,
		Label:      reason,
		Tool:       tool,
		Command:    command,
		DeriveRule: allow && authorize.WantsRule(reason),
	}
}

func (c *Client) denyDecision(tool, command, reason string) Decision {
	return Decision{
		Allow:   false,
		Reason:  reason,
		Tool:    tool,
		Command: command,
	}
}

func (c *Client) postJSON(ctx context.Context, path string, body any, out any) (int, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, err
	}
	if resp.StatusCode == http.StatusOK && out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func commandFromInput(toolInput map[string]any) string {
	if toolInput == nil {
		return ""
	}
	if raw, ok := toolInput["command"].(string); ok {
		return strings.TrimSpace(raw)
	}
	return ""
}
