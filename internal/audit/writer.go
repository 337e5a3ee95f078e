package audit

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	auditFileMode = 0644
	auditDirMode  = 0755
)

// Event types written to the trail.
const (
	EventRequestCreated  = "request_created"
	EventRequestResolved = "request_resolved"
	EventRequestExpired  = "request_expired"
	EventAutoAllowed     = "auto_allowed"
	EventRuleAdded       = "rule_added"
	EventRuleRemoved     = "rule_removed"
	EventAlertSent       = "alert_sent"
)

// Event is one audit record written as a single JSON line.
type Event struct {
	Time      time.Time `json:"time"`
	Type      string    `json:"type"`
	RequestID string    `json:"request_id,omitempty"`
	RuleID    string    `json:"rule_id,omitempty"`
	Tool      string    `json:"tool,omitempty"`
	Pattern   string    `json:"pattern,omitempty"`
	Decision  string    `json:"decision,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

// Writer appends audit events to <stateDir>/audit.jsonl. All typed
// helpers are best effort: a failed append is logged, never returned,
// so the trail can never block an authorization decision.
type Writer struct {
	path string
	now  func() time.Time
	mu   sync.Mutex
}

// NewWriter creates an append-only audit writer under the state dir.
func NewWriter(stateDir string) *Writer {
	return &Writer{
		path: filepath.Join(stateDir, "audit.jsonl"),
		now:  time.Now,
	}
}

// Append writes one event as one JSONL line.
func (w *Writer) Append(event Event) error {
	if event.Time.IsZero() {
		event.Time = w.now().UTC()
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(w.path), auditDirMode); err != nil {
		return fmt.Errorf("create audit dir: %w", err)
	}

	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, auditFileMode)
	if err != nil {
		return fmt.Errorf("open audit file: %w", err)
	}
	defer file.Close()

	encoded, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	encoded = append(encoded, '\n')

	if _, err := file.Write(encoded); err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("sync audit file: %w", err)
	}
	return nil
}

// RequestCreated records a new pending authorization.
func (w *Writer) RequestCreated(requestID, tool, command string) {
	w.append(Event{Type: EventRequestCreated, RequestID: requestID, Tool: tool, Reason: command})
}

// RequestResolved records an operator decision.
func (w *Writer) RequestResolved(requestID, tool string, decision, reason string) {
	w.append(Event{Type: EventRequestResolved, RequestID: requestID, Tool: tool, Decision: decision, Reason: reason})
}

// RequestExpired records a request that timed out undecided.
func (w *Writer) RequestExpired(requestID, tool string) {
	w.append(Event{Type: EventRequestExpired, RequestID: requestID, Tool: tool})
}

// AutoAllowed records a request short-circuited by a stored rule.
func (w *Writer) AutoAllowed(tool, command, ruleID string) {
	w.append(Event{Type: EventAutoAllowed, Tool: tool, Reason: command, RuleID: ruleID, Decision: "allow"})
}

// RuleAdded records a newly derived permission rule.
func (w *Writer) RuleAdded(ruleID, tool, pattern string) {
	w.append(Event{Type: EventRuleAdded, RuleID: ruleID, Tool: tool, Pattern: pattern})
}

// RuleRemoved records rule deletion.
func (w *Writer) RuleRemoved(ruleID string) {
	w.append(Event{Type: EventRuleRemoved, RuleID: ruleID})
}

// AlertSent records a fired escalation.
func (w *Writer) AlertSent(key, kind string) {
	w.append(Event{Type: EventAlertSent, RequestID: key, Reason: kind})
}

func (w *Writer) append(event Event) {
	if w == nil {
		return
	}
	if err := w.Append(event); err != nil {
		slog.Warn("audit append failed", "type", event.Type, "error", err)
	}
}
