package metrics

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const runtimeMetricsFileName = "runtime_metrics.json"

// RuntimeSnapshot contains aggregated counters for the authorization
// gateway, persisted so the status command can read them from another
// process.
type RuntimeSnapshot struct {
	UpdatedAt time.Time    `json:"updated_at"`
	Requests  RequestStats `json:"requests"`
	Cards     CardStats    `json:"cards"`
	Alerts    AlertStats   `json:"alerts"`
}

// RequestStats tracks authorization request outcomes.
type RequestStats struct {
	Created           int64 `json:"created"`
	Allowed           int64 `json:"allowed"`
	Denied            int64 `json:"denied"`
	Expired           int64 `json:"expired"`
	AutoAllowed       int64 `json:"auto_allowed"`
	TotalDecisionMs   int64 `json:"total_decision_ms"`
	MaxDecisionMs     int64 `json:"max_decision_ms"`
	LastDecisionMs    int64 `json:"last_decision_ms"`
	DecidedWithTiming int64 `json:"decided_with_timing"`
}

// Resolved returns the count of operator-decided requests.
func (r RequestStats) Resolved() int64 {
	return r.Allowed + r.Denied
}

// AvgDecisionMs returns the average operator decision latency.
func (r RequestStats) AvgDecisionMs() float64 {
	if r.DecidedWithTiming <= 0 {
		return 0
	}
	return float64(r.TotalDecisionMs) / float64(r.DecidedWithTiming)
}

// CardStats tracks outbound card deliveries.
type CardStats struct {
	SendAttempts int64 `json:"send_attempts"`
	SendFailures int64 `json:"send_failures"`
}

// FailureRatio returns failures/attempts in [0,1].
func (c CardStats) FailureRatio() float64 {
	if c.SendAttempts <= 0 {
		return 0
	}
	return float64(c.SendFailures) / float64(c.SendAttempts)
}

// AlertStats tracks escalations.
type AlertStats struct {
	Scheduled int64 `json:"scheduled"`
	Fired     int64 `json:"fired"`
	Canceled  int64 `json:"canceled"`
}

// HasData reports whether anything was recorded yet.
func (s RuntimeSnapshot) HasData() bool {
	return s.Requests.Created > 0 || s.Requests.AutoAllowed > 0 || s.Cards.SendAttempts > 0
}

// RuntimeMetrics records and persists gateway counters.
type RuntimeMetrics struct {
	path string

	mu   sync.Mutex
	snap RuntimeSnapshot
}

// NewRuntimeMetrics creates a recorder rooted at <stateDir>/runtime_metrics.json.
func NewRuntimeMetrics(stateDir string) *RuntimeMetrics {
	return &RuntimeMetrics{path: filepath.Join(stateDir, runtimeMetricsFileName)}
}

// Snapshot returns the latest in-memory snapshot.
func (m *RuntimeMetrics) Snapshot() RuntimeSnapshot {
	if m == nil {
		return RuntimeSnapshot{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

// RecordRequestCreated counts a new pending request.
func (m *RuntimeMetrics) RecordRequestCreated() {
	m.update(func(s *RuntimeSnapshot) { s.Requests.Created++ })
}

// RecordAutoAllowed counts a request short-circuited by a stored rule.
func (m *RuntimeMetrics) RecordAutoAllowed() {
	m.update(func(s *RuntimeSnapshot) { s.Requests.AutoAllowed++ })
}

// RecordDecision counts an operator decision and its latency from
// request creation. Pass a zero duration when the latency is unknown.
func (m *RuntimeMetrics) RecordDecision(allow bool, latency time.Duration) {
	latencyMs := latency.Milliseconds()
	if latencyMs < 0 {
		latencyMs = 0
	}
	m.update(func(s *RuntimeSnapshot) {
		if allow {
			s.Requests.Allowed++
		} else {
			s.Requests.Denied++
		}
		if latency > 0 {
			s.Requests.DecidedWithTiming++
			s.Requests.TotalDecisionMs += latencyMs
			s.Requests.LastDecisionMs = latencyMs
			if latencyMs > s.Requests.MaxDecisionMs {
				s.Requests.MaxDecisionMs = latencyMs
			}
		}
	})
}

// RecordExpired counts requests that timed out undecided.
func (m *RuntimeMetrics) RecordExpired(n int) {
	if n <= 0 {
		return
	}
	m.update(func(s *RuntimeSnapshot) { s.Requests.Expired += int64(n) })
}

// RecordCardSend counts an outbound card delivery attempt.
func (m *RuntimeMetrics) RecordCardSend(success bool) {
	m.update(func(s *RuntimeSnapshot) {
		s.Cards.SendAttempts++
		if !success {
			s.Cards.SendFailures++
		}
	})
}

// RecordAlert counts one scheduler transition.
func (m *RuntimeMetrics) RecordAlert(event string) {
	m.update(func(s *RuntimeSnapshot) {
		switch event {
		case "scheduled":
			s.Alerts.Scheduled++
		case "fired":
			s.Alerts.Fired++
		case "canceled":
			s.Alerts.Canceled++
		}
	})
}

// ReadRuntimeSnapshot reads the persisted snapshot from the state dir.
// A missing file yields a zero-value snapshot and nil error.
func ReadRuntimeSnapshot(stateDir string) (RuntimeSnapshot, error) {
	raw, err := os.ReadFile(filepath.Join(stateDir, runtimeMetricsFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return RuntimeSnapshot{}, nil
		}
		return RuntimeSnapshot{}, fmt.Errorf("read runtime metrics: %w", err)
	}

	var snap RuntimeSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return RuntimeSnapshot{}, fmt.Errorf("decode runtime metrics: %w", err)
	}
	return snap, nil
}

func (m *RuntimeMetrics) update(apply func(*RuntimeSnapshot)) {
	if m == nil {
		return
	}
	m.mu.Lock()
	apply(&m.snap)
	m.snap.UpdatedAt = time.Now().UTC()
	snapshot := m.snap
	m.mu.Unlock()

	// Persistence is best effort; counters stay correct in memory.
	_ = persistRuntimeSnapshot(m.path, snapshot)
}

func persistRuntimeSnapshot(path string, snapshot RuntimeSnapshot) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create runtime metrics dir: %w", err)
	}

	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode runtime metrics: %w", err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, payload, 0o644); err != nil {
		return fmt.Errorf("write runtime metrics temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("rename runtime metrics file: %w", err)
	}
	return nil
}
