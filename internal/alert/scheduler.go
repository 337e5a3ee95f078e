package alert

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Kind selects the escalation message template.
type Kind string

const (
	KindAuthorization Kind = "authorization"
	KindTaskComplete  Kind = "task_complete"
)

// NotifyFunc delivers an urgent notification to an operator. Failures
// are logged and never retried.
type NotifyFunc func(channel, chatID, operatorID, content string) error

// ScheduleInput describes one delayed escalation.
type ScheduleInput struct {
	Key        string
	Channel    string
	ChatID     string
	OperatorID string
	SessionID  string
	Kind       Kind
	Delay      time.Duration
}

type pendingAlert struct {
	input     ScheduleInput
	createdAt time.Time
	timer     *time.Timer
}

// Scheduler arms one-shot escalation timers keyed by the delivered
// card's message reference. At most one alert exists per key.
type Scheduler struct {
	notify NotifyFunc
	hours  WorkingHours
	now    func() time.Time

	// OnFired and OnCanceled, when set, observe delivered and disarmed
	// escalations. Set them before the first Schedule call.
	OnFired    func(key string, kind Kind)
	OnCanceled func(key string)

	// afterFunc is swappable so tests can drive time by hand.
	afterFunc func(d time.Duration, f func()) *time.Timer

	mu      sync.Mutex
	pending map[string]*pendingAlert
}

// NewScheduler creates a scheduler gated by the given working hours.
func NewScheduler(notify NotifyFunc, hours WorkingHours) *Scheduler {
	return &Scheduler{
		notify:    notify,
		hours:     hours,
		now:       time.Now,
		afterFunc: time.AfterFunc,
		pending:   make(map[string]*pendingAlert),
	}
}

// Schedule arms an escalation for the key, replacing any alert already
// pending under it. The working-hours gate is evaluated once, here, and
// never re-checked at fire time. Returns false when the gate rejects
// the alert.
func (s *Scheduler) Schedule(input ScheduleInput) bool {
	if input.Key == "" {
		return false
	}
	scheduledAt := s.now()
	if !s.hours.Allows(scheduledAt) {
		slog.Debug("escalation suppressed outside working hours", "key", input.Key, "kind", input.Kind)
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.pending[input.Key]; ok {
		existing.timer.Stop()
		delete(s.pending, input.Key)
	}

	entry := &pendingAlert{
		input:     input,
		createdAt: scheduledAt,
	}
	entry.timer = s.afterFunc(input.Delay, func() { s.fire(input.Key) })
	s.pending[input.Key] = entry

	slog.Debug("escalation scheduled", "key", input.Key, "kind", input.Kind, "delay", input.Delay.String())
	return true
}

// Cancel disarms a pending alert. Returns true when one existed.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.pending[key]
	if !ok {
		return false
	}
	entry.timer.Stop()
	delete(s.pending, key)
	slog.Debug("escalation canceled", "key", key)
	if s.OnCanceled != nil {
		s.OnCanceled(key)
	}
	return true
}

// PendingCount returns how many alerts are armed.
func (s *Scheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// ClearAll disarms every pending alert. Used at process shutdown.
func (s *Scheduler) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, entry := range s.pending {
		entry.timer.Stop()
		delete(s.pending, key)
	}
}

// fire runs on timer expiry. Presence in the pending map is the source
// of truth: a cancel that raced the timer wins by emptying the map.
func (s *Scheduler) fire(key string) {
	s.mu.Lock()
	entry, ok := s.pending[key]
	if ok {
		delete(s.pending, key)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	input := entry.input
	content := escalationContent(input.Kind, input.SessionID)
	if s.notify == nil {
		return
	}
	if err := s.notify(input.Channel, input.ChatID, input.OperatorID, content); err != nil {
		// Best effort: the entry is already gone, no retry.
		slog.Warn("escalation send failed",
			"key", key,
			"kind", input.Kind,
			"channel", input.Channel,
			"error", err,
		)
		return
	}
	slog.Info("escalation sent", "key", key, "kind", input.Kind, "channel", input.Channel)
	if s.OnFired != nil {
		s.OnFired(key, input.Kind)
	}
}

func escalationContent(kind Kind, sessionID string) string {
	switch kind {
	case KindTaskComplete:
		return fmt.Sprintf("🔔 Task finished in session %s and is waiting for review.", sessionID)
	default:
		return fmt.Sprintf("🚨 An authorization request in session %s is still waiting for your decision.", sessionID)
	}
}
