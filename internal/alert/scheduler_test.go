package alert

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

// manualTimers captures timer callbacks so tests can fire them by hand
// instead of waiting on the wall clock.
type manualTimers struct {
	mu        sync.Mutex
	callbacks map[int]func()
	nextID    int
}

func newManualTimers() *manualTimers {
	return &manualTimers{callbacks: make(map[int]func())}
}

func (m *manualTimers) afterFunc(_ time.Duration, f func()) *time.Timer {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.callbacks[id] = f
	m.mu.Unlock()

	// The returned timer never fires on its own; Stop on it is harmless.
	return time.NewTimer(time.Hour)
}

func (m *manualTimers) fireAll() {
	m.mu.Lock()
	callbacks := make([]func(), 0, len(m.callbacks))
	for id, f := range m.callbacks {
		callbacks = append(callbacks, f)
		delete(m.callbacks, id)
	}
	m.mu.Unlock()

	for _, f := range callbacks {
		f()
	}
}

type sendRecorder struct {
	mu    sync.Mutex
	sends []string
	err   error
}

func (r *sendRecorder) notify(channel, chatID, operatorID, content string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sends = append(r.sends, fmt.Sprintf("%s/%s/%s: %s", channel, chatID, operatorID, content))
	return r.err
}

func (r *sendRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sends)
}

func newTestScheduler(hours WorkingHours) (*Scheduler, *manualTimers, *sendRecorder) {
	timers := newManualTimers()
	recorder := &sendRecorder{}
	s := NewScheduler(recorder.notify, hours)
	s.afterFunc = timers.afterFunc
	return s, timers, recorder
}

func alwaysOpen() WorkingHours {
	return WorkingHours{Enabled: false}
}

func TestScheduler_FireSendsEscalation(t *testing.T) {
	s, timers, recorder := newTestScheduler(alwaysOpen())

	ok := s.Schedule(ScheduleInput{
		Key:        "telegram:42:7",
		Channel:    "telegram",
		ChatID:     "42",
		OperatorID: "op",
		SessionID:  "sess-1",
		Kind:       KindAuthorization,
		Delay:      3 * time.Minute,
	})
	if !ok {
		t.Fatal("expected schedule to succeed")
	}
	if s.PendingCount() != 1 {
		t.Fatalf("expected 1 pending, got %d", s.PendingCount())
	}

	timers.fireAll()
	if recorder.count() != 1 {
		t.Fatalf("expected 1 send, got %d", recorder.count())
	}
	if s.PendingCount() != 0 {
		t.Fatalf("expected entry removed after fire, got %d", s.PendingCount())
	}
}

func TestScheduler_CancelPreventsSend(t *testing.T) {
	s, timers, recorder := newTestScheduler(alwaysOpen())

	s.Schedule(ScheduleInput{Key: "k", Channel: "slack", ChatID: "C1", SessionID: "s", Kind: KindAuthorization, Delay: time.Minute})
	if !s.Cancel("k") {
		t.Fatal("expected cancel to find the entry")
	}

	// Advance past the delay: the captured callback still runs, but the
	// pending map is empty so nothing is sent.
	timers.fireAll()
	if recorder.count() != 0 {
		t.Fatalf("expected no sends after cancel, got %d", recorder.count())
	}
}

func TestScheduler_CancelUnknownKey(t *testing.T) {
	s, _, _ := newTestScheduler(alwaysOpen())
	if s.Cancel("missing") {
		t.Fatal("expected cancel of unknown key to report false")
	}
}

func TestScheduler_ReplaceSameKey(t *testing.T) {
	s, timers, recorder := newTestScheduler(alwaysOpen())

	s.Schedule(ScheduleInput{Key: "k", SessionID: "first", Kind: KindAuthorization, Delay: time.Minute})
	s.Schedule(ScheduleInput{Key: "k", SessionID: "second", Kind: KindAuthorization, Delay: time.Minute})

	if s.PendingCount() != 1 {
		t.Fatalf("expected a single pending entry, got %d", s.PendingCount())
	}

	timers.fireAll()
	if recorder.count() != 1 {
		t.Fatalf("expected exactly one send, got %d", recorder.count())
	}
	recorder.mu.Lock()
	sent := recorder.sends[0]
	recorder.mu.Unlock()
	if !strings.Contains(sent, "second") {
		t.Fatalf("expected send for the replacing alert, got %q", sent)
	}
}

func TestScheduler_OutsideWorkingHoursIsNoop(t *testing.T) {
	hours := WorkingHours{
		Enabled:   true,
		Timezone:  "UTC",
		Weekdays:  []int{1, 2, 3, 4, 5},
		StartHour: 9,
		EndHour:   18,
	}
	s, _, _ := newTestScheduler(hours)
	// Saturday.
	s.now = func() time.Time { return time.Date(2026, 4, 4, 12, 0, 0, 0, time.UTC) }

	if s.Schedule(ScheduleInput{Key: "k", Kind: KindAuthorization, Delay: time.Minute}) {
		t.Fatal("expected schedule to be rejected outside working hours")
	}
	if s.PendingCount() != 0 {
		t.Fatalf("expected no pending entries, got %d", s.PendingCount())
	}
}

func TestScheduler_ClearAll(t *testing.T) {
	s, timers, recorder := newTestScheduler(alwaysOpen())

	s.Schedule(ScheduleInput{Key: "a", Kind: KindAuthorization, Delay: time.Minute})
	s.Schedule(ScheduleInput{Key: "b", Kind: KindTaskComplete, Delay: time.Minute})
	s.ClearAll()

	if s.PendingCount() != 0 {
		t.Fatalf("expected empty scheduler, got %d", s.PendingCount())
	}
	timers.fireAll()
	if recorder.count() != 0 {
		t.Fatalf("expected no sends after clear, got %d", recorder.count())
	}
}

func TestScheduler_SendFailureIsSwallowed(t *testing.T) {
	s, timers, recorder := newTestScheduler(alwaysOpen())
	recorder.err = fmt.Errorf("chat platform down")

	s.Schedule(ScheduleInput{Key: "k", Kind: KindAuthorization, Delay: time.Minute})
	timers.fireAll()

	// The entry is gone regardless of the send outcome.
	if s.PendingCount() != 0 {
		t.Fatalf("expected entry removed, got %d pending", s.PendingCount())
	}
}

func TestWorkingHours_Allows(t *testing.T) {
	hours := WorkingHours{
		Enabled:   true,
		Timezone:  "UTC",
		Weekdays:  []int{1, 2, 3, 4, 5},
		StartHour: 9,
		EndHour:   18,
	}

	cases := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"weekday inside window", time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC), true},
		{"weekday before start", time.Date(2026, 4, 1, 8, 59, 0, 0, time.UTC), false},
		{"weekday at end (half-open)", time.Date(2026, 4, 1, 18, 0, 0, 0, time.UTC), false},
		{"saturday", time.Date(2026, 4, 4, 10, 0, 0, 0, time.UTC), false},
		{"sunday", time.Date(2026, 4, 5, 10, 0, 0, 0, time.UTC), false},
	}
	for _, tc := range cases {
		if got := hours.Allows(tc.at); got != tc.want {
			t.Errorf("%s: Allows = %v, want %v", tc.name, got, tc.want)
		}
	}

	disabled := WorkingHours{Enabled: false}
	if !disabled.Allows(time.Date(2026, 4, 4, 3, 0, 0, 0, time.UTC)) {
		t.Error("disabled policy must always allow")
	}
}
