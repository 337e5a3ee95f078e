package metrics

import (
	"testing"
	"time"
)

func TestRuntimeMetrics_RequestCounters(t *testing.T) {
	m := NewRuntimeMetrics(t.TempDir())

	m.RecordRequestCreated()
	m.RecordRequestCreated()
	m.RecordDecision(true, 1500*time.Millisecond)
	m.RecordDecision(false, 3*time.Second)
	m.RecordAutoAllowed()
	m.RecordExpired(2)

	snap := m.Snapshot()
	if snap.Requests.Created != 2 {
		t.Fatalf("created = %d", snap.Requests.Created)
	}
	if snap.Requests.Resolved() != 2 || snap.Requests.Allowed != 1 || snap.Requests.Denied != 1 {
		t.Fatalf("unexpected resolution counters: %+v", snap.Requests)
	}
	if snap.Requests.AutoAllowed != 1 || snap.Requests.Expired != 2 {
		t.Fatalf("unexpected auto/expired counters: %+v", snap.Requests)
	}
	if snap.Requests.MaxDecisionMs != 3000 || snap.Requests.LastDecisionMs != 3000 {
		t.Fatalf("unexpected latency counters: %+v", snap.Requests)
	}
	if avg := snap.Requests.AvgDecisionMs(); avg != 2250 {
		t.Fatalf("avg decision ms = %v", avg)
	}
	if !snap.HasData() {
		t.Fatal("expected HasData after recording")
	}
}

func TestRuntimeMetrics_CardFailureRatio(t *testing.T) {
	m := NewRuntimeMetrics(t.TempDir())

	m.RecordCardSend(true)
	m.RecordCardSend(true)
	m.RecordCardSend(false)

	snap := m.Snapshot()
	if snap.Cards.SendAttempts != 3 || snap.Cards.SendFailures != 1 {
		t.Fatalf("unexpected card counters: %+v", snap.Cards)
	}
	if ratio := snap.Cards.FailureRatio(); ratio < 0.33 || ratio > 0.34 {
		t.Fatalf("failure ratio = %v", ratio)
	}
}

func TestRuntimeMetrics_PersistAndRead(t *testing.T) {
	dir := t.TempDir()
	m := NewRuntimeMetrics(dir)

	m.RecordRequestCreated()
	m.RecordAlert("scheduled")
	m.RecordAlert("fired")

	snap, err := ReadRuntimeSnapshot(dir)
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if snap.Requests.Created != 1 {
		t.Fatalf("persisted created = %d", snap.Requests.Created)
	}
	if snap.Alerts.Scheduled != 1 || snap.Alerts.Fired != 1 {
		t.Fatalf("persisted alerts: %+v", snap.Alerts)
	}
}

func TestReadRuntimeSnapshot_MissingFile(t *testing.T) {
	snap, err := ReadRuntimeSnapshot(t.TempDir())
	if err != nil {
		t.Fatalf("missing file must not error: %v", err)
	}
	if snap.HasData() {
		t.Fatal("expected zero snapshot")
	}
}

func TestRuntimeMetrics_NilReceiver(t *testing.T) {
	var m *RuntimeMetrics
	m.RecordRequestCreated()
	m.RecordCardSend(true)
	if m.Snapshot().HasData() {
		t.Fatal("nil recorder must stay empty")
	}
}
