package heartbeat

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWriteReadCycle(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run", "heartbeat.json")

	w := NewWriter(path, "127.0.0.1:8000", "1.2.3", WithGauges(func() (int, int) { return 3, 17 }))
	w.Start()
	defer w.Stop()

	status, hb, err := Check(path, 2*time.Minute)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if status != StatusAlive {
		t.Errorf("expected alive, got %s", status)
	}
	if hb == nil {
		t.Fatal("expected heartbeat, got nil")
	}
	if hb.PID != os.Getpid() {
		t.Errorf("PID: got %d, want %d", hb.PID, os.Getpid())
	}
	if hb.Addr != "127.0.0.1:8000" || hb.Version != "1.2.3" {
		t.Errorf("addr/version: got %q/%q", hb.Addr, hb.Version)
	}
	if hb.ActiveSessions != 3 || hb.TotalTurns != 17 {
		t.Errorf("gauges: got %d/%d, want 3/17", hb.ActiveSessions, hb.TotalTurns)
	}
	if hb.Uptime == "" {
		t.Error("expected non-empty uptime")
	}
}

func TestStaleDetection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heartbeat.json")

	hb := Heartbeat{
		PID:       12345,
		StartedAt: time.Now().Add(-10 * time.Minute),
		Timestamp: time.Now().Add(-5 * time.Minute),
		Uptime:    "10m0s",
	}
	data, _ := json.Marshal(hb)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	status, got, err := Check(path, DefaultMaxAge)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if status != StatusStale {
		t.Errorf("expected stale, got %s", status)
	}
	if got == nil || got.PID != 12345 {
		t.Errorf("expected stale heartbeat to be returned, got %+v", got)
	}
}

func TestMissingFile(t *testing.T) {
	status, hb, err := Check(filepath.Join(t.TempDir(), "nope.json"), DefaultMaxAge)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if status != StatusDead || hb != nil {
		t.Errorf("expected dead/nil, got %s/%v", status, hb)
	}
}

func TestCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heartbeat.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	status, _, err := Check(path, DefaultMaxAge)
	if err == nil {
		t.Fatal("expected error for corrupt heartbeat")
	}
	if status != StatusDead {
		t.Errorf("expected dead, got %s", status)
	}
}

func TestStopRemovesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heartbeat.json")

	w := NewWriter(path, ":8000", "dev", WithInterval(10*time.Millisecond))
	w.Start()
	w.Start() // no-op

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("heartbeat file not written: %v", err)
	}

	w.Stop()
	w.Stop() // no-op

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("expected heartbeat file removed after Stop")
	}
}
