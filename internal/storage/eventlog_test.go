package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dohr-michael/echovision/internal/events"
)

func waitForFile(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); err == nil {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("%s not written", path)
}

func TestEventLogger_WriteAndReadBack(t *testing.T) {
	dir := t.TempDir()
	bus := events.NewBus(64)
	defer bus.Close()

	el := NewEventLogger(dir, bus)
	defer el.Close()

	bus.Publish(events.Event{
		ID:        "evt-1",
		Type:      events.EventSessionEvicted,
		Timestamp: time.Now(),
		Source:    events.SourceSessions,
		Payload:   map[string]any{"idle_ttl": 1},
	})

	path := filepath.Join(dir, "_global.jsonl")
	waitForFile(t, path)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read JSONL: %v", err)
	}

	var got events.Event
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.ID != "evt-1" {
		t.Errorf("got ID %q, want %q", got.ID, "evt-1")
	}
	if got.Type != events.EventSessionEvicted {
		t.Errorf("got type %q, want %q", got.Type, events.EventSessionEvicted)
	}
}

func TestEventLogger_SessionRouting(t *testing.T) {
	dir := t.TempDir()
	bus := events.NewBus(64)
	defer bus.Close()

	el := NewEventLogger(dir, bus)
	defer el.Close()

	bus.Publish(events.NewTypedEventWithSession(events.SourceChat,
		events.ChatRequestPayload{Message: "draw a fox", Language: "en"}, "sess_abc123"))
	bus.Publish(events.NewTypedEventWithSession(events.SourceChat,
		events.ChatReplyPayload{Text: "Here it is.", Language: "en", HasImage: true}, "sess_abc123"))

	waitForFile(t, filepath.Join(dir, "sess_abc123.jsonl"))
	// both events go through the same dispatch goroutine; wait for the second
	deadline := time.Now().Add(time.Second)
	var got []events.Event
	for time.Now().Before(deadline) {
		var err error
		got, err = ReadLog(dir, "sess_abc123", 0)
		if err != nil {
			t.Fatalf("ReadLog: %v", err)
		}
		if len(got) == 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2", len(got))
	}
	if got[0].Type != events.EventChatRequest || got[1].Type != events.EventChatReply {
		t.Errorf("unexpected order: %s, %s", got[0].Type, got[1].Type)
	}

	if _, err := os.Stat(filepath.Join(dir, "_global.jsonl")); !os.IsNotExist(err) {
		t.Errorf("session events must not reach the global log")
	}

	last, err := ReadLog(dir, "sess_abc123", 1)
	if err != nil || len(last) != 1 || last[0].Type != events.EventChatReply {
		t.Errorf("ReadLog limit 1 = %v, %v", last, err)
	}
}

func TestEventLogger_DirectoryAutoCreation(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "logs")
	bus := events.NewBus(64)
	defer bus.Close()

	el := NewEventLogger(dir, bus)
	defer el.Close()

	bus.Publish(events.NewTypedEvent(events.SourceGateway, events.SessionClearedPayload{}))

	waitForFile(t, filepath.Join(dir, "_global.jsonl"))
}

func TestReadLog_Missing(t *testing.T) {
	got, err := ReadLog(t.TempDir(), "nobody", 10)
	if err != nil || got != nil {
		t.Errorf("ReadLog on missing file = %v, %v", got, err)
	}
}

func TestReadLog_SkipsCorruptLines(t *testing.T) {
	dir := t.TempDir()
	content := `{"id":"a","type":"chat.request"}` + "\nnot json\n" + `{"id":"b","type":"chat.reply"}` + "\n"
	if err := os.WriteFile(filepath.Join(dir, "s.jsonl"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := ReadLog(dir, "s", 0)
	if err != nil {
		t.Fatalf("ReadLog: %v", err)
	}
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "b" {
		t.Errorf("got %+v", got)
	}
}
