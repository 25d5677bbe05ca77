package events

import (
	"encoding/json"
	"testing"
	"time"
)

func TestTypedEvent_ChatReply(t *testing.T) {
	payload := ChatReplyPayload{
		Text:       "Here you go",
		Language:   "fr",
		HasImage:   true,
		Suppressed: "",
		Duration:   1500 * time.Millisecond,
	}
	evt := NewTypedEventWithSession(SourceChat, payload, "s-1")

	if evt.Type != EventChatReply {
		t.Fatalf("expected type %q, got %q", EventChatReply, evt.Type)
	}
	if evt.SessionID != "s-1" {
		t.Fatalf("expected session %q, got %q", "s-1", evt.SessionID)
	}
	if evt.ID == "" {
		t.Fatal("expected an event id")
	}
	got, ok := ExtractPayload[ChatReplyPayload](evt)
	if !ok {
		t.Fatal("ExtractPayload returned false")
	}
	if got.Text != "Here you go" || got.Language != "fr" || !got.HasImage {
		t.Fatalf("unexpected payload %+v", got)
	}
	if got.Duration != 1500*time.Millisecond {
		t.Fatalf("expected duration 1.5s, got %v", got.Duration)
	}
}

func TestTypedEvent_ImageSuppressed(t *testing.T) {
	evt := NewTypedEvent(SourceChat, ImageSuppressedPayload{Reason: "no_keyword"})

	if evt.Type != EventImageSuppressed {
		t.Fatalf("expected type %q, got %q", EventImageSuppressed, evt.Type)
	}
	if evt.Payload["reason"] != "no_keyword" {
		t.Fatalf("expected reason in payload map, got %v", evt.Payload)
	}
	got, ok := ExtractPayload[ImageSuppressedPayload](evt)
	if !ok || got.Reason != "no_keyword" {
		t.Fatalf("unexpected payload %+v (ok=%v)", got, ok)
	}
}

func TestTypedEvent_CompletionCall(t *testing.T) {
	evt := NewTypedEvent(SourceChat, CompletionCallPayload{
		Model:        "ollama/mistral",
		PromptTokens: 120,
		OutputTokens: 40,
		Error:        "",
	})
	got, ok := ExtractPayload[CompletionCallPayload](evt)
	if !ok {
		t.Fatal("ExtractPayload returned false")
	}
	if got.Model != "ollama/mistral" || got.PromptTokens != 120 || got.OutputTokens != 40 {
		t.Fatalf("unexpected payload %+v", got)
	}
}

func TestExtractPayload_WrongType(t *testing.T) {
	evt := NewTypedEvent(SourceSessions, SessionClearedPayload{Existed: true})
	if _, ok := ExtractPayload[SessionCreatedPayload](evt); ok {
		t.Fatal("expected ExtractPayload to reject a different event type")
	}
	got, ok := ExtractPayload[SessionClearedPayload](evt)
	if !ok || !got.Existed {
		t.Fatalf("unexpected payload %+v (ok=%v)", got, ok)
	}
}

func TestEvent_JSON(t *testing.T) {
	evt := NewTypedEventWithSession(SourceSessions, SessionEvictedPayload{IdleTTL: time.Hour}, "s-9")
	data, err := json.Marshal(evt)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var back Event
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Type != EventSessionEvicted || back.Source != SourceSessions || back.SessionID != "s-9" {
		t.Fatalf("unexpected event %+v", back)
	}
	got, ok := ExtractPayload[SessionEvictedPayload](back)
	if !ok || got.IdleTTL != time.Hour {
		t.Fatalf("unexpected payload %+v (ok=%v)", got, ok)
	}
}
