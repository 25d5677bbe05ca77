package events

import (
	"encoding/json"
	"time"
)

// EventPayload is the interface all typed payloads implement.
type EventPayload interface {
	EventType() EventType
}

// =============================================================================
// CHAT EVENTS
// =============================================================================

type ChatRequestPayload struct {
	Message  string `json:"message"`
	Language string `json:"language"`
}

func (ChatRequestPayload) EventType() EventType { return EventChatRequest }

type ChatReplyPayload struct {
	Text       string        `json:"text"`
	Language   string        `json:"language"`
	HasImage   bool          `json:"has_image"`
	Suppressed string        `json:"suppressed,omitempty"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
}

func (ChatReplyPayload) EventType() EventType { return EventChatReply }

// =============================================================================
// INTERNAL EVENTS
// =============================================================================

type CompletionCallPayload struct {
	Model        string        `json:"model"`
	PromptTokens int           `json:"prompt_tokens,omitempty"`
	OutputTokens int           `json:"output_tokens,omitempty"`
	Duration     time.Duration `json:"duration,omitempty"`
	Error        string        `json:"error,omitempty"`
}

func (CompletionCallPayload) EventType() EventType { return EventCompletionCall }

// =============================================================================
// IMAGE EVENTS
// =============================================================================

type ImageRequestedPayload struct {
	Prompt string `json:"prompt"`
}

func (ImageRequestedPayload) EventType() EventType { return EventImageRequested }

type ImageSuppressedPayload struct {
	Reason string `json:"reason"`
}

func (ImageSuppressedPayload) EventType() EventType { return EventImageSuppressed }

type ImageGeneratedPayload struct {
	Prompt   string        `json:"prompt"`
	Width    int           `json:"width"`
	Height   int           `json:"height"`
	Bytes    int           `json:"bytes"`
	File     string        `json:"file,omitempty"`
	Duration time.Duration `json:"duration"`
}

func (ImageGeneratedPayload) EventType() EventType { return EventImageGenerated }

type ImageFailedPayload struct {
	Prompt string `json:"prompt"`
	Error  string `json:"error"`
}

func (ImageFailedPayload) EventType() EventType { return EventImageFailed }

// =============================================================================
// SESSION EVENTS
// =============================================================================

type SessionCreatedPayload struct{}

func (SessionCreatedPayload) EventType() EventType { return EventSessionCreated }

type SessionClearedPayload struct {
	Existed bool `json:"existed"`
}

func (SessionClearedPayload) EventType() EventType { return EventSessionCleared }

type SessionEvictedPayload struct {
	IdleTTL time.Duration `json:"idle_ttl"`
}

func (SessionEvictedPayload) EventType() EventType { return EventSessionEvicted }

// =============================================================================
// TYPED EVENT CONSTRUCTORS
// =============================================================================

func NewTypedEvent(source EventSource, payload EventPayload) Event {
	return NewEvent(payload.EventType(), source, toMap(payload))
}

func NewTypedEventWithSession(source EventSource, payload EventPayload, sessionID string) Event {
	e := NewTypedEvent(source, payload)
	e.SessionID = sessionID
	return e
}

func toMap(v any) map[string]any {
	var result map[string]any
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	return result
}

// =============================================================================
// TYPED PAYLOAD EXTRACTORS
// =============================================================================

// ExtractPayload decodes the payload of e into T. It reports false when e
// is of another type.
func ExtractPayload[T EventPayload](e Event) (T, bool) {
	var result T
	if e.Type != result.EventType() {
		return result, false
	}
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return result, false
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return result, false
	}
	return result, true
}
