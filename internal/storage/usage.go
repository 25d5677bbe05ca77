package storage

import (
	"maps"
	"sync"

	"github.com/dohr-michael/echovision/internal/events"
)

// Usage is a snapshot of the counters kept by UsageTracker.
type Usage struct {
	Exchanges        int64            `json:"exchanges" yaml:"exchanges"`
	ExchangeErrors   int64            `json:"exchange_errors" yaml:"exchange_errors"`
	Completions      int64            `json:"completions" yaml:"completions"`
	CompletionErrors int64            `json:"completion_errors" yaml:"completion_errors"`
	PromptTokens     int64            `json:"prompt_tokens" yaml:"prompt_tokens"`
	OutputTokens     int64            `json:"output_tokens" yaml:"output_tokens"`
	ImagesRequested  int64            `json:"images_requested" yaml:"images_requested"`
	ImagesGenerated  int64            `json:"images_generated" yaml:"images_generated"`
	ImagesFailed     int64            `json:"images_failed" yaml:"images_failed"`
	ImagesSuppressed map[string]int64 `json:"images_suppressed" yaml:"images_suppressed"`
	ExchangesByLang  map[string]int64 `json:"exchanges_by_language" yaml:"exchanges_by_language"`
	SessionsCreated  int64            `json:"sessions_created" yaml:"sessions_created"`
	SessionsEvicted  int64            `json:"sessions_evicted" yaml:"sessions_evicted"`
	SessionsCleared  int64            `json:"sessions_cleared" yaml:"sessions_cleared"`
}

// UsageTracker subscribes to chat, completion, image and session events and
// accumulates process-wide counters.
type UsageTracker struct {
	mu          sync.Mutex
	usage       Usage
	unsubscribe func()
}

// NewUsageTracker creates a UsageTracker listening on bus.
func NewUsageTracker(bus *events.Bus) *UsageTracker {
	ut := &UsageTracker{
		usage: Usage{
			ImagesSuppressed: make(map[string]int64),
			ExchangesByLang:  make(map[string]int64),
		},
	}
	ut.unsubscribe = bus.Subscribe(ut.handleEvent,
		events.EventChatReply,
		events.EventCompletionCall,
		events.EventImageRequested,
		events.EventImageGenerated,
		events.EventImageFailed,
		events.EventImageSuppressed,
		events.EventSessionCreated,
		events.EventSessionEvicted,
		events.EventSessionCleared,
	)
	return ut
}

// Close unsubscribes the tracker from the event bus.
func (ut *UsageTracker) Close() {
	if ut.unsubscribe != nil {
		ut.unsubscribe()
	}
}

// Snapshot returns a copy of the current counters.
func (ut *UsageTracker) Snapshot() Usage {
	ut.mu.Lock()
	defer ut.mu.Unlock()

	u := ut.usage
	u.ImagesSuppressed = maps.Clone(ut.usage.ImagesSuppressed)
	u.ExchangesByLang = maps.Clone(ut.usage.ExchangesByLang)
	return u
}

func (ut *UsageTracker) handleEvent(e events.Event) {
	ut.mu.Lock()
	defer ut.mu.Unlock()

	u := &ut.usage
	switch e.Type {
	case events.EventChatReply:
		p, ok := events.ExtractPayload[events.ChatReplyPayload](e)
		if !ok {
			return
		}
		if p.Error != "" {
			u.ExchangeErrors++
			return
		}
		u.Exchanges++
		u.ExchangesByLang[p.Language]++
	case events.EventCompletionCall:
		p, ok := events.ExtractPayload[events.CompletionCallPayload](e)
		if !ok {
			return
		}
		u.Completions++
		if p.Error != "" {
			u.CompletionErrors++
		}
		u.PromptTokens += int64(p.PromptTokens)
		u.OutputTokens += int64(p.OutputTokens)
	case events.EventImageRequested:
		u.ImagesRequested++
	case events.EventImageGenerated:
		u.ImagesGenerated++
	case events.EventImageFailed:
		u.ImagesFailed++
	case events.EventImageSuppressed:
		p, ok := events.ExtractPayload[events.ImageSuppressedPayload](e)
		if !ok {
			return
		}
		u.ImagesSuppressed[p.Reason]++
	case events.EventSessionCreated:
		u.SessionsCreated++
	case events.EventSessionEvicted:
		u.SessionsEvicted++
	case events.EventSessionCleared:
		u.SessionsCleared++
	}
}
