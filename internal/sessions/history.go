package sessions

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"
)

// DefaultWindowTurns is the number of turns rendered into a prompt.
const DefaultWindowTurns = 5

// EstimateTokens approximates token cost as one token per four characters.
func EstimateTokens(text string) int {
	return utf8.RuneCountInString(text) / 4
}

// Stats summarizes a History.
type Stats struct {
	TurnCount    int     `json:"turn_count"`
	TotalTokens  int     `json:"total_tokens"`
	MaxTokens    int     `json:"max_tokens"`
	UsagePercent float64 `json:"usage_percent"`
}

// History is a token-bounded list of turns. The oldest turns are evicted
// after each append until the total fits, but the newest turn always stays.
// History is not safe for concurrent use; Manager serializes access.
type History struct {
	maxTokens   int
	turns       []Turn
	totalTokens int
	now         func() time.Time
}

// NewHistory creates an empty History bounded by maxTokens.
func NewHistory(maxTokens int) *History {
	return &History{maxTokens: maxTokens, now: time.Now}
}

// Append records a turn and evicts from the oldest end while over budget.
func (h *History) Append(user, assistant string) Turn {
	t := Turn{
		User:      user,
		Assistant: assistant,
		Tokens:    EstimateTokens(user) + EstimateTokens(assistant),
		Timestamp: h.now(),
	}
	h.turns = append(h.turns, t)
	h.totalTokens += t.Tokens

	for h.totalTokens > h.maxTokens && len(h.turns) > 1 {
		evicted := h.turns[0]
		h.turns = h.turns[1:]
		h.totalTokens -= evicted.Tokens
		slog.Debug("history turn evicted", "remaining", len(h.turns), "total_tokens", h.totalTokens)
	}
	return t
}

// Window renders the last maxTurns turns (all when maxTurns <= 0) as
// Human/Assistant lines, one blank line after each turn, trimmed.
func (h *History) Window(maxTurns int) string {
	if len(h.turns) == 0 {
		return ""
	}
	recent := h.turns
	if maxTurns > 0 && len(recent) > maxTurns {
		recent = recent[len(recent)-maxTurns:]
	}

	lines := make([]string, 0, len(recent)*3)
	for _, t := range recent {
		lines = append(lines, "Human: "+t.User, "Assistant: "+t.Assistant, "")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// Len returns the number of retained turns.
func (h *History) Len() int { return len(h.turns) }

// TotalTokens returns the running token estimate.
func (h *History) TotalTokens() int { return h.totalTokens }

// Turns returns a copy of the retained turns, oldest first.
func (h *History) Turns() []Turn {
	return append([]Turn(nil), h.turns...)
}

// Stats reports counts and budget usage.
func (h *History) Stats() Stats {
	s := Stats{
		TurnCount:   len(h.turns),
		TotalTokens: h.totalTokens,
		MaxTokens:   h.maxTokens,
	}
	if h.maxTokens > 0 {
		s.UsagePercent = float64(h.totalTokens) / float64(h.maxTokens) * 100
	}
	return s
}

// Clear drops every turn.
func (h *History) Clear() {
	h.turns = nil
	h.totalTokens = 0
}

// Summary describes the history in one line, listing the openings of
// the last three substantial user messages.
func (h *History) Summary() string {
	if len(h.turns) == 0 {
		return "No conversation history."
	}

	start := len(h.turns) - 3
	if start < 0 {
		start = 0
	}
	var topics []string
	for _, t := range h.turns[start:] {
		r := []rune(t.User)
		if len(r) <= 20 {
			continue
		}
		if len(r) > 50 {
			topics = append(topics, string(r[:50])+"...")
		} else {
			topics = append(topics, t.User)
		}
	}

	s := fmt.Sprintf("Conversation history: %d exchanges.", len(h.turns))
	if len(topics) > 0 {
		s += " Recent topics: " + strings.Join(topics, "; ")
	}
	return s
}

// Snapshot captures the history for persistence.
func (h *History) Snapshot(sessionID string) *Snapshot {
	return &Snapshot{
		SessionID:    sessionID,
		Turns:        h.Turns(),
		TotalTokens:  h.totalTokens,
		MessageCount: len(h.turns),
		SavedAt:      h.now(),
		Summary:      h.Summary(),
	}
}

// Restore replaces the history with the snapshot's turns and stored total.
func (h *History) Restore(s *Snapshot) {
	h.turns = append([]Turn(nil), s.Turns...)
	h.totalTokens = s.TotalTokens
}
