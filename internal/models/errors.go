package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrModelUnavailable reports a backend that could not be reached or answered
// with something other than a model response (a proxy error page, a 5xx).
type ErrModelUnavailable struct {
	Provider string
	Body     string
	Cause    error
}

func (e *ErrModelUnavailable) Error() string {
	switch {
	case e.Cause != nil:
		return fmt.Sprintf("%s unavailable: %v", e.Provider, e.Cause)
	case e.Body != "":
		return fmt.Sprintf("%s unavailable: %s", e.Provider, e.Body)
	default:
		return fmt.Sprintf("%s unavailable", e.Provider)
	}
}

func (e *ErrModelUnavailable) Unwrap() error { return e.Cause }

// ErrEmptyCompletion is returned when the model produced only whitespace.
var ErrEmptyCompletion = errors.New("empty completion")

// Placeholder replies shown to the user when completion fails.
const (
	ErrorReply = "I apologize, but I encountered an error while generating a response. Please try again."
	EmptyReply = "I apologize, but I couldn't generate a proper response. Could you please rephrase your question?"
)

// FallbackReply returns the placeholder text for a completion error.
func FallbackReply(err error) string {
	if errors.Is(err, ErrEmptyCompletion) {
		return EmptyReply
	}
	return ErrorReply
}

// HandleError converts common SDK errors to user-friendly errors.
func HandleError(err error) error {
	if err == nil {
		return nil
	}

	errStr := strings.ToLower(err.Error())

	if containsAny(errStr, "401", "403", "unauthorized", "invalid api key", "api key", "forbidden") {
		return fmt.Errorf("authentication failed: %w", err)
	}

	if containsAny(errStr, "429", "rate limit", "quota", "too many requests") {
		return fmt.Errorf("rate limited: %w", err)
	}

	if containsAny(errStr, "context length", "too many tokens", "max tokens", "token limit") {
		return fmt.Errorf("context too long: %w", err)
	}

	if containsAny(errStr, "model not found", "404", "not found") {
		return fmt.Errorf("model not found: %w", err)
	}

	if containsAny(errStr, "connection", "eof", "timeout", "dial", "refused", "unavailable") {
		return fmt.Errorf("connection error: %w", err)
	}

	return err
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
