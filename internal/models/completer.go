// Package models talks to the text-completion backends.
package models

import (
	"context"

	"github.com/dohr-michael/echovision/internal/config"
)

// Options are the sampling parameters of one completion.
type Options struct {
	MaxTokens     int
	Temperature   float32
	TopP          float32
	RepeatPenalty float32
	Stop          []string
}

// OptionsFromConfig copies the configured sampling parameters.
func OptionsFromConfig(cfg config.CompletionConfig) Options {
	return Options{
		MaxTokens:     cfg.MaxTokens,
		Temperature:   cfg.TemperatureValue(),
		TopP:          cfg.TopP,
		RepeatPenalty: cfg.RepeatPenalty,
		Stop:          append([]string(nil), cfg.Stop...),
	}
}

// Completion is the text a model produced for a raw prompt.
type Completion struct {
	Text         string
	PromptTokens int
	OutputTokens int
}

// Completer turns a fully-formed prompt into text.
type Completer interface {
	// Complete runs one completion. The text is trimmed; whitespace-only
	// output yields ErrEmptyCompletion.
	Complete(ctx context.Context, prompt string, opts Options) (Completion, error)
	// Ping reports whether the backend is reachable and the model available.
	Ping(ctx context.Context) error
	// Name identifies the backend and model for health output.
	Name() string
}
