// Package images talks to the image-synthesis backend and archives results.
package images

import (
	"context"
	"errors"
	"fmt"

	"github.com/dohr-michael/echovision/internal/config"
)

// Request holds the parameters of one synthesis.
type Request struct {
	Prompt         string
	NegativePrompt string
	Steps          int
	GuidanceScale  float64
	Width          int
	Height         int
	Seed           int64
}

// RequestFromConfig fills a Request with the configured generation parameters.
func RequestFromConfig(cfg config.ImagesConfig, prompt string) Request {
	return Request{
		Prompt:         prompt,
		NegativePrompt: cfg.NegativePrompt,
		Steps:          cfg.Steps,
		GuidanceScale:  cfg.GuidanceScale,
		Width:          cfg.Width,
		Height:         cfg.Height,
		Seed:           cfg.Seed,
	}
}

// Image is a synthesized PNG.
type Image struct {
	PNG    []byte
	Width  int
	Height int
	Seed   int64
	Prompt string
}

// Status describes the backend for health checks.
type Status struct {
	Loaded bool   `json:"loaded"`
	Model  string `json:"model,omitempty"`
	Device string `json:"device"`
	Error  string `json:"error,omitempty"`
}

// Synthesizer generates images. Failures are returned, never papered over
// with placeholder images.
type Synthesizer interface {
	Synthesize(ctx context.Context, req Request) (*Image, error)
	Status(ctx context.Context) Status
}

// ErrSynthesis wraps every synthesis failure.
var ErrSynthesis = errors.New("image synthesis failed")

func synthesisError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrSynthesis, fmt.Sprintf(format, args...))
}

// New builds the Synthesizer selected by cfg.Driver.
func New(cfg config.ImagesConfig) (Synthesizer, error) {
	switch cfg.Driver {
	case "a1111", "":
		return NewA1111(cfg), nil
	default:
		return nil, fmt.Errorf("unknown images driver %q", cfg.Driver)
	}
}
