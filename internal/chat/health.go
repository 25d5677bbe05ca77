package chat

import (
	"context"
	"sync"
	"time"

	"github.com/dohr-michael/echovision/internal/images"
)

const healthTimeout = 5 * time.Second

// Health describes both model backends.
type Health struct {
	TextModel       string
	TextModelLoaded bool
	TextError       string
	Image           images.Status
}

// Health probes the completion and image backends concurrently.
func (s *Service) Health(ctx context.Context) Health {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	h := Health{TextModel: s.completer.Name()}
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := s.completer.Ping(ctx); err != nil {
			h.TextError = err.Error()
			return
		}
		h.TextModelLoaded = true
	}()
	go func() {
		defer wg.Done()
		h.Image = s.synthesizer.Status(ctx)
	}()
	wg.Wait()
	return h
}

// ModelInfo names the configured backends without probing them.
type ModelInfo struct {
	TextModel   string `json:"text_model"`
	ImageDriver string `json:"image_driver"`
	ImageModel  string `json:"image_model,omitempty"`
}

// ModelInfo returns the configured backends.
func (s *Service) ModelInfo() ModelInfo {
	p := s.Params()
	return ModelInfo{
		TextModel:   s.completer.Name(),
		ImageDriver: p.Images.Driver,
		ImageModel:  p.Images.Model,
	}
}
