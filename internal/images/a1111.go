package images

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dohr-michael/echovision/internal/config"
)

// A1111 drives a Stable Diffusion WebUI (or compatible) server through its
// /sdapi/v1 REST API.
type A1111 struct {
	baseURL        string
	model          string
	negativePrompt string
	http           *http.Client
}

// NewA1111 creates a client for the server at cfg.BaseURL.
func NewA1111(cfg config.ImagesConfig) *A1111 {
	timeout := cfg.Timeout.Duration()
	if timeout <= 0 {
		timeout = 180 * time.Second
	}
	neg := cfg.NegativePrompt
	if neg == "" {
		neg = config.DefaultNegativePrompt
	}
	return &A1111{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		model:          cfg.Model,
		negativePrompt: neg,
		http:           &http.Client{Timeout: timeout},
	}
}

type txt2imgRequest struct {
	Prompt         string         `json:"prompt"`
	NegativePrompt string         `json:"negative_prompt"`
	Steps          int            `json:"steps"`
	CFGScale       float64        `json:"cfg_scale"`
	Width          int            `json:"width"`
	Height         int            `json:"height"`
	Seed           int64          `json:"seed"`
	BatchSize      int            `json:"batch_size"`
	Override       map[string]any `json:"override_settings,omitempty"`
}

type txt2imgResponse struct {
	Images []string `json:"images"`
	Info   string   `json:"info"`
}

// Synthesize implements Synthesizer.
func (a *A1111) Synthesize(ctx context.Context, req Request) (*Image, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, synthesisError("empty prompt")
	}
	neg := req.NegativePrompt
	if neg == "" {
		neg = a.negativePrompt
	}

	body := txt2imgRequest{
		Prompt:         req.Prompt,
		NegativePrompt: neg,
		Steps:          req.Steps,
		CFGScale:       req.GuidanceScale,
		Width:          req.Width,
		Height:         req.Height,
		Seed:           req.Seed,
		BatchSize:      1,
	}
	if a.model != "" {
		body.Override = map[string]any{"sd_model_checkpoint": a.model}
	}

	var out txt2imgResponse
	start := time.Now()
	if err := a.do(ctx, http.MethodPost, "/sdapi/v1/txt2img", body, &out); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSynthesis, err)
	}
	if len(out.Images) == 0 {
		return nil, synthesisError("server returned no images")
	}

	data, err := base64.StdEncoding.DecodeString(stripDataURL(out.Images[0]))
	if err != nil {
		return nil, synthesisError("decode image: %v", err)
	}
	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, synthesisError("not a png: %v", err)
	}

	slog.Info("image synthesized",
		"width", cfg.Width, "height", cfg.Height,
		"steps", req.Steps, "duration", time.Since(start).Truncate(time.Millisecond))

	return &Image{
		PNG:    data,
		Width:  cfg.Width,
		Height: cfg.Height,
		Seed:   req.Seed,
		Prompt: req.Prompt,
	}, nil
}

// Status implements Synthesizer. The device comes from /sdapi/v1/memory:
// a "cuda" block with system totals means a GPU is in use.
func (a *A1111) Status(ctx context.Context) Status {
	var opts struct {
		Checkpoint string `json:"sd_model_checkpoint"`
	}
	if err := a.do(ctx, http.MethodGet, "/sdapi/v1/options", nil, &opts); err != nil {
		return Status{Device: "unknown", Error: err.Error()}
	}

	st := Status{Loaded: opts.Checkpoint != "", Model: opts.Checkpoint, Device: "cpu"}

	var mem struct {
		CUDA map[string]json.RawMessage `json:"cuda"`
	}
	if err := a.do(ctx, http.MethodGet, "/sdapi/v1/memory", nil, &mem); err != nil {
		st.Device = "unknown"
		return st
	}
	if _, ok := mem.CUDA["system"]; ok {
		st.Device = "cuda"
	}
	return st
}

func (a *A1111) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// stripDataURL drops a "data:image/png;base64," prefix some forks add.
func stripDataURL(s string) string {
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ","); i >= 0 {
			return s[i+1:]
		}
	}
	return s
}
