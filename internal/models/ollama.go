package models

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	ollamaapi "github.com/ollama/ollama/api"

	"github.com/dohr-michael/echovision/internal/config"
)

const defaultOllamaBaseURL = "http://localhost:11434"

// Ollama completes raw prompts through Ollama's generate endpoint. Raw mode
// skips the model's chat template, since the prompt already carries [INST].
type Ollama struct {
	client *ollamaapi.Client
	model  string
}

// NewOllama creates an Ollama completer.
func NewOllama(cfg config.ProviderConfig) (*Ollama, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOllamaBaseURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse ollama base url: %w", err)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("ollama provider needs a model")
	}

	timeout := cfg.Timeout.Duration()
	if timeout <= 0 {
		timeout = 300 * time.Second
	}

	// Inject a validating transport to detect non-JSON responses (e.g. "no available server").
	httpClient := &http.Client{
		Timeout:   timeout,
		Transport: &ollamaTransport{inner: http.DefaultTransport, provider: "ollama"},
	}

	return &Ollama{
		client: ollamaapi.NewClient(u, httpClient),
		model:  cfg.Model,
	}, nil
}

// Complete implements Completer.
func (o *Ollama) Complete(ctx context.Context, prompt string, opts Options) (Completion, error) {
	stream := false
	req := &ollamaapi.GenerateRequest{
		Model:   o.model,
		Prompt:  prompt,
		Raw:     true,
		Stream:  &stream,
		Options: ollamaOptions(opts),
	}

	var (
		sb  strings.Builder
		out Completion
	)
	err := o.client.Generate(ctx, req, func(r ollamaapi.GenerateResponse) error {
		sb.WriteString(r.Response)
		if r.Done {
			out.PromptTokens = r.PromptEvalCount
			out.OutputTokens = r.EvalCount
		}
		return nil
	})
	if err != nil {
		return Completion{}, HandleError(fmt.Errorf("ollama generate: %w", err))
	}

	out.Text = strings.TrimSpace(sb.String())
	if out.Text == "" {
		return out, ErrEmptyCompletion
	}
	return out, nil
}

// Ping checks the server is up and has the model pulled.
func (o *Ollama) Ping(ctx context.Context) error {
	if err := o.client.Heartbeat(ctx); err != nil {
		return fmt.Errorf("ollama heartbeat: %w", err)
	}
	list, err := o.client.List(ctx)
	if err != nil {
		return fmt.Errorf("ollama list: %w", err)
	}
	for _, m := range list.Models {
		if m.Name == o.model || m.Model == o.model {
			return nil
		}
	}
	return fmt.Errorf("model %q not pulled", o.model)
}

// Name implements Completer.
func (o *Ollama) Name() string { return "ollama/" + o.model }

func ollamaOptions(opts Options) map[string]any {
	m := map[string]any{}
	if opts.MaxTokens > 0 {
		m["num_predict"] = opts.MaxTokens
	}
	m["temperature"] = opts.Temperature
	if opts.TopP > 0 {
		m["top_p"] = opts.TopP
	}
	if opts.RepeatPenalty > 0 {
		m["repeat_penalty"] = opts.RepeatPenalty
	}
	if len(opts.Stop) > 0 {
		m["stop"] = opts.Stop
	}
	return m
}

// ollamaTransport wraps an http.RoundTripper to detect non-JSON error responses
// from Ollama backends (e.g. reverse proxies returning plain text errors).
type ollamaTransport struct {
	inner    http.RoundTripper
	provider string
}

func (t *ollamaTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.inner.RoundTrip(req)
	if err != nil {
		return nil, &ErrModelUnavailable{Provider: t.provider, Cause: err}
	}

	if resp.StatusCode >= 500 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, &ErrModelUnavailable{
			Provider: t.provider,
			Body:     strings.TrimSpace(string(body)),
		}
	}

	// Heartbeat is a HEAD on "/" answered with plain text.
	if req.Method == http.MethodHead {
		return resp, nil
	}

	// 4xx answers from Ollama itself are JSON errors the client decodes.
	// A reverse proxy returning plain text (e.g. "no available server") won't have a JSON content type.
	ct := resp.Header.Get("Content-Type")
	if ct != "" && !strings.Contains(ct, "json") {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, &ErrModelUnavailable{
			Provider: t.provider,
			Body:     strings.TrimSpace(string(body)),
		}
	}

	return resp, nil
}
