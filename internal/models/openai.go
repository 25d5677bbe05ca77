package models

import (
	"context"
	"fmt"
	"strings"
	"time"

	einoopenai "github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/dohr-michael/echovision/internal/config"
)

const (
	defaultOpenAIBaseURL  = "http://localhost:8080/v1"
	defaultMistralBaseURL = "https://api.mistral.ai/v1"
	defaultMistralModel   = "open-mistral-7b"
)

// ChatCompleter sends the prompt as a single user message to an
// OpenAI-compatible chat endpoint (llama.cpp server, vLLM, Mistral's API).
type ChatCompleter struct {
	model  model.BaseChatModel
	driver string
	name   string
}

// NewOpenAI creates a completer for a local OpenAI-compatible server.
func NewOpenAI(ctx context.Context, cfg config.ProviderConfig, apiKey string) (*ChatCompleter, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	return newChatCompleter(ctx, "openai", cfg, baseURL, cfg.Model, apiKey, 300*time.Second)
}

// NewMistral creates a completer for the hosted Mistral API.
func NewMistral(ctx context.Context, cfg config.ProviderConfig, apiKey string) (*ChatCompleter, error) {
	modelName := cfg.Model
	if modelName == "" {
		modelName = defaultMistralModel
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultMistralBaseURL
	}
	return newChatCompleter(ctx, "mistral", cfg, baseURL, modelName, apiKey, 5*time.Minute)
}

func newChatCompleter(ctx context.Context, driver string, cfg config.ProviderConfig, baseURL, modelName, apiKey string, defTimeout time.Duration) (*ChatCompleter, error) {
	if modelName == "" {
		return nil, fmt.Errorf("%s provider needs a model", driver)
	}
	if apiKey == "" {
		apiKey = "no-key"
	}

	modelConfig := &einoopenai.ChatModelConfig{
		APIKey:  apiKey,
		Model:   modelName,
		BaseURL: baseURL,
		Timeout: cfg.Timeout.Duration(),
	}
	if modelConfig.Timeout <= 0 {
		modelConfig.Timeout = defTimeout
	}

	cm, err := einoopenai.NewChatModel(ctx, modelConfig)
	if err != nil {
		return nil, fmt.Errorf("create %s chat model: %w", driver, err)
	}
	return &ChatCompleter{model: cm, driver: driver, name: driver + "/" + modelName}, nil
}

// Complete implements Completer.
func (c *ChatCompleter) Complete(ctx context.Context, prompt string, opts Options) (Completion, error) {
	callOpts := []model.Option{}
	if opts.MaxTokens > 0 {
		callOpts = append(callOpts, model.WithMaxTokens(opts.MaxTokens))
	}
	callOpts = append(callOpts, model.WithTemperature(opts.Temperature))
	if opts.TopP > 0 {
		callOpts = append(callOpts, model.WithTopP(opts.TopP))
	}
	if len(opts.Stop) > 0 {
		callOpts = append(callOpts, model.WithStop(opts.Stop))
	}

	msg, err := c.model.Generate(ctx, []*schema.Message{schema.UserMessage(prompt)}, callOpts...)
	if err != nil {
		return Completion{}, HandleError(fmt.Errorf("%s generate: %w", c.driver, err))
	}

	out := Completion{Text: strings.TrimSpace(msg.Content)}
	if msg.ResponseMeta != nil && msg.ResponseMeta.Usage != nil {
		out.PromptTokens = msg.ResponseMeta.Usage.PromptTokens
		out.OutputTokens = msg.ResponseMeta.Usage.CompletionTokens
	}
	if out.Text == "" {
		return out, ErrEmptyCompletion
	}
	return out, nil
}

// Ping is a no-op: chat endpoints have no cheap liveness probe, and a
// constructed client is treated as loaded.
func (c *ChatCompleter) Ping(context.Context) error { return nil }

// Name implements Completer.
func (c *ChatCompleter) Name() string { return c.name }
