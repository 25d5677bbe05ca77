// Package api is a Go client for the EchoVision HTTP API.
package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dohr-michael/echovision/internal/events"
	wsprotocol "github.com/dohr-michael/echovision/internal/gateway/ws"
	"github.com/dohr-michael/echovision/internal/sessions"
)

// Error is a non-2xx answer from the gateway.
type Error struct {
	Status    int
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

func (e *Error) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("gateway returned %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("gateway returned %d %s: %s", e.Status, e.Code, e.Message)
}

// IsRetryable reports whether err is a gateway error worth retrying.
func IsRetryable(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Retryable
}

// ChatReply is a decoded chat response.
type ChatReply struct {
	Text      string
	Image     []byte
	Language  string
	SessionID string
}

// Health is the body of GET /health.
type Health struct {
	Status             string   `json:"status" yaml:"status"`
	TextModelLoaded    bool     `json:"text_model_loaded" yaml:"text_model_loaded"`
	ImageModelLoaded   bool     `json:"image_model_loaded" yaml:"image_model_loaded"`
	TextModel          string   `json:"text_model" yaml:"text_model"`
	ImageModel         string   `json:"image_model" yaml:"image_model"`
	Device             string   `json:"device" yaml:"device"`
	SupportedLanguages []string `json:"supported_languages" yaml:"supported_languages"`
	TextModelError     string   `json:"text_model_error,omitempty" yaml:"text_model_error,omitempty"`
	ImageModelError    string   `json:"image_model_error,omitempty" yaml:"image_model_error,omitempty"`
}

// Stats is the body of GET /stats.
type Stats struct {
	ActiveSessions     int            `json:"active_sessions" yaml:"active_sessions"`
	TotalConversations int            `json:"total_conversations" yaml:"total_conversations"`
	TotalTokens        int            `json:"total_tokens" yaml:"total_tokens"`
	SupportedLanguages []string       `json:"supported_languages" yaml:"supported_languages"`
	ModelInfo          map[string]any `json:"model_info" yaml:"model_info"`
	Usage              map[string]any `json:"usage,omitempty" yaml:"usage,omitempty"`
}

// Client talks to one gateway.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a Client for baseURL. Exchanges may take minutes when an image
// is generated, so the default HTTP timeout is generous.
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 6 * time.Minute},
	}
}

// BaseURL returns the gateway URL.
func (c *Client) BaseURL() string { return c.baseURL }

// Chat sends message in sessionID ("" lets the server pick one).
func (c *Client) Chat(ctx context.Context, sessionID, message string) (*ChatReply, error) {
	var resp wsprotocol.ChatResponse
	req := wsprotocol.ChatRequest{Message: message, SessionID: sessionID}
	if err := c.do(ctx, http.MethodPost, "/chat", req, &resp); err != nil {
		return nil, err
	}

	reply := &ChatReply{Text: resp.Response, Language: resp.Language, SessionID: resp.SessionID}
	if resp.ImageData != nil {
		img, err := base64.StdEncoding.DecodeString(*resp.ImageData)
		if err != nil {
			return nil, fmt.Errorf("decode image_data: %w", err)
		}
		reply.Image = img
	}
	return reply, nil
}

// ClearSession clears a session and returns the server's message.
func (c *Client) ClearSession(ctx context.Context, sessionID string) (string, error) {
	var resp struct {
		Message string `json:"message"`
	}
	if err := c.do(ctx, http.MethodDelete, "/session/"+url.PathEscape(sessionID), nil, &resp); err != nil {
		return "", err
	}
	return resp.Message, nil
}

// Health fetches GET /health.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var h Health
	if err := c.do(ctx, http.MethodGet, "/health", nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Stats fetches GET /stats.
func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	var s Stats
	if err := c.do(ctx, http.MethodGet, "/stats", nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Sessions fetches GET /sessions.
func (c *Client) Sessions(ctx context.Context) ([]sessions.Info, error) {
	var out []sessions.Info
	if err := c.do(ctx, http.MethodGet, "/sessions", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Events fetches recent bus events, optionally for one session.
func (c *Client) Events(ctx context.Context, sessionID string, limit int) ([]events.Event, error) {
	q := url.Values{"limit": {strconv.Itoa(limit)}}
	if sessionID != "" {
		q.Set("session_id", sessionID)
	}
	var out []events.Event
	if err := c.do(ctx, http.MethodGet, "/api/events?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &Error{Status: resp.StatusCode}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var env struct {
			Error *Error `json:"error"`
		}
		if json.Unmarshal(raw, &env) == nil && env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
			apiErr.Retryable = env.Error.Retryable
		} else {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return apiErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
