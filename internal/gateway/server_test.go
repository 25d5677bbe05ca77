package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dohr-michael/echovision/internal/chat"
	"github.com/dohr-michael/echovision/internal/config"
	"github.com/dohr-michael/echovision/internal/events"
	"github.com/dohr-michael/echovision/internal/images"
	"github.com/dohr-michael/echovision/internal/language"
	"github.com/dohr-michael/echovision/internal/models"
	"github.com/dohr-michael/echovision/internal/sessions"
	"github.com/dohr-michael/echovision/internal/storage"
)

type scriptedCompleter struct {
	mu    sync.Mutex
	reply string
	block bool
}

func (c *scriptedCompleter) Complete(ctx context.Context, _ string, _ models.Options) (models.Completion, error) {
	c.mu.Lock()
	reply, block := c.reply, c.block
	c.mu.Unlock()
	if block {
		<-ctx.Done()
		return models.Completion{}, ctx.Err()
	}
	return models.Completion{Text: reply}, nil
}

func (c *scriptedCompleter) Ping(context.Context) error { return nil }
func (c *scriptedCompleter) Name() string               { return "ollama/test" }

func (c *scriptedCompleter) set(reply string) {
	c.mu.Lock()
	c.reply = reply
	c.mu.Unlock()
}

type stubSynth struct{}

func (stubSynth) Synthesize(_ context.Context, req images.Request) (*images.Image, error) {
	return &images.Image{PNG: []byte("PNGDATA"), Width: req.Width, Height: req.Height, Prompt: req.Prompt}, nil
}

func (stubSynth) Status(context.Context) images.Status {
	return images.Status{Loaded: true, Model: "sd15", Device: "cuda"}
}

type testServer struct {
	*Server
	completer *scriptedCompleter
	svc       *chat.Service
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *testServer {
	t.Helper()
	cfg := config.Default()
	cfg.Gateway.ExchangeTimeout = config.Duration(2 * time.Second)
	cfg.Gateway.ImageExchangeTimeout = config.Duration(2 * time.Second)
	if mutate != nil {
		mutate(cfg)
	}

	bus := events.NewBus(64)
	t.Cleanup(bus.Close)
	usage := storage.NewUsageTracker(bus)
	t.Cleanup(usage.Close)

	comp := &scriptedCompleter{reply: "Hello there!"}
	mgr := sessions.NewManager(cfg.Memory.MaxTokens, sessions.WithStore(sessions.NewFileStore(t.TempDir())))
	svc := chat.NewService(chat.Deps{
		Sessions:    mgr,
		Completer:   comp,
		Synthesizer: stubSynth{},
		Bus:         bus,
		Detector:    language.NewDetector(func(string) (string, error) { return "es", nil }),
	}, chat.ParamsFromConfig(cfg))

	srv := NewServer(svc, bus, Options{Gateway: cfg.Gateway, Version: "test", Usage: usage})
	t.Cleanup(srv.hub.Close)
	return &testServer{Server: srv, completer: comp, svc: svc}
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return v
}

type errorEnvelope struct {
	Error struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		Retryable bool   `json:"retryable"`
	} `json:"error"`
}

func TestHandleRoot(t *testing.T) {
	ts := newTestServer(t, nil)
	w := ts.do(t, http.MethodGet, "/", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	body := decode[map[string]any](t, w)
	if body["status"] != "running" || body["version"] != "test" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestHandleChat_Text(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.completer.set("¡Hola! ¿En qué puedo ayudarte?")

	w := ts.do(t, http.MethodPost, "/chat", `{"message": "Hola, ¿cómo estás?", "session_id": "abc"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	raw := w.Body.Bytes()
	if !bytes.Contains(raw, []byte(`"image_data":null`)) {
		t.Errorf("expected explicit null image_data, got %s", raw)
	}
	body := decode[map[string]any](t, w)
	if body["response"] != "¡Hola! ¿En qué puedo ayudarte?" || body["language"] != "es" || body["session_id"] != "abc" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestHandleChat_Image(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.completer.set("Claro. IMAGE_REQUEST: un perro en la playa")

	w := ts.do(t, http.MethodPost, "/chat", `{"message": "dibujar un perro", "session_id": "abc"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	body := decode[map[string]any](t, w)
	if body["response"] != "Claro." {
		t.Errorf("response = %v", body["response"])
	}
	img, _ := body["image_data"].(string)
	data, err := base64.StdEncoding.DecodeString(img)
	if err != nil || string(data) != "PNGDATA" {
		t.Errorf("image_data = %q (%v)", img, err)
	}
}

func TestHandleChat_NewSessionID(t *testing.T) {
	ts := newTestServer(t, nil)
	w := ts.do(t, http.MethodPost, "/chat", `{"message": "hola amigo"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	body := decode[map[string]any](t, w)
	sid, _ := body["session_id"].(string)
	if sessions.ValidateID(sid) != nil {
		t.Fatalf("invalid generated session id %q", sid)
	}
}

func TestHandleChat_BadRequests(t *testing.T) {
	ts := newTestServer(t, nil)

	for _, tc := range []struct {
		name string
		body string
	}{
		{"malformed", `{"message": `},
		{"empty message", `{"message": "  ", "session_id": "abc"}`},
		{"bad session", `{"message": "hola", "session_id": "../../etc"}`},
	} {
		t.Run(tc.name, func(t *testing.T) {
			w := ts.do(t, http.MethodPost, "/chat", tc.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected status 400, got %d", w.Code)
			}
			env := decode[errorEnvelope](t, w)
			if env.Error.Code != CodeInvalidRequest || env.Error.Retryable {
				t.Fatalf("unexpected envelope %+v", env)
			}
		})
	}
}

func TestHandleChat_Timeout(t *testing.T) {
	ts := newTestServer(t, nil)
	p := ts.svc.Params()
	p.Timeout = 20 * time.Millisecond
	ts.svc.SetParams(p)
	ts.completer.mu.Lock()
	ts.completer.block = true
	ts.completer.mu.Unlock()

	w := ts.do(t, http.MethodPost, "/chat", `{"message": "hola amigo", "session_id": "abc"}`)
	if w.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected status 504, got %d", w.Code)
	}
	env := decode[errorEnvelope](t, w)
	if env.Error.Code != CodeTimeout || !env.Error.Retryable {
		t.Fatalf("unexpected envelope %+v", env)
	}
}

func TestHandleChat_RateLimited(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) {
		c.Gateway.RateLimit = 1
		c.Gateway.RateBurst = 1
	})

	if w := ts.do(t, http.MethodPost, "/chat", `{"message": "hola amigo", "session_id": "abc"}`); w.Code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", w.Code)
	}
	w := ts.do(t, http.MethodPost, "/chat", `{"message": "hola amigo", "session_id": "abc"}`)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: expected 429, got %d", w.Code)
	}
	env := decode[errorEnvelope](t, w)
	if env.Error.Code != CodeRateLimited || !env.Error.Retryable {
		t.Fatalf("unexpected envelope %+v", env)
	}
	// other routes are not limited
	if w := ts.do(t, http.MethodGet, "/stats", ""); w.Code != http.StatusOK {
		t.Fatalf("stats: expected 200, got %d", w.Code)
	}
}

func TestHandleClearSession(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.do(t, http.MethodPost, "/chat", `{"message": "hola amigo", "session_id": "abc"}`)

	w := ts.do(t, http.MethodDelete, "/session/abc", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if body := decode[map[string]string](t, w); body["message"] != "Session abc cleared" {
		t.Fatalf("unexpected body %v", body)
	}

	w = ts.do(t, http.MethodDelete, "/session/abc", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if body := decode[map[string]string](t, w); body["message"] != "Session abc not found" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestHandleHealth(t *testing.T) {
	ts := newTestServer(t, nil)
	w := ts.do(t, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	body := decode[map[string]any](t, w)
	if body["status"] != "healthy" || body["text_model_loaded"] != true || body["image_model_loaded"] != true {
		t.Fatalf("unexpected body %v", body)
	}
	if body["device"] != "cuda" || body["text_model"] != "ollama/test" {
		t.Fatalf("unexpected body %v", body)
	}
	langs, _ := body["supported_languages"].([]any)
	if len(langs) != 4 {
		t.Fatalf("expected 4 languages, got %v", body["supported_languages"])
	}
}

func TestHandleStats(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.do(t, http.MethodPost, "/chat", `{"message": "hola amigo", "session_id": "a"}`)
	ts.do(t, http.MethodPost, "/chat", `{"message": "hola otra vez", "session_id": "a"}`)
	ts.do(t, http.MethodPost, "/chat", `{"message": "hola amigo", "session_id": "b"}`)

	w := ts.do(t, http.MethodGet, "/stats", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	body := decode[map[string]any](t, w)
	if body["active_sessions"] != float64(2) || body["total_conversations"] != float64(3) {
		t.Fatalf("unexpected body %v", body)
	}
	if _, ok := body["usage"].(map[string]any); !ok {
		t.Fatalf("expected usage block, got %v", body["usage"])
	}
}

func TestHandleSessions(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodGet, "/sessions", "")
	if body := decode[[]map[string]any](t, w); len(body) != 0 {
		t.Fatalf("expected no sessions, got %d", len(body))
	}

	ts.do(t, http.MethodPost, "/chat", `{"message": "hola amigo", "session_id": "s1"}`)
	ts.do(t, http.MethodPost, "/chat", `{"message": "hola amigo", "session_id": "s2"}`)

	w = ts.do(t, http.MethodGet, "/sessions", "")
	body := decode[[]map[string]any](t, w)
	if len(body) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(body))
	}
}

func TestHandleEvents(t *testing.T) {
	ts := newTestServer(t, nil)
	for i := 0; i < 10; i++ {
		ts.bus.Publish(events.NewTypedEventWithSession(events.SourceGateway, events.ChatRequestPayload{Message: "x"}, "s1"))
	}
	ts.bus.Publish(events.NewTypedEventWithSession(events.SourceGateway, events.ChatRequestPayload{Message: "y"}, "s2"))

	deadline := time.Now().Add(time.Second)
	for len(ts.bus.History(64)) < 11 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	w := ts.do(t, http.MethodGet, "/api/events?limit=5", "")
	if body := decode[[]map[string]any](t, w); len(body) != 5 {
		t.Fatalf("expected 5 events with limit=5, got %d", len(body))
	}

	w = ts.do(t, http.MethodGet, "/api/events?session_id=s2", "")
	body := decode[[]map[string]any](t, w)
	if len(body) != 1 || body[0]["session_id"] != "s2" {
		t.Fatalf("unexpected session events %v", body)
	}

	w = ts.do(t, http.MethodGet, "/api/events?limit=abc", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", w.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodOptions, "/chat", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	ts.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestCORSRestricted(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) {
		c.Gateway.CORSOrigins = []string{"http://ui.local"}
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "http://evil.local")
	w := httptest.NewRecorder()
	ts.Handler().ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unexpected allow origin %q", got)
	}

	req.Header.Set("Origin", "http://ui.local")
	w = httptest.NewRecorder()
	ts.Handler().ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://ui.local" {
		t.Fatalf("Access-Control-Allow-Origin = %q", got)
	}
}
