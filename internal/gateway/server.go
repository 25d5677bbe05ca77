// Package gateway exposes the chat service over HTTP and WebSocket.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dohr-michael/echovision/internal/chat"
	"github.com/dohr-michael/echovision/internal/config"
	"github.com/dohr-michael/echovision/internal/events"
	"github.com/dohr-michael/echovision/internal/gateway/ws"
	"github.com/dohr-michael/echovision/internal/language"
	"github.com/dohr-michael/echovision/internal/sessions"
	"github.com/dohr-michael/echovision/internal/storage"
)

const maxChatBody = 1 << 20

// Options configure a Server.
type Options struct {
	Gateway config.GatewayConfig
	Version string
	Usage   *storage.UsageTracker // optional, served under /stats "usage"
}

// Server is the EchoVision HTTP server.
type Server struct {
	httpServer *http.Server
	hub        *ws.Hub
	bus        *events.Bus
	chat       *chat.Service
	usage      *storage.UsageTracker
	version    string
}

// NewServer creates a new gateway server.
func NewServer(svc *chat.Service, bus *events.Bus, opts Options) *Server {
	s := &Server{
		hub:     ws.NewHub(bus, svc, opts.Gateway.CORSOrigins),
		bus:     bus,
		chat:    svc,
		usage:   opts.Usage,
		version: opts.Version,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(corsHandler(opts.Gateway.CORSOrigins))

	limiter := newRateLimiter(opts.Gateway.RateLimit, opts.Gateway.RateBurst)

	r.Get("/", s.handleRoot)
	r.With(limiter.middleware).Post("/chat", s.handleChat)
	r.Delete("/session/{id}", s.handleClearSession)
	r.Get("/health", s.handleHealth)
	r.Get("/stats", s.handleStats)
	r.Get("/sessions", s.handleSessions)
	r.Get("/api/events", s.handleEvents)
	r.Get("/ws/events", s.hub.ServeWS)

	s.httpServer = &http.Server{
		Addr:    net.JoinHostPort(opts.Gateway.Host, strconv.Itoa(opts.Gateway.Port)),
		Handler: r,
	}
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Start begins listening. It blocks until the server is stopped.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	slog.Info("EchoVision gateway listening", "addr", ln.Addr().String())
	if err := s.httpServer.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.hub.Close()
	return err
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message":  "EchoVision multilingual chat API",
		"status":   "running",
		"version":  s.version,
		"features": []string{"text_chat", "image_generation", "multilingual_support"},
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ws.ChatRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxChatBody))
	if err := dec.Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, CodeInvalidRequest, "invalid JSON body: "+err.Error())
		return
	}

	reply, err := s.chat.Exchange(r.Context(), req.SessionID, req.Message)
	switch {
	case err == nil:
	case errors.Is(err, chat.ErrEmptyMessage), errors.Is(err, sessions.ErrInvalidID):
		writeError(w, r, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return
	case errors.Is(err, chat.ErrTimeout):
		writeError(w, r, http.StatusGatewayTimeout, CodeTimeout, "Request timed out. Please try again.")
		return
	case errors.Is(err, context.Canceled):
		slog.Info("chat request abandoned by client", "session_id", req.SessionID)
		return
	default:
		slog.Error("chat exchange failed", "session_id", req.SessionID, "error", err)
		writeError(w, r, http.StatusInternalServerError, CodeInternal, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, ws.ChatResponse{
		Response:  reply.Text,
		ImageData: ws.EncodeImage(reply.Image),
		Language:  string(reply.Language),
		SessionID: reply.SessionID,
	})
}

func (s *Server) handleClearSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	existed, err := s.chat.Clear(r.Context(), id)
	if err != nil {
		if errors.Is(err, sessions.ErrInvalidID) {
			writeError(w, r, http.StatusBadRequest, CodeInvalidRequest, err.Error())
			return
		}
		slog.Error("clear session", "session_id", id, "error", err)
		writeError(w, r, http.StatusInternalServerError, CodeInternal, "Internal server error")
		return
	}

	msg := fmt.Sprintf("Session %s not found", id)
	if existed {
		msg = fmt.Sprintf("Session %s cleared", id)
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": msg})
}

func supportedLanguages() []string {
	codes := language.Supported()
	out := make([]string, len(codes))
	for i, c := range codes {
		out[i] = string(c)
	}
	return out
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := s.chat.Health(r.Context())
	body := map[string]any{
		"status":              "healthy",
		"text_model_loaded":   h.TextModelLoaded,
		"image_model_loaded":  h.Image.Loaded,
		"text_model":          h.TextModel,
		"image_model":         h.Image.Model,
		"device":              h.Image.Device,
		"supported_languages": supportedLanguages(),
	}
	if h.TextError != "" {
		body["text_model_error"] = h.TextError
	}
	if h.Image.Error != "" {
		body["image_model_error"] = h.Image.Error
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st := s.chat.Stats()
	body := map[string]any{
		"active_sessions":     st.ActiveSessions,
		"total_conversations": st.TotalTurns,
		"total_tokens":        st.TotalTokens,
		"supported_languages": supportedLanguages(),
		"model_info":          s.chat.ModelInfo(),
	}
	if s.usage != nil {
		body["usage"] = s.usage.Snapshot()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.chat.Sessions())
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, r, http.StatusBadRequest, CodeInvalidRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	var history []events.Event
	if sid := r.URL.Query().Get("session_id"); sid != "" {
		history = s.bus.SessionHistory(sid, limit)
	} else {
		history = s.bus.History(limit)
	}
	if history == nil {
		history = []events.Event{}
	}
	writeJSON(w, http.StatusOK, history)
}
