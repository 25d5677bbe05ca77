// Package ws serves the live event feed and a chat method over WebSocket.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/dohr-michael/echovision/internal/chat"
	"github.com/dohr-michael/echovision/internal/events"
)

// Exchanger runs one chat exchange.
type Exchanger interface {
	Exchange(ctx context.Context, sessionID, message string) (*chat.Reply, error)
}

// Client represents a connected WebSocket client.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	mu      sync.RWMutex
	session string // event filter, "" for all sessions
}

func (c *Client) wants(sessionID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session == "" || c.session == sessionID
}

// Hub manages WebSocket clients and bridges them to the event bus.
type Hub struct {
	mu          sync.RWMutex
	clients     map[*Client]struct{}
	chat        Exchanger
	origins     []string
	unsubscribe func()
	wg          sync.WaitGroup
}

// NewHub creates a hub broadcasting bus events. origins are the allowed
// Origin patterns; "*" allows any.
func NewHub(bus *events.Bus, chat Exchanger, origins []string) *Hub {
	h := &Hub{
		clients: make(map[*Client]struct{}),
		chat:    chat,
		origins: origins,
	}

	h.unsubscribe = bus.Subscribe(func(e events.Event) {
		frame, err := NewEventFrame(string(e.Type), e.SessionID, e)
		if err != nil {
			slog.Error("marshal event frame", "error", err)
			return
		}
		data, err := MarshalFrame(frame)
		if err != nil {
			slog.Error("marshal frame", "error", err)
			return
		}
		h.broadcast(e.SessionID, data)
	})

	return h
}

// broadcast sends data to every client interested in sessionID.
func (h *Hub) broadcast(sessionID string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		if !c.wants(sessionID) {
			continue
		}
		select {
		case c.send <- data:
		default:
			// Client too slow, skip
		}
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	slog.Info("ws client connected", "clients", len(h.clients))
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		slog.Info("ws client disconnected", "clients", len(h.clients))
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS handles a WebSocket upgrade and manages the client lifecycle.
// The session_id query parameter pre-sets the event filter.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{OriginPatterns: h.origins}
	for _, o := range h.origins {
		if o == "*" {
			opts = &websocket.AcceptOptions{InsecureSkipVerify: true}
			break
		}
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		slog.Error("ws accept", "error", err)
		return
	}

	client := &Client{
		conn:    conn,
		send:    make(chan []byte, 256),
		hub:     h,
		session: r.URL.Query().Get("session_id"),
	}

	h.register(client)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		client.writePump(ctx)
		cancel()
	}()
	client.readPump(ctx)
}

// readPump reads frames from the WS connection and dispatches them.
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("ws read closed", "status", websocket.CloseStatus(err))
			} else {
				slog.Debug("ws read error", "error", err)
			}
			return
		}

		frame, err := UnmarshalFrame(data)
		if err != nil {
			slog.Error("ws unmarshal frame", "error", err)
			continue
		}

		if frame.Type != FrameTypeRequest {
			slog.Debug("ws unknown frame type", "type", frame.Type)
			continue
		}
		c.handleRequest(ctx, frame)
	}
}

// handleRequest processes a request frame (method dispatch).
func (c *Client) handleRequest(ctx context.Context, frame Frame) {
	switch Method(frame.Method) {
	case MethodChat:
		var params ChatRequest
		if err := json.Unmarshal(frame.Params, &params); err != nil {
			c.sendError(ctx, frame.ID, "invalid params")
			return
		}
		// Exchanges take seconds; keep reading frames meanwhile.
		c.hub.wg.Add(1)
		go func() {
			defer c.hub.wg.Done()
			reply, err := c.hub.chat.Exchange(ctx, params.SessionID, params.Message)
			if err != nil {
				msg := err.Error()
				if errors.Is(err, chat.ErrTimeout) {
					msg = "request timed out, please try again"
				}
				c.sendError(ctx, frame.ID, msg)
				return
			}
			c.sendOK(ctx, frame.ID, ChatResponse{
				Response:  reply.Text,
				ImageData: EncodeImage(reply.Image),
				Language:  string(reply.Language),
				SessionID: reply.SessionID,
			})
		}()

	case MethodSubscribe:
		var params SubscribeParams
		if len(frame.Params) > 0 {
			if err := json.Unmarshal(frame.Params, &params); err != nil {
				c.sendError(ctx, frame.ID, "invalid params")
				return
			}
		}
		c.mu.Lock()
		c.session = params.SessionID
		c.mu.Unlock()
		c.sendOK(ctx, frame.ID, params)

	default:
		c.sendError(ctx, frame.ID, "unknown method: "+frame.Method)
	}
}

// writePump writes queued messages to the WS connection.
func (c *Client) writePump(ctx context.Context) {
	for {
		select {
		case msg := <-c.send:
			if err := c.conn.Write(ctx, websocket.MessageText, msg); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) sendOK(ctx context.Context, id string, payload any) {
	c.sendResponse(ctx, id, true, payload, "")
}

func (c *Client) sendError(ctx context.Context, id string, errMsg string) {
	c.sendResponse(ctx, id, false, nil, errMsg)
}

// sendResponse queues a response frame. Unlike broadcast events, responses
// wait for queue space until the connection goes away.
func (c *Client) sendResponse(ctx context.Context, id string, ok bool, payload any, errMsg string) {
	f, err := NewResponseFrame(id, ok, payload, errMsg)
	if err != nil {
		slog.Error("ws response frame", "id", id, "error", err)
		return
	}
	data, err := MarshalFrame(f)
	if err != nil {
		slog.Error("ws marshal response", "id", id, "error", err)
		return
	}
	select {
	case c.send <- data:
	case <-ctx.Done():
		slog.Warn("ws response dropped, connection closed", "id", id)
	}
}

// Close shuts down the hub and all client connections.
func (h *Hub) Close() {
	if h.unsubscribe != nil {
		h.unsubscribe()
	}
	h.mu.Lock()
	for c := range h.clients {
		c.conn.Close(websocket.StatusGoingAway, "server shutdown")
		delete(h.clients, c)
	}
	h.mu.Unlock()
	h.wg.Wait()
}
