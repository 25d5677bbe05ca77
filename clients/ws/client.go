// Package ws provides a WebSocket client for the EchoVision event feed.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/coder/websocket"

	wsprotocol "github.com/dohr-michael/echovision/internal/gateway/ws"
)

// Client is a WebSocket client for the gateway's /ws/events endpoint.
type Client struct {
	conn   *websocket.Conn
	reqSeq uint64
	ctx    context.Context
	cancel context.CancelFunc
}

// EventsURL turns an http(s) base URL into the /ws/events URL, filtered to
// sessionID when non-empty.
func EventsURL(baseURL, sessionID string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http", "":
		u.Scheme = "ws"
	}
	u.Path += "/ws/events"
	if sessionID != "" {
		u.RawQuery = url.Values{"session_id": {sessionID}}.Encode()
	}
	return u.String(), nil
}

// Dial connects to the gateway WebSocket endpoint.
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("ws dial: %w", err)
	}
	conn.SetReadLimit(32 << 20) // chat responses carry base64 images

	clientCtx, cancel := context.WithCancel(ctx)

	return &Client{
		conn:   conn,
		ctx:    clientCtx,
		cancel: cancel,
	}, nil
}

// Chat sends a chat request and returns its frame id. The reply arrives as
// a response frame with the same id.
func (c *Client) Chat(sessionID, message string) (string, error) {
	return c.request(wsprotocol.MethodChat, wsprotocol.ChatRequest{Message: message, SessionID: sessionID})
}

// Subscribe narrows event frames to sessionID ("" for all sessions).
func (c *Client) Subscribe(sessionID string) (string, error) {
	return c.request(wsprotocol.MethodSubscribe, wsprotocol.SubscribeParams{SessionID: sessionID})
}

func (c *Client) request(method wsprotocol.Method, params any) (string, error) {
	seq := atomic.AddUint64(&c.reqSeq, 1)
	id := fmt.Sprintf("req-%d", seq)

	raw, err := json.Marshal(params)
	if err != nil {
		return "", err
	}

	data, err := wsprotocol.MarshalFrame(wsprotocol.Frame{
		Type:   wsprotocol.FrameTypeRequest,
		ID:     id,
		Method: string(method),
		Params: raw,
	})
	if err != nil {
		return "", err
	}
	return id, c.conn.Write(c.ctx, websocket.MessageText, data)
}

// ReadFrame reads the next frame from the connection.
func (c *Client) ReadFrame() (wsprotocol.Frame, error) {
	_, data, err := c.conn.Read(c.ctx)
	if err != nil {
		return wsprotocol.Frame{}, err
	}
	return wsprotocol.UnmarshalFrame(data)
}

// Close gracefully closes the connection.
func (c *Client) Close() error {
	c.cancel()
	return c.conn.Close(websocket.StatusNormalClosure, "bye")
}
