package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/dohr-michael/echovision/internal/chat"
	"github.com/dohr-michael/echovision/internal/events"
	"github.com/dohr-michael/echovision/internal/language"
)

type echoExchanger struct{}

func (echoExchanger) Exchange(_ context.Context, sessionID, message string) (*chat.Reply, error) {
	if message == "slow" {
		return nil, fmt.Errorf("%w: upstream", chat.ErrTimeout)
	}
	return &chat.Reply{Text: "echo: " + message, Language: language.English, SessionID: sessionID, Image: []byte("png")}, nil
}

func dialHub(t *testing.T, bus *events.Bus, query string) (*websocket.Conn, *Hub) {
	t.Helper()
	hub := NewHub(bus, echoExchanger{}, []string{"*"})
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })

	deadline := time.Now().Add(time.Second)
	for hub.Clients() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	return conn, hub
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	f, err := UnmarshalFrame(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return f
}

func writeFrame(t *testing.T, conn *websocket.Conn, f Frame) {
	t.Helper()
	data, err := MarshalFrame(f)
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.Write(context.Background(), websocket.MessageText, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestHub_Chat(t *testing.T) {
	bus := events.NewBus(16)
	defer bus.Close()
	conn, _ := dialHub(t, bus, "")

	params, _ := json.Marshal(ChatRequest{Message: "hello", SessionID: "s1"})
	writeFrame(t, conn, Frame{Type: FrameTypeRequest, ID: "1", Method: string(MethodChat), Params: params})

	f := readFrame(t, conn)
	if f.Type != FrameTypeResponse || f.ID != "1" || f.OK == nil || !*f.OK {
		t.Fatalf("unexpected frame %+v", f)
	}
	var resp ChatResponse
	if err := json.Unmarshal(f.Payload, &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Response != "echo: hello" || resp.SessionID != "s1" || resp.Language != "en" {
		t.Errorf("unexpected response %+v", resp)
	}
	if resp.ImageData == nil || *resp.ImageData != "cG5n" {
		t.Errorf("unexpected image data %v", resp.ImageData)
	}
}

func TestHub_ChatTimeout(t *testing.T) {
	bus := events.NewBus(16)
	defer bus.Close()
	conn, _ := dialHub(t, bus, "")

	params, _ := json.Marshal(ChatRequest{Message: "slow", SessionID: "s1"})
	writeFrame(t, conn, Frame{Type: FrameTypeRequest, ID: "2", Method: string(MethodChat), Params: params})

	f := readFrame(t, conn)
	if f.OK == nil || *f.OK || !strings.Contains(f.Error, "timed out") {
		t.Fatalf("unexpected frame %+v", f)
	}
}

func TestHub_UnknownMethod(t *testing.T) {
	bus := events.NewBus(16)
	defer bus.Close()
	conn, _ := dialHub(t, bus, "")

	writeFrame(t, conn, Frame{Type: FrameTypeRequest, ID: "3", Method: "reboot"})
	f := readFrame(t, conn)
	if f.OK == nil || *f.OK || f.Error != "unknown method: reboot" {
		t.Fatalf("unexpected frame %+v", f)
	}
}

func TestHub_SessionFilter(t *testing.T) {
	bus := events.NewBus(16)
	defer bus.Close()
	conn, _ := dialHub(t, bus, "?session_id=mine")

	bus.Publish(events.NewTypedEventWithSession(events.SourceChat, events.ChatRequestPayload{Message: "other"}, "theirs"))
	bus.Publish(events.NewTypedEventWithSession(events.SourceChat, events.ChatRequestPayload{Message: "own"}, "mine"))

	f := readFrame(t, conn)
	if f.Type != FrameTypeEvent || f.SessionID != "mine" || f.Event != string(events.EventChatRequest) {
		t.Fatalf("unexpected frame %+v", f)
	}

	// widen the filter to every session
	writeFrame(t, conn, Frame{Type: FrameTypeRequest, ID: "4", Method: string(MethodSubscribe)})
	if f := readFrame(t, conn); f.Type != FrameTypeResponse || f.ID != "4" {
		t.Fatalf("unexpected frame %+v", f)
	}

	bus.Publish(events.NewTypedEventWithSession(events.SourceChat, events.ChatReplyPayload{Text: "x"}, "theirs"))
	f = readFrame(t, conn)
	if f.SessionID != "theirs" || f.Event != string(events.EventChatReply) {
		t.Fatalf("unexpected frame %+v", f)
	}
}

func TestSendResponse_WaitsForQueueSpace(t *testing.T) {
	c := &Client{send: make(chan []byte, 1)}
	c.send <- []byte("event")

	done := make(chan struct{})
	go func() {
		c.sendOK(context.Background(), "req-1", ChatResponse{Response: "hi"})
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("response returned while the queue was full")
	case <-time.After(30 * time.Millisecond):
	}

	if got := string(<-c.send); got != "event" {
		t.Fatalf("first queued = %q, want event", got)
	}
	<-done

	f, err := UnmarshalFrame(<-c.send)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if f.Type != FrameTypeResponse || f.ID != "req-1" || f.OK == nil || !*f.OK {
		t.Errorf("frame = %+v", f)
	}
}

func TestSendResponse_GivesUpWhenConnectionGone(t *testing.T) {
	c := &Client{send: make(chan []byte, 1)}
	c.send <- []byte("event")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		c.sendError(ctx, "req-2", "boom")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sendError blocked after the connection context ended")
	}
}
