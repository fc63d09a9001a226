// Package siotest provides minimal Socket.IO clients for tests, over websockets or long-polling.
package siotest

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

const readTimeout = 2 * time.Second

// Client speaks just enough Engine.IO/Socket.IO to drive a server from tests.
type Client struct {
	t         testing.TB
	ws        *websocket.Conn
	namespace string
	SID       string
}

// Event is a decoded EVENT frame.
type Event struct {
	Name string
	Args []json.RawMessage
}

// Dial opens a websocket to baseURL+path, completes the Engine.IO handshake and connects to namespace.
func Dial(t testing.TB, baseURL string, path string, namespace string) *Client {
	t.Helper()

	url := "ws" + strings.TrimPrefix(baseURL, "http") + path + "?EIO=4&transport=websocket"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}

	c := &Client{t: t, ws: ws, namespace: namespace}
	t.Cleanup(c.Close)

	open := c.ReadFrame()
	if !strings.HasPrefix(open, "0{") {
		t.Fatalf("handshake frame = %q, want open packet", open)
	}

	c.Send("0" + c.prefix())
	connected := c.ReadFrame()
	want := "40" + c.prefix()
	if !strings.HasPrefix(connected, want+"{") {
		t.Fatalf("connect frame = %q, want prefix %q", connected, want)
	}

	var body struct {
		SID string `json:"sid"`
	}
	if err := json.Unmarshal([]byte(strings.TrimPrefix(connected, want)), &body); err != nil {
		t.Fatalf("decode connect frame: %v", err)
	}
	c.SID = body.SID

	return c
}

func (c *Client) prefix() string {
	return namespacePrefix(c.namespace)
}

// Send writes a raw Socket.IO packet (without the Engine.IO '4' prefix).
func (c *Client) Send(packet string) {
	c.t.Helper()
	if err := c.ws.WriteMessage(websocket.TextMessage, []byte("4"+packet)); err != nil {
		c.t.Fatalf("write packet: %v", err)
	}
}

// SendRaw writes a frame verbatim.
func (c *Client) SendRaw(frame string) {
	c.t.Helper()
	if err := c.ws.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		c.t.Fatalf("write frame: %v", err)
	}
}

// Emit sends an event with JSON-encodable arguments.
func (c *Client) Emit(event string, args ...any) {
	c.t.Helper()
	c.Send("2" + c.prefix() + encodeEvent(c.t, event, args))
}

// ReadFrame returns the next frame, answering server pings transparently.
func (c *Client) ReadFrame() string {
	c.t.Helper()
	for {
		_ = c.ws.SetReadDeadline(time.Now().Add(readTimeout))
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.t.Fatalf("read frame: %v", err)
		}
		frame := string(data)
		if frame == "2" {
			_ = c.ws.WriteMessage(websocket.TextMessage, []byte("3"))
			continue
		}
		return frame
	}
}

// ReadEvent returns the next EVENT frame, failing on anything else.
func (c *Client) ReadEvent() Event {
	c.t.Helper()
	return decodeEvent(c.t, c.ReadFrame(), c.prefix())
}

func decodeEvent(t testing.TB, frame string, prefix string) Event {
	t.Helper()

	want := "42" + prefix
	if !strings.HasPrefix(frame, want) {
		t.Fatalf("frame = %q, want event prefix %q", frame, want)
	}

	var items []json.RawMessage
	if err := json.Unmarshal([]byte(strings.TrimPrefix(frame, want)), &items); err != nil {
		t.Fatalf("decode event frame %q: %v", frame, err)
	}
	if len(items) == 0 {
		t.Fatalf("event frame %q has no name", frame)
	}

	var name string
	if err := json.Unmarshal(items[0], &name); err != nil {
		t.Fatalf("decode event name: %v", err)
	}
	return Event{Name: name, Args: items[1:]}
}

func namespacePrefix(namespace string) string {
	if namespace == "" || namespace == "/" {
		return ""
	}
	return namespace + ","
}

func encodeEvent(t testing.TB, event string, args []any) string {
	t.Helper()
	items := append([]any{event}, args...)
	data, err := json.Marshal(items)
	if err != nil {
		t.Fatalf("encode event: %v", err)
	}
	return string(data)
}

// ExpectSilence fails if any non-ping frame arrives within d. A timed-out read breaks the
// websocket, so it must be the last read made on the client.
func (c *Client) ExpectSilence(d time.Duration) {
	c.t.Helper()
	_ = c.ws.SetReadDeadline(time.Now().Add(d))
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		if string(data) == "2" {
			continue
		}
		c.t.Fatalf("unexpected frame %q", data)
	}
}

// Close disconnects the websocket; it is safe to call more than once.
func (c *Client) Close() {
	_ = c.ws.Close()
}
