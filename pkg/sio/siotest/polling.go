package siotest

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

const recordSeparator = "\x1e"

// PollingClient drives a server over the long-polling transport, the way socket.io-client
// starts every connection by default.
type PollingClient struct {
	t         testing.TB
	client    *http.Client
	baseURL   string
	path      string
	namespace string
	frames    []string

	EngineSID string
	Upgrades  []string
	SID       string
}

// DialPolling completes the polling handshake against baseURL+path and connects to namespace.
func DialPolling(t testing.TB, baseURL string, path string, namespace string) *PollingClient {
	t.Helper()

	c := &PollingClient{
		t:         t,
		client:    &http.Client{Timeout: readTimeout},
		baseURL:   baseURL,
		path:      path,
		namespace: namespace,
	}

	frames := c.get(baseURL + path + "?EIO=4&transport=polling")
	if len(frames) == 0 || !strings.HasPrefix(frames[0], "0{") {
		t.Fatalf("handshake payload = %q, want open packet", frames)
	}
	var open struct {
		SID      string   `json:"sid"`
		Upgrades []string `json:"upgrades"`
	}
	if err := json.Unmarshal([]byte(frames[0][1:]), &open); err != nil {
		t.Fatalf("decode open packet: %v", err)
	}
	c.EngineSID = open.SID
	c.Upgrades = open.Upgrades

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

func (c *PollingClient) prefix() string {
	return namespacePrefix(c.namespace)
}

// URL is the session's polling endpoint.
func (c *PollingClient) URL() string {
	return c.baseURL + c.path + "?EIO=4&transport=polling&sid=" + c.EngineSID
}

// PostRaw sends Engine.IO frames verbatim in one POST.
func (c *PollingClient) PostRaw(frames ...string) {
	c.t.Helper()

	resp, err := c.client.Post(c.URL(), "text/plain;charset=UTF-8", strings.NewReader(strings.Join(frames, recordSeparator)))
	if err != nil {
		c.t.Fatalf("post frames: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "ok" {
		c.t.Fatalf("post frames: status %d body %q", resp.StatusCode, body)
	}
}

// Send posts Socket.IO packets (without the Engine.IO '4' prefix) in one request.
func (c *PollingClient) Send(packets ...string) {
	c.t.Helper()
	frames := make([]string, 0, len(packets))
	for _, packet := range packets {
		frames = append(frames, "4"+packet)
	}
	c.PostRaw(frames...)
}

// Emit posts an event with JSON-encodable arguments.
func (c *PollingClient) Emit(event string, args ...any) {
	c.t.Helper()
	c.Send("2" + c.prefix() + encodeEvent(c.t, event, args))
}

// Poll issues one long-polling GET and returns the frames it carried.
func (c *PollingClient) Poll() []string {
	c.t.Helper()
	return c.get(c.URL())
}

// ReadFrame returns the next frame, polling as needed and answering pings.
func (c *PollingClient) ReadFrame() string {
	c.t.Helper()

	deadline := time.Now().Add(readTimeout)
	for {
		for len(c.frames) > 0 {
			frame := c.frames[0]
			c.frames = c.frames[1:]
			switch frame {
			case "2":
				c.PostRaw("3")
			case "6":
			default:
				return frame
			}
		}
		if time.Now().After(deadline) {
			c.t.Fatalf("no frame within %s", readTimeout)
		}
		c.frames = append(c.frames, c.Poll()...)
	}
}

// ReadEvent returns the next EVENT frame, failing on anything else.
func (c *PollingClient) ReadEvent() Event {
	c.t.Helper()
	return decodeEvent(c.t, c.ReadFrame(), c.prefix())
}

// Upgrade moves the session onto a websocket with the upgrade handshake. No poll may be
// outstanding when it is called.
func (c *PollingClient) Upgrade() *Client {
	c.t.Helper()

	url := "ws" + strings.TrimPrefix(c.baseURL, "http") + c.path + "?EIO=4&transport=websocket&sid=" + c.EngineSID
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		c.t.Fatalf("dial %s: %v", url, err)
	}
	client := &Client{t: c.t, ws: ws, namespace: c.namespace, SID: c.SID}
	c.t.Cleanup(client.Close)

	client.SendRaw("2probe")
	if frame := client.ReadFrame(); frame != "3probe" {
		c.t.Fatalf("upgrade answer = %q, want 3probe", frame)
	}
	client.SendRaw("5")

	return client
}

func (c *PollingClient) get(url string) []string {
	c.t.Helper()

	resp, err := c.client.Get(url)
	if err != nil {
		c.t.Fatalf("poll %s: %v", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.t.Fatalf("read poll body: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("poll %s: status %d body %q", url, resp.StatusCode, body)
	}
	if len(body) == 0 {
		return nil
	}
	return strings.Split(string(body), recordSeparator)
}
