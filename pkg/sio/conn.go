package sio

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// recordSeparator splits packets inside one long-polling payload.
const recordSeparator = "\x1e"

var errConnClosed = errors.New("connection closed")

// conn is one Engine.IO connection, multiplexing sockets of several namespaces. It starts on
// either transport; a polling connection may later upgrade to a websocket.
type conn struct {
	sid    string
	server *Server

	ctx    context.Context
	cancel context.CancelFunc

	// writeMu orders every outgoing frame and guards the transport fields below.
	writeMu   sync.Mutex
	ws        *websocket.Conn
	pending   []string
	upgrading bool
	paused    bool
	flush     chan struct{}

	polling  atomic.Bool
	lastSeen atomic.Int64

	mu      sync.Mutex
	sockets map[string]*Socket
	closed  bool
}

func newConn(server *Server, ws *websocket.Conn, sid string) *conn {
	ctx, cancel := context.WithCancel(server.ctx)
	c := &conn{
		sid:     sid,
		server:  server,
		ws:      ws,
		ctx:     ctx,
		cancel:  cancel,
		flush:   make(chan struct{}, 1),
		sockets: make(map[string]*Socket),
	}
	c.touch()
	return c
}

// write sends one frame on the websocket, or queues it for the next poll. Frames from
// concurrent callers are serialized, and frames from a single caller keep their call order.
func (c *conn) write(ctx context.Context, frame string) error {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.isClosed() {
		return errConnClosed
	}

	if c.ws == nil {
		c.pending = append(c.pending, frame)
		c.signal()
		return nil
	}

	_ = c.ws.SetWriteDeadline(time.Now().Add(c.server.opts.WriteTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, []byte(frame))
}

func (c *conn) signal() {
	select {
	case c.flush <- struct{}{}:
	default:
	}
}

func (c *conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *conn) touch() {
	c.lastSeen.Store(time.Now().UnixNano())
}

func (c *conn) idle() time.Duration {
	return time.Since(time.Unix(0, c.lastSeen.Load()))
}

func (c *conn) readDeadline() time.Time {
	return time.Now().Add(c.server.opts.PingInterval + c.server.opts.PingTimeout)
}

// handleFrame processes one Engine.IO packet from either transport. A non-empty result is the
// reason the connection must close.
func (c *conn) handleFrame(frame string) string {
	c.touch()
	if frame == "" {
		return ""
	}

	switch frame[0] {
	case engineClose:
		return "client close"
	case enginePing:
		_ = c.write(c.ctx, string(enginePong)+frame[1:])
	case engineMessage:
		c.handlePacket(frame[1:])
	case enginePong, engineNoop, engineUpgrade:
	default:
		c.server.log.Debug("Ignoring unknown engine packet", "engine_sid", c.sid, "type", string(frame[0]))
	}
	return ""
}

func (c *conn) readLoop() {
	reason := "transport close"
	defer func() { c.close(reason) }()

	c.ws.SetReadLimit(c.server.opts.MaxPayload)
	_ = c.ws.SetReadDeadline(c.readDeadline())

	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			var netErr interface{ Timeout() bool }
			if errors.As(err, &netErr) && netErr.Timeout() {
				reason = "ping timeout"
			}
			return
		}
		_ = c.ws.SetReadDeadline(c.readDeadline())

		if kind != websocket.TextMessage {
			continue
		}
		if closeReason := c.handleFrame(string(data)); closeReason != "" {
			reason = closeReason
			return
		}
	}
}

// pingLoop sends heartbeats and closes the connection once the client stops answering.
func (c *conn) pingLoop() {
	ticker := time.NewTicker(c.server.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if c.idle() > c.server.opts.PingInterval+c.server.opts.PingTimeout {
				c.close("ping timeout")
				return
			}
			if err := c.write(c.ctx, string(enginePing)); err != nil {
				return
			}
		}
	}
}

// poll answers a long-polling GET with the queued frames, waiting for some when the queue is
// empty. Only one poll may be outstanding per connection.
func (c *conn) poll(w http.ResponseWriter, r *http.Request) {
	if !c.polling.CompareAndSwap(false, true) {
		writeHandshakeError(w, errCodeBadRequest, "Bad request", http.StatusBadRequest)
		c.close("overlapping polls")
		return
	}
	defer c.polling.Store(false)
	c.touch()

	timer := time.NewTimer(c.server.opts.PingInterval + c.server.opts.PingTimeout)
	defer timer.Stop()

	for {
		frames, paused := c.takePending()
		switch {
		case len(frames) > 0:
			writePayload(w, frames)
			return
		case paused:
			writePayload(w, []string{string(engineNoop)})
			return
		}

		select {
		case <-c.flush:
		case <-c.ctx.Done():
			writePayload(w, []string{string(engineClose)})
			return
		case <-r.Context().Done():
			return
		case <-timer.C:
			writePayload(w, []string{string(engineNoop)})
			return
		}
	}
}

func (c *conn) takePending() ([]string, bool) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	frames := c.pending
	c.pending = nil
	return frames, c.paused || c.ws != nil
}

// receive handles a long-polling POST carrying one or more packets.
func (c *conn) receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, c.server.opts.MaxPayload+1))
	if err != nil {
		writeHandshakeError(w, errCodeBadRequest, "Bad request", http.StatusBadRequest)
		return
	}
	if int64(len(body)) > c.server.opts.MaxPayload {
		http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
		c.close("payload too large")
		return
	}

	for _, frame := range strings.Split(string(body), recordSeparator) {
		if reason := c.handleFrame(frame); reason != "" {
			c.close(reason)
			break
		}
	}

	w.Header().Set("Content-Type", "text/html")
	_, _ = w.Write([]byte("ok"))
}

func (c *conn) upgraded() bool {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws != nil
}

// beginUpgrade reserves the connection for a websocket upgrade.
func (c *conn) beginUpgrade() bool {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.ws != nil || c.upgrading || c.isClosed() {
		return false
	}
	c.upgrading = true
	return true
}

func (c *conn) abortUpgrade(ws *websocket.Conn) {
	c.writeMu.Lock()
	c.upgrading = false
	c.paused = false
	c.writeMu.Unlock()
	c.signal()
	if ws != nil {
		_ = ws.Close()
	}
}

// upgrade runs the upgrade handshake on ws, moves the connection onto it and then serves it.
func (c *conn) upgrade(ws *websocket.Conn) {
	_ = ws.SetReadDeadline(time.Now().Add(c.server.opts.PingTimeout))

	_, data, err := ws.ReadMessage()
	if err != nil || string(data) != string(enginePing)+"probe" {
		c.abortUpgrade(ws)
		return
	}
	_ = ws.SetWriteDeadline(time.Now().Add(c.server.opts.WriteTimeout))
	if err := ws.WriteMessage(websocket.TextMessage, []byte(string(enginePong)+"probe")); err != nil {
		c.abortUpgrade(ws)
		return
	}
	// A poll still waiting returns a noop so the client can pause polling.
	c.writeMu.Lock()
	c.paused = true
	c.writeMu.Unlock()
	c.signal()

	_, data, err = ws.ReadMessage()
	if err != nil || string(data) != string(engineUpgrade) {
		c.abortUpgrade(ws)
		return
	}

	c.writeMu.Lock()
	if c.isClosed() {
		c.upgrading = false
		c.paused = false
		c.writeMu.Unlock()
		_ = ws.Close()
		return
	}
	c.ws = ws
	c.upgrading = false
	c.paused = false
	pending := c.pending
	c.pending = nil
	for _, frame := range pending {
		_ = ws.SetWriteDeadline(time.Now().Add(c.server.opts.WriteTimeout))
		if err := ws.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			break
		}
	}
	c.writeMu.Unlock()

	c.server.log.Debug("Engine connection upgraded", "engine_sid", c.sid)
	c.readLoop()
}

func (c *conn) handlePacket(raw string) {
	packet, err := decodePacket(raw)
	if err != nil {
		c.server.log.Warn("Dropping malformed packet", "engine_sid", c.sid, "error", err)
		return
	}

	switch packet.Type {
	case PacketConnect:
		c.connectNamespace(packet)
	case PacketDisconnect:
		if socket := c.detach(packet.Namespace); socket != nil {
			c.finishSocket(socket, "client namespace disconnect")
		}
	case PacketEvent:
		c.dispatchEvent(packet)
	case PacketAck:
	case PacketBinaryEvent, PacketBinaryAck:
		c.server.log.Warn("Binary packets are not supported", "engine_sid", c.sid, "namespace", packet.Namespace)
	default:
		c.server.log.Debug("Ignoring packet", "engine_sid", c.sid, "type", string(packet.Type))
	}
}

func (c *conn) connectNamespace(packet Packet) {
	ns, ok := c.server.namespace(packet.Namespace)
	if !ok {
		c.connectError(packet.Namespace, "Invalid namespace")
		return
	}

	c.mu.Lock()
	_, exists := c.sockets[ns.name]
	c.mu.Unlock()
	if exists {
		return
	}

	socket := newSocket(ns, c)

	if fn := ns.connectHandler(); fn != nil {
		if err := fn(socket, packet.Data); err != nil {
			socket.cancel()
			c.connectError(ns.name, err.Error())
			return
		}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		socket.cancel()
		return
	}
	c.sockets[ns.name] = socket
	c.mu.Unlock()
	ns.add(socket)
	go socket.run()

	data, _ := json.Marshal(map[string]string{"sid": socket.id})
	if err := c.write(c.ctx, Packet{Type: PacketConnect, Namespace: ns.name, Data: data}.Encode()); err != nil {
		c.server.log.Debug("Failed to confirm namespace connection", "engine_sid", c.sid, "error", err)
	}
}

func (c *conn) connectError(namespace string, message string) {
	data, _ := json.Marshal(map[string]string{"message": message})
	_ = c.write(c.ctx, Packet{Type: PacketConnectError, Namespace: namespace, Data: data}.Encode())
}

// dispatchEvent queues the event on its socket, whose worker runs handlers in arrival order.
func (c *conn) dispatchEvent(packet Packet) {
	c.mu.Lock()
	socket, ok := c.sockets[normalizeNamespace(packet.Namespace)]
	c.mu.Unlock()
	if !ok {
		c.server.log.Debug("Event for unconnected namespace", "engine_sid", c.sid, "namespace", packet.Namespace)
		return
	}

	event, args, err := splitEvent(packet.Data)
	if err != nil {
		c.server.log.Warn("Dropping malformed event", "sid", socket.id, "error", err)
		return
	}

	handler, ok := socket.namespace.eventHandler(event)
	if !ok {
		c.server.log.Debug("No handler registered for event", "sid", socket.id, "event", event)
		return
	}

	socket.enqueue(queuedEvent{handler: handler, args: args, packet: packet})
}

// detach removes the connection's socket for a namespace and returns it, or nil.
func (c *conn) detach(namespace string) *Socket {
	c.mu.Lock()
	defer c.mu.Unlock()

	name := normalizeNamespace(namespace)
	socket, ok := c.sockets[name]
	if !ok {
		return nil
	}
	delete(c.sockets, name)
	return socket
}

func (c *conn) finishSocket(socket *Socket, reason string) {
	socket.cancel()
	if !socket.namespace.remove(socket) {
		return
	}
	if fn := socket.namespace.disconnectHandler(); fn != nil {
		fn(socket, reason)
	}
}

// close tears down every namespace socket and the transport. It is safe to call twice.
func (c *conn) close(reason string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	sockets := make([]*Socket, 0, len(c.sockets))
	for name, socket := range c.sockets {
		sockets = append(sockets, socket)
		delete(c.sockets, name)
	}
	c.mu.Unlock()

	for _, socket := range sockets {
		c.finishSocket(socket, reason)
	}

	c.cancel()
	c.server.untrack(c)

	c.writeMu.Lock()
	if c.ws != nil {
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = c.ws.Close()
	}
	c.writeMu.Unlock()

	c.server.log.Debug("Engine connection closed", "engine_sid", c.sid, "reason", reason)
}

// writePayload renders frames as one long-polling response body.
func writePayload(w http.ResponseWriter, frames []string) {
	w.Header().Set("Content-Type", "text/plain; charset=UTF-8")
	_, _ = w.Write([]byte(strings.Join(frames, recordSeparator)))
}
