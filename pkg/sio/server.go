package sio

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	defaultPingInterval = 25 * time.Second
	defaultPingTimeout  = 20 * time.Second
	defaultWriteTimeout = 10 * time.Second
	defaultMaxPayload   = 1_000_000
)

// Engine.IO handshake error codes returned as JSON on rejected requests.
const (
	errCodeTransportUnknown   = 0
	errCodeUnknownSID         = 1
	errCodeBadHandshakeMethod = 2
	errCodeBadRequest         = 3
	errCodeForbidden          = 4
	errCodeUnsupportedEIO     = 5
)

// ErrServerClosed is returned by Emit after Close.
var ErrServerClosed = errors.New("socket server closed")

// Options tunes the event server. Zero values fall back to the Socket.IO defaults.
type Options struct {
	PingInterval time.Duration
	PingTimeout  time.Duration
	WriteTimeout time.Duration
	MaxPayload   int64
	// AllowedOrigins restricts browser origins; empty accepts every origin.
	AllowedOrigins []string
	Logger         *slog.Logger
}

// Server is a Socket.IO v4 server speaking Engine.IO v4 over long-polling and websockets.
type Server struct {
	opts     Options
	log      *slog.Logger
	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.RWMutex
	namespaces map[string]*Namespace
	conns      map[string]*conn
	closed     bool
}

// NewServer builds a server with the default namespace registered.
func NewServer(opts Options) *Server {
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingInterval
	}
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = defaultPingTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.MaxPayload <= 0 {
		opts.MaxPayload = defaultMaxPayload
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		opts:       opts,
		log:        log.With("component", "sio.server"),
		ctx:        ctx,
		cancel:     cancel,
		namespaces: make(map[string]*Namespace),
		conns:      make(map[string]*conn),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	s.Of(defaultNamespace)

	return s
}

// Of returns the namespace with the given name, creating it on first use.
func (s *Server) Of(name string) *Namespace {
	name = normalizeNamespace(name)

	s.mu.Lock()
	defer s.mu.Unlock()

	if ns, ok := s.namespaces[name]; ok {
		return ns
	}

	ns := newNamespace(s, name)
	s.namespaces[name] = ns
	return ns
}

func (s *Server) namespace(name string) (*Namespace, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ns, ok := s.namespaces[normalizeNamespace(name)]
	return ns, ok
}

// Emit sends an event to every socket of the namespace joined to room. It returns once the
// frames are written to the sockets' connections; an empty room is not an error.
func (s *Server) Emit(ctx context.Context, namespace string, room string, event string, args ...any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.isClosed() {
		return ErrServerClosed
	}

	ns, ok := s.namespace(namespace)
	if !ok {
		return nil
	}

	packet, err := eventPacket(ns.name, event, args...)
	if err != nil {
		return err
	}
	frame := packet.Encode()

	for _, socket := range ns.roomSockets(room) {
		if err := socket.conn.write(ctx, frame); err != nil {
			s.log.Debug("Dropped emission to closed socket", "namespace", ns.name, "sid", socket.id, "event", event, "error", err)
		}
	}

	return nil
}

// Connected reports whether a socket with this id is live in the namespace.
func (s *Server) Connected(namespace string, socketID string) bool {
	ns, ok := s.namespace(namespace)
	if !ok {
		return false
	}
	_, ok = ns.socket(socketID)
	return ok
}

// Close disconnects every client and rejects further handshakes.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conns := make([]*conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	s.cancel()
	for _, c := range conns {
		c.close("server shutting down")
	}

	return nil
}

func (s *Server) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// ServeHTTP serves both Engine.IO transports. Long-polling handshakes advertise the websocket
// upgrade; websocket clients may also connect directly.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.isClosed() {
		http.Error(w, "server closed", http.StatusServiceUnavailable)
		return
	}

	query := r.URL.Query()
	transport := query.Get("transport")
	sid := query.Get("sid")

	if transport == "polling" {
		if !s.checkOrigin(r) {
			writeHandshakeError(w, errCodeForbidden, "Forbidden", http.StatusForbidden)
			return
		}
		setCORSHeaders(w, r)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}

	if query.Get("EIO") != "4" {
		writeHandshakeError(w, errCodeUnsupportedEIO, "Unsupported protocol version", http.StatusBadRequest)
		return
	}

	switch {
	case transport == "polling" && sid == "":
		if r.Method != http.MethodGet {
			writeHandshakeError(w, errCodeBadHandshakeMethod, "Bad handshake method", http.StatusBadRequest)
			return
		}
		s.openPolling(w, r)
	case transport == "polling":
		c, ok := s.lookup(sid)
		if !ok {
			writeHandshakeError(w, errCodeUnknownSID, "Session ID unknown", http.StatusBadRequest)
			return
		}
		if c.upgraded() {
			writeHandshakeError(w, errCodeBadRequest, "Bad request", http.StatusBadRequest)
			return
		}
		switch r.Method {
		case http.MethodGet:
			c.poll(w, r)
		case http.MethodPost:
			c.receive(w, r)
		default:
			writeHandshakeError(w, errCodeBadRequest, "Bad request", http.StatusBadRequest)
		}
	case transport == "websocket" && sid == "":
		s.openWebsocket(w, r)
	case transport == "websocket":
		s.upgradePolling(w, r, sid)
	default:
		writeHandshakeError(w, errCodeTransportUnknown, "Transport unknown", http.StatusBadRequest)
	}
}

func (s *Server) openPolling(w http.ResponseWriter, r *http.Request) {
	c := newConn(s, nil, newID())
	if !s.track(c) {
		http.Error(w, "server closed", http.StatusServiceUnavailable)
		return
	}

	open, err := s.openFrame(c, []string{"websocket"})
	if err != nil {
		c.close("handshake encode failed")
		http.Error(w, "handshake failed", http.StatusInternalServerError)
		return
	}

	s.log.Debug("Engine connection opened", "engine_sid", c.sid, "transport", "polling", "remote_addr", r.RemoteAddr)
	go c.pingLoop()
	writePayload(w, []string{open})
}

func (s *Server) openWebsocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("Websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	c := newConn(s, ws, newID())
	if !s.track(c) {
		_ = ws.Close()
		return
	}

	open, err := s.openFrame(c, []string{})
	if err != nil {
		c.close("handshake encode failed")
		return
	}
	if err := c.write(s.ctx, open); err != nil {
		c.close("handshake write failed")
		return
	}

	s.log.Debug("Engine connection opened", "engine_sid", c.sid, "transport", "websocket", "remote_addr", r.RemoteAddr)
	go c.pingLoop()
	c.readLoop()
}

// upgradePolling moves an open long-polling connection onto a websocket.
func (s *Server) upgradePolling(w http.ResponseWriter, r *http.Request, sid string) {
	c, ok := s.lookup(sid)
	if !ok {
		writeHandshakeError(w, errCodeUnknownSID, "Session ID unknown", http.StatusBadRequest)
		return
	}
	if !c.beginUpgrade() {
		writeHandshakeError(w, errCodeBadRequest, "Bad request", http.StatusBadRequest)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.abortUpgrade(nil)
		s.log.Debug("Websocket upgrade failed", "engine_sid", sid, "remote_addr", r.RemoteAddr, "error", err)
		return
	}
	c.upgrade(ws)
}

func (s *Server) openFrame(c *conn, upgrades []string) (string, error) {
	open, err := json.Marshal(openPayload{
		SID:          c.sid,
		Upgrades:     upgrades,
		PingInterval: s.opts.PingInterval.Milliseconds(),
		PingTimeout:  s.opts.PingTimeout.Milliseconds(),
		MaxPayload:   s.opts.MaxPayload,
	})
	if err != nil {
		return "", err
	}
	return string(engineOpen) + string(open), nil
}

func (s *Server) lookup(sid string) (*conn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conns[sid]
	return c, ok
}

func (s *Server) track(c *conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[c.sid] = c
	return true
}

func (s *Server) untrack(c *conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, c.sid)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.opts.AllowedOrigins) == 0 {
		return true
	}

	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if slices.Contains(s.opts.AllowedOrigins, "*") || slices.Contains(s.opts.AllowedOrigins, origin) {
		return true
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(parsed.Host, r.Host)
}

// setCORSHeaders lets browser pages on other origins use the polling transport. Origins are
// checked before this is called.
func setCORSHeaders(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		return
	}
	w.Header().Set("Access-Control-Allow-Origin", origin)
	w.Header().Set("Access-Control-Allow-Credentials", "true")
	w.Header().Add("Vary", "Origin")
	if r.Method == http.MethodOptions {
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if headers := r.Header.Get("Access-Control-Request-Headers"); headers != "" {
			w.Header().Set("Access-Control-Allow-Headers", headers)
		}
	}
}

func writeHandshakeError(w http.ResponseWriter, code int, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"code": code, "message": message})
}

// newID returns a URL-safe random identifier in the style of Socket.IO ids.
func newID() string {
	id := uuid.New()
	return base64.RawURLEncoding.EncodeToString(id[:])
}
