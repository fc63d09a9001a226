package socketio

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"

	"shopchat/pkg/bus"
	"shopchat/pkg/channel"
	"shopchat/pkg/config"
	"shopchat/pkg/session"
	"shopchat/pkg/sio"
)

const (
	channelName         = "socketio"
	sessionRequestEvent = "session_request"
	sessionConfirmEvent = "session_confirm"
	livenessPath        = "/webhooks/socketio/"
)

// messagePayload is the body of a user message event.
type messagePayload struct {
	Message    any            `json:"message"`
	SessionID  any            `json:"session_id"`
	CustomData map[string]any `json:"customData"`
}

// Adapter serves browser clients over Socket.IO and forwards their messages to the dialogue manager.
type Adapter struct {
	cfg       config.SocketIOConfig
	server    *sio.Server
	namespace *sio.Namespace
	registry  session.Registry
	events    *bus.MessageBus
	log       *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	handler channel.Handler
}

// NewAdapter builds the socket channel. registry is required when session persistence is enabled;
// events may be nil.
func NewAdapter(cfg config.SocketIOConfig, registry session.Registry, events *bus.MessageBus, log *slog.Logger) (*Adapter, error) {
	if cfg.SessionPersistence && registry == nil {
		return nil, errors.New("channels.socketio.session_persistence requires a session registry")
	}
	if strings.TrimSpace(cfg.UserMessageEvent) == "" {
		cfg.UserMessageEvent = config.DefaultUserMessageEvent
	}
	if strings.TrimSpace(cfg.BotMessageEvent) == "" {
		cfg.BotMessageEvent = config.DefaultBotMessageEvent
	}
	if strings.TrimSpace(cfg.Path) == "" {
		cfg.Path = config.DefaultSocketIOPath
	}
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "channel.socketio")

	server := sio.NewServer(sio.Options{AllowedOrigins: cfg.AllowedOrigins, Logger: log})
	ctx, cancel := context.WithCancel(context.Background())

	a := &Adapter{
		cfg:       cfg,
		server:    server,
		namespace: server.Of(cfg.Namespace),
		registry:  registry,
		events:    events,
		log:       log,
		ctx:       ctx,
		cancel:    cancel,
	}
	a.register()

	return a, nil
}

// Name returns the channel identifier used in inbound messages and logs.
func (a *Adapter) Name() string {
	return channelName
}

// SocketPath is the HTTP path the event server is mounted on.
func (a *Adapter) SocketPath() string {
	path := "/" + strings.Trim(a.cfg.Path, "/")
	if path == "/" {
		return config.DefaultSocketIOPath
	}
	return path
}

// Mount attaches the event server and the liveness route to mux.
func (a *Adapter) Mount(mux *http.ServeMux, handler channel.Handler) {
	a.mu.Lock()
	a.handler = handler
	a.mu.Unlock()

	path := a.SocketPath()
	mux.Handle(path, a.server)
	mux.Handle(path+"/", a.server)
	mux.HandleFunc("GET "+livenessPath, handleLiveness)
}

// Run keeps the channel alive until ctx ends, then disconnects every client.
func (a *Adapter) Run(ctx context.Context, handler channel.Handler) error {
	if handler == nil {
		return errors.New("handler is required")
	}

	a.mu.Lock()
	if a.handler == nil {
		a.mu.Unlock()
		return errors.New("socketio channel must be mounted before it runs")
	}
	a.handler = handler
	a.mu.Unlock()

	a.log.Info("Socket channel started",
		"path", a.SocketPath(),
		"namespace", a.namespace.Name(),
		"user_message_evt", a.cfg.UserMessageEvent,
		"bot_message_evt", a.cfg.BotMessageEvent,
		"session_persistence", a.cfg.SessionPersistence,
	)

	<-ctx.Done()
	// Disconnect handlers still need the adapter context to unbind sessions.
	err := a.server.Close()
	a.cancel()
	return err
}

func (a *Adapter) register() {
	a.namespace.OnConnect(a.onConnect)
	a.namespace.OnDisconnect(a.onDisconnect)
	a.namespace.OnEvent(sessionRequestEvent, a.onSessionRequest)
	a.namespace.OnEvent(a.cfg.UserMessageEvent, a.onUserMessage)
}

func (a *Adapter) onConnect(s *sio.Socket, _ json.RawMessage) error {
	a.log.Debug("User connected to socket endpoint", "sid", s.ID())
	return nil
}

func (a *Adapter) onDisconnect(s *sio.Socket, reason string) {
	a.log.Debug("User disconnected from socket endpoint", "sid", s.ID(), "reason", reason)
	if a.cfg.SessionPersistence {
		if err := a.registry.UnbindSocket(a.ctx, s.ID()); err != nil {
			a.log.Warn("Failed to unbind socket sessions", "sid", s.ID(), "error", err)
		}
	}
}

// onSessionRequest echoes the client's session id, minting one when the client has none.
func (a *Adapter) onSessionRequest(ctx context.Context, s *sio.Socket, args []json.RawMessage) {
	var payload map[string]any
	if len(args) > 0 {
		_ = json.Unmarshal(args[0], &payload)
	}

	sessionID := stringValue(payload["session_id"])
	if sessionID == "" {
		sessionID = NewSessionID()
	}

	if a.cfg.SessionPersistence {
		if err := a.registry.Bind(a.ctx, sessionID, s.ID()); err != nil {
			a.log.Warn("Failed to bind session", "sid", s.ID(), "session_id", sessionID, "error", err)
		}
	}

	if err := a.namespace.Emit(ctx, s.ID(), sessionConfirmEvent, sessionID); err != nil {
		a.log.Warn("Failed to confirm session", "sid", s.ID(), "error", err)
		return
	}
	a.log.Debug("Session confirmed", "sid", s.ID(), "session_id", sessionID)
}

// onUserMessage normalizes one user message and hands it to the dialogue manager.
func (a *Adapter) onUserMessage(_ context.Context, s *sio.Socket, args []json.RawMessage) {
	var payload messagePayload
	if len(args) > 0 {
		if err := json.Unmarshal(args[0], &payload); err != nil {
			a.log.Warn("Ignoring malformed user message", "sid", s.ID(), "error", err)
			a.publish(bus.EventMessageDropped, s.ID(), "malformed payload")
			return
		}
	}

	senderID := s.ID()
	sessionID := ""
	if a.cfg.SessionPersistence {
		sessionID = stringValue(payload.SessionID)
		if sessionID == "" {
			a.log.Warn("A message without a valid session id was received and will be ignored; " +
				"clients must set one with the session_request event")
			a.publish(bus.EventMessageDropped, s.ID(), "missing session id")
			return
		}
		senderID = sessionID

		if err := a.registry.Bind(a.ctx, sessionID, s.ID()); err != nil {
			a.log.Warn("Failed to bind session", "sid", s.ID(), "session_id", sessionID, "error", err)
		}
	}

	a.mu.RLock()
	handler := a.handler
	a.mu.RUnlock()
	if handler == nil {
		a.log.Error("Socket channel received a message before it was mounted", "sid", s.ID())
		return
	}

	output := NewOutput(a.server, a.namespace.Name(), s.ID(), a.cfg.BotMessageEvent, sessionID, a.registry, a.log)
	message := bus.InboundMessage{
		Text:     stringValue(payload.Message),
		Output:   output,
		SenderID: senderID,
		Channel:  channelName,
		Metadata: payload.CustomData,
	}

	a.log.Debug("Received message", "sid", s.ID(), "sender_id", senderID)
	if err := handler(a.ctx, message); err != nil {
		a.log.Error("Failed to process inbound message", "sid", s.ID(), "sender_id", senderID, "error", err)
	}
}

func (a *Adapter) publish(kind bus.EventType, senderID string, reason string) {
	a.events.PublishEvent(a.ctx, bus.Event{Type: kind, Channel: channelName, SenderID: senderID, Reason: reason})
}

func handleLiveness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// NewSessionID returns a random 32-character hex token.
func NewSessionID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func stringValue(value any) string {
	text, _ := value.(string)
	return text
}
