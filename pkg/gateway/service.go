package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"shopchat/pkg/bus"
	"shopchat/pkg/channel"
	"shopchat/pkg/config"
	"shopchat/pkg/dialogue"
)

const (
	defaultHost         = "0.0.0.0"
	defaultPort         = 5005
	healthCheckInterval = 30 * time.Second
	eventBuffer         = 256
)

// DialogueClient is the part of the dialogue manager API the gateway needs.
type DialogueClient interface {
	Send(ctx context.Context, sender string, message string, metadata map[string]any) ([]dialogue.BotMessage, error)
	Health(ctx context.Context) error
}

type Service struct {
	cfg           *config.Config
	log           *slog.Logger
	dialogue      DialogueClient
	conversations *conversationManager
	channels      []channel.Adapter
	events        *bus.MessageBus

	mu               sync.RWMutex
	startedAt        time.Time
	dialogueLastOKAt time.Time
	dialogueLastErr  string
	channelStates    map[string]channelState
	counters         map[bus.EventType]int64
}

type channelState struct {
	Running bool   `json:"running"`
	Error   string `json:"error,omitempty"`
}

type statusResponse struct {
	Status           string                  `json:"status"`
	UptimeSeconds    int64                   `json:"uptime_seconds"`
	DialogueLastOKAt string                  `json:"dialogue_last_ok_at,omitempty"`
	DialogueLastErr  string                  `json:"dialogue_last_error,omitempty"`
	Channels         map[string]channelState `json:"channels"`
	Messages         map[string]int64        `json:"messages"`
}

// NewService wires channels to the dialogue manager. events may be shared with the adapters so
// their drops show up in the status counters; a private bus is created when it is nil.
func NewService(cfg *config.Config, client DialogueClient, adapters []channel.Adapter, events *bus.MessageBus, log *slog.Logger) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if client == nil {
		return nil, errors.New("dialogue client is required")
	}
	if len(adapters) == 0 {
		return nil, errors.New("at least one channel adapter is required")
	}
	if log == nil {
		log = slog.Default()
	}
	if events == nil {
		events = bus.NewMessageBus()
	}

	channelStates := make(map[string]channelState, len(adapters))
	for _, adapter := range adapters {
		channelStates[adapter.Name()] = channelState{}
	}

	return &Service{
		cfg:           cfg,
		log:           log.With("component", "gateway.service"),
		dialogue:      client,
		conversations: newConversationManager(client, log),
		channels:      adapters,
		events:        events,
		channelStates: channelStates,
		counters:      make(map[bus.EventType]int64),
	}, nil
}

// Addr is the listen address of the gateway HTTP server.
func (s *Service) Addr() string {
	host := strings.TrimSpace(s.cfg.Gateway.Host)
	if host == "" {
		host = defaultHost
	}

	port := s.cfg.Gateway.Port
	if port <= 0 {
		port = defaultPort
	}

	return net.JoinHostPort(host, strconv.Itoa(port))
}

func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.startedAt = time.Now().UTC()
	s.mu.Unlock()

	if err := s.checkDialogueHealth(ctx); err != nil {
		s.log.Warn("Dialogue manager is not reachable yet", "error", err)
	}

	events, unsubscribe := s.events.SubscribeEvents(ctx, eventBuffer)
	defer unsubscribe()
	go s.countEvents(ctx, events)

	mux := s.routes()

	serverErrors := make(chan error, 1)
	go s.runServer(ctx, mux, serverErrors)

	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.checkDialogueHealth(ctx); err != nil {
					s.log.Warn("Dialogue manager health check failed", "error", err)
				}
			}
		}
	}()

	errCh := make(chan error, len(s.channels))
	var wg sync.WaitGroup
	for _, adapter := range s.channels {
		s.setChannelState(adapter.Name(), channelState{Running: true})

		wg.Add(1)
		go func() {
			defer wg.Done()
			err := adapter.Run(ctx, s.handleInbound)
			s.setChannelState(adapter.Name(), channelState{Running: false, Error: errorString(err)})
			if err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("run %s channel: %w", adapter.Name(), err)
			}
		}()
	}

	var err error
	select {
	case <-ctx.Done():
	case err = <-serverErrors:
	case err = <-errCh:
	}

	cancel()
	wg.Wait()
	return err
}

// routes mounts every channel that serves HTTP next to the status endpoints.
func (s *Service) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	for _, adapter := range s.channels {
		if mounter, ok := adapter.(channel.Mounter); ok {
			mounter.Mount(mux, s.handleInbound)
			s.log.Debug("Mounted channel routes", "channel", adapter.Name())
		}
	}
	return mux
}

func (s *Service) handleInbound(ctx context.Context, inbound bus.InboundMessage) error {
	s.publish(ctx, bus.EventMessageReceived, inbound, "")

	if err := s.conversations.Handle(ctx, inbound); err != nil {
		s.publish(ctx, bus.EventMessageFailed, inbound, err.Error())
		return err
	}

	s.publish(ctx, bus.EventMessageForwarded, inbound, "")
	return nil
}

func (s *Service) publish(ctx context.Context, kind bus.EventType, inbound bus.InboundMessage, errText string) {
	s.events.PublishEvent(ctx, bus.Event{
		Type:     kind,
		Channel:  inbound.Channel,
		SenderID: inbound.SenderID,
		Error:    errText,
	})
}

func (s *Service) countEvents(ctx context.Context, events <-chan bus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			s.mu.Lock()
			s.counters[event.Type]++
			s.mu.Unlock()
		}
	}
}

func (s *Service) runServer(ctx context.Context, handler http.Handler, errCh chan<- error) {
	addr := s.Addr()
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.log.Info("Gateway server started", "address", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errCh <- fmt.Errorf("start gateway server: %w", err)
	}
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondStatus(w, http.StatusOK, "ok")
}

func (s *Service) handleReady(w http.ResponseWriter, _ *http.Request) {
	statusCode := http.StatusOK
	status := "ready"
	if !s.isReady() {
		statusCode = http.StatusServiceUnavailable
		status = "not_ready"
	}

	s.respondStatus(w, statusCode, status)
}

func (s *Service) respondStatus(w http.ResponseWriter, statusCode int, status string) {
	payload := s.currentStatus(status)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("Failed to write status response", "error", err)
	}
}

func (s *Service) currentStatus(status string) statusResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()

	uptime := int64(0)
	if !s.startedAt.IsZero() {
		uptime = int64(time.Since(s.startedAt).Seconds())
	}

	channels := make(map[string]channelState, len(s.channelStates))
	for name, state := range s.channelStates {
		channels[name] = state
	}

	messages := map[string]int64{
		string(bus.EventMessageReceived):  0,
		string(bus.EventMessageForwarded): 0,
		string(bus.EventMessageDropped):   0,
		string(bus.EventMessageFailed):    0,
	}
	for kind, count := range s.counters {
		messages[string(kind)] = count
	}

	dialogueLastOK := ""
	if !s.dialogueLastOKAt.IsZero() {
		dialogueLastOK = s.dialogueLastOKAt.Format(time.RFC3339)
	}

	return statusResponse{
		Status:           status,
		UptimeSeconds:    uptime,
		DialogueLastOKAt: dialogueLastOK,
		DialogueLastErr:  s.dialogueLastErr,
		Channels:         channels,
		Messages:         messages,
	}
}

func (s *Service) isReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	anyRunning := false
	for _, state := range s.channelStates {
		if state.Running {
			anyRunning = true
			break
		}
	}

	if !anyRunning {
		return false
	}

	return !s.dialogueLastOKAt.IsZero() && s.dialogueLastErr == ""
}

func (s *Service) checkDialogueHealth(ctx context.Context) error {
	if err := s.dialogue.Health(ctx); err != nil {
		s.mu.Lock()
		s.dialogueLastErr = err.Error()
		s.mu.Unlock()
		return fmt.Errorf("dialogue manager health check failed: %w", err)
	}

	s.mu.Lock()
	s.dialogueLastErr = ""
	s.dialogueLastOKAt = time.Now().UTC()
	s.mu.Unlock()

	return nil
}

func (s *Service) setChannelState(name string, state channelState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channelStates[name] = state
}

func errorString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}
