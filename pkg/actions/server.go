package actions

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
	"time"

	"shopchat/pkg/config"
)

const (
	defaultHost     = "0.0.0.0"
	defaultPort     = 5055
	maxRequestBytes = 8 << 20
)

// Request is the body the dialogue manager posts to the action webhook.
type Request struct {
	NextAction string  `json:"next_action"`
	SenderID   string  `json:"sender_id"`
	Tracker    Tracker `json:"tracker"`
	Domain     Domain  `json:"domain"`
	Version    string  `json:"version,omitempty"`
}

type errorResponse struct {
	Error      string `json:"error"`
	ActionName string `json:"action_name,omitempty"`
}

type actionInfo struct {
	Name string `json:"name"`
}

// Server exposes a Registry over the dialogue manager's action webhook protocol.
type Server struct {
	cfg      config.ActionsConfig
	registry *Registry
	log      *slog.Logger
}

func NewServer(cfg config.ActionsConfig, registry *Registry, log *slog.Logger) (*Server, error) {
	if registry == nil {
		return nil, errors.New("action registry is required")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Server{cfg: cfg, registry: registry, log: log.With("component", "actions.server")}, nil
}

// Handler returns the HTTP routes of the action server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhook", s.handleWebhook)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /actions", s.handleActions)
	return mux
}

// Addr is the listen address derived from the config.
func (s *Server) Addr() string {
	host := strings.TrimSpace(s.cfg.Host)
	if host == "" {
		host = defaultHost
	}
	port := s.cfg.Port
	if port <= 0 {
		port = defaultPort
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	addr := s.Addr()
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.log.Info("Action server started", "address", addr, "actions", s.registry.Names())
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start action server: %w", err)
	}
	return nil
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var request Request
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := decoder.Decode(&request); err != nil {
		s.respondJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}
	if request.Tracker.SenderID == "" {
		request.Tracker.SenderID = request.SenderID
	}

	log := s.log.With("action", request.NextAction, "sender_id", request.Tracker.SenderID)
	startedAt := time.Now()

	result, err := s.registry.Run(r.Context(), request.NextAction, request.Tracker, request.Domain)
	switch {
	case errors.Is(err, ErrActionNotFound):
		log.Warn("Unknown action requested")
		s.respondJSON(w, http.StatusNotFound, errorResponse{
			Error:      fmt.Sprintf("No registered action found for name '%s'.", request.NextAction),
			ActionName: request.NextAction,
		})
		return
	case err != nil:
		log.Error("Action failed", "error", err)
		s.respondJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error(), ActionName: request.NextAction})
		return
	}

	log.Debug("Action completed",
		"duration_ms", time.Since(startedAt).Milliseconds(),
		"events", len(result.Events),
		"responses", len(result.Responses),
	)
	s.respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleActions(w http.ResponseWriter, _ *http.Request) {
	names := s.registry.Names()
	actions := make([]actionInfo, 0, len(names))
	for _, name := range names {
		actions = append(actions, actionInfo{Name: name})
	}
	s.respondJSON(w, http.StatusOK, actions)
}

func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("Failed to write response", "error", err)
	}
}
