// Package gateway exposes the decision engine over HTTP so editor and
// agent integrations can ask whether a command may run.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"cmdgate/internal/bus"
	"cmdgate/internal/domain"
	"cmdgate/internal/metrics"
	"cmdgate/internal/pattern"
)

const maxBodySize = 1 << 20 // 1MB

// Server is the HTTP front of the decision engine.
type Server struct {
	host    string
	port    int
	apiKey  string
	metrics bool

	gate   domain.Gate
	events *bus.EventBus
	logger *slog.Logger
	server *http.Server
}

type Config struct {
	Host          string
	Port          int
	APIKey        string
	EnableMetrics bool
	Logger        *slog.Logger
}

func New(cfg Config, gate domain.Gate, events *bus.EventBus) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{
		host:    cfg.Host,
		port:    cfg.Port,
		apiKey:  cfg.APIKey,
		metrics: cfg.EnableMetrics,
		gate:    gate,
		events:  events,
		logger:  cfg.Logger,
	}
}

// Start serves until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      10 * time.Minute, // decisions can wait on a human
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	s.logger.Info("gateway started", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(shutdownCtx)
	}()

	if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Stop() error {
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}

// Handler builds the route table. Split from Start for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/decisions", s.handleDecision)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.metrics {
		mux.HandleFunc("GET /metrics", metrics.Default.Handler())
	}
	return mux
}

// decisionRequest is the body of POST /v1/decisions. With Wait set, an
// ask_user decision blocks until the user answers on a confirmation
// channel and the final outcome is reported in resolution.
type decisionRequest struct {
	Command string `json:"command"`
	Wait    bool   `json:"wait,omitempty"`
}

type decisionResponse struct {
	Command    string `json:"command"`
	Pattern    string `json:"pattern"`
	Decision   string `json:"decision"`
	Reason     string `json:"reason"`
	Resolution string `json:"resolution,omitempty"` // "approved" | "denied" when Wait was set
}

func (s *Server) handleDecision(rw http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeError(rw, http.StatusUnauthorized, "invalid API key")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeError(rw, http.StatusBadRequest, "bad request")
		return
	}

	var req decisionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(rw, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.Command) == "" {
		writeError(rw, http.StatusBadRequest, "command is required")
		return
	}

	start := time.Now()
	decision, reason := s.gate.Evaluate(r.Context(), req.Command)
	metrics.DecisionLatency.Observe(time.Since(start).Seconds())
	s.record(decision, req.Command, reason)

	resp := decisionResponse{
		Command:  req.Command,
		Pattern:  pattern.Extract(req.Command),
		Decision: string(decision),
		Reason:   reason,
	}

	if decision == domain.DecisionAskUser && req.Wait {
		metrics.PendingConfirmations.Inc()
		confirmStart := time.Now()
		approved, err := s.gate.RequestConfirmation(r.Context(), req.Command)
		metrics.PendingConfirmations.Dec()
		metrics.ConfirmLatency.Observe(time.Since(confirmStart).Seconds())
		if err != nil {
			s.logger.Error("confirmation failed", "command", req.Command, "err", err)
			writeError(rw, http.StatusBadGateway, "confirmation channel error")
			return
		}
		if approved {
			resp.Resolution = "approved"
		} else {
			resp.Resolution = "denied"
		}
		s.events.Emit(bus.Event{
			Type:    bus.EventConfirmResolved,
			Source:  "gateway",
			Payload: map[string]any{"command": req.Command, "approved": approved},
		})
	}

	rw.Header().Set("Content-Type", "application/json")
	json.NewEncoder(rw).Encode(resp)
}

func (s *Server) handleHealth(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "application/json")
	json.NewEncoder(rw).Encode(map[string]string{"status": "ok"})
}

func (s *Server) authorized(r *http.Request) bool {
	if s.apiKey == "" {
		return true
	}
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.apiKey
}

func (s *Server) record(decision domain.Decision, command, reason string) {
	var eventType string
	switch decision {
	case domain.DecisionAutoApprove:
		metrics.DecisionsApproved.Inc()
		eventType = bus.EventDecisionApproved
	case domain.DecisionAutoDeny:
		metrics.DecisionsDenied.Inc()
		eventType = bus.EventDecisionDenied
	default:
		metrics.DecisionsEscalated.Inc()
		eventType = bus.EventDecisionEscalated
	}
	s.events.Emit(bus.Event{
		Type:    eventType,
		Source:  "gateway",
		Payload: map[string]any{"command": command, "reason": reason},
	})
}

func writeError(rw http.ResponseWriter, status int, msg string) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	json.NewEncoder(rw).Encode(map[string]string{"error": msg})
}
