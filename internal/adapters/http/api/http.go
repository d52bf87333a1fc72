// Package api exposes the broker over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/okian/zapgaze/internal/adapters/mq/broker"
	"github.com/okian/zapgaze/internal/domain/command"
)

// Broker is what the handlers need from the command broker.
type Broker interface {
	Register(ctx context.Context, alias string) (time.Time, error)
	Heartbeat(ctx context.Context, aliases []string, result *command.Result) (broker.HeartbeatReply, error)
	Unregister(ctx context.Context, alias string) error
	Status(ctx context.Context, alias string) broker.Status
	MarkStopped(ctx context.Context, alias string)
	EnqueueAndWait(ctx context.Context, cmd command.Command, target broker.Target) (command.Result, error)
}

// Keys holds the shared secrets for the two caller populations.
type Keys struct {
	Agent    string
	Frontend string
}

// Server wires HTTP routes for the broker API.
type Server struct {
	keys          Keys
	healthHandler *HealthHandler
	statsHandler  *StatsHandler
	agentHandler  *AgentHandler
	proxyHandler  *ProxyHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(b Broker, statsProvider StatsProvider, keys Keys) *Server {
	return &Server{
		keys:          keys,
		healthHandler: NewHealthHandler(),
		statsHandler:  NewStatsHandler(statsProvider),
		agentHandler:  NewAgentHandler(b),
		proxyHandler:  NewProxyHandler(b),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	agent := func(h http.HandlerFunc) http.HandlerFunc { return APIKeyMiddleware(s.keys.Agent, h) }
	frontend := func(h http.HandlerFunc) http.HandlerFunc { return APIKeyMiddleware(s.keys.Frontend, h) }

	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /metrics", s.healthHandler.HandleMetrics)
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))

	mux.HandleFunc("POST /agent/register", MetricsMiddleware(agent(s.agentHandler.HandleRegister), "register"))
	mux.HandleFunc("POST /agent/heartbeat", MetricsMiddleware(agent(s.agentHandler.HandleHeartbeat), "heartbeat"))
	mux.HandleFunc("DELETE /agent/unregister", MetricsMiddleware(agent(s.agentHandler.HandleUnregister), "unregister"))

	mux.HandleFunc("GET /agent/status", MetricsMiddleware(frontend(s.agentHandler.HandleStatus), "status"))
	mux.HandleFunc("POST /agent/stopped", MetricsMiddleware(frontend(s.agentHandler.HandleStopped), "stopped"))

	mux.HandleFunc("POST /agent/start", MetricsMiddleware(frontend(s.proxyHandler.HandleStart), "start"))
	mux.HandleFunc("POST /agent/stop", MetricsMiddleware(frontend(s.proxyHandler.HandleStop), "stop"))
	mux.HandleFunc("POST /agent/calibrate/start", MetricsMiddleware(frontend(s.proxyHandler.HandleCalibrateStart), "calibrate_start"))
	mux.HandleFunc("POST /agent/calibrate/point", MetricsMiddleware(frontend(s.proxyHandler.HandleCalibratePoint), "calibrate_point"))
	mux.HandleFunc("POST /agent/calibrate/finish", MetricsMiddleware(frontend(s.proxyHandler.HandleCalibrateFinish), "calibrate_finish"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}
