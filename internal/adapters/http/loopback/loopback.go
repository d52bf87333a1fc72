// Package loopback serves the agent's local control surface. Every route
// drives the same executor as remote commands.
package loopback

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/okian/zapgaze/internal/adapters/http/api"
	"github.com/okian/zapgaze/internal/agent/acquisition"
	"github.com/okian/zapgaze/internal/agent/calibration"
	"github.com/okian/zapgaze/internal/agent/device"
	"github.com/okian/zapgaze/internal/domain/command"
)

// Runner executes a command and returns its payload.
type Runner interface {
	Run(ctx context.Context, cmd command.Command) (any, error)
}

// StateReporter exposes the acquisition lifecycle.
type StateReporter interface {
	State() acquisition.State
}

// Server wires the loopback routes.
type Server struct {
	runner     Runner
	state      StateReporter
	agentURL   string
	backendURL string
}

// NewServer creates a loopback server. agentURL and backendURL are echoed
// by the root health route.
func NewServer(runner Runner, state StateReporter, agentURL, backendURL string) *Server {
	return &Server{runner: runner, state: state, agentURL: agentURL, backendURL: backendURL}
}

// Register attaches the routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", api.MetricsMiddleware(s.handleRoot, "loopback_root"))
	mux.HandleFunc("GET /metrics", api.NewHealthHandler().HandleMetrics)
	mux.HandleFunc("GET /status", api.MetricsMiddleware(s.handleStatus, "loopback_status"))
	mux.HandleFunc("POST /start", api.MetricsMiddleware(s.handleStart, "loopback_start"))
	mux.HandleFunc("POST /stop", api.MetricsMiddleware(s.handleStop, "loopback_stop"))
	mux.HandleFunc("POST /calibrate/start", api.MetricsMiddleware(s.handleCalibrateStart, "loopback_calibrate_start"))
	mux.HandleFunc("POST /calibrate/point", api.MetricsMiddleware(s.handleCalibratePoint, "loopback_calibrate_point"))
	mux.HandleFunc("POST /calibrate/finish", api.MetricsMiddleware(s.handleCalibrateFinish, "loopback_calibrate_finish"))
}

// Handler returns mux wrapped with permissive CORS so the browser frontend
// can reach the agent.
func Handler(mux *http.ServeMux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "*")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		mux.ServeHTTP(w, r)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":      "agent_server_running",
		"agent_url":   s.agentURL,
		"backend_url": s.backendURL,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	if s.state.State() == acquisition.StateIdle {
		writeJSON(w, http.StatusOK, command.Ack{Status: "stopped"})
		return
	}
	writeJSON(w, http.StatusOK, command.Ack{Status: "running", Mode: command.ModeThread})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var p command.StartAcquisition
	if !decode(w, r, "loopback.start", &p) {
		return
	}
	s.run(w, r, p)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.run(w, r, command.StopAcquisition{})
}

func (s *Server) handleCalibrateStart(w http.ResponseWriter, r *http.Request) {
	s.run(w, r, command.CalibrateStart{})
}

func (s *Server) handleCalibratePoint(w http.ResponseWriter, r *http.Request) {
	var p command.CalibratePoint
	if !decode(w, r, "loopback.calibrate_point", &p) {
		return
	}
	s.run(w, r, p)
}

func (s *Server) handleCalibrateFinish(w http.ResponseWriter, r *http.Request) {
	s.run(w, r, command.CalibrateFinish{})
}

func (s *Server) run(w http.ResponseWriter, r *http.Request, p command.Params) {
	out, err := s.runner.Run(r.Context(), command.New(p))
	if err != nil {
		status, code := classify(err)
		writeError(w, status, code, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, acquisition.ErrAlreadyRunning):
		return http.StatusConflict, "already_running"
	case errors.Is(err, device.ErrCameraBusy):
		return http.StatusConflict, "camera_busy"
	case errors.Is(err, calibration.ErrNotStarted):
		return http.StatusBadRequest, "calibration_not_started"
	case errors.Is(err, calibration.ErrNotEnoughPoints):
		return http.StatusBadRequest, "not_enough_points"
	case errors.Is(err, command.ErrInvalidParams), errors.Is(err, api.ErrBadRequest):
		return http.StatusBadRequest, "bad_request"
	}
	return http.StatusInternalServerError, "agent_error"
}

// decode reads an optional JSON body into v. An empty body leaves v zero.
func decode(w http.ResponseWriter, r *http.Request, op string, v any) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	writeError(w, http.StatusBadRequest, "bad_request", api.WrapKind(op, api.ErrBadRequest, err))
	return false
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
	writeJSON(w, status, errorResponse{Code: code, Message: err.Error()})
}
