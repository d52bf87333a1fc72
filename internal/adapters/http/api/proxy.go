package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/okian/zapgaze/internal/adapters/mq/broker"
	"github.com/okian/zapgaze/internal/domain/command"
)

// ProxyHandler turns frontend requests into agent commands and waits for
// the agent's answer.
type ProxyHandler struct {
	broker Broker
}

// NewProxyHandler creates a new proxy handler.
func NewProxyHandler(b Broker) *ProxyHandler {
	return &ProxyHandler{broker: b}
}

// HandleStart handles POST /agent/start.
func (h *ProxyHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	const op = "api.start"
	var p command.StartAcquisition
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	h.dispatch(w, r, op, p.WithDefaults(""), broker.TargetSingle)
}

// HandleStop handles POST /agent/stop. Stop is broadcast because the agent
// may be polling under any of its aliases.
func (h *ProxyHandler) HandleStop(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, "api.stop", command.StopAcquisition{}, broker.TargetBroadcast)
}

// HandleCalibrateStart handles POST /agent/calibrate/start.
func (h *ProxyHandler) HandleCalibrateStart(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, "api.calibrate_start", command.CalibrateStart{}, broker.TargetSingle)
}

// HandleCalibratePoint handles POST /agent/calibrate/point.
func (h *ProxyHandler) HandleCalibratePoint(w http.ResponseWriter, r *http.Request) {
	const op = "api.calibrate_point"
	var p command.CalibratePoint
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	h.dispatch(w, r, op, p.WithDefaults(), broker.TargetSingle)
}

// HandleCalibrateFinish handles POST /agent/calibrate/finish.
func (h *ProxyHandler) HandleCalibrateFinish(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, "api.calibrate_finish", command.CalibrateFinish{}, broker.TargetSingle)
}

func (h *ProxyHandler) dispatch(w http.ResponseWriter, r *http.Request, op string, p command.Params, target broker.Target) {
	if err := p.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}

	res, err := h.broker.EnqueueAndWait(r.Context(), command.New(p), target)
	switch {
	case errors.Is(err, broker.ErrNoActiveAgent):
		writeError(w, http.StatusServiceUnavailable, "no_active_agent", err)
		return
	case errors.Is(err, broker.ErrCommandTimeout), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "command_timeout", broker.ErrCommandTimeout)
		return
	case err != nil:
		writeError(w, http.StatusServiceUnavailable, "unavailable", err)
		return
	}

	if !res.Success {
		msg := res.Error
		if msg == "" {
			msg = "Command failed"
		}
		writeError(w, http.StatusInternalServerError, "agent_error", errors.New(msg))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if len(res.Result) == 0 {
		_, _ = w.Write([]byte("{}\n"))
		return
	}
	_, _ = w.Write(res.Result)
}
