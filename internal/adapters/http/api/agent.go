package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/okian/zapgaze/internal/adapters/mq/broker"
	"github.com/okian/zapgaze/internal/domain/command"
)

const stoppedMessage = "Agent unregistered after session stop. Please stop sending heartbeats."

// identity is the alias pair an agent presents.
type identity struct {
	AgentID    string `json:"agent_id,omitempty"`
	SessionUID string `json:"session_uid,omitempty"`
}

type registerResponse struct {
	Status    string `json:"status"`
	AgentKey  string `json:"agent_key"`
	Timestamp string `json:"timestamp,omitempty"`
	Message   string `json:"message,omitempty"`
}

type heartbeatRequest struct {
	identity
	CommandResult *command.Result `json:"command_result,omitempty"`
}

type heartbeatResponse struct {
	Status    string            `json:"status"`
	Commands  []command.Command `json:"commands"`
	Timestamp string            `json:"timestamp,omitempty"`
	Message   string            `json:"message,omitempty"`
}

type statusResponse struct {
	Status        string   `json:"status"`
	SessionUID    string   `json:"session_uid,omitempty"`
	LastHeartbeat string   `json:"last_heartbeat,omitempty"`
	ActiveAgents  *int     `json:"active_agents,omitempty"`
	AgentKeys     []string `json:"agent_keys,omitempty"`
}

type stoppedRequest struct {
	Alias string `json:"alias"`
}

// AgentHandler serves the endpoints agents and the frontend use to manage
// agent liveness.
type AgentHandler struct {
	broker Broker
}

// NewAgentHandler creates a new agent handler.
func NewAgentHandler(b Broker) *AgentHandler {
	return &AgentHandler{broker: b}
}

// decodeOptional decodes a JSON body, treating an empty body as zero value.
func decodeOptional(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func timestamp(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

// HandleRegister handles POST /agent/register.
func (h *AgentHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	const op = "api.register"
	var req identity
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	key := broker.Key(req.AgentID, req.SessionUID)
	at, err := h.broker.Register(r.Context(), key)
	if errors.Is(err, broker.ErrAgentStopped) {
		writeJSON(w, http.StatusOK, registerResponse{Status: "stopped", AgentKey: key, Message: stoppedMessage})
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err)
		return
	}
	writeJSON(w, http.StatusOK, registerResponse{Status: "registered", AgentKey: key, Timestamp: timestamp(at)})
}

// HandleHeartbeat handles POST /agent/heartbeat.
func (h *AgentHandler) HandleHeartbeat(w http.ResponseWriter, r *http.Request) {
	const op = "api.heartbeat"
	var req heartbeatRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	reply, err := h.broker.Heartbeat(r.Context(), broker.Aliases(req.AgentID, req.SessionUID), req.CommandResult)
	if reply.Stopped || errors.Is(err, broker.ErrAgentStopped) {
		writeJSON(w, http.StatusOK, heartbeatResponse{Status: "stopped", Commands: []command.Command{}, Message: stoppedMessage})
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err)
		return
	}
	cmds := reply.Commands
	if cmds == nil {
		cmds = []command.Command{}
	}
	writeJSON(w, http.StatusOK, heartbeatResponse{Status: "ok", Commands: cmds, Timestamp: timestamp(reply.Timestamp)})
}

// HandleUnregister handles DELETE /agent/unregister?agent_id=&session_uid=.
func (h *AgentHandler) HandleUnregister(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	key := broker.Key(q.Get("agent_id"), q.Get("session_uid"))
	if err := h.broker.Unregister(r.Context(), key); err != nil {
		if errors.Is(err, broker.ErrAgentNotFound) {
			writeError(w, http.StatusNotFound, "not_found", broker.ErrAgentNotFound)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "unregistered", "agent_key": key})
}

// HandleStatus handles GET /agent/status?session_uid=.
func (h *AgentHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	uid := strings.TrimSpace(r.URL.Query().Get("session_uid"))
	st := h.broker.Status(r.Context(), uid)
	if !st.Connected {
		writeJSON(w, http.StatusOK, statusResponse{Status: "disconnected"})
		return
	}
	if uid != "" {
		writeJSON(w, http.StatusOK, statusResponse{
			Status:        "connected",
			SessionUID:    uid,
			LastHeartbeat: timestamp(st.LastHeartbeat),
		})
		return
	}
	n := len(st.ActiveAliases)
	writeJSON(w, http.StatusOK, statusResponse{Status: "connected", ActiveAgents: &n, AgentKeys: st.ActiveAliases})
}

// HandleStopped handles POST /agent/stopped.
func (h *AgentHandler) HandleStopped(w http.ResponseWriter, r *http.Request) {
	const op = "api.stopped"
	var req stoppedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	alias := strings.TrimSpace(req.Alias)
	if alias == "" {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, errors.New("missing alias")))
		return
	}
	h.broker.MarkStopped(r.Context(), alias)
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped", "agent_key": alias})
}
