package broker

import "errors"

// Sentinel kinds for broker errors.
var (
	ErrNoActiveAgent  = errors.New("no active agent found")
	ErrCommandTimeout = errors.New("command timeout - agent may not be responding")
	ErrAgentNotFound  = errors.New("agent not found")
	ErrAgentStopped   = errors.New("agent unregistered after session stop")
)
