package command

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Sentinel kinds for command errors.
var (
	ErrUnknownType   = errors.New("unknown command type")
	ErrInvalidParams = errors.New("invalid command params")
)

// Result is the single outcome reported for a dispatched command.
type Result struct {
	CommandID string          `json:"command_id"`
	Success   bool            `json:"success"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Succeeded builds a success result carrying payload as JSON.
func Succeeded(commandID string, payload any) (Result, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Result{}, fmt.Errorf("encode result for %s: %w", commandID, err)
	}
	return Result{CommandID: commandID, Success: true, Result: raw}, nil
}

// Failed builds a failure result carrying err's message.
func Failed(commandID string, err error) Result {
	msg := "command failed"
	if err != nil {
		msg = err.Error()
	}
	return Result{CommandID: commandID, Success: false, Error: msg}
}

// Decode unmarshals the success payload into v.
func (r Result) Decode(v any) error {
	if !r.Success {
		return errors.New(r.Error)
	}
	return json.Unmarshal(r.Result, v)
}

// Ack is the payload of commands that only report a state transition.
type Ack struct {
	Status string `json:"status"`
	Mode   string `json:"mode,omitempty"`
}

// Acknowledgement statuses and modes.
const (
	StatusCalibrationStarted = "calibration_started"
	StatusAcquisitionStarted = "acquisition_started"
	StatusAcquisitionStopped = "acquisition_stopped"
	ModeThread               = "thread"
	ModeAlreadyStopped       = "already_stopped"
)
