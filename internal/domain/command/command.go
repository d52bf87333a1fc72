// Package command defines the fixed set of remote commands an agent can
// execute, their typed parameters, and the result envelope reported back.
//
// A Command travels as {command_id, type, params} JSON. Decode is the only
// place the params map is interpreted; everything past the boundary works
// with the typed variant.
package command

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Type names a command variant.
type Type string

// Command types understood by the agent.
const (
	TypeCalibrateStart   Type = "calibrate_start"
	TypeCalibratePoint   Type = "calibrate_point"
	TypeCalibrateFinish  Type = "calibrate_finish"
	TypeStartAcquisition Type = "start_acquisition"
	TypeStopAcquisition  Type = "stop_acquisition"
)

// Types lists every known command type.
var Types = []Type{
	TypeCalibrateStart,
	TypeCalibratePoint,
	TypeCalibrateFinish,
	TypeStartAcquisition,
	TypeStopAcquisition,
}

// Valid reports whether t is a known command type.
func (t Type) Valid() bool {
	for _, known := range Types {
		if t == known {
			return true
		}
	}
	return false
}

// Params is implemented by every command variant.
type Params interface {
	Type() Type
	Validate() error
}

// Command is a unit of remote work identified by a correlation id.
type Command struct {
	ID     string
	Params Params
}

// New wraps params in a Command with a fresh UUID.
func New(p Params) Command {
	return Command{ID: uuid.NewString(), Params: p}
}

// Type returns the variant type, or "" for an empty command.
func (c Command) Type() Type {
	if c.Params == nil {
		return ""
	}
	return c.Params.Type()
}

type wireCommand struct {
	CommandID string          `json:"command_id"`
	Type      Type            `json:"type"`
	Params    json.RawMessage `json:"params"`
}

// MarshalJSON encodes the wire form.
func (c Command) MarshalJSON() ([]byte, error) {
	if c.Params == nil {
		return nil, fmt.Errorf("command %s: %w", c.ID, ErrUnknownType)
	}
	params, err := json.Marshal(c.Params)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireCommand{CommandID: c.ID, Type: c.Type(), Params: params})
}

// UnmarshalJSON decodes the wire form through Decode.
func (c *Command) UnmarshalJSON(data []byte) error {
	decoded, err := Decode(data)
	if err != nil {
		return err
	}
	*c = decoded
	return nil
}

// Decode parses a wire command into its typed variant.
func Decode(data []byte) (Command, error) {
	var w wireCommand
	if err := json.Unmarshal(data, &w); err != nil {
		return Command{}, fmt.Errorf("decode command: %w", err)
	}
	p, err := newParams(w.Type)
	if err != nil {
		return Command{ID: w.CommandID}, err
	}
	if len(w.Params) > 0 && string(w.Params) != "null" {
		if err := json.Unmarshal(w.Params, p); err != nil {
			return Command{ID: w.CommandID}, fmt.Errorf("%w: %s: %w", ErrInvalidParams, w.Type, err)
		}
	}
	return Command{ID: w.CommandID, Params: deref(p)}, nil
}

func newParams(t Type) (any, error) {
	switch t {
	case TypeCalibrateStart:
		return &CalibrateStart{}, nil
	case TypeCalibratePoint:
		return &CalibratePoint{}, nil
	case TypeCalibrateFinish:
		return &CalibrateFinish{}, nil
	case TypeStartAcquisition:
		return &StartAcquisition{}, nil
	case TypeStopAcquisition:
		return &StopAcquisition{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, t)
	}
}

// Variants are stored by value so type switches match on the struct type.
func deref(p any) Params {
	switch v := p.(type) {
	case *CalibrateStart:
		return *v
	case *CalibratePoint:
		return *v
	case *CalibrateFinish:
		return *v
	case *StartAcquisition:
		return *v
	case *StopAcquisition:
		return *v
	}
	return nil
}
