package command

import (
	"fmt"
	"strings"
)

// Parameter defaults and bounds.
const (
	DefaultPointDuration = 1.0
	DefaultPointSamples  = 30
	DefaultFPS           = 20.0

	maxPointDuration = 10.0
	maxPointSamples  = 1000
	maxFPS           = 120.0
)

// CalibrateStart acquires the camera for a calibration run.
type CalibrateStart struct{}

func (CalibrateStart) Type() Type      { return TypeCalibrateStart }
func (CalibrateStart) Validate() error { return nil }

// CalibratePoint samples the gaze while the user looks at (X, Y).
// Duration is the sampling window in seconds.
type CalibratePoint struct {
	SessionUID string  `json:"session_uid"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Duration   float64 `json:"duration"`
	Samples    int     `json:"samples"`
}

func (CalibratePoint) Type() Type { return TypeCalibratePoint }

// WithDefaults fills unset sampling parameters.
func (p CalibratePoint) WithDefaults() CalibratePoint {
	if p.Duration == 0 {
		p.Duration = DefaultPointDuration
	}
	if p.Samples == 0 {
		p.Samples = DefaultPointSamples
	}
	return p
}

func (p CalibratePoint) Validate() error {
	switch {
	case strings.TrimSpace(p.SessionUID) == "":
		return invalidParams(p, "missing session_uid")
	case p.X < 0 || p.Y < 0:
		return invalidParams(p, "x and y must be non-negative")
	case p.Duration <= 0 || p.Duration > maxPointDuration:
		return invalidParams(p, "duration must be in (0, 10] seconds")
	case p.Samples < 1 || p.Samples > maxPointSamples:
		return invalidParams(p, "samples must be in [1, 1000]")
	}
	return nil
}

// CalibrateFinish fits and persists the calibration transform.
type CalibrateFinish struct{}

func (CalibrateFinish) Type() Type      { return TypeCalibrateFinish }
func (CalibrateFinish) Validate() error { return nil }

// StartAcquisition begins streaming samples for a session. BatchSize
// defaults to FPS when zero, roughly one batch per second.
type StartAcquisition struct {
	SessionUID string  `json:"session_uid"`
	APIURL     string  `json:"api_url"`
	FPS        float64 `json:"fps"`
	BatchSize  int     `json:"batch_size,omitempty"`
}

func (StartAcquisition) Type() Type { return TypeStartAcquisition }

// WithDefaults fills unset parameters; apiURL is used when APIURL is empty.
func (p StartAcquisition) WithDefaults(apiURL string) StartAcquisition {
	if p.FPS == 0 {
		p.FPS = DefaultFPS
	}
	if p.APIURL == "" {
		p.APIURL = apiURL
	}
	if p.BatchSize <= 0 {
		p.BatchSize = max(1, int(p.FPS))
	}
	return p
}

func (p StartAcquisition) Validate() error {
	switch {
	case strings.TrimSpace(p.SessionUID) == "":
		return invalidParams(p, "missing session_uid")
	case !strings.HasPrefix(p.APIURL, "http://") && !strings.HasPrefix(p.APIURL, "https://"):
		return invalidParams(p, "api_url must start with http:// or https://")
	case p.FPS <= 0 || p.FPS > maxFPS:
		return invalidParams(p, "fps must be in (0, 120]")
	case p.BatchSize < 0:
		return invalidParams(p, "batch_size must not be negative")
	}
	return nil
}

// StopAcquisition cancels the running acquisition, if any.
type StopAcquisition struct{}

func (StopAcquisition) Type() Type      { return TypeStopAcquisition }
func (StopAcquisition) Validate() error { return nil }

func invalidParams(p Params, msg string) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidParams, p.Type(), msg)
}
