package calibration

import (
	"errors"

	"github.com/okian/zapgaze/internal/agent/device"
	domain "github.com/okian/zapgaze/internal/domain/calibration"
)

// Sentinel errors returned by Session.
var (
	ErrNotStarted      = errors.New("calibration not started")
	ErrNoEyeData       = errors.New("no eye data captured")
	ErrNotEnoughPoints = domain.ErrNotEnoughPoints
	ErrCameraBusy      = device.ErrCameraBusy
)
