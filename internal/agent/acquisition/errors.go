package acquisition

import (
	"errors"

	"github.com/okian/zapgaze/internal/agent/device"
)

// Sentinel kinds for acquisition errors.
var (
	ErrAlreadyRunning = errors.New("acquisition already running")
	ErrCameraBusy     = device.ErrCameraBusy
)
