package device

import (
	"errors"
	"fmt"
	"sync"
)

// ErrCameraBusy is returned when another session owns the camera.
var ErrCameraBusy = errors.New("camera busy")

// Owner names the session that holds the camera.
type Owner string

// Camera owners.
const (
	OwnerAcquisition Owner = "acquisition running"
	OwnerCalibration Owner = "calibration in progress"
)

// Guard arbitrates the camera between acquisition and calibration.
type Guard struct {
	mu    sync.Mutex
	owner Owner
}

// Claim makes o the owner. Claiming again as the current owner succeeds.
func (g *Guard) Claim(o Owner) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.owner != "" && g.owner != o {
		return fmt.Errorf("%w: %s", ErrCameraBusy, g.owner)
	}
	g.owner = o
	return nil
}

// Release gives the camera up if o owns it.
func (g *Guard) Release(o Owner) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.owner == o {
		g.owner = ""
	}
}

// Owner returns the current owner, or "".
func (g *Guard) Owner() Owner {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.owner
}
