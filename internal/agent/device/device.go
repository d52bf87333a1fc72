// Package device abstracts the camera and frame analyzer the agent drives.
//
// Camera reads block without a timeout. The only way to interrupt an
// in-flight Read from another goroutine is Release, after which Read fails
// with ErrDeviceGone.
package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/okian/zapgaze/internal/domain/model"
)

// Sentinel kinds for device errors.
var (
	ErrDeviceGone    = errors.New("camera not started")
	ErrOpen          = errors.New("unable to open camera")
	ErrUnknownDevice = errors.New("unknown camera device")
)

// Frame is one captured image. Its contents are opaque to everything but
// the Analyzer.
type Frame struct {
	Seq    uint64
	At     time.Time
	Width  int
	Height int
	Data   []byte
}

// Camera is an exclusively owned capture device.
type Camera interface {
	// Read blocks until the next frame is available. After Release it
	// returns ErrDeviceGone.
	Read() (Frame, error)
	// Release frees the device. It is safe to call more than once and from
	// any goroutine.
	Release() error
}

// Analyzer extracts eye features from a frame.
type Analyzer interface {
	Analyze(ctx context.Context, f Frame) (model.Analysis, error)
}

// Opener opens a fresh camera.
type Opener func(ctx context.Context) (Camera, error)

// Source pairs a camera opener with the analyzer used on its frames.
type Source struct {
	Open     Opener
	Analyzer Analyzer
}

// NewSource resolves a configured device name. Only "synthetic" is built
// in; real capture backends are plugged in by passing a Source directly.
func NewSource(name string, opts ...SyntheticOption) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "synthetic":
		return Source{
			Open: func(context.Context) (Camera, error) {
				return NewSynthetic(opts...), nil
			},
			Analyzer: SyntheticAnalyzer{},
		}, nil
	default:
		return Source{}, fmt.Errorf("%w: %s", ErrUnknownDevice, name)
	}
}
