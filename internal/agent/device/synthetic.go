package device

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/okian/zapgaze/internal/domain/model"
)

const (
	syntheticWidth    = 640
	syntheticHeight   = 480
	syntheticInterval = 33 * time.Millisecond
	// every blinkEvery-th frame has no detected eyes
	blinkEvery = 50
)

// SyntheticOption configures a synthetic camera.
type SyntheticOption func(*Synthetic)

// WithFrameInterval sets the delay between synthetic frames.
func WithFrameInterval(d time.Duration) SyntheticOption {
	return func(s *Synthetic) {
		if d >= 0 {
			s.interval = d
		}
	}
}

// Synthetic is a camera that fabricates frames on a fixed cadence. It is
// used for development and tests where no hardware is present.
type Synthetic struct {
	interval time.Duration

	mu       sync.Mutex
	seq      uint64
	released bool
	gone     chan struct{}
}

// NewSynthetic opens a synthetic camera.
func NewSynthetic(opts ...SyntheticOption) *Synthetic {
	s := &Synthetic{interval: syntheticInterval, gone: make(chan struct{})}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Read waits one frame interval and returns the next frame.
func (s *Synthetic) Read() (Frame, error) {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return Frame{}, ErrDeviceGone
	}
	s.mu.Unlock()

	if s.interval > 0 {
		t := time.NewTimer(s.interval)
		defer t.Stop()
		select {
		case <-s.gone:
			return Frame{}, ErrDeviceGone
		case <-t.C:
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return Frame{}, ErrDeviceGone
	}
	s.seq++
	return Frame{Seq: s.seq, At: time.Now(), Width: syntheticWidth, Height: syntheticHeight}, nil
}

// Release stops the camera; pending and future reads fail.
func (s *Synthetic) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.released {
		s.released = true
		close(s.gone)
	}
	return nil
}

// SyntheticAnalyzer produces a slowly circling pair of eye centers.
type SyntheticAnalyzer struct{}

// Analyze returns eye features for f.
func (SyntheticAnalyzer) Analyze(_ context.Context, f Frame) (model.Analysis, error) {
	if f.Seq%blinkEvery == blinkEvery-1 {
		blink := true
		return model.Analysis{Blink: &blink}, nil
	}
	phase := float64(f.Seq) / 30
	cx := float64(syntheticWidth)/2 + 20*math.Cos(phase)
	cy := float64(syntheticHeight)/2 + 10*math.Sin(phase)
	ear := 0.3 + 0.02*math.Sin(phase*3)
	blink := false
	pupil := 4.0
	return model.Analysis{
		EyeCenters: []model.Point2{{cx - 30, cy}, {cx + 30, cy}},
		EAR:        &ear,
		Blink:      &blink,
		PupilSize:  &pupil,
	}, nil
}
