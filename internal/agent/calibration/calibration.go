// Package calibration runs the interactive calibration procedure on the
// agent: it samples the gaze at each target, then fits and stores the
// measured-to-screen transform.
package calibration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/okian/zapgaze/internal/agent/device"
	domain "github.com/okian/zapgaze/internal/domain/calibration"
	"github.com/okian/zapgaze/internal/domain/command"
	"github.com/okian/zapgaze/pkg/logger"
	"github.com/okian/zapgaze/pkg/metrics"
)

const (
	deadlineSlack = 5 * time.Second
	retryBackoff  = 50 * time.Millisecond
	defaultPath   = "calibration.json"
)

// Forwarder reports a captured point to the backend.
type Forwarder interface {
	ForwardPoint(ctx context.Context, sessionUID string, p domain.Point) error
}

// Session holds the camera and the points collected since the last Start.
type Session struct {
	source    device.Source
	guard     *device.Guard
	forwarder Forwarder
	path      string
	logger    logger.Logger

	mu     sync.Mutex
	cam    device.Camera
	points []domain.Point

	forwards sync.WaitGroup
}

// New creates a Session that opens cameras from source.
func New(source device.Source, opts ...Option) *Session {
	s := &Session{
		source: source,
		guard:  &device.Guard{},
		path:   defaultPath,
		logger: logger.Get().Named("calibration"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start claims and opens the camera and discards previously collected points.
// Starting again while active reopens the camera.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.guard.Claim(device.OwnerCalibration); err != nil {
		return err
	}
	s.releaseLocked(ctx)

	cam, err := s.source.Open(ctx)
	if err != nil {
		s.guard.Release(device.OwnerCalibration)
		return fmt.Errorf("%w: %w", device.ErrOpen, err)
	}
	s.cam = cam
	s.points = nil
	s.logger.Info(ctx, "calibration started")
	return nil
}

// Active reports whether the session holds the camera.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cam != nil
}

// Points returns a copy of the points collected so far.
func (s *Session) Points() []domain.Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Point(nil), s.points...)
}

// Point samples the gaze while the user looks at (p.X, p.Y). It collects up
// to p.Samples two-eye detections within p.Duration plus a grace period and
// at most 2*p.Samples frames, and records their centroid.
func (s *Session) Point(ctx context.Context, p command.CalibratePoint) (domain.Point, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cam == nil {
		return domain.Point{}, ErrNotStarted
	}

	window := time.Duration(p.Duration * float64(time.Second))
	deadline := time.Now().Add(window + deadlineSlack)
	pacing := window / time.Duration(p.Samples)

	var (
		sumX, sumY float64
		got        int
		attempts   int
	)
	for attempts < 2*p.Samples && got < p.Samples && time.Now().Before(deadline) {
		attempts++

		frame, err := s.cam.Read()
		if err != nil {
			s.logger.Debug(ctx, "calibration frame read failed", logger.Error(err))
			if err := pause(ctx, retryBackoff); err != nil {
				return domain.Point{}, err
			}
			continue
		}
		analysis, err := s.source.Analyzer.Analyze(ctx, frame)
		if err != nil {
			s.logger.Debug(ctx, "calibration frame analysis failed", logger.Error(err))
			if err := pause(ctx, retryBackoff); err != nil {
				return domain.Point{}, err
			}
			continue
		}
		if c, ok := analysis.Centroid(); ok && analysis.BothEyes() {
			sumX += c[0]
			sumY += c[1]
			got++
		}
		if err := pause(ctx, pacing); err != nil {
			return domain.Point{}, err
		}
	}
	if got == 0 {
		return domain.Point{}, fmt.Errorf("%w after %d attempts", ErrNoEyeData, attempts)
	}

	pt := domain.Point{
		ScreenX:   p.X,
		ScreenY:   p.Y,
		MeasuredX: sumX / float64(got),
		MeasuredY: sumY / float64(got),
	}
	s.points = append(s.points, pt)
	metrics.RecordCalibrationPoint()
	s.logger.Info(ctx, "calibration point captured",
		logger.Float64("screen_x", pt.ScreenX),
		logger.Float64("screen_y", pt.ScreenY),
		logger.Int("samples", got),
		logger.Int("attempts", attempts),
	)

	s.forward(context.WithoutCancel(ctx), p.SessionUID, pt)
	return pt, nil
}

// Finish releases the camera, fits the transform over the collected points
// and writes it to disk.
func (s *Session) Finish(ctx context.Context) (domain.Transform, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.releaseLocked(ctx)
	s.guard.Release(device.OwnerCalibration)

	t, err := domain.Fit(s.points)
	if err != nil {
		return domain.Transform{}, err
	}
	if err := domain.Save(s.path, t); err != nil {
		return domain.Transform{}, err
	}
	s.logger.Info(ctx, "calibration finished",
		logger.Int("points", len(s.points)),
		logger.String("path", s.path),
	)
	return t, nil
}

// Close releases the camera without fitting. Collected points are kept.
func (s *Session) Close(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseLocked(ctx)
	s.guard.Release(device.OwnerCalibration)
}

func (s *Session) releaseLocked(ctx context.Context) {
	if s.cam == nil {
		return
	}
	if err := s.cam.Release(); err != nil {
		s.logger.Warn(ctx, "failed to release camera", logger.Error(err))
	}
	s.cam = nil
}

// forward posts pt in the background. Failures are logged and dropped.
func (s *Session) forward(ctx context.Context, sessionUID string, pt domain.Point) {
	if s.forwarder == nil || sessionUID == "" {
		return
	}
	s.forwards.Add(1)
	go func() {
		defer s.forwards.Done()
		if err := s.forwarder.ForwardPoint(ctx, sessionUID, pt); err != nil {
			metrics.RecordErrorByComponent("calibration", "forward_point")
			s.logger.Warn(ctx, "failed to forward calibration point",
				logger.String("session_uid", sessionUID),
				logger.Error(err),
			)
		}
	}()
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
