// Package acquisition runs the capture loop that turns camera frames into
// samples for the backend.
//
// A Manager owns at most one session at a time. Stop is cooperative through
// a one-shot stop flag and forced through the camera cell: the stopping
// goroutine takes the camera out of the cell and releases it, which fails
// the capture goroutine's in-flight Read. After every Read the loop checks
// that its lease is still valid, so a seized camera always ends the loop.
package acquisition

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/okian/zapgaze/internal/agent/device"
	"github.com/okian/zapgaze/internal/agent/uploader"
	"github.com/okian/zapgaze/internal/domain/command"
	"github.com/okian/zapgaze/internal/domain/model"
	"github.com/okian/zapgaze/pkg/logger"
	"github.com/okian/zapgaze/pkg/metrics"
)

// State is the session lifecycle.
type State string

// Session states.
const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

// Exit reasons recorded when a capture loop ends.
const (
	ExitStopped    = "stopped"
	ExitDeviceGone = "device_gone"
	ExitAborted    = "aborted"
)

// StopOutcome describes what Stop did.
type StopOutcome struct {
	// Mode is command.ModeThread if a session was signalled,
	// command.ModeAlreadyStopped otherwise.
	Mode string
}

type stopFlag struct {
	once sync.Once
	ch   chan struct{}
}

func newStopFlag() *stopFlag { return &stopFlag{ch: make(chan struct{})} }

func (f *stopFlag) set() { f.once.Do(func() { close(f.ch) }) }

func (f *stopFlag) isSet() bool {
	select {
	case <-f.ch:
		return true
	default:
		return false
	}
}

// Manager owns the capture goroutine, its stop flag and the camera cell.
type Manager struct {
	source device.Source
	poster uploader.Poster
	guard  *device.Guard
	now    func() time.Time
	logger logger.Logger

	cell device.Cell

	mu         sync.Mutex
	state      State
	flag       *stopFlag
	done       chan struct{}
	sessionUID string
	lastErr    error
	lastExit   string
}

// New creates an idle manager that opens cameras from source and posts
// batches through poster.
func New(source device.Source, poster uploader.Poster, opts ...Option) *Manager {
	m := &Manager{
		source: source,
		poster: poster,
		guard:  &device.Guard{},
		now:    time.Now,
		logger: logger.Get().Named("acquisition"),
		state:  StateIdle,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start opens the camera and launches the capture loop for p. It fails with
// ErrAlreadyRunning while a session is active and with ErrCameraBusy while
// calibration holds the camera.
//
// The manager is locked only around state changes; the camera is opened
// with the session in StateStarting. A Stop that lands while the camera is
// opening is honoured by the loop's first flag check.
func (m *Manager) Start(ctx context.Context, p command.StartAcquisition) error {
	m.mu.Lock()
	if m.state != StateIdle {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	if err := p.Validate(); err != nil {
		m.mu.Unlock()
		return err
	}
	if err := m.guard.Claim(device.OwnerAcquisition); err != nil {
		m.mu.Unlock()
		return err
	}
	flag, done := newStopFlag(), make(chan struct{})
	m.flag = flag
	m.done = done
	m.state = StateStarting
	m.sessionUID = p.SessionUID
	m.lastErr = nil
	m.lastExit = ""
	m.mu.Unlock()

	cam, err := m.source.Open(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.state = StateIdle
		m.sessionUID = ""
		m.guard.Release(device.OwnerAcquisition)
		close(done)
		return fmt.Errorf("%w: %w", device.ErrOpen, err)
	}

	lease := m.cell.Put(cam)
	if m.state == StateStarting {
		m.state = StateRunning
	}

	up := uploader.New(m.poster, uploader.BatchURL(p.APIURL), p.BatchSize)
	go m.run(context.WithoutCancel(ctx), p, lease, flag, up, done)

	m.logger.Info(ctx, "acquisition started",
		logger.String("session_uid", p.SessionUID),
		logger.Float64("fps", p.FPS),
		logger.Int("batch_size", p.BatchSize),
	)
	return nil
}

// Stop signals the running session and forcibly releases its camera. It is
// idempotent and returns without waiting for the loop to finish.
func (m *Manager) Stop(ctx context.Context) StopOutcome {
	m.mu.Lock()
	if m.state == StateIdle {
		m.mu.Unlock()
		return StopOutcome{Mode: command.ModeAlreadyStopped}
	}
	m.state = StateStopping
	m.flag.set()
	m.sessionUID = ""
	cam := m.cell.Take()
	m.mu.Unlock()

	if cam != nil {
		if err := cam.Release(); err != nil {
			m.logger.Warn(ctx, "failed to release camera", logger.Error(err))
		}
	}
	m.logger.Info(ctx, "acquisition stop requested")
	return StopOutcome{Mode: command.ModeThread}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SessionUID returns the session being captured, or "".
func (m *Manager) SessionUID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionUID
}

// LastError returns the error that aborted the previous session, if any.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// LastExit returns why the previous session ended.
func (m *Manager) LastExit() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastExit
}

// Wait blocks until the current session, if any, has fully finished or ctx
// is done.
func (m *Manager) Wait(ctx context.Context) error {
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) run(ctx context.Context, p command.StartAcquisition, lease *device.Lease, flag *stopFlag, up *uploader.Uploader, done chan struct{}) {
	var (
		exit string
		err  error
	)
	defer func() {
		if r := recover(); r != nil {
			exit, err = ExitAborted, fmt.Errorf("capture loop panic: %v", r)
		}
		m.finish(ctx, p, lease, up, done, exit, err)
	}()
	exit, err = m.capture(ctx, p, lease, flag, up)
}

func (m *Manager) capture(ctx context.Context, p command.StartAcquisition, lease *device.Lease, flag *stopFlag, up *uploader.Uploader) (string, error) {
	cam := lease.Camera()
	interval := time.Duration(float64(time.Second) / p.FPS)

	for {
		begin := time.Now()
		if flag.isSet() {
			return ExitStopped, nil
		}

		frame, err := cam.Read()
		if err != nil {
			if flag.isSet() || !lease.Valid() {
				return ExitStopped, nil
			}
			if errors.Is(err, device.ErrDeviceGone) {
				return ExitDeviceGone, nil
			}
			return ExitAborted, fmt.Errorf("read frame: %w", err)
		}
		if !lease.Valid() || flag.isSet() {
			return ExitStopped, nil
		}

		analysis, err := m.source.Analyzer.Analyze(ctx, frame)
		if err != nil {
			return ExitAborted, fmt.Errorf("analyze frame: %w", err)
		}
		metrics.RecordAcquisitionFrame()

		if up.Add(model.NewSample(p.SessionUID, m.now(), analysis)) {
			if flag.isSet() {
				return ExitStopped, nil
			}
			_ = up.Flush(ctx)
		}

		remaining := interval - time.Since(begin)
		if remaining <= 0 {
			continue
		}
		select {
		case <-flag.ch:
			return ExitStopped, nil
		case <-time.After(remaining):
		}
	}
}

// finish flushes what is left, releases the camera and returns the manager
// to idle.
func (m *Manager) finish(ctx context.Context, p command.StartAcquisition, lease *device.Lease, up *uploader.Uploader, done chan struct{}, exit string, err error) {
	_ = up.Flush(ctx)

	m.cell.Reclaim(lease)
	if relErr := lease.Camera().Release(); relErr != nil {
		m.logger.Warn(ctx, "failed to release camera", logger.Error(relErr))
	}

	m.mu.Lock()
	m.state = StateIdle
	m.sessionUID = ""
	m.lastErr = err
	m.lastExit = exit
	m.guard.Release(device.OwnerAcquisition)
	close(done)
	m.mu.Unlock()

	metrics.RecordAcquisitionSession(exit)
	if err != nil {
		metrics.RecordErrorByComponent("acquisition", exit)
		m.logger.Error(ctx, "acquisition aborted",
			logger.String("session_uid", p.SessionUID),
			logger.Error(err),
		)
		return
	}
	m.logger.Info(ctx, "acquisition finished",
		logger.String("session_uid", p.SessionUID),
		logger.String("reason", exit),
	)
}
