package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/okian/zapgaze/internal/agent/acquisition"
	domain "github.com/okian/zapgaze/internal/domain/calibration"
	"github.com/okian/zapgaze/internal/domain/command"
	"github.com/okian/zapgaze/pkg/logger"
	"github.com/okian/zapgaze/pkg/metrics"
)

// Acquisition is the capture session the executor drives.
type Acquisition interface {
	Start(ctx context.Context, p command.StartAcquisition) error
	Stop(ctx context.Context) acquisition.StopOutcome
	SessionUID() string
}

// Calibration is the calibration session the executor drives.
type Calibration interface {
	Start(ctx context.Context) error
	Point(ctx context.Context, p command.CalibratePoint) (domain.Point, error)
	Finish(ctx context.Context) (domain.Transform, error)
}

// Executor maps commands onto the acquisition and calibration sessions.
// Remote commands and loopback requests share it.
type Executor struct {
	acq        Acquisition
	cal        Calibration
	defaultAPI string
	logger     logger.Logger
}

// NewExecutor creates an executor. Acquisition batches default to
// {backendURL}/acquisition/batch when a start command omits api_url.
func NewExecutor(acq Acquisition, cal Calibration, backendURL string, opts ...ExecutorOption) *Executor {
	e := &Executor{
		acq:        acq,
		cal:        cal,
		defaultAPI: strings.TrimRight(backendURL, "/") + "/acquisition/batch",
		logger:     logger.Get().Named("executor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes cmd and returns its payload.
func (e *Executor) Run(ctx context.Context, cmd command.Command) (any, error) {
	switch p := cmd.Params.(type) {
	case command.CalibrateStart:
		if err := e.cal.Start(ctx); err != nil {
			return nil, err
		}
		return command.Ack{Status: command.StatusCalibrationStarted}, nil

	case command.CalibratePoint:
		p = p.WithDefaults()
		if err := p.Validate(); err != nil {
			return nil, err
		}
		return e.cal.Point(ctx, p)

	case command.CalibrateFinish:
		return e.cal.Finish(ctx)

	case command.StartAcquisition:
		p = p.WithDefaults(e.defaultAPI)
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if err := e.acq.Start(ctx, p); err != nil {
			return nil, err
		}
		return command.Ack{Status: command.StatusAcquisitionStarted, Mode: command.ModeThread}, nil

	case command.StopAcquisition:
		out := e.acq.Stop(ctx)
		return command.Ack{Status: command.StatusAcquisitionStopped, Mode: out.Mode}, nil
	}
	return nil, fmt.Errorf("%w: %s", command.ErrUnknownType, cmd.Type())
}

// Execute runs cmd and folds the outcome, including a panic, into a Result.
func (e *Executor) Execute(ctx context.Context, cmd command.Command) (res command.Result) {
	defer func() {
		if r := recover(); r != nil {
			res = command.Failed(cmd.ID, fmt.Errorf("%v", r))
		}
		outcome := "success"
		if !res.Success {
			outcome = "failure"
			e.logger.Warn(ctx, "command failed",
				logger.String("command_id", cmd.ID),
				logger.String("type", string(cmd.Type())),
				logger.String("error", res.Error),
			)
		}
		metrics.RecordCommandExecuted(string(cmd.Type()), outcome)
	}()

	payload, err := e.Run(ctx, cmd)
	if err != nil {
		return command.Failed(cmd.ID, err)
	}
	res, err = command.Succeeded(cmd.ID, payload)
	if err != nil {
		return command.Failed(cmd.ID, err)
	}
	return res
}
