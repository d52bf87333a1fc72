// Package agent is the agent side of the command channel: a heartbeat
// runtime that polls the broker for commands, and an executor that runs
// them against the local acquisition and calibration sessions.
package agent

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/okian/zapgaze/internal/adapters/http/backend"
	"github.com/okian/zapgaze/internal/adapters/mq/worker"
	"github.com/okian/zapgaze/internal/domain/command"
	"github.com/okian/zapgaze/pkg/logger"
	"github.com/okian/zapgaze/pkg/metrics"
)

const defaultInterval = time.Second

// Backend is the broker as seen by the agent.
type Backend interface {
	Register(ctx context.Context, id backend.Identity) error
	Heartbeat(ctx context.Context, id backend.Identity, result *command.Result) (backend.HeartbeatResponse, error)
	Unregister(ctx context.Context, id backend.Identity) error
}

// Runner turns a command into its result.
type Runner interface {
	Execute(ctx context.Context, cmd command.Command) command.Result
}

// Runtime heartbeats the broker and dispatches received commands, each on
// its own goroutine, so a slow command never delays the next heartbeat.
type Runtime struct {
	backend  Backend
	runner   Runner
	agentID  string
	session  func() string
	interval time.Duration
	pool     *worker.Pool
	logger   logger.Logger

	stopped atomic.Bool
}

// NewRuntime creates a runtime polling as agentID.
func NewRuntime(b Backend, runner Runner, agentID string, opts ...Option) *Runtime {
	r := &Runtime{
		backend:  b,
		runner:   runner,
		agentID:  agentID,
		session:  func() string { return "" },
		interval: defaultInterval,
		logger:   logger.Get().Named("runtime"),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.pool == nil {
		r.pool = worker.New(worker.WithName("commands"))
	}
	return r
}

// Run registers and heartbeats until ctx is done or the broker answers
// "stopped". A stopped broker ends polling only; it returns nil and leaves
// any running acquisition alone.
func (r *Runtime) Run(ctx context.Context) error {
	if err := r.backend.Register(ctx, r.identity()); err != nil {
		r.logger.Warn(ctx, "register failed", logger.Error(err))
	} else {
		r.logger.Info(ctx, "registered", logger.String("agent_id", r.agentID))
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		r.beat(ctx)
		if r.stopped.Load() {
			r.logger.Info(ctx, "broker stopped this agent; heartbeat loop ends")
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Stopped reports whether the broker told this agent to stop polling.
func (r *Runtime) Stopped() bool { return r.stopped.Load() }

// Close waits for in-flight commands and unregisters from the broker.
func (r *Runtime) Close(ctx context.Context) error {
	err := r.pool.Shutdown(ctx)
	if uerr := r.backend.Unregister(ctx, r.identity()); uerr != nil {
		r.logger.Warn(ctx, "unregister failed", logger.Error(uerr))
	}
	return err
}

func (r *Runtime) identity() backend.Identity {
	return backend.Identity{AgentID: r.agentID, SessionUID: r.session()}
}

func (r *Runtime) beat(ctx context.Context) {
	resp, err := r.backend.Heartbeat(ctx, r.identity(), nil)
	if err != nil {
		if ctx.Err() == nil {
			metrics.RecordErrorByComponent("runtime", "heartbeat")
			r.logger.Warn(ctx, "heartbeat failed", logger.Error(err))
		}
		return
	}
	r.handle(ctx, resp)
}

func (r *Runtime) handle(ctx context.Context, resp backend.HeartbeatResponse) {
	if resp.Stopped() {
		r.stopped.Store(true)
		return
	}
	for _, raw := range resp.Commands {
		r.dispatch(ctx, raw)
	}
}

func (r *Runtime) dispatch(ctx context.Context, raw []byte) {
	cmd, err := command.Decode(raw)
	if err != nil {
		r.logger.Warn(ctx, "undecodable command", logger.String("command_id", cmd.ID), logger.Error(err))
		if cmd.ID == "" {
			return
		}
		res := command.Failed(cmd.ID, err)
		r.spawn(ctx, "report", func(jctx context.Context) { r.report(jctx, res) })
		return
	}

	r.logger.Debug(ctx, "dispatching command",
		logger.String("command_id", cmd.ID),
		logger.String("type", string(cmd.Type())),
	)
	r.spawn(ctx, string(cmd.Type()), func(jctx context.Context) {
		r.report(jctx, r.runner.Execute(jctx, cmd))
	})
}

func (r *Runtime) spawn(ctx context.Context, label string, job worker.Job) {
	if err := r.pool.Go(ctx, label, job); err != nil {
		r.logger.Warn(ctx, "command dropped", logger.String("job", label), logger.Error(err))
	}
}

// report posts res on its own heartbeat. Failures are logged, never retried.
// Commands returned with the report are dispatched like any others.
func (r *Runtime) report(ctx context.Context, res command.Result) {
	resp, err := r.backend.Heartbeat(ctx, r.identity(), &res)
	if err != nil {
		metrics.RecordErrorByComponent("runtime", "report")
		r.logger.Warn(ctx, "result report failed",
			logger.String("command_id", res.CommandID),
			logger.Error(err),
		)
		return
	}
	r.handle(ctx, resp)
}
