package agent

import (
	"time"

	"github.com/okian/zapgaze/internal/adapters/mq/worker"
	"github.com/okian/zapgaze/pkg/logger"
)

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithExecutorLogger sets a custom logger for the executor.
func WithExecutorLogger(l logger.Logger) ExecutorOption {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithInterval sets the heartbeat cadence.
func WithInterval(d time.Duration) Option {
	return func(r *Runtime) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithSession supplies the session uid sent as the secondary alias.
func WithSession(fn func() string) Option {
	return func(r *Runtime) {
		if fn != nil {
			r.session = fn
		}
	}
}

// WithPool runs dispatched commands on p.
func WithPool(p *worker.Pool) Option {
	return func(r *Runtime) {
		if p != nil {
			r.pool = p
		}
	}
}

// WithLogger sets a custom logger for the runtime.
func WithLogger(l logger.Logger) Option {
	return func(r *Runtime) {
		if l != nil {
			r.logger = l
		}
	}
}
