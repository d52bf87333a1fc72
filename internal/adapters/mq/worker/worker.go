// Package worker runs detached jobs, one goroutine each, and tracks them so
// the process can wait for in-flight work on shutdown.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/okian/zapgaze/pkg/logger"
	"github.com/okian/zapgaze/pkg/metrics"
)

// ErrClosed is returned by Go after Shutdown has begun.
var ErrClosed = errors.New("worker pool closed")

// Job is a unit of detached work.
type Job func(ctx context.Context)

// Pool launches jobs on their own goroutines. A panicking job is recovered
// and logged; it never takes the process down.
type Pool struct {
	name   string
	logger logger.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
	active atomic.Int64
}

// New creates an empty pool.
func New(opts ...Option) *Pool {
	p := &Pool{
		name:   "worker",
		logger: logger.Get().Named("worker"),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.name != "worker" {
		p.logger = p.logger.Named(p.name)
	}
	return p
}

// Go runs job on a new goroutine. The job receives ctx detached from its
// cancellation, so a finished request does not abort the work it started.
func (p *Pool) Go(ctx context.Context, label string, job Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}

	p.wg.Add(1)
	p.active.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.active.Add(-1)
		defer func() {
			if r := recover(); r != nil {
				metrics.RecordErrorByComponent("worker", "panic")
				p.logger.Error(ctx, "job panicked",
					logger.String("job", label),
					logger.Any("panic", r),
				)
			}
		}()
		job(context.WithoutCancel(ctx))
	}()
	return nil
}

// Active returns the number of jobs still running.
func (p *Pool) Active() int {
	return int(p.active.Load())
}

// Shutdown refuses new jobs and waits for running ones or for ctx.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		p.logger.Warn(ctx, "shutdown timed out", logger.Int("active", p.Active()))
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}
