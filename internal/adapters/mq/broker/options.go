package broker

import (
	"time"

	"github.com/okian/zapgaze/internal/domain/command"
	"github.com/okian/zapgaze/pkg/logger"
)

// Option applies a configuration option to the Broker.
type Option func(*Broker)

// WithHeartbeatTimeout sets how long an alias stays active after its last heartbeat.
func WithHeartbeatTimeout(d time.Duration) Option {
	return func(b *Broker) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// WithCeiling overrides how long EnqueueAndWait waits for commands of type t.
func WithCeiling(t command.Type, d time.Duration) Option {
	return func(b *Broker) {
		if d > 0 {
			b.ceilings[t] = d
		}
	}
}

// WithAbandonedSize bounds how many settled command ids are remembered.
func WithAbandonedSize(n int) Option {
	return func(b *Broker) {
		b.abandonedSize = n
	}
}

// WithQueueCapacity bounds how many commands may wait per alias.
func WithQueueCapacity(n int) Option {
	return func(b *Broker) {
		if n > 0 {
			b.queueCapacity = n
		}
	}
}

// WithClock replaces time.Now for alias bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(b *Broker) {
		if now != nil {
			b.now = now
		}
	}
}

// WithLogger sets a custom logger for the broker.
func WithLogger(l logger.Logger) Option {
	return func(b *Broker) {
		if l != nil {
			b.logger = l
		}
	}
}
