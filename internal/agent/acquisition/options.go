package acquisition

import (
	"time"

	"github.com/okian/zapgaze/internal/agent/device"
	"github.com/okian/zapgaze/pkg/logger"
)

// Option applies a configuration option to the Manager.
type Option func(*Manager)

// WithGuard shares a camera guard with other sessions.
func WithGuard(g *device.Guard) Option {
	return func(m *Manager) {
		if g != nil {
			m.guard = g
		}
	}
}

// WithClock replaces time.Now for sample timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger sets a custom logger for the manager.
func WithLogger(l logger.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}
