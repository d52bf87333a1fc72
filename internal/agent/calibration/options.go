package calibration

import (
	"github.com/okian/zapgaze/internal/agent/device"
	"github.com/okian/zapgaze/pkg/logger"
)

// Option configures a Session.
type Option func(*Session)

// WithGuard shares the camera guard with the acquisition manager.
func WithGuard(g *device.Guard) Option {
	return func(s *Session) {
		if g != nil {
			s.guard = g
		}
	}
}

// WithForwarder sets where captured points are reported.
func WithForwarder(f Forwarder) Option {
	return func(s *Session) {
		s.forwarder = f
	}
}

// WithPath sets the file the fitted transform is written to.
func WithPath(path string) Option {
	return func(s *Session) {
		if path != "" {
			s.path = path
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}
