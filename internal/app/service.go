// Package service wires the command broker and its background upkeep for
// the broker process.
package service

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/okian/zapgaze/internal/adapters/mq/broker"
	"github.com/okian/zapgaze/pkg/logger"
	"github.com/okian/zapgaze/pkg/metrics"
)

const defaultSampleInterval = 5 * time.Second

// Service owns the broker and the system metrics sampler.
type Service struct {
	mu sync.RWMutex

	broker *broker.Broker

	// Configuration
	heartbeatTimeout time.Duration
	abandonedSize    int
	sampleInterval   time.Duration
	brokerOpts       []broker.Option

	// State
	started bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	// Logging
	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithHeartbeatTimeout sets how long an agent alias stays active.
func WithHeartbeatTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.heartbeatTimeout = d
		}
	}
}

// WithAbandonedSize bounds the settled command id set.
func WithAbandonedSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.abandonedSize = n
		}
	}
}

// WithSampleInterval sets how often system metrics are refreshed.
func WithSampleInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.sampleInterval = d
		}
	}
}

// WithBrokerOptions passes extra options through to the broker.
func WithBrokerOptions(opts ...broker.Option) Option {
	return func(s *Service) {
		s.brokerOpts = append(s.brokerOpts, opts...)
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(logger logger.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		heartbeatTimeout: 30 * time.Second,
		abandonedSize:    10_000,
		sampleInterval:   defaultSampleInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start builds the broker and starts background upkeep.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}

	opts := append([]broker.Option{
		broker.WithHeartbeatTimeout(s.heartbeatTimeout),
		broker.WithAbandonedSize(s.abandonedSize),
	}, s.brokerOpts...)
	s.broker = broker.New(opts...)

	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.sampleSystemMetrics(s.stopCh, s.doneCh)

	s.started = true
	s.logger.Info(ctx, "broker service started",
		logger.Duration("heartbeat_timeout", s.heartbeatTimeout),
		logger.Int("abandoned_results_size", s.abandonedSize),
	)
	return nil
}

// Stop halts background upkeep.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	close(s.stopCh)
	<-s.doneCh
	s.started = false
	s.logger.Info(context.Background(), "broker service stopped")
}

// Broker returns the broker built by Start, or nil before Start.
func (s *Service) Broker() *broker.Broker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.broker
}

func (s *Service) sampleSystemMetrics(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.sampleInterval)
	defer ticker.Stop()

	sample := func() {
		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		metrics.UpdateSystemMemoryUsage(m.Alloc)
		metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())
	}
	sample()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			sample()
		}
	}
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":              s.started,
		"heartbeatTimeoutMs":   s.heartbeatTimeout.Milliseconds(),
		"abandonedResultsSize": s.abandonedSize,
	}
	if s.broker != nil {
		st := s.broker.Stats()
		stats["activeAliases"] = st.ActiveAliases
		stats["knownAliases"] = st.KnownAliases
		stats["stoppedAliases"] = st.StoppedAliases
		stats["pendingCommands"] = st.PendingCommands
		stats["pendingWaiters"] = st.PendingWaiters
		stats["settledCommands"] = st.SettledCommands
	}
	return stats
}
