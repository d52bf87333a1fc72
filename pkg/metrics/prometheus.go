// Package metrics provides Prometheus metrics for the zapgaze broker and agent.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for both processes.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         prometheus.Registerer

	// Broker metrics
	heartbeats         *prometheus.CounterVec
	commandsEnqueued   *prometheus.CounterVec
	commandOutcomes    *prometheus.CounterVec
	commandWaitLatency *prometheus.HistogramVec
	lateResults        prometheus.Counter
	activeAliases      prometheus.Gauge
	pendingCommands    prometheus.Gauge
	pendingWaiters     prometheus.Gauge

	// HTTP Performance Metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Agent metrics
	commandsExecuted    *prometheus.CounterVec
	acquisitionFrames   prometheus.Counter
	acquisitionSessions *prometheus.CounterVec
	uploadBatches       *prometheus.CounterVec
	uploadSamples       prometheus.Counter
	calibrationPoints   prometheus.Counter

	// Enhanced Error Metrics
	errorsByComponent *prometheus.CounterVec

	// System Performance Metrics
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "zapgaze",
		subsystem:        "core",
		histogramBuckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 15000},
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()
	return m
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      name,
		Help:      help,
	}, labels)
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      name,
		Help:      help,
	})
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      name,
		Help:      help,
	})
}

func (m *Manager) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      name,
		Help:      help,
		Buckets:   m.histogramBuckets,
	}, labels)
}

func (m *Manager) initializeMetrics() {
	m.heartbeats = m.counterVec("heartbeats_total", "Heartbeats received by the broker", "status")
	m.commandsEnqueued = m.counterVec("commands_enqueued_total", "Commands queued for agents", "type", "target")
	m.commandOutcomes = m.counterVec("command_outcomes_total", "Outcome of synchronous command proxies", "type", "outcome")
	m.commandWaitLatency = m.histogramVec("command_wait_milliseconds", "Time callers waited for a command result", "type")
	m.lateResults = m.counter("late_results_total", "Command results discarded because nobody was waiting")
	m.activeAliases = m.gauge("active_aliases", "Agent aliases with a heartbeat inside the timeout")
	m.pendingCommands = m.gauge("pending_commands", "Commands queued but not yet drained")
	m.pendingWaiters = m.gauge("pending_waiters", "Callers blocked waiting for a command result")

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration in milliseconds", "endpoint", "method", "status_code")

	m.commandsExecuted = m.counterVec("agent_commands_executed_total", "Commands executed by the agent", "type", "outcome")
	m.acquisitionFrames = m.counter("acquisition_frames_total", "Frames captured by acquisition sessions")
	m.acquisitionSessions = m.counterVec("acquisition_sessions_total", "Finished acquisition sessions by exit reason", "reason")
	m.uploadBatches = m.counterVec("upload_batches_total", "Sample batches posted to the backend", "outcome")
	m.uploadSamples = m.counter("upload_samples_total", "Samples delivered to the backend")
	m.calibrationPoints = m.counter("calibration_points_total", "Calibration points captured")

	m.errorsByComponent = m.counterVec("errors_by_component_total", "Errors by component and type", "component", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "System memory usage in bytes")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
}

// RecordHeartbeat counts a heartbeat answered with status.
func RecordHeartbeat(status string) {
	globalManager.heartbeats.WithLabelValues(status).Inc()
}

// RecordCommandEnqueued counts a command queued under target mode.
func RecordCommandEnqueued(commandType, target string) {
	globalManager.commandsEnqueued.WithLabelValues(commandType, target).Inc()
}

// RecordCommandOutcome counts how a synchronous proxy call ended and how long it waited.
func RecordCommandOutcome(commandType, outcome string, waitedMs float64) {
	globalManager.commandOutcomes.WithLabelValues(commandType, outcome).Inc()
	globalManager.commandWaitLatency.WithLabelValues(commandType).Observe(waitedMs)
}

// RecordLateResult counts a result that arrived after its waiter gave up.
func RecordLateResult() {
	globalManager.lateResults.Inc()
}

// UpdateBrokerGauges refreshes the broker state gauges.
func UpdateBrokerGauges(activeAliases, pendingCommands, pendingWaiters int) {
	globalManager.activeAliases.Set(float64(activeAliases))
	globalManager.pendingCommands.Set(float64(pendingCommands))
	globalManager.pendingWaiters.Set(float64(pendingWaiters))
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration in milliseconds.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordCommandExecuted counts a command handled by the agent executor.
func RecordCommandExecuted(commandType, outcome string) {
	globalManager.commandsExecuted.WithLabelValues(commandType, outcome).Inc()
}

// RecordAcquisitionFrame counts one captured frame.
func RecordAcquisitionFrame() {
	globalManager.acquisitionFrames.Inc()
}

// RecordAcquisitionSession counts a finished capture loop by reason.
func RecordAcquisitionSession(reason string) {
	globalManager.acquisitionSessions.WithLabelValues(reason).Inc()
}

// RecordUploadBatch counts a batch post and, on success, the samples it carried.
func RecordUploadBatch(outcome string, samples int) {
	globalManager.uploadBatches.WithLabelValues(outcome).Inc()
	if outcome == "sent" {
		globalManager.uploadSamples.Add(float64(samples))
	}
}

// RecordCalibrationPoint counts a captured calibration point.
func RecordCalibrationPoint() {
	globalManager.calibrationPoints.Inc()
}

// RecordErrorByComponent records errors by component.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// UpdateSystemMemoryUsage updates system memory usage.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount updates system goroutine count.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
