// Package config defines process configuration for the broker and the agent.
//
// Conventions:
// - One flat struct serves both binaries; each reads the keys it needs.
// - Durations are expressed in milliseconds to keep env overrides simple.
// - Load errors wrap ErrLoadConfig, validation errors wrap ErrInvalidConfig.
package config

import (
	"context"
	"time"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects text or json log output.
	LogFormat string `koanf:"log_format"`

	// Addr configures the broker HTTP listen address, e.g. ":8000".
	Addr string `koanf:"addr"`

	// AgentAPIKey is the shared secret agents present on register/heartbeat.
	AgentAPIKey string `koanf:"agent_api_key"`

	// FrontendAPIKey is the shared secret the frontend presents on proxy calls.
	FrontendAPIKey string `koanf:"frontend_api_key"`

	// HeartbeatTimeoutMS is how long an alias stays active without a heartbeat.
	HeartbeatTimeoutMS int `koanf:"heartbeat_timeout_ms"`

	// AbandonedResultsSize bounds the set of timed-out command ids the broker remembers.
	AbandonedResultsSize int `koanf:"abandoned_results_size"`

	// AgentAddr is the loopback listen address of the agent control surface.
	AgentAddr string `koanf:"agent_addr"`

	// BackendURL is the broker base URL the agent heartbeats against.
	BackendURL string `koanf:"backend_url"`

	// AgentID fixes the agent identity; a random one is generated when empty.
	AgentID string `koanf:"agent_id"`

	// HeartbeatIntervalMS is the agent heartbeat cadence.
	HeartbeatIntervalMS int `koanf:"heartbeat_interval_ms"`

	// RequestTimeoutMS bounds every agent->backend HTTP call.
	RequestTimeoutMS int `koanf:"request_timeout_ms"`

	// CalibrationPath is where the fitted transform is written.
	CalibrationPath string `koanf:"calibration_path"`

	// CameraDevice names the capture device driver.
	CameraDevice string `koanf:"camera_device"`

	// UploadCompression gzips acquisition batches sent to the backend.
	UploadCompression bool `koanf:"upload_compression"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:             "info",
		LogFormat:            "text",
		Addr:                 ":8000",
		AgentAPIKey:          "zapgaze-agent-secret-key-change-in-production",
		FrontendAPIKey:       "zapgaze-frontend-secret-key-change-in-production",
		HeartbeatTimeoutMS:   30_000,
		AbandonedResultsSize: 10_000,
		AgentAddr:            "127.0.0.1:9000",
		BackendURL:           "http://localhost:8000",
		HeartbeatIntervalMS:  1_000,
		RequestTimeoutMS:     5_000,
		CalibrationPath:      "calibration.json",
		CameraDevice:         "synthetic",
	}
}

// HeartbeatTimeout returns HeartbeatTimeoutMS as a duration.
func (c *Config) HeartbeatTimeout() time.Duration {
	return time.Duration(c.HeartbeatTimeoutMS) * time.Millisecond
}

// HeartbeatInterval returns HeartbeatIntervalMS as a duration.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalMS) * time.Millisecond
}

// RequestTimeout returns RequestTimeoutMS as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMS) * time.Millisecond
}

// Validate reports the first invalid field.
func (c *Config) Validate(_ context.Context) error {
	switch {
	case c.Addr == "":
		return invalid("addr must not be empty")
	case c.AgentAddr == "":
		return invalid("agent_addr must not be empty")
	case c.AgentAPIKey == "" || c.FrontendAPIKey == "":
		return invalid("api keys must not be empty")
	case c.AgentAPIKey == c.FrontendAPIKey:
		return invalid("agent_api_key and frontend_api_key must differ")
	case c.HeartbeatTimeoutMS <= 0:
		return invalid("heartbeat_timeout_ms must be positive")
	case c.HeartbeatIntervalMS <= 0:
		return invalid("heartbeat_interval_ms must be positive")
	case c.RequestTimeoutMS <= 0:
		return invalid("request_timeout_ms must be positive")
	case !hasHTTPScheme(c.BackendURL):
		return invalid("backend_url must start with http:// or https://")
	}
	return nil
}
