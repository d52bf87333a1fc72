// Command agent runs on the user's machine: it heartbeats the broker,
// executes the commands it receives and serves a loopback control surface.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/okian/zapgaze/internal/adapters/http/backend"
	"github.com/okian/zapgaze/internal/adapters/http/loopback"
	"github.com/okian/zapgaze/internal/agent"
	"github.com/okian/zapgaze/internal/agent/acquisition"
	"github.com/okian/zapgaze/internal/agent/calibration"
	"github.com/okian/zapgaze/internal/agent/device"
	"github.com/okian/zapgaze/internal/config"
	"github.com/okian/zapgaze/pkg/logger"
)

const (
	readHeaderTimeout = 5 * time.Second
	idleTimeout       = 60 * time.Second
	shutdownTimeout   = 10 * time.Second
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return
	}
	if err := applyFlags(ctx, cfg, os.Args[1:]); err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		return
	}

	if err := logger.Init(logger.WithFormat(cfg.LogFormat)); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		return
	}
	log := logger.Get()
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	a, err := newAgent(cfg)
	if err != nil {
		log.Error(ctx, "failed to build agent", logger.Error(err))
		return
	}

	go func() {
		log.Info(ctx, "starting loopback server", logger.String("addr", cfg.AgentAddr))
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(ctx, "loopback server failed", logger.Error(err))
			stop()
		}
	}()

	runDone := make(chan error, 1)
	go func() { runDone <- a.runtime.Run(ctx) }()

	log.Info(ctx, "agent started",
		logger.String("agent_id", a.id),
		logger.String("backend_url", cfg.BackendURL),
	)
	<-ctx.Done()
	log.Info(ctx, "shutting down agent...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	a.shutdown(shutdownCtx)
	<-runDone

	log.Info(ctx, "agent stopped")
}

// applyFlags overrides cfg with command line flags and revalidates it.
func applyFlags(ctx context.Context, cfg *config.Config, args []string) error {
	fs := pflag.NewFlagSet("agent", pflag.ContinueOnError)
	fs.StringVar(&cfg.BackendURL, "backend-url", cfg.BackendURL, "broker base URL")
	fs.StringVar(&cfg.AgentAddr, "addr", cfg.AgentAddr, "loopback listen address")
	fs.StringVar(&cfg.CameraDevice, "camera", cfg.CameraDevice, "capture device driver")
	fs.StringVar(&cfg.AgentID, "agent-id", cfg.AgentID, "agent identity (random when empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg.BackendURL = strings.TrimRight(cfg.BackendURL, "/")
	return cfg.Validate(ctx)
}

type agentApp struct {
	id      string
	runtime *agent.Runtime
	acq     *acquisition.Manager
	cal     *calibration.Session
	server  *http.Server
}

func newAgent(cfg *config.Config) (*agentApp, error) {
	source, err := device.NewSource(cfg.CameraDevice)
	if err != nil {
		return nil, err
	}
	id := cfg.AgentID
	if id == "" {
		id = uuid.NewString()
	}

	client := backend.New(cfg.BackendURL, cfg.AgentAPIKey,
		backend.WithTimeout(cfg.RequestTimeout()),
		backend.WithBatchCompression(cfg.UploadCompression),
	)
	guard := &device.Guard{}
	acq := acquisition.New(source, client, acquisition.WithGuard(guard))
	cal := calibration.New(source,
		calibration.WithGuard(guard),
		calibration.WithForwarder(client),
		calibration.WithPath(cfg.CalibrationPath),
	)
	exec := agent.NewExecutor(acq, cal, cfg.BackendURL)
	rt := agent.NewRuntime(client, exec, id,
		agent.WithInterval(cfg.HeartbeatInterval()),
		agent.WithSession(acq.SessionUID),
	)

	mux := http.NewServeMux()
	loopback.NewServer(exec, acq, "http://"+cfg.AgentAddr, cfg.BackendURL).Register(context.Background(), mux)

	return &agentApp{
		id:      id,
		runtime: rt,
		acq:     acq,
		cal:     cal,
		server: &http.Server{
			Addr:              cfg.AgentAddr,
			Handler:           loopback.Handler(mux),
			ReadHeaderTimeout: readHeaderTimeout,
			IdleTimeout:       idleTimeout,
		},
	}, nil
}

// shutdown stops serving, ends any capture and calibration, then waits for
// in-flight commands and unregisters.
func (a *agentApp) shutdown(ctx context.Context) {
	log := logger.Get()
	if err := a.server.Shutdown(ctx); err != nil {
		log.Warn(ctx, "loopback shutdown failed", logger.Error(err))
	}
	a.acq.Stop(ctx)
	if err := a.acq.Wait(ctx); err != nil {
		log.Warn(ctx, "acquisition did not finish", logger.Error(err))
	}
	a.cal.Close(ctx)
	if err := a.runtime.Close(ctx); err != nil {
		log.Warn(ctx, "runtime close failed", logger.Error(err))
	}
}
