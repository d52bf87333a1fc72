package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/okian/zapgaze/internal/config"
	"github.com/okian/zapgaze/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.Init()
}

func TestApplyFlags(t *testing.T) {
	ctx := context.Background()

	convey.Convey("Given default configuration", t, func() {
		cfg := config.New()

		convey.Convey("When flags override the backend and address", func() {
			err := applyFlags(ctx, cfg, []string{"--backend-url", "https://broker.example/", "--addr", "127.0.0.1:9100", "--agent-id", "desk-1"})

			convey.Convey("Then the overrides win", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.BackendURL, convey.ShouldEqual, "https://broker.example")
				convey.So(cfg.AgentAddr, convey.ShouldEqual, "127.0.0.1:9100")
				convey.So(cfg.AgentID, convey.ShouldEqual, "desk-1")
			})
		})

		convey.Convey("When the backend URL has no scheme", func() {
			err := applyFlags(ctx, cfg, []string{"--backend-url", "broker:8000"})
			convey.So(err, convey.ShouldNotBeNil)
		})

		convey.Convey("When an unknown flag is passed", func() {
			err := applyFlags(ctx, cfg, []string{"--verbose"})
			convey.So(err, convey.ShouldNotBeNil)
		})
	})
}

func TestNewAgent(t *testing.T) {
	convey.Convey("Given an agent built from configuration", t, func() {
		cfg := config.New()
		cfg.CalibrationPath = t.TempDir() + "/calibration.json"
		a, err := newAgent(cfg)
		convey.So(err, convey.ShouldBeNil)

		convey.Convey("Then it gets a random identity", func() {
			convey.So(a.id, convey.ShouldNotBeEmpty)
			b, err := newAgent(cfg)
			convey.So(err, convey.ShouldBeNil)
			convey.So(b.id, convey.ShouldNotEqual, a.id)
		})

		convey.Convey("Then the loopback surface reports idle", func() {
			srv := httptest.NewServer(a.server.Handler)
			defer srv.Close()

			resp, err := http.Get(srv.URL + "/status")
			convey.So(err, convey.ShouldBeNil)
			defer resp.Body.Close()
			var body map[string]any
			convey.So(json.NewDecoder(resp.Body).Decode(&body), convey.ShouldBeNil)
			convey.So(body["status"], convey.ShouldEqual, "stopped")
		})

		convey.Convey("Then an unknown camera is refused", func() {
			cfg.CameraDevice = "v4l2:/dev/video9"
			_, err := newAgent(cfg)
			convey.So(err, convey.ShouldNotBeNil)
		})
	})
}
