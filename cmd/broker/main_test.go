package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/okian/zapgaze/internal/adapters/http/api"
	service "github.com/okian/zapgaze/internal/app"
	"github.com/okian/zapgaze/internal/config"
	"github.com/okian/zapgaze/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.Init()
}

func TestBrokerConfig(t *testing.T) {
	convey.Convey("Given broker environment overrides", t, func() {
		_ = os.Setenv("ZAPGAZE_ADDR", ":8080")
		_ = os.Setenv("ZAPGAZE_HEARTBEAT_TIMEOUT_MS", "10000")
		defer func() {
			_ = os.Unsetenv("ZAPGAZE_ADDR")
			_ = os.Unsetenv("ZAPGAZE_HEARTBEAT_TIMEOUT_MS")
		}()

		convey.Convey("Then configuration should be loadable", func() {
			cfg, err := config.Load(context.Background())
			convey.So(err, convey.ShouldBeNil)
			convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
			convey.So(cfg.HeartbeatTimeoutMS, convey.ShouldEqual, 10000)
		})
	})

	convey.Convey("Given an empty listen address", t, func() {
		_ = os.Setenv("ZAPGAZE_ADDR", "")
		defer func() { _ = os.Unsetenv("ZAPGAZE_ADDR") }()

		convey.Convey("Then configuration loading should fail", func() {
			cfg, err := config.Load(context.Background())
			convey.So(err, convey.ShouldNotBeNil)
			convey.So(cfg, convey.ShouldBeNil)
		})
	})
}

func TestBrokerMux(t *testing.T) {
	convey.Convey("Given the assembled broker routes", t, func() {
		ctx := context.Background()
		cfg := config.New()
		svc := service.New()
		convey.So(svc.Start(ctx), convey.ShouldBeNil)
		defer svc.Stop()

		srv := httptest.NewServer(newMux(ctx, cfg, svc))
		defer srv.Close()

		convey.Convey("Then health, docs and agent routes are served", func() {
			resp, err := http.Get(srv.URL + "/healthz")
			convey.So(err, convey.ShouldBeNil)
			_ = resp.Body.Close()
			convey.So(resp.StatusCode, convey.ShouldEqual, http.StatusOK)

			resp, err = http.Get(srv.URL + "/openapi.yaml")
			convey.So(err, convey.ShouldBeNil)
			_ = resp.Body.Close()
			convey.So(resp.StatusCode, convey.ShouldEqual, http.StatusOK)

			req, _ := http.NewRequest(http.MethodPost, srv.URL+"/agent/register", strings.NewReader(`{"agent_id":"a"}`))
			req.Header.Set(api.APIKeyHeader, cfg.AgentAPIKey)
			resp, err = http.DefaultClient.Do(req)
			convey.So(err, convey.ShouldBeNil)
			defer resp.Body.Close()
			convey.So(resp.StatusCode, convey.ShouldEqual, http.StatusOK)
			var body map[string]any
			convey.So(json.NewDecoder(resp.Body).Decode(&body), convey.ShouldBeNil)
			convey.So(body["agent_key"], convey.ShouldEqual, "a")
		})

		convey.Convey("Then the frontend secret does not open agent routes", func() {
			req, _ := http.NewRequest(http.MethodPost, srv.URL+"/agent/heartbeat", strings.NewReader(`{"agent_id":"a"}`))
			req.Header.Set(api.APIKeyHeader, cfg.FrontendAPIKey)
			resp, err := http.DefaultClient.Do(req)
			convey.So(err, convey.ShouldBeNil)
			_ = resp.Body.Close()
			convey.So(resp.StatusCode, convey.ShouldEqual, http.StatusForbidden)
		})
	})
}
