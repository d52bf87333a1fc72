package loopback_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/zapgaze/internal/adapters/http/loopback"
	"github.com/okian/zapgaze/internal/agent"
	"github.com/okian/zapgaze/internal/agent/acquisition"
	"github.com/okian/zapgaze/internal/agent/calibration"
	"github.com/okian/zapgaze/internal/agent/device"
	"github.com/okian/zapgaze/internal/domain/command"
	"github.com/okian/zapgaze/internal/domain/model"
	"github.com/okian/zapgaze/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.Init()
}

type discardPoster struct{}

func (discardPoster) PostBatch(context.Context, string, []model.Sample) error { return nil }

// spreadAnalyzer moves the gaze every three frames so consecutive
// calibration points are well separated.
type spreadAnalyzer struct{ calls atomic.Int64 }

func (a *spreadAnalyzer) Analyze(context.Context, device.Frame) (model.Analysis, error) {
	k := float64((a.calls.Add(1) - 1) / 3)
	return model.Analysis{EyeCenters: []model.Point2{{k * 10, k * k * 10}, {k * 10, k * k * 10}}}, nil
}

type failingRunner struct{ err error }

func (f failingRunner) Run(context.Context, command.Command) (any, error) { return nil, f.err }

type idle struct{}

func (idle) State() acquisition.State { return acquisition.StateIdle }

func serve(runner loopback.Runner, state loopback.StateReporter) *httptest.Server {
	mux := http.NewServeMux()
	loopback.NewServer(runner, state, "http://localhost:9000", "http://backend:8000").Register(context.Background(), mux)
	return httptest.NewServer(loopback.Handler(mux))
}

func call(t *testing.T, method, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	out := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestLoopback(t *testing.T) {
	Convey("Given a loopback server over real sessions", t, func() {
		guard := &device.Guard{}
		src := device.Source{
			Open: func(context.Context) (device.Camera, error) {
				return device.NewSynthetic(device.WithFrameInterval(time.Millisecond)), nil
			},
			Analyzer: &spreadAnalyzer{},
		}
		acq := acquisition.New(src, discardPoster{}, acquisition.WithGuard(guard))
		cal := calibration.New(src,
			calibration.WithGuard(guard),
			calibration.WithPath(filepath.Join(t.TempDir(), "calibration.json")),
		)
		srv := serve(agent.NewExecutor(acq, cal, "http://backend:8000"), acq)

		Reset(func() {
			acq.Stop(context.Background())
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = acq.Wait(ctx)
			srv.Close()
		})

		Convey("Then the root route reports the server", func() {
			resp, body := call(t, http.MethodGet, srv.URL+"/", "")
			So(resp.StatusCode, ShouldEqual, http.StatusOK)
			So(resp.Header.Get("Access-Control-Allow-Origin"), ShouldEqual, "*")
			So(body["status"], ShouldEqual, "agent_server_running")
			So(body["backend_url"], ShouldEqual, "http://backend:8000")
		})

		Convey("Then preflight requests are answered", func() {
			resp, _ := call(t, http.MethodOptions, srv.URL+"/start", "")
			So(resp.StatusCode, ShouldEqual, http.StatusNoContent)
		})

		Convey("When acquisition is started and stopped", func() {
			resp, started := call(t, http.MethodPost, srv.URL+"/start", `{"session_uid":"S","fps":30}`)
			So(resp.StatusCode, ShouldEqual, http.StatusOK)
			_, running := call(t, http.MethodGet, srv.URL+"/status", "")
			conflict, _ := call(t, http.MethodPost, srv.URL+"/start", `{"session_uid":"S","fps":30}`)
			busy, busyBody := call(t, http.MethodPost, srv.URL+"/calibrate/start", "")
			_, stopped := call(t, http.MethodPost, srv.URL+"/stop", "")

			Convey("Then each route reports the transition", func() {
				So(started["status"], ShouldEqual, command.StatusAcquisitionStarted)
				So(running["status"], ShouldEqual, "running")
				So(running["mode"], ShouldEqual, command.ModeThread)
				So(conflict.StatusCode, ShouldEqual, http.StatusConflict)
				So(busy.StatusCode, ShouldEqual, http.StatusConflict)
				So(busyBody["message"], ShouldEqual, "camera busy: acquisition running")
				So(stopped["mode"], ShouldEqual, command.ModeThread)
			})

			Convey("Then status settles to stopped", func() {
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				So(acq.Wait(ctx), ShouldBeNil)
				_, status := call(t, http.MethodGet, srv.URL+"/status", "")
				So(status["status"], ShouldEqual, "stopped")
			})
		})

		Convey("When calibration runs through three points", func() {
			resp, _ := call(t, http.MethodPost, srv.URL+"/calibrate/start", "")
			So(resp.StatusCode, ShouldEqual, http.StatusOK)
			for _, target := range [][2]int{{0, 0}, {100, 0}, {0, 100}} {
				body := fmt.Sprintf(`{"session_uid":"S","x":%d,"y":%d,"duration":0.03,"samples":3}`, target[0], target[1])
				resp, pt := call(t, http.MethodPost, srv.URL+"/calibrate/point", body)
				So(resp.StatusCode, ShouldEqual, http.StatusOK)
				So(pt["screen_x"], ShouldEqual, float64(target[0]))
			}
			resp, fit := call(t, http.MethodPost, srv.URL+"/calibrate/finish", "")

			Convey("Then the transform is returned", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusOK)
				So(fit, ShouldContainKey, "A")
				So(fit, ShouldContainKey, "b")
			})
		})

		Convey("Then points before start are rejected", func() {
			resp, body := call(t, http.MethodPost, srv.URL+"/calibrate/point", `{"session_uid":"S","x":1,"y":1}`)
			So(resp.StatusCode, ShouldEqual, http.StatusBadRequest)
			So(body["message"], ShouldEqual, "calibration not started")
		})

		Convey("Then finishing without points is a client error", func() {
			resp, body := call(t, http.MethodPost, srv.URL+"/calibrate/finish", "")
			So(resp.StatusCode, ShouldEqual, http.StatusBadRequest)
			So(body["message"], ShouldEqual, "At least 3 calibration points required. Current points: 0")
		})

		Convey("Then malformed bodies are rejected", func() {
			resp, _ := call(t, http.MethodPost, srv.URL+"/start", `{"fps":`)
			So(resp.StatusCode, ShouldEqual, http.StatusBadRequest)
			resp, _ = call(t, http.MethodPost, srv.URL+"/start", `{"fps":500,"session_uid":"S"}`)
			So(resp.StatusCode, ShouldEqual, http.StatusBadRequest)
		})

		Convey("Then stop while idle is idempotent", func() {
			resp, body := call(t, http.MethodPost, srv.URL+"/stop", "")
			So(resp.StatusCode, ShouldEqual, http.StatusOK)
			So(body["mode"], ShouldEqual, command.ModeAlreadyStopped)
		})
	})

	Convey("Given a runner that fails unexpectedly", t, func() {
		srv := serve(failingRunner{err: fmt.Errorf("analyze frame: %s", "model not loaded")}, idle{})
		defer srv.Close()

		Convey("Then the failure is a server error with the runner's message", func() {
			resp, body := call(t, http.MethodPost, srv.URL+"/calibrate/start", "")
			So(resp.StatusCode, ShouldEqual, http.StatusInternalServerError)
			So(body["code"], ShouldEqual, "agent_error")
			So(body["message"], ShouldEqual, "analyze frame: model not loaded")
		})
	})
}
