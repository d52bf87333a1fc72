package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/klauspost/compress/gzip"

	"github.com/okian/zapgaze/internal/domain/calibration"
	"github.com/okian/zapgaze/internal/domain/command"
	"github.com/okian/zapgaze/internal/domain/model"
	"github.com/okian/zapgaze/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.Init()
}

type recorded struct {
	method string
	path   string
	query  string
	key    string
	body   map[string]any
	list   []any
}

func newRecordingServer(status int, reply string) (*httptest.Server, *[]recorded) {
	var calls []recorded
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recorded{
			method: r.Method,
			path:   r.URL.Path,
			query:  r.URL.RawQuery,
			key:    r.Header.Get(APIKeyHeader),
		}
		var v any
		if err := json.NewDecoder(r.Body).Decode(&v); err == nil {
			switch t := v.(type) {
			case map[string]any:
				rec.body = t
			case []any:
				rec.list = t
			}
		}
		calls = append(calls, rec)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	return srv, &calls
}

func TestClient(t *testing.T) {
	ctx := context.Background()

	Convey("Given a backend that accepts everything", t, func() {
		cmd := command.New(command.CalibrateStart{})
		wire, _ := json.Marshal(cmd)
		srv, calls := newRecordingServer(http.StatusOK, `{"status":"ok","commands":[`+string(wire)+`]}`)
		defer srv.Close()
		c := New(srv.URL+"/", "secret")

		Convey("When sending a heartbeat with a result", func() {
			res := command.Failed("cmd-1", errors.New("boom"))
			resp, err := c.Heartbeat(ctx, Identity{AgentID: "a1", SessionUID: "s1"}, &res)

			Convey("Then the identity and result are posted with the key", func() {
				So(err, ShouldBeNil)
				So(len(*calls), ShouldEqual, 1)
				call := (*calls)[0]
				So(call.method, ShouldEqual, http.MethodPost)
				So(call.path, ShouldEqual, "/agent/heartbeat")
				So(call.key, ShouldEqual, "secret")
				So(call.body["agent_id"], ShouldEqual, "a1")
				So(call.body["session_uid"], ShouldEqual, "s1")
				cr := call.body["command_result"].(map[string]any)
				So(cr["command_id"], ShouldEqual, "cmd-1")
				So(cr["success"], ShouldEqual, false)
				So(cr["error"], ShouldEqual, "boom")
			})

			Convey("Then queued commands come back undecoded", func() {
				So(resp.Stopped(), ShouldBeFalse)
				So(len(resp.Commands), ShouldEqual, 1)
				decoded, err := command.Decode(resp.Commands[0])
				So(err, ShouldBeNil)
				So(decoded.ID, ShouldEqual, cmd.ID)
			})
		})

		Convey("When registering without a session", func() {
			So(c.Register(ctx, Identity{AgentID: "a1"}), ShouldBeNil)
			call := (*calls)[0]
			So(call.path, ShouldEqual, "/agent/register")
			_, hasSession := call.body["session_uid"]
			So(hasSession, ShouldBeFalse)
		})

		Convey("When unregistering", func() {
			So(c.Unregister(ctx, Identity{AgentID: "a1"}), ShouldBeNil)
			call := (*calls)[0]
			So(call.method, ShouldEqual, http.MethodDelete)
			So(call.path, ShouldEqual, "/agent/unregister")
			So(call.query, ShouldEqual, "agent_id=a1")
		})

		Convey("When forwarding a calibration point", func() {
			err := c.ForwardPoint(ctx, "s1", calibration.Point{ScreenX: 10, ScreenY: 20, MeasuredX: 1, MeasuredY: 2})
			So(err, ShouldBeNil)
			call := (*calls)[0]
			So(call.path, ShouldEqual, "/session/s1/calibration/point")
			So(call.body["screen_x"], ShouldEqual, 10.0)
			So(call.body["measured_y"], ShouldEqual, 2.0)
		})

		Convey("When posting a batch", func() {
			samples := []model.Sample{{SessionUID: "s1"}, {SessionUID: "s1"}}
			So(c.PostBatch(ctx, srv.URL+"/acquisition/batch", samples), ShouldBeNil)
			call := (*calls)[0]
			So(call.path, ShouldEqual, "/acquisition/batch")
			So(len(call.list), ShouldEqual, 2)
		})
	})

	Convey("Given a backend that tells the agent to stop", t, func() {
		srv, _ := newRecordingServer(http.StatusOK, `{"status":"stopped","message":"bye"}`)
		defer srv.Close()
		resp, err := New(srv.URL, "secret").Heartbeat(ctx, Identity{AgentID: "a1"}, nil)
		So(err, ShouldBeNil)
		So(resp.Stopped(), ShouldBeTrue)
		So(resp.Message, ShouldEqual, "bye")
	})

	Convey("Given a backend that rejects the key", t, func() {
		srv, _ := newRecordingServer(http.StatusForbidden, `{"code":"invalid_api_key"}`)
		defer srv.Close()
		err := New(srv.URL, "wrong").Register(ctx, Identity{AgentID: "a1"})
		So(errors.Is(err, ErrStatus), ShouldBeTrue)
		So(err.Error(), ShouldContainSubstring, "403")
	})

	Convey("Given an unreachable backend", t, func() {
		srv, _ := newRecordingServer(http.StatusOK, `{}`)
		srv.Close()
		err := New(srv.URL, "secret").Register(ctx, Identity{AgentID: "a1"})
		So(errors.Is(err, ErrRequest), ShouldBeTrue)
	})
}

func TestClient_BatchCompression(t *testing.T) {
	ctx := context.Background()

	Convey("Given a client with batch compression enabled", t, func() {
		var (
			encoding string
			got      []model.Sample
		)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			encoding = r.Header.Get("Content-Encoding")
			zr, err := gzip.NewReader(r.Body)
			if err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			defer zr.Close()
			_ = json.NewDecoder(zr).Decode(&got)
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()
		c := New(srv.URL, "secret", WithBatchCompression(true))

		Convey("Then batches arrive gzip-encoded", func() {
			So(c.PostBatch(ctx, srv.URL+"/acquisition/batch", []model.Sample{{SessionUID: "s1"}}), ShouldBeNil)
			So(encoding, ShouldEqual, "gzip")
			So(got, ShouldHaveLength, 1)
			So(got[0].SessionUID, ShouldEqual, "s1")
		})

		Convey("Then other calls stay plain JSON", func() {
			So(c.Register(ctx, Identity{AgentID: "a1"}), ShouldNotBeNil)
			So(encoding, ShouldEqual, "")
		})
	})
}
