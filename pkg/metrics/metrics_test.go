package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with a dedicated registry and custom options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("test"),
				WithSubsystem("unit"),
				WithHistogramBuckets([]float64{1, 10, 100}),
				WithPrometheusRegistry(registry),
			)

			Convey("Then metrics are registered under the custom namespace", func() {
				So(manager, ShouldNotBeNil)
				manager.heartbeats.WithLabelValues("ok").Inc()
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				names := make([]string, 0, len(families))
				for _, f := range families {
					names = append(names, f.GetName())
				}
				So(names, ShouldContain, "test_unit_heartbeats_total")
			})
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given the global metrics manager", t, func() {
		Convey("When recording broker metrics", func() {
			before := testutil.ToFloat64(globalManager.heartbeats.WithLabelValues("stopped"))
			RecordHeartbeat("stopped")
			RecordCommandEnqueued("stop_acquisition", "broadcast")
			RecordCommandOutcome("stop_acquisition", "success", 12)
			RecordLateResult()
			UpdateBrokerGauges(2, 3, 1)

			Convey("Then counters and gauges reflect the calls", func() {
				So(testutil.ToFloat64(globalManager.heartbeats.WithLabelValues("stopped")), ShouldEqual, before+1)
				So(testutil.ToFloat64(globalManager.activeAliases), ShouldEqual, 2)
				So(testutil.ToFloat64(globalManager.pendingCommands), ShouldEqual, 3)
				So(testutil.ToFloat64(globalManager.pendingWaiters), ShouldEqual, 1)
			})
		})

		Convey("When recording agent metrics", func() {
			before := testutil.ToFloat64(globalManager.uploadSamples)
			RecordUploadBatch("sent", 20)
			RecordUploadBatch("dropped", 20)

			Convey("Then only delivered samples are counted", func() {
				So(testutil.ToFloat64(globalManager.uploadSamples), ShouldEqual, before+20)
			})

			Convey("And the remaining recorders do not panic", func() {
				So(func() {
					RecordCommandExecuted("calibrate_point", "success")
					RecordAcquisitionFrame()
					RecordAcquisitionSession("stopped")
					RecordCalibrationPoint()
					RecordErrorByComponent("uploader", "post_failed")
					RecordHTTPRequest("heartbeat", "POST", "200")
					RecordHTTPRequestDuration("heartbeat", "POST", "200", 3)
					UpdateSystemMemoryUsage(1024)
					UpdateSystemGoroutineCount(8)
				}, ShouldNotPanic)
			})
		})

		Convey("When fetching the registry", func() {
			So(GetRegistry(), ShouldEqual, customRegistry)
		})
	})
}
