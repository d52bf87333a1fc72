package service_test

import (
	"context"
	"testing"
	"time"

	service "github.com/okian/zapgaze/internal/app"
	"github.com/okian/zapgaze/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	// Initialize logging for tests
	err := logger.Init()
	if err != nil {
		panic(err)
	}
}

func TestService_New(t *testing.T) {
	Convey("Given a new service with default options", t, func() {
		svc := service.New()

		Convey("Then it has no broker until started", func() {
			So(svc, ShouldNotBeNil)
			So(svc.Broker(), ShouldBeNil)
			So(svc.GetStats()["started"], ShouldEqual, false)
		})
	})
}

func TestService_Start(t *testing.T) {
	Convey("Given a started service", t, func() {
		svc := service.New(
			service.WithHeartbeatTimeout(2*time.Second),
			service.WithAbandonedSize(100),
			service.WithSampleInterval(10*time.Millisecond),
		)
		ctx := context.Background()
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		Convey("Then starting again is a no-op", func() {
			b := svc.Broker()
			So(svc.Start(ctx), ShouldBeNil)
			So(svc.Broker(), ShouldEqual, b)
		})

		Convey("Then stats reflect broker state", func() {
			svc.Broker().Register(ctx, "agent-1")
			stats := svc.GetStats()
			So(stats["started"], ShouldEqual, true)
			So(stats["activeAliases"], ShouldEqual, 1)
			So(stats["heartbeatTimeoutMs"], ShouldEqual, int64(2000))
			So(stats["abandonedResultsSize"], ShouldEqual, 100)
		})

		Convey("Then the configured timeout governs liveness", func() {
			svc.Broker().Register(ctx, "agent-1")
			So(svc.Broker().Status(ctx, "agent-1").Connected, ShouldBeTrue)
		})
	})

	Convey("Given a service that was never started", t, func() {
		svc := service.New()

		Convey("Then Stop is safe", func() {
			So(func() { svc.Stop() }, ShouldNotPanic)
		})
	})
}
