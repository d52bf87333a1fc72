package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	worker "github.com/okian/zapgaze/internal/adapters/mq/worker"
	logging "github.com/okian/zapgaze/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logging.Init()
}

func TestPool(t *testing.T) {
	convey.Convey("Given a pool", t, func() {
		p := worker.New(worker.WithName("commands"))
		ctx := context.Background()

		convey.Convey("When jobs run concurrently", func() {
			var mu sync.Mutex
			seen := map[int]bool{}
			release := make(chan struct{})
			for i := 0; i < 3; i++ {
				i := i
				err := p.Go(ctx, "job", func(context.Context) {
					<-release
					mu.Lock()
					seen[i] = true
					mu.Unlock()
				})
				convey.So(err, convey.ShouldBeNil)
			}

			convey.Convey("Then all of them are tracked until they finish", func() {
				convey.So(p.Active(), convey.ShouldEqual, 3)
				close(release)
				convey.So(p.Shutdown(ctx), convey.ShouldBeNil)
				convey.So(p.Active(), convey.ShouldEqual, 0)
				convey.So(len(seen), convey.ShouldEqual, 3)
			})
		})

		convey.Convey("When a job panics", func() {
			done := make(chan struct{})
			convey.So(p.Go(ctx, "boom", func(context.Context) { panic("boom") }), convey.ShouldBeNil)
			convey.So(p.Go(ctx, "after", func(context.Context) { close(done) }), convey.ShouldBeNil)

			convey.Convey("Then the pool keeps working", func() {
				select {
				case <-done:
				case <-time.After(time.Second):
					t.Fatal("job after the panic did not run")
				}
				convey.So(p.Shutdown(ctx), convey.ShouldBeNil)
			})
		})

		convey.Convey("When the caller's context is cancelled", func() {
			cctx, cancel := context.WithCancel(ctx)
			got := make(chan error, 1)
			convey.So(p.Go(cctx, "detached", func(jctx context.Context) {
				cancel()
				got <- jctx.Err()
			}), convey.ShouldBeNil)

			convey.Convey("Then the job context stays alive", func() {
				convey.So(<-got, convey.ShouldBeNil)
				convey.So(p.Shutdown(ctx), convey.ShouldBeNil)
			})
		})

		convey.Convey("When shutdown has begun", func() {
			convey.So(p.Shutdown(ctx), convey.ShouldBeNil)

			convey.Convey("Then new jobs are refused", func() {
				err := p.Go(ctx, "late", func(context.Context) {})
				convey.So(errors.Is(err, worker.ErrClosed), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When a job outlives the shutdown deadline", func() {
			release := make(chan struct{})
			convey.So(p.Go(ctx, "slow", func(context.Context) { <-release }), convey.ShouldBeNil)

			convey.Convey("Then shutdown reports the timeout", func() {
				sctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
				defer cancel()
				err := p.Shutdown(sctx)
				convey.So(errors.Is(err, context.DeadlineExceeded), convey.ShouldBeTrue)
				close(release)
			})
		})
	})
}
