package scheduler_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/standings/internal/scheduler"
)

type countingPruner struct {
	calls  atomic.Int32
	maxAge atomic.Int32
}

func (p *countingPruner) PruneSnapshots(_ context.Context, maxAgeDays int) (int, error) {
	p.calls.Add(1)
	p.maxAge.Store(int32(maxAgeDays))
	return 2, nil
}

func TestScheduler(t *testing.T) {
	Convey("Given a pruner", t, func() {
		p := &countingPruner{}

		Convey("An invalid cron expression is rejected", func() {
			_, err := scheduler.New(p, "every night")
			So(err, ShouldNotBeNil)
		})

		Convey("A valid expression is accepted without running", func() {
			s, err := scheduler.New(p, "0 3 * * *")
			So(err, ShouldBeNil)
			s.Start()
			So(s.Stop(), ShouldBeNil)
			So(p.calls.Load(), ShouldEqual, 0)
		})

		Convey("An every-second schedule prunes with the configured retention", func() {
			s, err := scheduler.New(p, "* * * * * *", scheduler.WithSeconds())
			So(err, ShouldBeNil)
			s.Start()

			deadline := time.Now().Add(3 * time.Second)
			for p.calls.Load() == 0 && time.Now().Before(deadline) {
				time.Sleep(20 * time.Millisecond)
			}
			So(s.Stop(), ShouldBeNil)
			So(p.calls.Load(), ShouldBeGreaterThan, 0)
			So(p.maxAge.Load(), ShouldEqual, 0)
		})
	})
}
