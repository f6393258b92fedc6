package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsOptions(t *testing.T) {
	Convey("Given metrics options", t, func() {
		Convey("When creating a manager with custom options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("test_namespace"),
				WithSubsystem("test_subsystem"),
				WithHistogramBuckets([]float64{1, 10, 100}),
				WithRefreshInterval(5*time.Second),
				WithPrometheusRegistry(registry),
			)

			Convey("Then the options are applied", func() {
				So(manager, ShouldNotBeNil)
				So(manager.namespace, ShouldEqual, "test_namespace")
				So(manager.subsystem, ShouldEqual, "test_subsystem")
				So(manager.histogramBuckets, ShouldResemble, []float64{1, 10, 100})
				So(manager.RefreshInterval(), ShouldEqual, 5*time.Second)
			})
		})

		Convey("When empty values are passed", func() {
			manager := NewManager(
				WithNamespace(""),
				WithHistogramBuckets(nil),
				WithRefreshInterval(0),
				WithPrometheusRegistry(prometheus.NewRegistry()),
			)

			Convey("Then the defaults are kept", func() {
				So(manager.namespace, ShouldEqual, "standings")
				So(manager.histogramBuckets, ShouldResemble, defaultJobBuckets)
				So(manager.RefreshInterval(), ShouldEqual, defaultRefreshInterval)
			})
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given the global metrics manager", t, func() {
		Convey("When recording job metrics", func() {
			So(func() {
				RecordJobEnqueued("match_event")
				RecordJobCoalesced()
				RecordJobCompleted("recalculate")
				RecordJobFailed("transient")
				RecordJobRetried()
				RecordJobTimedOut()
				RecordJobDuration("recalculate", "completed", 120*time.Millisecond)
				UpdateJobGauges(3, 1)
				UpdateQueuePaused(true)
				UpdateQueuePaused(false)
				UpdateWorkerCount(3)
				RecordEscalation()
			}, ShouldNotPanic)
		})

		Convey("When recording domain metrics", func() {
			So(func() {
				RecordMatchesExcluded(2)
				RecordTableRows(18)
				RecordMatchEvent("updated", "recalculate")
				RecordValidationRejection("same_team")
				RecordSnapshotCaptured()
				RecordSnapshotRestored()
				RecordSnapshotsPruned(4)
				RecordSnapshotArchived()
				RecordRepositoryOp("replace_table", time.Millisecond, nil)
				RecordRepositoryOp("replace_table", time.Millisecond, errors.New("boom"))
			}, ShouldNotPanic)
		})

		Convey("When recording HTTP metrics", func() {
			So(func() {
				RecordHTTPRequest("/api/v1/tables", "GET", "200")
				RecordHTTPRequestDuration("/api/v1/tables", "GET", "200", 4.2)
			}, ShouldNotPanic)
		})

		Convey("Then the registry exposes the recorded families", func() {
			RecordJobCoalesced()
			families, err := GetRegistry().Gather()
			So(err, ShouldBeNil)

			names := map[string]bool{}
			for _, f := range families {
				names[f.GetName()] = true
			}
			So(names["standings_engine_jobs_coalesced_total"], ShouldBeTrue)
		})
	})
}

func TestCollectSystem(t *testing.T) {
	Convey("Given a cancelled context", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		Convey("When collecting system metrics", func() {
			done := make(chan struct{})
			go func() {
				CollectSystem(ctx)
				close(done)
			}()

			Convey("Then it samples once and returns", func() {
				select {
				case <-done:
				case <-time.After(time.Second):
					t.Fatal("collector did not stop")
				}
				So(true, ShouldBeTrue)
			})
		})
	})
}
