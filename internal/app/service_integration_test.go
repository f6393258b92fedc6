package service_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/standings/internal/adapters/repository"
	service "github.com/okian/standings/internal/app"
	"github.com/okian/standings/internal/domain/errs"
	"github.com/okian/standings/internal/domain/model"
	"github.com/okian/standings/internal/domain/types"
)

// flakyStore fails ListTeams with err for the first n calls.
type flakyStore struct {
	repository.Store
	err   error
	n     int32
	calls atomic.Int32
}

func (s *flakyStore) ListTeams(ctx context.Context, key model.Key) ([]model.Team, error) {
	if s.calls.Add(1) <= s.n {
		return nil, s.err
	}
	return s.Store.ListTeams(ctx, key)
}

type recordingNotifier struct {
	mu   sync.Mutex
	jobs []model.Job
}

func (n *recordingNotifier) Notify(_ context.Context, job model.Job) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.jobs = append(n.jobs, job)
	return nil
}

func (n *recordingNotifier) Jobs() []model.Job {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]model.Job(nil), n.jobs...)
}

func TestServiceIntegration_Failures(t *testing.T) {
	Convey("Given a store whose reads fail", t, func() {
		ctx := context.Background()
		mem := repository.NewMemoryStore()
		seed(ctx, mem)
		notifier := &recordingNotifier{}

		Convey("When the failure is a system error", func() {
			store := &flakyStore{Store: mem, err: errs.System("test", errors.New("disk on fire")), n: 100}
			svc := newService(store, service.WithNotifier(notifier), service.WithMaxAttempts(3))
			So(svc.Start(ctx), ShouldBeNil)
			defer func() { _ = svc.Stop(ctx) }()

			res, err := svc.TriggerRecalculation(ctx, testKey, 0, "")
			So(err, ShouldBeNil)
			waitIdle(ctx, svc, 1)

			Convey("The job fails on the first attempt and is escalated", func() {
				job, err := svc.Job(ctx, res.JobID)
				So(err, ShouldBeNil)
				So(job.Status, ShouldEqual, model.JobFailed)
				So(job.Attempts, ShouldEqual, 1)
				So(job.ErrorKind, ShouldEqual, "system")
				So(store.calls.Load(), ShouldEqual, 1)

				jobs := notifier.Jobs()
				So(jobs, ShouldHaveLength, 1)
				So(jobs[0].ID, ShouldEqual, res.JobID)
			})
		})

		Convey("When the failure is transient and clears", func() {
			store := &flakyStore{Store: mem, err: errs.Transient("test", errors.New("connection reset")), n: 2}
			svc := newService(store, service.WithNotifier(notifier), service.WithMaxAttempts(3))
			So(svc.Start(ctx), ShouldBeNil)
			defer func() { _ = svc.Stop(ctx) }()

			res, err := svc.TriggerRecalculation(ctx, testKey, 0, "")
			So(err, ShouldBeNil)
			waitIdle(ctx, svc, 1)

			Convey("The job succeeds on the third attempt without escalation", func() {
				job, err := svc.Job(ctx, res.JobID)
				So(err, ShouldBeNil)
				So(job.Status, ShouldEqual, model.JobCompleted)
				So(job.Attempts, ShouldEqual, 3)
				So(notifier.Jobs(), ShouldBeEmpty)
			})
		})

		Convey("When the transient failure outlasts the attempts", func() {
			store := &flakyStore{Store: mem, err: errs.Transient("test", errors.New("timeout")), n: 100}
			svc := newService(store, service.WithNotifier(notifier), service.WithMaxAttempts(2))
			So(svc.Start(ctx), ShouldBeNil)
			defer func() { _ = svc.Stop(ctx) }()

			res, err := svc.TriggerRecalculation(ctx, testKey, 0, "")
			So(err, ShouldBeNil)
			waitIdle(ctx, svc, 1)

			Convey("The job ends failed after two attempts and is escalated", func() {
				job, err := svc.Job(ctx, res.JobID)
				So(err, ShouldBeNil)
				So(job.Status, ShouldEqual, model.JobFailed)
				So(job.Attempts, ShouldEqual, 2)
				So(job.ErrorKind, ShouldEqual, "transient")
				So(notifier.Jobs(), ShouldHaveLength, 1)
			})
		})
	})
}

func TestServiceIntegration_SQLite(t *testing.T) {
	Convey("Given a service backed by SQLite", t, func() {
		ctx := context.Background()
		path := filepath.Join(t.TempDir(), "standings.db")
		store, err := repository.Open(ctx, repository.DriverSQLite, path)
		So(err, ShouldBeNil)
		Reset(func() { _ = store.Close() })
		seed(ctx, store)

		svc := newService(store)
		So(svc.Start(ctx), ShouldBeNil)

		Convey("When a matchday is played and the service restarts", func() {
			for _, m := range []*model.Match{
				finished("m1", "fcb", "bvb", 2, 1),
				finished("m2", "s04", "fcb", 0, 0),
				finished("m3", "bvb", "s04", 3, 0),
			} {
				_, err := svc.SaveMatch(ctx, m, service.SaveOptions{})
				So(err, ShouldBeNil)
			}
			waitIdle(ctx, svc, 1)
			So(svc.Stop(ctx), ShouldBeNil)

			restarted := newService(store)
			So(restarted.Start(ctx), ShouldBeNil)
			defer func() { _ = restarted.Stop(ctx) }()

			Convey("The table survives with consistent rows", func() {
				table, err := restarted.Table(ctx, testKey)
				So(err, ShouldBeNil)
				So(table, ShouldHaveLength, 3)
				for _, e := range table {
					So(e.CheckInvariants(), ShouldBeNil)
				}
				So(table[0].TeamID, ShouldEqual, "fcb")
				So(row(table, "bvb").Points, ShouldEqual, 3)
				So(row(table, "bvb").GoalDifference, ShouldEqual, 2)
				So(row(table, "fcb").Points, ShouldEqual, 4)
			})

			Convey("History of the first run is read from the store", func() {
				hist, err := restarted.History(ctx, testKey.LeagueID, 10)
				So(err, ShouldBeNil)
				So(hist, ShouldNotBeEmpty)
				for _, j := range hist {
					So(j.Status, ShouldEqual, model.JobCompleted)
				}
			})
		})

		Reset(func() { _ = svc.Stop(ctx) })
	})
}

func TestServiceIntegration_Concurrency(t *testing.T) {
	Convey("Given many concurrent results for one league", t, func() {
		ctx := context.Background()
		store := repository.NewMemoryStore()
		seed(ctx, store)
		svc := newService(store, service.WithWorkerCount(4))
		So(svc.Start(ctx), ShouldBeNil)
		defer func() { _ = svc.Stop(ctx) }()

		pairs := [][2]string{{"fcb", "bvb"}, {"bvb", "s04"}, {"s04", "fcb"}}
		var wg sync.WaitGroup
		for i := 0; i < 30; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				p := pairs[i%len(pairs)]
				m := finished("", p[0], p[1], i%4, i%3)
				_, _ = svc.SaveMatch(ctx, m, service.SaveOptions{})
			}(i)
		}
		wg.Wait()
		waitIdle(ctx, svc, 1)

		Convey("The final table reflects every match exactly once", func() {
			table, err := svc.Table(ctx, testKey)
			So(err, ShouldBeNil)
			played := 0
			for _, e := range table {
				So(e.CheckInvariants(), ShouldBeNil)
				played += e.Played
			}
			So(played, ShouldEqual, 60)
		})
	})
}

// slowStore delays SaveMatch and fails the first failFirst calls after the
// delay.
type slowStore struct {
	repository.Store
	delay     time.Duration
	failFirst int32
	calls     atomic.Int32
}

func (s *slowStore) SaveMatch(ctx context.Context, m *model.Match) error {
	time.Sleep(s.delay)
	if s.calls.Add(1) <= s.failFirst {
		return errs.WrapKind("test.save_match", errs.ErrTransient, errors.New("disk busy"))
	}
	return s.Store.SaveMatch(ctx, m)
}

type saveOutcome struct {
	Result types.SaveResult
	Err    error
}

func TestServiceIntegration_IdempotentSaveInFlight(t *testing.T) {
	Convey("Given a store with slow match writes", t, func() {
		ctx := context.Background()
		mem := repository.NewMemoryStore()
		seed(ctx, mem)
		store := &slowStore{Store: mem, delay: 50 * time.Millisecond}

		save := func(svc *service.Service) (first, second saveOutcome) {
			opts := service.SaveOptions{IdempotencyKey: "k1"}
			var wg sync.WaitGroup
			wg.Add(2)
			go func() {
				defer wg.Done()
				first.Result, first.Err = svc.SaveMatch(ctx, finished("", "fcb", "bvb", 2, 1), opts)
			}()
			time.Sleep(10 * time.Millisecond)
			go func() {
				defer wg.Done()
				second.Result, second.Err = svc.SaveMatch(ctx, finished("", "fcb", "bvb", 2, 1), opts)
			}()
			wg.Wait()
			return first, second
		}

		Convey("When a retry arrives while the first save is in flight", func() {
			svc := newService(store)
			So(svc.Start(ctx), ShouldBeNil)
			Reset(func() { _ = svc.Stop(ctx) })
			first, second := save(svc)

			Convey("The retry waits and returns the first match as a duplicate", func() {
				So(first.Err, ShouldBeNil)
				So(second.Err, ShouldBeNil)
				So(second.Result.Duplicate, ShouldBeTrue)
				So(second.Result.Match.ID, ShouldEqual, first.Result.Match.ID)
				ms, err := svc.ListMatches(ctx, model.ForKey(testKey))
				So(err, ShouldBeNil)
				So(ms, ShouldHaveLength, 1)
			})
		})

		Convey("When the first save fails while the retry waits", func() {
			store.failFirst = 1
			svc := newService(store)
			So(svc.Start(ctx), ShouldBeNil)
			Reset(func() { _ = svc.Stop(ctx) })
			first, second := save(svc)

			Convey("The retry performs the save itself", func() {
				So(errors.Is(first.Err, errs.ErrTransient), ShouldBeTrue)
				So(second.Err, ShouldBeNil)
				So(second.Result.Duplicate, ShouldBeFalse)
				got, err := svc.GetMatch(ctx, second.Result.Match.ID)
				So(err, ShouldBeNil)
				So(got.HomeTeamID, ShouldEqual, "fcb")
			})
		})
	})
}
