package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/standings/internal/adapters/repository"
	service "github.com/okian/standings/internal/app"
	"github.com/okian/standings/internal/domain/detect"
	"github.com/okian/standings/internal/domain/errs"
	"github.com/okian/standings/internal/domain/model"
	"github.com/okian/standings/internal/domain/validation"
)

var testKey = model.NewKey("bl1", "2025")

// seed stores a league/season with three teams.
func seed(ctx context.Context, store repository.Store) {
	So(store.SaveLeague(ctx, &model.League{ID: "bl1", Name: "Bundesliga"}), ShouldBeNil)
	So(store.SaveSeason(ctx, &model.Season{ID: "2025", Name: "2025/26", Active: true}), ShouldBeNil)
	for _, t := range []model.Team{
		{ID: "fcb", Name: "FC Bayern"},
		{ID: "bvb", Name: "Borussia Dortmund"},
		{ID: "s04", Name: "Schalke 04"},
	} {
		t.LeagueID, t.SeasonID = testKey.LeagueID, testKey.SeasonID
		So(store.SaveTeam(ctx, &t), ShouldBeNil)
	}
}

func finished(id, home, away string, hs, as int) *model.Match {
	return &model.Match{
		ID:          id,
		LeagueID:    testKey.LeagueID,
		SeasonID:    testKey.SeasonID,
		HomeTeamID:  home,
		AwayTeamID:  away,
		ScheduledAt: time.Date(2025, 8, 23, 15, 30, 0, 0, time.UTC),
		Status:      model.StatusFinished,
		HomeScore:   model.Score(hs),
		AwayScore:   model.Score(as),
	}
}

// waitIdle blocks until no job is pending or processing and at least n jobs
// have finished.
func waitIdle(ctx context.Context, svc *service.Service, n int) {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		st := svc.QueueStatus(ctx)
		if st.Pending == 0 && st.Processing == 0 && st.Completed+st.Failed >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	So("queue did not drain", ShouldBeEmpty)
}

func row(entries []model.TableEntry, teamID string) model.TableEntry {
	for _, e := range entries {
		if e.TeamID == teamID {
			return e
		}
	}
	return model.TableEntry{}
}

func newService(store repository.Store, opts ...service.Option) *service.Service {
	base := []service.Option{
		service.WithStore(store),
		service.WithWorkerCount(2),
		service.WithBackoff(time.Millisecond, 5*time.Millisecond),
	}
	return service.New(append(base, opts...)...)
}

func TestService_Lifecycle(t *testing.T) {
	Convey("Given a new service with default options", t, func() {
		ctx := context.Background()
		svc := service.New()

		Convey("It is not running before Start", func() {
			So(svc.Running(), ShouldBeFalse)
			So(svc.GetStats()["started"], ShouldEqual, false)
		})

		Convey("When started", func() {
			So(svc.Start(ctx), ShouldBeNil)

			Convey("It reports running", func() {
				So(svc.Running(), ShouldBeTrue)
				So(svc.QueueStatus(ctx).Running, ShouldBeTrue)
				So(svc.Ready(ctx), ShouldBeNil)
			})

			Convey("Starting twice is a no-op", func() {
				So(svc.Start(ctx), ShouldBeNil)
			})

			Convey("After Stop it cannot be restarted", func() {
				So(svc.Stop(ctx), ShouldBeNil)
				So(svc.Running(), ShouldBeFalse)
				So(svc.Start(ctx), ShouldEqual, service.ErrStopped)
			})

			Reset(func() { _ = svc.Stop(ctx) })
		})
	})
}

func TestService_MatchEvents(t *testing.T) {
	Convey("Given a started service with three teams", t, func() {
		ctx := context.Background()
		store := repository.NewMemoryStore()
		seed(ctx, store)
		svc := newService(store)
		So(svc.Start(ctx), ShouldBeNil)
		Reset(func() { _ = svc.Stop(ctx) })

		Convey("When a finished 2-1 result is saved", func() {
			res, err := svc.SaveMatch(ctx, finished("m1", "fcb", "bvb", 2, 1), service.SaveOptions{})
			So(err, ShouldBeNil)
			So(res.Outcome.Decision.Recalculate, ShouldBeTrue)
			So(res.Outcome.JobIDs, ShouldHaveLength, 1)
			waitIdle(ctx, svc, 1)

			table, err := svc.Table(ctx, testKey)
			So(err, ShouldBeNil)

			Convey("The table credits the winner and the loser", func() {
				So(table, ShouldHaveLength, 3)
				fcb, bvb := row(table, "fcb"), row(table, "bvb")
				So(fcb.Rank, ShouldEqual, 1)
				So(fcb.Won, ShouldEqual, 1)
				So(fcb.GoalsFor, ShouldEqual, 2)
				So(fcb.Points, ShouldEqual, 3)
				So(bvb.Lost, ShouldEqual, 1)
				So(bvb.GoalDifference, ShouldEqual, -1)
				So(bvb.Points, ShouldEqual, 0)
				So(row(table, "s04").Played, ShouldEqual, 0)
			})

			Convey("The finished job is in history with its pre-run snapshot", func() {
				hist, err := svc.History(ctx, testKey.LeagueID, 10)
				So(err, ShouldBeNil)
				So(hist, ShouldNotBeEmpty)
				So(hist[0].Status, ShouldEqual, model.JobCompleted)
				So(hist[0].Result, ShouldNotBeNil)
				So(hist[0].Result.Entries, ShouldEqual, 3)

				_, err = svc.GetSnapshot(ctx, hist[0].Result.SnapshotID)
				So(err, ShouldBeNil)

				job, err := svc.Job(ctx, res.Outcome.JobIDs[0])
				So(err, ShouldBeNil)
				So(job.Status, ShouldEqual, model.JobCompleted)
			})

			Convey("And the match is deleted, its goals leave the table", func() {
				_, err := svc.DeleteMatch(ctx, "m1")
				So(err, ShouldBeNil)
				waitIdle(ctx, svc, 2)

				table, err := svc.Table(ctx, testKey)
				So(err, ShouldBeNil)
				So(row(table, "fcb").GoalsFor, ShouldEqual, 0)
				So(row(table, "fcb").Points, ShouldEqual, 0)
			})

			Convey("And the score is changed without override, it is rejected", func() {
				_, err := svc.SaveMatch(ctx, finished("m1", "fcb", "bvb", 0, 3), service.SaveOptions{})
				So(errors.Is(err, errs.ErrValidation), ShouldBeTrue)
				vr, ok := service.AsValidation(err)
				So(ok, ShouldBeTrue)
				So(vr.HasCode(validation.CodeOverrideRequired), ShouldBeTrue)
			})

			Convey("And the score is corrected with override, the table follows", func() {
				_, err := svc.SaveMatch(ctx, finished("m1", "fcb", "bvb", 0, 3), service.SaveOptions{Override: true})
				So(err, ShouldBeNil)
				waitIdle(ctx, svc, 2)

				table, err := svc.Table(ctx, testKey)
				So(err, ShouldBeNil)
				So(table[0].TeamID, ShouldEqual, "bvb")
				So(row(table, "bvb").GoalsFor, ShouldEqual, 3)
			})
		})

		Convey("When a match with unknown teams is saved", func() {
			_, err := svc.SaveMatch(ctx, finished("m2", "fcb", "hsv", 1, 0), service.SaveOptions{})

			Convey("It is rejected and nothing is stored", func() {
				So(errs.KindOf(err), ShouldEqual, errs.ErrValidation)
				vr, _ := service.AsValidation(err)
				So(vr.HasCode(validation.CodeNotFound), ShouldBeTrue)
				_, gerr := svc.GetMatch(ctx, "m2")
				So(errors.Is(gerr, errs.ErrNotFound), ShouldBeTrue)
			})
		})

		Convey("When a scheduled match is saved", func() {
			m := finished("", "fcb", "s04", 0, 0)
			m.Status, m.HomeScore, m.AwayScore = model.StatusScheduled, nil, nil
			res, err := svc.SaveMatch(ctx, m, service.SaveOptions{})

			Convey("It gets an ID and no recalculation", func() {
				So(err, ShouldBeNil)
				So(res.Match.ID, ShouldNotBeEmpty)
				So(res.Outcome.Decision.Recalculate, ShouldBeFalse)
				So(res.Outcome.JobIDs, ShouldBeEmpty)
			})
		})

		Convey("When the same save is retried with an idempotency key", func() {
			opts := service.SaveOptions{IdempotencyKey: "req-1"}
			first, err := svc.SaveMatch(ctx, finished("", "fcb", "s04", 1, 1), opts)
			So(err, ShouldBeNil)
			second, err := svc.SaveMatch(ctx, finished("", "fcb", "s04", 1, 1), opts)
			So(err, ShouldBeNil)

			Convey("The retry returns the first match", func() {
				So(second.Duplicate, ShouldBeTrue)
				So(second.Match.ID, ShouldEqual, first.Match.ID)
				ms, err := svc.ListMatches(ctx, model.ForKey(testKey))
				So(err, ShouldBeNil)
				So(ms, ShouldHaveLength, 1)
			})
		})
	})
}

func TestService_Hooks(t *testing.T) {
	Convey("Given a service that is not started", t, func() {
		ctx := context.Background()
		store := repository.NewMemoryStore()
		seed(ctx, store)
		svc := newService(store)

		Convey("OnMatchCreated for a finished match enqueues one job", func() {
			out, err := svc.OnMatchCreated(ctx, finished("m1", "fcb", "bvb", 1, 0))
			So(err, ShouldBeNil)
			So(out.JobIDs, ShouldHaveLength, 1)
			So(svc.QueueStatus(ctx).Pending, ShouldEqual, 1)

			Convey("A second event for the key coalesces into it", func() {
				out2, err := svc.OnMatchCreated(ctx, finished("m2", "s04", "bvb", 1, 0))
				So(err, ShouldBeNil)
				So(out2.JobIDs, ShouldResemble, out.JobIDs)
				So(svc.QueueStatus(ctx).Pending, ShouldEqual, 1)
			})
		})

		Convey("OnMatchUpdated rejects a score change on a finished match", func() {
			prev := finished("m1", "fcb", "bvb", 1, 0)
			_, err := svc.OnMatchUpdated(ctx, prev, finished("m1", "fcb", "bvb", 1, 1))
			So(errs.KindOf(err), ShouldEqual, errs.ErrValidation)
			So(svc.QueueStatus(ctx).Pending, ShouldEqual, 0)

			Convey("OnMatchCorrected accepts it", func() {
				next := finished("m1", "fcb", "bvb", 1, 1)
				out, err := svc.OnMatchCorrected(ctx, prev, next)
				So(err, ShouldBeNil)
				So(out.JobIDs, ShouldHaveLength, 1)

				Convey("The outcome carries the decision that scheduled the job", func() {
					dec := detect.New().Detect(prev, next)
					So(out.Decision, ShouldResemble, dec)
					So(out.JobIDs, ShouldHaveLength, len(dec.Keys))
					So(out.Decision.Reasons, ShouldContain, detect.ReasonScoreCorrection)
				})
			})
		})

		Convey("OnMatchDeleted of a finished match enqueues one job for its key", func() {
			m := finished("m1", "fcb", "bvb", 2, 0)
			out, err := svc.OnMatchDeleted(ctx, m)
			So(err, ShouldBeNil)
			So(out.Decision, ShouldResemble, detect.New().Detect(m, nil))
			So(out.Decision.Reasons, ShouldContain, detect.ReasonDeleted)
			So(out.JobIDs, ShouldHaveLength, 1)
			So(svc.QueueStatus(ctx).Pending, ShouldEqual, 1)
		})

		Convey("OnMatchDeleted of a scheduled match is ignored", func() {
			m := finished("m1", "fcb", "bvb", 0, 0)
			m.Status, m.HomeScore, m.AwayScore = model.StatusScheduled, nil, nil
			out, err := svc.OnMatchDeleted(ctx, m)
			So(err, ShouldBeNil)
			So(out.Decision.Recalculate, ShouldBeFalse)
		})
	})
}

func TestService_ManualControl(t *testing.T) {
	Convey("Given a started service", t, func() {
		ctx := context.Background()
		store := repository.NewMemoryStore()
		seed(ctx, store)
		svc := newService(store)
		So(svc.Start(ctx), ShouldBeNil)
		Reset(func() { _ = svc.Stop(ctx) })

		Convey("An invalid key is rejected", func() {
			_, err := svc.TriggerRecalculation(ctx, model.Key{LeagueID: "bl1"}, 0, "")
			So(errs.KindOf(err), ShouldEqual, errs.ErrValidation)
		})

		Convey("When paused", func() {
			svc.Pause(ctx)
			st := svc.QueueStatus(ctx)
			So(st.Paused, ShouldBeTrue)
			So(st.Running, ShouldBeFalse)

			res, err := svc.TriggerRecalculation(ctx, testKey, model.PriorityUrgent, "rebuild")
			So(err, ShouldBeNil)

			Convey("The trigger returns a job id and an estimate", func() {
				So(res.JobID, ShouldNotBeEmpty)
				So(res.Coalesced, ShouldBeFalse)
				So(res.EstimatedDurationSeconds, ShouldBeGreaterThanOrEqualTo, 1)
			})

			Convey("A second trigger coalesces", func() {
				again, err := svc.TriggerRecalculation(ctx, testKey, model.PriorityLow, "")
				So(err, ShouldBeNil)
				So(again.Coalesced, ShouldBeTrue)
				So(again.JobID, ShouldEqual, res.JobID)

				job, err := svc.Job(ctx, res.JobID)
				So(err, ShouldBeNil)
				So(job.Priority, ShouldEqual, model.PriorityUrgent)
			})

			Convey("The job waits until resume", func() {
				time.Sleep(20 * time.Millisecond)
				So(svc.QueueStatus(ctx).Pending, ShouldEqual, 1)

				svc.Resume(ctx)
				waitIdle(ctx, svc, 1)
				job, err := svc.Job(ctx, res.JobID)
				So(err, ShouldBeNil)
				So(job.Status, ShouldEqual, model.JobCompleted)
				So(job.Source, ShouldEqual, model.SourceManual)
			})
		})

		Convey("An unknown job is not found", func() {
			_, err := svc.Job(ctx, "nope")
			So(errors.Is(err, errs.ErrNotFound), ShouldBeTrue)
		})
	})
}

func TestService_Snapshots(t *testing.T) {
	Convey("Given a table computed from a 2-1 result", t, func() {
		ctx := context.Background()
		store := repository.NewMemoryStore()
		seed(ctx, store)
		svc := newService(store)
		So(svc.Start(ctx), ShouldBeNil)
		Reset(func() { _ = svc.Stop(ctx) })

		_, err := svc.SaveMatch(ctx, finished("m1", "fcb", "bvb", 2, 1), service.SaveOptions{})
		So(err, ShouldBeNil)
		waitIdle(ctx, svc, 1)

		snap, err := svc.CreateSnapshot(ctx, testKey, "matchday 1", "")
		So(err, ShouldBeNil)
		So(snap.CreatedBy, ShouldEqual, "admin")
		So(snap.Entries, ShouldHaveLength, 3)

		Convey("Restore without confirm is refused", func() {
			_, err := svc.RestoreSnapshot(ctx, snap.ID, false, "ops")
			So(errors.Is(err, service.ErrConfirmRequired), ShouldBeTrue)
			So(errs.KindOf(err), ShouldEqual, errs.ErrValidation)
		})

		Convey("Restoring an unknown snapshot is not found", func() {
			_, err := svc.RestoreSnapshot(ctx, "missing", true, "ops")
			So(errors.Is(err, errs.ErrNotFound), ShouldBeTrue)
		})

		Convey("When the result is corrected and the snapshot restored", func() {
			_, err := svc.SaveMatch(ctx, finished("m1", "fcb", "bvb", 0, 3), service.SaveOptions{Override: true})
			So(err, ShouldBeNil)
			waitIdle(ctx, svc, 2)
			table, _ := svc.Table(ctx, testKey)
			So(table[0].TeamID, ShouldEqual, "bvb")

			res, err := svc.RestoreSnapshot(ctx, snap.ID, true, "ops")
			So(err, ShouldBeNil)

			Convey("The table equals the snapshot", func() {
				table, err := svc.Table(ctx, testKey)
				So(err, ShouldBeNil)
				So(table, ShouldResemble, snap.Entries)
				So(res.SnapshotID, ShouldEqual, snap.ID)
				So(res.Entries, ShouldEqual, 3)
			})

			Convey("The replaced table is kept as a pre-restore snapshot", func() {
				pre, err := svc.GetSnapshot(ctx, res.PreRestoreSnapshotID)
				So(err, ShouldBeNil)
				So(pre.Entries[0].TeamID, ShouldEqual, "bvb")
				So(pre.CreatedBy, ShouldEqual, "ops")
			})

			Convey("The restore is recorded in history", func() {
				job, err := svc.Job(ctx, res.JobID)
				So(err, ShouldBeNil)
				So(job.Kind, ShouldEqual, model.KindRestore)
				So(job.Status, ShouldEqual, model.JobCompleted)

				hist, err := svc.History(ctx, "", 0)
				So(err, ShouldBeNil)
				So(hist[0].ID, ShouldEqual, res.JobID)
			})
		})

		Convey("Listing shows newest first and delete removes one", func() {
			list, err := svc.ListSnapshots(ctx, testKey)
			So(err, ShouldBeNil)
			So(len(list), ShouldBeGreaterThanOrEqualTo, 2)
			So(list[0].ID, ShouldEqual, snap.ID)

			So(svc.DeleteSnapshot(ctx, snap.ID), ShouldBeNil)
			_, err = svc.GetSnapshot(ctx, snap.ID)
			So(errors.Is(err, errs.ErrNotFound), ShouldBeTrue)
		})
	})
}

func TestService_PruneSnapshots(t *testing.T) {
	Convey("Given snapshots taken over two months", t, func() {
		ctx := context.Background()
		store := repository.NewMemoryStore()
		seed(ctx, store)

		var mu sync.Mutex
		now := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)
		clock := func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			return now
		}
		advance := func(d time.Duration) {
			mu.Lock()
			now = now.Add(d)
			mu.Unlock()
		}
		svc := newService(store, service.WithClock(clock), service.WithSnapshotRetention(30*24*time.Hour))

		old, err := svc.CreateSnapshot(ctx, testKey, "old", "ops")
		So(err, ShouldBeNil)
		advance(40 * 24 * time.Hour)
		recent, err := svc.CreateSnapshot(ctx, testKey, "recent", "ops")
		So(err, ShouldBeNil)
		advance(24 * time.Hour)

		Convey("The default retention removes only the old one", func() {
			n, err := svc.PruneSnapshots(ctx, 0)
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 1)
			_, err = svc.GetSnapshot(ctx, old.ID)
			So(errors.Is(err, errs.ErrNotFound), ShouldBeTrue)
			_, err = svc.GetSnapshot(ctx, recent.ID)
			So(err, ShouldBeNil)
		})

		Convey("A tiny age still keeps the newest snapshot of the key", func() {
			n, err := svc.PruneSnapshots(ctx, 1)
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 1)
			list, err := svc.ListSnapshots(ctx, testKey)
			So(err, ShouldBeNil)
			So(list, ShouldHaveLength, 1)
			So(list[0].ID, ShouldEqual, recent.ID)
		})
	})
}
