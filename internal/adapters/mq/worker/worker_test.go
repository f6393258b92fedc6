package worker_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/standings/internal/adapters/mq/queue"
	"github.com/okian/standings/internal/adapters/mq/worker"
	"github.com/okian/standings/internal/domain/errs"
	"github.com/okian/standings/internal/domain/model"
)

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

func enqueue(q *queue.JobQueue, league string) {
	_, _ = q.Enqueue(context.Background(), queue.Request{Key: model.NewKey(league, "S"), Priority: model.PriorityNormal, Source: model.SourceMatchEvent})
}

func TestPerKeyExclusion(t *testing.T) {
	convey.Convey("Given 50 concurrent requests over 5 keys", t, func() {
		q := queue.New()
		var mu sync.Mutex
		running := map[model.Key]int{}
		violations := int32(0)
		maxParallel := int32(0)
		inFlight := int32(0)

		h := worker.HandlerFunc(func(ctx context.Context, job model.Job) (*model.JobResult, error) {
			mu.Lock()
			running[job.Key()]++
			if running[job.Key()] > 1 {
				atomic.AddInt32(&violations, 1)
			}
			mu.Unlock()
			n := atomic.AddInt32(&inFlight, 1)
			for {
				m := atomic.LoadInt32(&maxParallel)
				if n <= m || atomic.CompareAndSwapInt32(&maxParallel, m, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			mu.Lock()
			running[job.Key()]--
			mu.Unlock()
			return &model.JobResult{}, nil
		})

		pool := worker.NewPool(3, q, h)
		pool.Start(context.Background())

		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				enqueue(q, string(rune('A'+i%5)))
			}(i)
		}
		wg.Wait()

		idle := waitFor(func() bool {
			c := q.Counts()
			return c.Pending == 0 && c.Processing == 0
		})
		_ = pool.Shutdown(context.Background())

		convey.Convey("Then no key was ever processed twice at once", func() {
			convey.So(idle, convey.ShouldBeTrue)
			convey.So(atomic.LoadInt32(&violations), convey.ShouldEqual, 0)
			convey.So(atomic.LoadInt32(&maxParallel), convey.ShouldBeLessThanOrEqualTo, 3)
			convey.So(q.Counts().Completed, convey.ShouldBeGreaterThanOrEqualTo, 5)
			convey.So(q.Counts().Failed, convey.ShouldEqual, 0)
		})
	})
}

func TestRetries(t *testing.T) {
	convey.Convey("Given a handler that fails transiently twice", t, func() {
		q := queue.New(queue.WithBackoff(time.Millisecond, 2*time.Millisecond), queue.WithMaxAttempts(3))
		var calls int32
		h := worker.HandlerFunc(func(ctx context.Context, job model.Job) (*model.JobResult, error) {
			if atomic.AddInt32(&calls, 1) < 3 {
				return nil, errs.Transient("repo", errors.New("unavailable"))
			}
			return &model.JobResult{Entries: 4}, nil
		})
		pool := worker.NewPool(1, q, h)
		pool.Start(context.Background())
		enqueue(q, "L")

		done := waitFor(func() bool { return q.Counts().Completed == 1 })
		_ = pool.Shutdown(context.Background())

		convey.Convey("Then the job completes on the third attempt", func() {
			convey.So(done, convey.ShouldBeTrue)
			job := q.History("L", 1)[0]
			convey.So(job.Status, convey.ShouldEqual, model.JobCompleted)
			convey.So(job.Attempts, convey.ShouldEqual, 3)
			convey.So(job.Result.Entries, convey.ShouldEqual, 4)
		})
	})
}

func TestTimeout(t *testing.T) {
	convey.Convey("Given a handler slower than the job timeout", t, func() {
		q := queue.New(queue.WithBackoff(time.Millisecond, time.Millisecond), queue.WithMaxAttempts(2))
		var failed []model.Job
		var mu sync.Mutex
		h := worker.HandlerFunc(func(ctx context.Context, job model.Job) (*model.JobResult, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})
		pool := worker.NewPool(1, q, h,
			worker.WithJobTimeout(10*time.Millisecond),
			worker.WithFailureHandler(func(_ context.Context, job model.Job) {
				mu.Lock()
				failed = append(failed, job)
				mu.Unlock()
			}),
		)
		pool.Start(context.Background())
		enqueue(q, "L")

		done := waitFor(func() bool { return q.Counts().Failed == 1 })
		_ = pool.Shutdown(context.Background())

		convey.Convey("Then each timeout is an attempt and the job ends failed", func() {
			convey.So(done, convey.ShouldBeTrue)
			mu.Lock()
			defer mu.Unlock()
			convey.So(len(failed), convey.ShouldEqual, 1)
			convey.So(failed[0].Attempts, convey.ShouldEqual, 2)
			convey.So(failed[0].ErrorKind, convey.ShouldEqual, "transient")
		})
	})
}

func TestPanics(t *testing.T) {
	convey.Convey("Given a handler that panics", t, func() {
		q := queue.New()
		h := worker.HandlerFunc(func(ctx context.Context, job model.Job) (*model.JobResult, error) {
			panic("boom")
		})
		pool := worker.NewPool(1, q, h)
		pool.Start(context.Background())
		enqueue(q, "L")

		done := waitFor(func() bool { return q.Counts().Failed == 1 })
		_ = pool.Shutdown(context.Background())

		convey.Convey("Then the job fails as a system error and the worker survives", func() {
			convey.So(done, convey.ShouldBeTrue)
			convey.So(q.History("", 1)[0].ErrorKind, convey.ShouldEqual, "system")
		})
	})
}

func TestPauseDoesNotCancel(t *testing.T) {
	convey.Convey("Given a running job when the queue is paused", t, func() {
		q := queue.New()
		started := make(chan struct{})
		finish := make(chan struct{})
		h := worker.HandlerFunc(func(ctx context.Context, job model.Job) (*model.JobResult, error) {
			close(started)
			<-finish
			return &model.JobResult{}, nil
		})
		pool := worker.NewPool(1, q, h)
		pool.Start(context.Background())
		enqueue(q, "L")
		<-started
		q.Pause(context.Background())
		close(finish)

		done := waitFor(func() bool { return q.Counts().Completed == 1 })
		_ = pool.Shutdown(context.Background())

		convey.Convey("Then the in-flight job still completes", func() {
			convey.So(done, convey.ShouldBeTrue)
			convey.So(pool.Size(), convey.ShouldEqual, 1)
		})
	})
}
