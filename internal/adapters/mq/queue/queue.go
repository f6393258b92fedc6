// Package queue holds pending table recalculations.
//
// Jobs are keyed by league/season. At most one job per key is pending and at
// most one is processing; further requests coalesce into the pending one,
// raising its priority to the maximum requested. Dispatch serves the highest
// priority first and, within a priority, the oldest request. A key with a
// processing job or an administrative lock is skipped until it is free.
package queue

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/standings/internal/domain/errs"
	"github.com/okian/standings/internal/domain/model"
	"github.com/okian/standings/pkg/logger"
	"github.com/okian/standings/pkg/metrics"
)

// Recorder persists finished jobs.
type Recorder interface {
	SaveJob(ctx context.Context, job *model.Job) error
}

// Request asks for a recalculation of one league/season.
type Request struct {
	Key         model.Key
	Kind        model.JobKind
	Priority    model.Priority
	Source      string
	Description string
}

// Enqueued describes the job a request ended up in.
type Enqueued struct {
	Job       model.Job
	Coalesced bool
	// Ahead counts pending jobs that will be served before this one.
	Ahead int
}

// Counts is a point-in-time summary of the queue.
type Counts struct {
	Paused     bool
	Closed     bool
	Pending    int
	Processing int
	Completed  int
	Failed     int
	Current    []model.Job
}

// JobQueue is safe for concurrent use.
type JobQueue struct {
	mu sync.Mutex

	pending jobHeap
	// pending job per key
	byKey map[model.Key]*item
	// running job per key
	processing map[model.Key]*model.Job
	// administrative locks
	locks map[model.Key]bool
	// pending or processing, by ID
	active map[string]*model.Job
	// finished, oldest first
	history []model.Job
	// recent successful run times
	durations []time.Duration
	// closed and replaced on every state change
	changed chan struct{}
	seq     uint64

	completed int
	failed    int
	paused    bool
	closed    bool

	maxAttempts int
	historySize int
	backoff     Backoff
	recorder    Recorder
	logger      logger.Logger
	now         func() time.Time
}

// New creates an empty JobQueue.
func New(opts ...Option) *JobQueue {
	q := &JobQueue{
		byKey:       map[model.Key]*item{},
		processing:  map[model.Key]*model.Job{},
		locks:       map[model.Key]bool{},
		active:      map[string]*model.Job{},
		changed:     make(chan struct{}),
		maxAttempts: defaultMaxAttempts,
		historySize: defaultHistorySize,
		backoff:     Backoff{Base: defaultBackoffBase, Max: defaultBackoffMax},
		logger:      logger.Nop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// broadcast wakes every waiter. Must be called with q.mu held.
func (q *JobQueue) broadcast() {
	close(q.changed)
	q.changed = make(chan struct{})
	metrics.UpdateJobGauges(len(q.pending), len(q.processing))
}

// Enqueue adds a request or merges it into the pending job of its key.
func (q *JobQueue) Enqueue(ctx context.Context, req Request) (Enqueued, error) {
	if !req.Key.Valid() {
		return Enqueued{}, ErrInvalidKey
	}
	if req.Priority <= 0 {
		req.Priority = model.PriorityNormal
	}
	if req.Kind == "" {
		req.Kind = model.KindRecalculate
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return Enqueued{}, ErrClosed
	}

	if it, ok := q.byKey[req.Key]; ok {
		q.merge(it, req.Priority)
		metrics.RecordJobCoalesced()
		q.logger.Debug(ctx, "request coalesced",
			logger.String("job_id", it.job.ID),
			logger.String("key", req.Key.String()),
			logger.String("priority", it.job.Priority.String()),
		)
		q.broadcast()
		return Enqueued{Job: it.job.Clone(), Coalesced: true, Ahead: q.ahead(it)}, nil
	}

	job := &model.Job{
		ID:          uuid.NewString(),
		Kind:        req.Kind,
		LeagueID:    req.Key.LeagueID,
		SeasonID:    req.Key.SeasonID,
		Priority:    req.Priority,
		Status:      model.JobPending,
		Source:      req.Source,
		Description: req.Description,
		MaxAttempts: q.maxAttempts,
		EnqueuedAt:  q.now(),
	}
	it := q.push(job)
	_, running := q.processing[req.Key]

	metrics.RecordJobEnqueued(req.Source)
	q.logger.Info(ctx, "job enqueued",
		logger.String("job_id", job.ID),
		logger.String("key", req.Key.String()),
		logger.String("priority", job.Priority.String()),
		logger.String("source", job.Source),
		logger.Bool("follows_running", running),
	)
	q.broadcast()
	return Enqueued{Job: job.Clone(), Ahead: q.ahead(it)}, nil
}

// merge raises the pending job's priority and counts the request.
func (q *JobQueue) merge(it *item, p model.Priority) {
	it.job.Coalesced++
	if p > it.job.Priority {
		it.job.Priority = p
		heap.Fix(&q.pending, it.index)
	}
}

func (q *JobQueue) push(job *model.Job) *item {
	q.seq++
	it := &item{job: job, seq: q.seq}
	heap.Push(&q.pending, it)
	q.byKey[job.Key()] = it
	q.active[job.ID] = job
	return it
}

// ahead counts pending jobs ordered before it.
func (q *JobQueue) ahead(it *item) int {
	n := 0
	for _, other := range q.pending {
		if other != it && q.pending.lessItems(other, it) {
			n++
		}
	}
	return n
}

func (h jobHeap) lessItems(a, b *item) bool {
	if a.job.Priority != b.job.Priority {
		return a.job.Priority > b.job.Priority
	}
	return a.seq < b.seq
}

// Next blocks until a job can be dispatched and marks it processing.
// It returns ErrClosed once the queue is closed.
func (q *JobQueue) Next(ctx context.Context) (*model.Job, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, ErrClosed
		}
		var wait time.Duration
		if !q.paused {
			var job *model.Job
			job, wait = q.dispatch()
			if job != nil {
				q.mu.Unlock()
				return job, nil
			}
		}
		changed := q.changed
		q.mu.Unlock()

		if err := waitChange(ctx, changed, wait); err != nil {
			return nil, err
		}
	}
}

// waitChange blocks until changed is closed, wait elapses (if positive) or
// ctx is done.
func waitChange(ctx context.Context, changed <-chan struct{}, wait time.Duration) error {
	var timer <-chan time.Time
	if wait > 0 {
		t := time.NewTimer(wait)
		defer t.Stop()
		timer = t.C
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-changed:
	case <-timer:
	}
	return nil
}

// dispatch pops the best runnable job. When none is runnable it returns the
// time until the earliest backoff expires, or zero. Must be called with q.mu held.
func (q *JobQueue) dispatch() (*model.Job, time.Duration) {
	now := q.now()
	var skipped []*item
	var wait time.Duration
	defer func() {
		for _, it := range skipped {
			heap.Push(&q.pending, it)
		}
	}()

	for q.pending.Len() > 0 {
		it := heap.Pop(&q.pending).(*item)
		key := it.job.Key()
		if q.processing[key] != nil || q.locks[key] {
			skipped = append(skipped, it)
			continue
		}
		if it.job.NotBefore.After(now) {
			if d := it.job.NotBefore.Sub(now); wait == 0 || d < wait {
				wait = d
			}
			skipped = append(skipped, it)
			continue
		}

		job := it.job
		delete(q.byKey, key)
		job.Status = model.JobProcessing
		job.Attempts++
		started := now
		job.StartedAt = &started
		job.FinishedAt = nil
		q.processing[key] = job
		metrics.UpdateJobGauges(len(q.pending)+len(skipped), len(q.processing))
		out := job.Clone()
		return &out, 0
	}
	return nil, wait
}

// Complete marks a processing job completed.
func (q *JobQueue) Complete(ctx context.Context, id string, res *model.JobResult) (model.Job, error) {
	q.mu.Lock()
	job, err := q.running(id)
	if err != nil {
		q.mu.Unlock()
		return model.Job{}, err
	}
	job.Status = model.JobCompleted
	job.Result = res
	job.Error, job.ErrorKind = "", ""
	q.finish(job)
	q.completed++
	q.recordDuration(job.Duration())
	out := job.Clone()
	q.broadcast()
	q.mu.Unlock()

	metrics.RecordJobCompleted(string(out.Kind))
	metrics.RecordJobDuration(string(out.Kind), "completed", out.Duration())
	q.logger.Info(ctx, "job completed",
		logger.String("job_id", out.ID),
		logger.String("key", out.Key().String()),
		logger.Int("attempts", out.Attempts),
		logger.Duration("took", out.Duration()),
	)
	q.persist(ctx, &out)
	return out, nil
}

// Fail records a failed attempt. Retryable errors put the job back as pending
// after the backoff delay until the attempt ceiling is reached; then, or for
// any other error, the job is marked failed and kept in history.
// It reports whether the job will run again.
func (q *JobQueue) Fail(ctx context.Context, id string, cause error) (model.Job, bool, error) {
	q.mu.Lock()
	job, err := q.running(id)
	if err != nil {
		q.mu.Unlock()
		return model.Job{}, false, err
	}
	job.Error = cause.Error()
	job.ErrorKind = errs.KindName(cause)
	finished := q.now()
	job.FinishedAt = &finished
	duration := job.Duration()

	retry := errs.IsRetryable(cause) && job.Attempts < job.MaxAttempts
	var delay time.Duration
	if retry {
		delay = q.backoff.Delay(job.Attempts)
		q.requeue(job, finished.Add(delay))
	} else {
		job.Status = model.JobFailed
		q.finish(job)
		q.failed++
	}
	out := job.Clone()
	q.broadcast()
	q.mu.Unlock()

	metrics.RecordJobDuration(string(out.Kind), "failed", duration)
	if retry {
		metrics.RecordJobRetried()
		q.logger.Warn(ctx, "job attempt failed, retrying",
			logger.String("job_id", out.ID),
			logger.String("key", out.Key().String()),
			logger.Int("attempt", out.Attempts),
			logger.Duration("delay", delay),
			logger.Error(cause),
		)
		return out, true, nil
	}
	metrics.RecordJobFailed(out.ErrorKind)
	q.logger.Error(ctx, "job failed",
		logger.String("job_id", out.ID),
		logger.String("key", out.Key().String()),
		logger.Int("attempts", out.Attempts),
		logger.String("error_kind", out.ErrorKind),
		logger.Error(cause),
	)
	q.persist(ctx, &out)
	return out, false, nil
}

// requeue puts a processing job back as pending. A follow-up request that
// arrived while it ran is merged into it. Must be called with q.mu held.
func (q *JobQueue) requeue(job *model.Job, notBefore time.Time) {
	key := job.Key()
	delete(q.processing, key)
	job.Status = model.JobPending
	job.NotBefore = notBefore

	if follow, ok := q.byKey[key]; ok {
		heap.Remove(&q.pending, follow.index)
		delete(q.byKey, key)
		delete(q.active, follow.job.ID)
		job.Merged = append(job.Merged, follow.job.ID)
		job.Merged = append(job.Merged, follow.job.Merged...)
		job.Coalesced += follow.job.Coalesced + 1
		if follow.job.Priority > job.Priority {
			job.Priority = follow.job.Priority
		}
	}
	q.push(job)
}

func (q *JobQueue) running(id string) (*model.Job, error) {
	job, ok := q.active[id]
	if !ok || job.Status != model.JobProcessing {
		return nil, ErrUnknownJob
	}
	return job, nil
}

// finish moves a job to history. Must be called with q.mu held.
func (q *JobQueue) finish(job *model.Job) {
	if job.FinishedAt == nil {
		t := q.now()
		job.FinishedAt = &t
	}
	delete(q.processing, job.Key())
	delete(q.active, job.ID)
	q.history = append(q.history, job.Clone())
	if over := len(q.history) - q.historySize; over > 0 {
		q.history = append([]model.Job(nil), q.history[over:]...)
	}
}

func (q *JobQueue) recordDuration(d time.Duration) {
	if d <= 0 {
		return
	}
	q.durations = append(q.durations, d)
	if len(q.durations) > durationWindow {
		q.durations = q.durations[1:]
	}
}

func (q *JobQueue) persist(ctx context.Context, job *model.Job) {
	if q.recorder == nil {
		return
	}
	if err := q.recorder.SaveJob(ctx, job); err != nil {
		q.logger.Warn(ctx, "failed to persist job", logger.String("job_id", job.ID), logger.Error(err))
	}
}

// AverageDuration is the mean run time of recent successful jobs, or zero.
func (q *JobQueue) AverageDuration() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.durations) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range q.durations {
		sum += d
	}
	return sum / time.Duration(len(q.durations))
}

// Pause stops dispatch. Running jobs finish normally.
func (q *JobQueue) Pause(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.paused {
		q.paused = true
		metrics.UpdateQueuePaused(true)
		q.logger.Info(ctx, "queue paused")
	}
}

// Resume restarts dispatch.
func (q *JobQueue) Resume(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.paused {
		q.paused = false
		metrics.UpdateQueuePaused(false)
		q.logger.Info(ctx, "queue resumed")
		q.broadcast()
	}
}

// Paused reports whether dispatch is stopped.
func (q *JobQueue) Paused() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.paused
}

// Acquire waits until no job of key is processing and no other lock is held,
// then blocks dispatch for key until release is called. Pending jobs of key
// stay queued.
func (q *JobQueue) Acquire(ctx context.Context, key model.Key) (func(), error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, ErrClosed
		}
		if q.processing[key] == nil && !q.locks[key] {
			q.locks[key] = true
			q.mu.Unlock()
			var once sync.Once
			return func() {
				once.Do(func() {
					q.mu.Lock()
					delete(q.locks, key)
					q.broadcast()
					q.mu.Unlock()
				})
			}, nil
		}
		changed := q.changed
		q.mu.Unlock()

		if err := waitChange(ctx, changed, 0); err != nil {
			return nil, err
		}
	}
}

// Get returns the job with id, or a job it was merged into.
func (q *JobQueue) Get(id string) (model.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if job, ok := q.active[id]; ok {
		return job.Clone(), true
	}
	for _, job := range q.active {
		if job.Answers(id) {
			return job.Clone(), true
		}
	}
	for i := len(q.history) - 1; i >= 0; i-- {
		if q.history[i].Answers(id) {
			return q.history[i].Clone(), true
		}
	}
	return model.Job{}, false
}

// Ahead returns how many pending jobs will be served before the job with id.
func (q *JobQueue) Ahead(id string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, it := range q.pending {
		if it.job.Answers(id) {
			return q.ahead(it)
		}
	}
	return 0
}

// Counts summarises the queue. Current lists processing jobs first, then
// pending jobs in dispatch order.
func (q *JobQueue) Counts() Counts {
	q.mu.Lock()
	defer q.mu.Unlock()

	c := Counts{
		Paused:     q.paused,
		Closed:     q.closed,
		Pending:    len(q.pending),
		Processing: len(q.processing),
		Completed:  q.completed,
		Failed:     q.failed,
	}
	running := make([]model.Job, 0, len(q.processing))
	for _, job := range q.processing {
		running = append(running, job.Clone())
	}
	sort.Slice(running, func(i, j int) bool { return running[i].StartedAt.Before(*running[j].StartedAt) })
	waiting := append(jobHeap(nil), q.pending...)
	sort.Slice(waiting, func(i, j int) bool { return waiting.lessItems(waiting[i], waiting[j]) })

	c.Current = running
	for _, it := range waiting {
		c.Current = append(c.Current, it.job.Clone())
	}
	return c
}

// History returns up to limit finished jobs, newest first. An empty leagueID
// matches every league; limit <= 0 returns everything retained.
func (q *JobQueue) History(leagueID string, limit int) []model.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []model.Job
	for i := len(q.history) - 1; i >= 0; i-- {
		if leagueID != "" && q.history[i].LeagueID != leagueID {
			continue
		}
		out = append(out, q.history[i].Clone())
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// Record adds a job that ran outside the workers, such as a restore performed
// under Acquire, to history and persists it. The job must be terminal.
func (q *JobQueue) Record(ctx context.Context, job model.Job) error {
	if !job.Terminal() {
		return fmt.Errorf("%w: record needs a finished job, got %s", ErrUnknownJob, job.Status)
	}
	q.mu.Lock()
	if job.FinishedAt == nil {
		t := q.now()
		job.FinishedAt = &t
	}
	q.history = append(q.history, job.Clone())
	if over := len(q.history) - q.historySize; over > 0 {
		q.history = append([]model.Job(nil), q.history[over:]...)
	}
	if job.Status == model.JobCompleted {
		q.completed++
	} else {
		q.failed++
	}
	q.broadcast()
	q.mu.Unlock()

	if job.Status == model.JobCompleted {
		metrics.RecordJobCompleted(string(job.Kind))
	} else {
		metrics.RecordJobFailed(job.ErrorKind)
	}
	q.persist(ctx, &job)
	return nil
}

// Close stops dispatch for good. Waiters in Next and Acquire return ErrClosed.
func (q *JobQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	q.broadcast()
	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *JobQueue) IsClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// IsClosedErr reports whether err signals a closed queue.
func IsClosedErr(err error) bool { return errors.Is(err, ErrClosed) }
