// Package worker executes queued recalculation jobs on a bounded pool.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/okian/standings/internal/adapters/mq/queue"
	"github.com/okian/standings/internal/domain/errs"
	"github.com/okian/standings/internal/domain/model"
	"github.com/okian/standings/pkg/logger"
	"github.com/okian/standings/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultWorkerCount = 3
	defaultJobTimeout  = 60 * time.Second
)

// Handler performs one attempt of a job. It must honour ctx; the worker
// waits for it to return before the job's key is released.
type Handler interface {
	Handle(ctx context.Context, job model.Job) (*model.JobResult, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job model.Job) (*model.JobResult, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, job model.Job) (*model.JobResult, error) {
	return f(ctx, job)
}

// Queue defines how workers receive and settle jobs.
type Queue interface {
	Next(ctx context.Context) (*model.Job, error)
	Complete(ctx context.Context, id string, res *model.JobResult) (model.Job, error)
	Fail(ctx context.Context, id string, cause error) (model.Job, bool, error)
}

// FailureFunc is told about jobs that ended failed.
type FailureFunc func(ctx context.Context, job model.Job)

// Worker pulls jobs until its context ends or the queue closes.
type Worker struct {
	queue     Queue
	handler   Handler
	name      string
	timeout   time.Duration
	onFailure FailureFunc

	done   chan struct{}
	logger logger.Logger
}

// NewWorker creates a worker with configuration options.
func NewWorker(q Queue, h Handler, opts ...Option) *Worker {
	w := &Worker{
		queue:   q,
		handler: h,
		name:    "worker",
		timeout: defaultJobTimeout,
		done:    make(chan struct{}),
		logger:  logger.Nop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.Named(w.name)
	return w
}

// Run processes jobs until ctx is canceled or the queue is closed.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)

	for {
		job, err := w.queue.Next(ctx)
		if err != nil {
			if !queue.IsClosedErr(err) && ctx.Err() == nil {
				w.logger.Error(ctx, "dequeue failed", logger.Error(err))
			}
			return
		}
		w.process(ctx, job)
	}
}

// Done is closed when Run returns.
func (w *Worker) Done() <-chan struct{} { return w.done }

// process runs one attempt under the job timeout and settles it. The queue
// decides about retries.
func (w *Worker) process(ctx context.Context, job *model.Job) {
	// Settling must happen even when the parent context is canceled.
	settle := context.WithoutCancel(ctx)

	jctx, cancel := context.WithTimeout(ctx, w.timeout)
	res, err := w.run(jctx, job)
	timedOut := errors.Is(jctx.Err(), context.DeadlineExceeded)
	cancel()

	if err == nil {
		if _, cerr := w.queue.Complete(settle, job.ID, res); cerr != nil {
			w.logger.Error(settle, "complete failed", logger.String("job_id", job.ID), logger.Error(cerr))
		}
		return
	}

	if ctx.Err() != nil {
		// shutdown interrupted the attempt
		err = errs.Transient("worker.run", err)
	}
	if timedOut && !errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
	}
	if timedOut {
		metrics.RecordJobTimedOut()
		w.logger.Warn(settle, "job attempt timed out", logger.String("job_id", job.ID), logger.Duration("timeout", w.timeout))
	}

	failed, retry, ferr := w.queue.Fail(settle, job.ID, err)
	if ferr != nil {
		w.logger.Error(settle, "fail failed", logger.String("job_id", job.ID), logger.Error(ferr))
		return
	}
	if !retry && w.onFailure != nil {
		w.onFailure(settle, failed)
	}
}

// run calls the handler, turning panics into errors so one bad job cannot
// take the worker down.
func (w *Worker) run(ctx context.Context, job *model.Job) (res *model.JobResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errs.System("worker.run", fmt.Errorf("panic: %v", r))
		}
	}()
	return w.handler.Handle(ctx, *job)
}

// Pool manages multiple workers.
type Pool struct {
	workers []*Worker
	queue   Queue

	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger logger.Logger
}

// NewPool creates workerCount workers sharing q and h. Options apply to
// every worker.
func NewPool(workerCount int, q Queue, h Handler, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = defaultWorkerCount
	}
	p := &Pool{
		workers: make([]*Worker, workerCount),
		queue:   q,
		logger:  logger.Nop(),
	}
	for i := 0; i < workerCount; i++ {
		wopts := append([]Option{}, opts...)
		wopts = append(wopts, WithName("worker-"+strconv.Itoa(i)))
		p.workers[i] = NewWorker(q, h, wopts...)
		if i == 0 {
			p.logger = p.workers[0].logger
		}
	}
	metrics.UpdateWorkerCount(workerCount)
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	for _, w := range p.workers {
		p.wg.Add(1)
		go func(w *Worker) {
			defer p.wg.Done()
			w.Run(ctx)
		}(w)
	}
}

// Shutdown closes the queue so no new job is dispatched and waits for
// in-flight jobs to settle, or for ctx to end.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if p.cancel != nil {
			p.cancel()
		}
		return nil
	case <-ctx.Done():
		if p.cancel != nil {
			p.cancel()
		}
		p.logger.Warn(ctx, "worker shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}
