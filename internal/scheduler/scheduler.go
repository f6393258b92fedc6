// Package scheduler runs the periodic maintenance of the service: applying
// the snapshot retention policy on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/okian/standings/pkg/logger"
)

// Pruner applies the snapshot retention policy. maxAgeDays <= 0 uses the
// configured retention.
type Pruner interface {
	PruneSnapshots(ctx context.Context, maxAgeDays int) (int, error)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithLocation sets the time zone the cron expression is evaluated in.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.location = loc
		}
	}
}

// WithSeconds makes the cron expression take a leading seconds field.
func WithSeconds() Option {
	return func(s *Scheduler) {
		s.withSeconds = true
	}
}

// Scheduler triggers snapshot pruning on a cron expression.
type Scheduler struct {
	s           gocron.Scheduler
	pruner      Pruner
	spec        string
	withSeconds bool
	location    *time.Location
	logger      logger.Logger
	timeout     time.Duration
}

// New creates a scheduler for spec, e.g. "0 3 * * *". An invalid expression
// is reported here, not at Start.
func New(pruner Pruner, spec string, opts ...Option) (*Scheduler, error) {
	sc := &Scheduler{
		pruner:   pruner,
		spec:     spec,
		location: time.UTC,
		logger:   logger.Nop(),
		timeout:  5 * time.Minute,
	}
	for _, opt := range opts {
		opt(sc)
	}

	s, err := gocron.NewScheduler(gocron.WithLocation(sc.location))
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	sc.s = s

	_, err = s.NewJob(
		gocron.CronJob(spec, sc.withSeconds),
		gocron.NewTask(sc.prune),
		gocron.WithName("snapshot-prune"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown()
		return nil, fmt.Errorf("failed to create prune job %q: %w", spec, err)
	}
	return sc, nil
}

// Start begins running scheduled jobs.
func (sc *Scheduler) Start() {
	sc.s.Start()
	sc.logger.Info(context.Background(), "scheduler started", logger.String("prune_cron", sc.spec))
}

// Stop waits for a running prune and stops the scheduler.
func (sc *Scheduler) Stop() error {
	return sc.s.Shutdown()
}

func (sc *Scheduler) prune() {
	ctx, cancel := context.WithTimeout(context.Background(), sc.timeout)
	defer cancel()

	n, err := sc.pruner.PruneSnapshots(ctx, 0)
	if err != nil {
		sc.logger.Error(ctx, "scheduled snapshot prune failed", logger.Error(err))
		return
	}
	sc.logger.Info(ctx, "scheduled snapshot prune finished", logger.Int("pruned", n))
}
