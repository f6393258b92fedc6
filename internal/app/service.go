// Package service wires the table-automation engine together and implements
// the match-event hooks and the control surface used by the HTTP API and CLI.
package service

import (
	"context"
	"sync"
	"time"

	"github.com/okian/standings/internal/adapters/mq/queue"
	workerpool "github.com/okian/standings/internal/adapters/mq/worker"
	"github.com/okian/standings/internal/adapters/notify"
	"github.com/okian/standings/internal/adapters/repository"
	"github.com/okian/standings/internal/domain/dedupe"
	"github.com/okian/standings/internal/domain/detect"
	"github.com/okian/standings/internal/domain/model"
	"github.com/okian/standings/internal/domain/ranking"
	"github.com/okian/standings/internal/domain/snapshot"
	"github.com/okian/standings/internal/domain/validation"
	"github.com/okian/standings/pkg/logger"
	"github.com/okian/standings/pkg/metrics"
)

const (
	defaultWorkerCount       = 3
	defaultMaxAttempts       = 3
	defaultHistorySize       = 200
	defaultDedupeSize        = 10_000
	defaultJobTimeout        = 60 * time.Second
	defaultBackoffBase       = 500 * time.Millisecond
	defaultBackoffMax        = 30 * time.Second
	defaultSnapshotRetention = 30 * 24 * time.Hour
	// used for estimates until a job has completed
	defaultJobEstimate = 2 * time.Second
)

// Service implements the match-event interface and the control surface.
type Service struct {
	mu sync.RWMutex

	// Core components
	store     repository.Store
	validator *validation.Validator
	detector  *detect.Detector
	queue     *queue.JobQueue
	pool      *workerpool.Pool
	engine    *ranking.Engine
	snapshots *snapshot.Service
	deduper   dedupe.Deduper
	notifier  notify.Notifier
	archiver  snapshot.Archiver

	// Configuration
	workerCount       int
	maxAttempts       int
	historySize       int
	dedupeSize        int
	jobTimeout        time.Duration
	backoffBase       time.Duration
	backoffMax        time.Duration
	manualPriority    model.Priority
	language          string
	snapshotRetention time.Duration
	ownsStore         bool

	// State
	started   bool
	stopped   bool
	startedAt time.Time

	logger logger.Logger
	now    func() time.Time
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStore sets the entity repository. The caller keeps ownership and closes it.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithWorkerCount sets the number of concurrent recalculations.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithMaxAttempts sets the retry ceiling of a job.
func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithBackoff sets the retry delay policy.
func WithBackoff(base, maxDelay time.Duration) Option {
	return func(s *Service) {
		if base >= 0 && maxDelay >= base {
			s.backoffBase, s.backoffMax = base, maxDelay
		}
	}
}

// WithJobTimeout sets the hard execution timeout of one attempt.
func WithJobTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.jobTimeout = d
		}
	}
}

// WithHistorySize caps the finished jobs kept in memory.
func WithHistorySize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.historySize = n
		}
	}
}

// WithDedupeSize sets how many idempotency keys are remembered.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithManualPriority sets the default priority of manual triggers.
func WithManualPriority(p model.Priority) Option {
	return func(s *Service) {
		if p > 0 {
			s.manualPriority = p
		}
	}
}

// WithCollationLanguage sets the language used to order tied team names.
func WithCollationLanguage(tag string) Option {
	return func(s *Service) {
		if tag != "" {
			s.language = tag
		}
	}
}

// WithSnapshotRetention sets the default age for PruneSnapshots.
func WithSnapshotRetention(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.snapshotRetention = d
		}
	}
}

// WithNotifier adds an escalation target for failed jobs. Failed jobs are
// always logged.
func WithNotifier(n notify.Notifier) Option {
	return func(s *Service) {
		s.notifier = n
	}
}

// WithArchiver archives snapshots before retention deletes them.
func WithArchiver(a snapshot.Archiver) Option {
	return func(s *Service) {
		s.archiver = a
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New constructs the Service and all of its components. Hooks may be called
// right away; jobs run once Start is called.
func New(opts ...Option) *Service {
	s := &Service{
		workerCount:       defaultWorkerCount,
		maxAttempts:       defaultMaxAttempts,
		historySize:       defaultHistorySize,
		dedupeSize:        defaultDedupeSize,
		jobTimeout:        defaultJobTimeout,
		backoffBase:       defaultBackoffBase,
		backoffMax:        defaultBackoffMax,
		manualPriority:    model.PriorityHigh,
		language:          "de",
		snapshotRetention: defaultSnapshotRetention,
		logger:            logger.Nop(),
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.store == nil {
		s.store = repository.NewMemoryStore()
		s.ownsStore = true
	}

	escalation := notify.Multi{notify.NewLog(s.logger.Named("escalation"))}
	if s.notifier != nil {
		escalation = append(escalation, s.notifier)
	}
	s.notifier = escalation

	s.validator = validation.New(s.store)
	s.detector = detect.New(detect.WithManualPriority(s.manualPriority))
	s.engine = ranking.NewEngine(s.store,
		ranking.WithCalculator(ranking.NewCalculator(ranking.WithLanguage(s.language))),
		ranking.WithLogger(s.logger.Named("ranking")),
	)
	snapOpts := []snapshot.Option{snapshot.WithLogger(s.logger.Named("snapshot")), snapshot.WithClock(s.now)}
	if s.archiver != nil {
		snapOpts = append(snapOpts, snapshot.WithArchiver(s.archiver))
	}
	s.snapshots = snapshot.New(s.store, snapOpts...)
	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	s.queue = queue.New(
		queue.WithMaxAttempts(s.maxAttempts),
		queue.WithBackoff(s.backoffBase, s.backoffMax),
		queue.WithHistorySize(s.historySize),
		queue.WithRecorder(s.store),
		queue.WithLogger(s.logger.Named("queue")),
		queue.WithClock(s.now),
	)
	s.pool = workerpool.NewPool(s.workerCount, s.queue, workerpool.HandlerFunc(s.handle),
		workerpool.WithLogger(s.logger),
		workerpool.WithJobTimeout(s.jobTimeout),
		workerpool.WithFailureHandler(s.escalate),
	)
	return s
}

// Start launches the worker pool. A stopped Service cannot be started again.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.stopped {
		return ErrStopped
	}
	if err := s.store.Ping(ctx); err != nil {
		return err
	}

	s.pool.Start(ctx)
	s.started = true
	s.startedAt = s.now()
	s.logger.Info(ctx, "standings service started",
		logger.Int("workers", s.workerCount),
		logger.Int("max_attempts", s.maxAttempts),
		logger.Duration("job_timeout", s.jobTimeout),
		logger.String("manual_priority", s.manualPriority.String()),
	)
	return nil
}

// Stop closes the queue and waits for in-flight jobs to settle or ctx to end.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.logger.Info(ctx, "stopping standings service...")

	err := s.pool.Shutdown(ctx)
	if s.ownsStore {
		if cerr := s.store.Close(); cerr != nil {
			s.logger.Warn(ctx, "error closing store", logger.Error(cerr))
		}
	}

	s.started = false
	s.stopped = true
	s.logger.Info(ctx, "standings service stopped")
	return err
}

// Running reports whether workers are started.
func (s *Service) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}

// Ready reports whether the service can take requests.
func (s *Service) Ready(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := s.queue.Counts()
	stats := map[string]interface{}{
		"started":        s.started,
		"workerCount":    s.workerCount,
		"maxAttempts":    s.maxAttempts,
		"paused":         counts.Paused,
		"pending":        counts.Pending,
		"processing":     counts.Processing,
		"completed":      counts.Completed,
		"failed":         counts.Failed,
		"dedupeSize":     s.deduper.Size(),
		"avgJobDuration": s.queue.AverageDuration().String(),
	}
	if s.started {
		stats["uptime"] = s.now().Sub(s.startedAt).Round(time.Second).String()
	}
	metrics.UpdateJobGauges(counts.Pending, counts.Processing)
	metrics.UpdateQueuePaused(counts.Paused)
	return stats
}
