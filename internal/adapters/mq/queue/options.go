package queue

import (
	"time"

	"github.com/okian/standings/pkg/logger"
)

// Default queue configuration constants.
const (
	defaultMaxAttempts = 3
	defaultHistorySize = 200
	defaultBackoffBase = 500 * time.Millisecond
	defaultBackoffMax  = 30 * time.Second
	durationWindow     = 10
)

// Option applies a configuration option to the JobQueue.
type Option func(*JobQueue)

// WithMaxAttempts bounds how often a job runs before it is marked failed.
func WithMaxAttempts(n int) Option {
	return func(q *JobQueue) {
		if n > 0 {
			q.maxAttempts = n
		}
	}
}

// WithBackoff sets the retry delay policy.
func WithBackoff(base, maxDelay time.Duration) Option {
	return func(q *JobQueue) {
		if base >= 0 && maxDelay >= base {
			q.backoff = Backoff{Base: base, Max: maxDelay}
		}
	}
}

// WithHistorySize caps the finished jobs kept in memory.
func WithHistorySize(n int) Option {
	return func(q *JobQueue) {
		if n > 0 {
			q.historySize = n
		}
	}
}

// WithRecorder persists finished jobs.
func WithRecorder(r Recorder) Option {
	return func(q *JobQueue) {
		q.recorder = r
	}
}

// WithLogger sets a custom logger for the queue.
func WithLogger(l logger.Logger) Option {
	return func(q *JobQueue) {
		if l != nil {
			q.logger = l
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(q *JobQueue) {
		if now != nil {
			q.now = now
		}
	}
}
