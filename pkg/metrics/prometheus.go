// Package metrics provides Prometheus metrics for the standings service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	defaultRefreshInterval = 10 * time.Second
)

// Job duration buckets in milliseconds; recalculations are I/O bound.
var defaultJobBuckets = []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000}

// Manager owns all Prometheus collectors of the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	refreshInterval  time.Duration
	registry         prometheus.Registerer

	// Job queue
	jobsEnqueued    *prometheus.CounterVec
	jobsCoalesced   prometheus.Counter
	jobsCompleted   *prometheus.CounterVec
	jobsFailed      *prometheus.CounterVec
	jobsRetried     prometheus.Counter
	jobsTimedOut    prometheus.Counter
	jobDuration     *prometheus.HistogramVec
	jobsPending     prometheus.Gauge
	jobsProcessing  prometheus.Gauge
	queuePaused     prometheus.Gauge
	workerCount     prometheus.Gauge
	escalationsSent prometheus.Counter

	// Ranking
	matchesExcluded prometheus.Counter
	tableRows       prometheus.Histogram

	// Match events
	matchEvents          *prometheus.CounterVec
	validationRejections *prometheus.CounterVec

	// Snapshots
	snapshotsCaptured prometheus.Counter
	snapshotsRestored prometheus.Counter
	snapshotsPruned   prometheus.Counter
	snapshotsArchived prometheus.Counter

	// Repository
	repositoryLatency *prometheus.HistogramVec
	repositoryErrors  *prometheus.CounterVec

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "standings",
		subsystem:        "engine",
		histogramBuckets: defaultJobBuckets,
		refreshInterval:  defaultRefreshInterval,
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

// RefreshInterval is how often gauges should be refreshed by pollers.
func (m *Manager) RefreshInterval() time.Duration { return m.refreshInterval }

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: buckets,
	})
}

func (m *Manager) histogramVec(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: buckets,
	}, labels)
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	m.jobsEnqueued = m.counterVec("jobs_enqueued_total", "Jobs accepted by the queue", "source")
	m.jobsCoalesced = m.counter("jobs_coalesced_total", "Requests merged into an existing job for the same league/season")
	m.jobsCompleted = m.counterVec("jobs_completed_total", "Jobs finished successfully", "kind")
	m.jobsFailed = m.counterVec("jobs_failed_total", "Jobs that exhausted retries or failed permanently", "error_kind")
	m.jobsRetried = m.counter("jobs_retried_total", "Job attempts scheduled again after a failure")
	m.jobsTimedOut = m.counter("jobs_timed_out_total", "Job attempts aborted by the execution timeout")
	m.jobDuration = m.histogramVec("job_duration_milliseconds", "Wall time of one job attempt", m.histogramBuckets, "kind", "outcome")
	m.jobsPending = m.gauge("jobs_pending", "Jobs waiting for a worker")
	m.jobsProcessing = m.gauge("jobs_processing", "Jobs currently executing")
	m.queuePaused = m.gauge("queue_paused", "1 while dispatch is paused")
	m.workerCount = m.gauge("worker_count", "Configured worker pool size")
	m.escalationsSent = m.counter("escalations_total", "Failed jobs escalated to operators")

	m.matchesExcluded = m.counter("matches_excluded_total", "Finished matches excluded from a calculation as inconsistent")
	m.tableRows = m.histogram("table_rows", "Rows written per recalculation", []float64{2, 4, 8, 12, 16, 20, 24, 32, 64})

	m.matchEvents = m.counterVec("match_events_total", "Match events received by type and decision", "type", "decision")
	m.validationRejections = m.counterVec("validation_rejections_total", "Match results rejected by validation", "code")

	m.snapshotsCaptured = m.counter("snapshots_captured_total", "Table snapshots captured")
	m.snapshotsRestored = m.counter("snapshots_restored_total", "Table snapshots restored")
	m.snapshotsPruned = m.counter("snapshots_pruned_total", "Snapshots deleted by retention")
	m.snapshotsArchived = m.counter("snapshots_archived_total", "Snapshots archived before pruning")

	m.repositoryLatency = m.histogramVec("repository_latency_milliseconds", "Repository operation latency", prometheus.DefBuckets, "op")
	m.repositoryErrors = m.counterVec("repository_errors_total", "Repository operation failures", "op")

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration", prometheus.DefBuckets, "endpoint", "method", "status_code")

	m.systemMemoryUsage = m.gauge("system_memory_bytes", "Heap bytes allocated")
	m.systemGoroutineCount = m.gauge("system_goroutines", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_milliseconds", "Average GC pause", prometheus.DefBuckets)
}

// Job queue.

// RecordJobEnqueued counts a new job by source.
func RecordJobEnqueued(source string) { globalManager.jobsEnqueued.WithLabelValues(source).Inc() }

// RecordJobCoalesced counts a request merged into an existing job.
func RecordJobCoalesced() { globalManager.jobsCoalesced.Inc() }

// RecordJobCompleted counts a successful job.
func RecordJobCompleted(kind string) { globalManager.jobsCompleted.WithLabelValues(kind).Inc() }

// RecordJobFailed counts a permanently failed job.
func RecordJobFailed(errorKind string) { globalManager.jobsFailed.WithLabelValues(errorKind).Inc() }

// RecordJobRetried counts a rescheduled attempt.
func RecordJobRetried() { globalManager.jobsRetried.Inc() }

// RecordJobTimedOut counts an attempt aborted by timeout.
func RecordJobTimedOut() { globalManager.jobsTimedOut.Inc() }

// RecordJobDuration observes one attempt's duration.
func RecordJobDuration(kind, outcome string, d time.Duration) {
	globalManager.jobDuration.WithLabelValues(kind, outcome).Observe(float64(d.Milliseconds()))
}

// UpdateJobGauges sets the pending and processing gauges.
func UpdateJobGauges(pending, processing int) {
	globalManager.jobsPending.Set(float64(pending))
	globalManager.jobsProcessing.Set(float64(processing))
}

// UpdateQueuePaused sets the paused gauge.
func UpdateQueuePaused(paused bool) {
	v := 0.0
	if paused {
		v = 1
	}
	globalManager.queuePaused.Set(v)
}

// UpdateWorkerCount sets the worker pool size gauge.
func UpdateWorkerCount(count int) { globalManager.workerCount.Set(float64(count)) }

// RecordEscalation counts an operator notification.
func RecordEscalation() { globalManager.escalationsSent.Inc() }

// Ranking.

// RecordMatchesExcluded adds excluded matches of one calculation.
func RecordMatchesExcluded(n int) { globalManager.matchesExcluded.Add(float64(n)) }

// RecordTableRows observes the size of a written table.
func RecordTableRows(n int) { globalManager.tableRows.Observe(float64(n)) }

// Match events.

// RecordMatchEvent counts a match event and what it led to.
func RecordMatchEvent(eventType, decision string) {
	globalManager.matchEvents.WithLabelValues(eventType, decision).Inc()
}

// RecordValidationRejection counts a violated validation rule.
func RecordValidationRejection(code string) {
	globalManager.validationRejections.WithLabelValues(code).Inc()
}

// Snapshots.

// RecordSnapshotCaptured counts a capture.
func RecordSnapshotCaptured() { globalManager.snapshotsCaptured.Inc() }

// RecordSnapshotRestored counts a restore.
func RecordSnapshotRestored() { globalManager.snapshotsRestored.Inc() }

// RecordSnapshotsPruned adds pruned snapshots.
func RecordSnapshotsPruned(n int) { globalManager.snapshotsPruned.Add(float64(n)) }

// RecordSnapshotArchived counts an archived snapshot.
func RecordSnapshotArchived() { globalManager.snapshotsArchived.Inc() }

// Repository.

// RecordRepositoryOp observes one repository call.
func RecordRepositoryOp(op string, d time.Duration, err error) {
	globalManager.repositoryLatency.WithLabelValues(op).Observe(float64(d.Milliseconds()))
	if err != nil {
		globalManager.repositoryErrors.WithLabelValues(op).Inc()
	}
}

// HTTP.

// RecordHTTPRequest counts an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration observes an HTTP request duration in milliseconds.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// System.

// UpdateSystemMemoryUsage sets heap usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) { globalManager.systemMemoryUsage.Set(float64(bytes)) }

// UpdateSystemGoroutineCount sets the goroutine gauge.
func UpdateSystemGoroutineCount(count int) { globalManager.systemGoroutineCount.Set(float64(count)) }

// RecordSystemGCPauseTime observes GC pause in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) { globalManager.systemGCPauseTime.Observe(pauseMs) }

// GetRegistry returns the registry the service metrics live in.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
