package service

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/okian/standings/internal/adapters/mq/queue"
	"github.com/okian/standings/internal/domain/errs"
	"github.com/okian/standings/internal/domain/model"
	"github.com/okian/standings/internal/domain/types"
	"github.com/okian/standings/pkg/logger"
	"github.com/okian/standings/pkg/metrics"
)

const defaultHistoryLimit = 50

// TriggerRecalculation enqueues a manual recalculation. A zero priority
// selects the configured manual default. The request coalesces into an
// existing pending job of the key, which is reported, not an error.
func (s *Service) TriggerRecalculation(ctx context.Context, key model.Key, p model.Priority, description string) (types.TriggerResult, error) {
	const op = "service.trigger"
	if !key.Valid() {
		return types.TriggerResult{}, errs.Validationf(op, "league and season are required")
	}
	dec := s.detector.Manual(key, p)
	if description == "" {
		description = "manual recalculation"
	}
	enq, err := s.queue.Enqueue(ctx, queue.Request{
		Key:         key,
		Priority:    dec.Priority,
		Source:      model.SourceManual,
		Description: description,
	})
	if err != nil {
		return types.TriggerResult{}, enqueueError(err)
	}
	metrics.RecordMatchEvent("manual", "recalculate")
	return types.TriggerResult{
		JobID:                    enq.Job.ID,
		EstimatedDurationSeconds: s.estimate(enq.Ahead),
		Coalesced:                enq.Coalesced,
	}, nil
}

// estimate is the recent average run time times the rounds of work ahead.
func (s *Service) estimate(ahead int) int {
	avg := s.queue.AverageDuration()
	if avg <= 0 {
		avg = defaultJobEstimate
	}
	rounds := ahead/s.pool.Size() + 1
	return int(math.Ceil((avg * time.Duration(rounds)).Seconds()))
}

// Pause stops dispatch of new jobs. In-flight jobs finish.
func (s *Service) Pause(ctx context.Context) {
	s.queue.Pause(ctx)
}

// Resume restarts dispatch.
func (s *Service) Resume(ctx context.Context) {
	s.queue.Resume(ctx)
}

// QueueStatus is a point-in-time view of the queue.
func (s *Service) QueueStatus(ctx context.Context) types.QueueStatus {
	c := s.queue.Counts()
	return types.QueueStatus{
		Running:     s.Running() && !c.Paused && !c.Closed,
		Paused:      c.Paused,
		TotalJobs:   c.Pending + c.Processing + c.Completed + c.Failed,
		Pending:     c.Pending,
		Processing:  c.Processing,
		Completed:   c.Completed,
		Failed:      c.Failed,
		CurrentJobs: c.Current,
	}
}

// History returns up to limit finished jobs, newest first. The in-memory
// history is topped up from the store so jobs of earlier runs stay visible.
func (s *Service) History(ctx context.Context, leagueID string, limit int) ([]model.Job, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	jobs := s.queue.History(leagueID, limit)
	if len(jobs) >= limit {
		return jobs, nil
	}

	stored, err := s.store.ListJobs(ctx, leagueID, limit)
	if err != nil {
		return nil, errs.Wrap("service.history", err)
	}
	seen := make(map[string]bool, len(jobs))
	for _, j := range jobs {
		seen[j.ID] = true
	}
	var oldest time.Time
	if len(jobs) > 0 {
		oldest = jobs[len(jobs)-1].EnqueuedAt
	}
	for _, j := range stored {
		if len(jobs) == limit {
			break
		}
		if seen[j.ID] || (!oldest.IsZero() && j.EnqueuedAt.After(oldest)) {
			continue
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// Job returns a job by id, or the job it was merged into.
func (s *Service) Job(ctx context.Context, id string) (model.Job, error) {
	if job, ok := s.queue.Get(id); ok {
		return job, nil
	}
	return model.Job{}, errs.WrapKind("service.job", errs.ErrNotFound, fmt.Errorf("job %s", id))
}

// Table returns the current rows of a league/season ordered by rank.
func (s *Service) Table(ctx context.Context, key model.Key) ([]model.TableEntry, error) {
	if !key.Valid() {
		return nil, errs.Validationf("service.table", "league and season are required")
	}
	return s.store.Table(ctx, key)
}

// CreateMissingEntries gives every team of key without a table row a zeroed
// one. It holds the key lock so it never interleaves with a recalculation.
func (s *Service) CreateMissingEntries(ctx context.Context, key model.Key) (types.EntriesResult, error) {
	const op = "service.create_missing_entries"
	if !key.Valid() {
		return types.EntriesResult{}, errs.Validationf(op, "league and season are required")
	}
	release, err := s.queue.Acquire(ctx, key)
	if err != nil {
		return types.EntriesResult{}, enqueueError(err)
	}
	defer release()

	entries, added, err := s.engine.CreateMissingEntries(ctx, key)
	if err != nil {
		return types.EntriesResult{}, err
	}
	return types.EntriesResult{Added: added, Entries: entries}, nil
}

// ListSnapshots returns the snapshots of key, newest first.
func (s *Service) ListSnapshots(ctx context.Context, key model.Key) ([]model.Snapshot, error) {
	return s.snapshots.List(ctx, key)
}

// GetSnapshot returns one snapshot including its rows.
func (s *Service) GetSnapshot(ctx context.Context, id string) (*model.Snapshot, error) {
	return s.snapshots.Get(ctx, id)
}

// CreateSnapshot captures the current table of key.
func (s *Service) CreateSnapshot(ctx context.Context, key model.Key, description, createdBy string) (*model.Snapshot, error) {
	if createdBy == "" {
		createdBy = "admin"
	}
	return s.snapshots.Capture(ctx, key, description, createdBy)
}

// DeleteSnapshot removes a snapshot.
func (s *Service) DeleteSnapshot(ctx context.Context, id string) error {
	return s.snapshots.Delete(ctx, id)
}

// PruneSnapshots applies the retention policy. maxAgeDays <= 0 uses the
// configured retention.
func (s *Service) PruneSnapshots(ctx context.Context, maxAgeDays int) (int, error) {
	maxAge := s.snapshotRetention
	if maxAgeDays > 0 {
		maxAge = time.Duration(maxAgeDays) * 24 * time.Hour
	}
	return s.snapshots.Prune(ctx, maxAge)
}

// RestoreSnapshot replaces the table of the snapshot's league/season with
// the snapshot's rows. It holds the key lock so no recalculation of the key
// runs meanwhile, captures a pre-restore snapshot first and records the
// operation as a restore job in history. On failure the table is untouched.
func (s *Service) RestoreSnapshot(ctx context.Context, id string, confirm bool, actor string) (types.RestoreResult, error) {
	const op = "service.restore"
	if !confirm {
		return types.RestoreResult{}, errs.WrapKind(op, errs.ErrValidation, ErrConfirmRequired)
	}
	if actor == "" {
		actor = "admin"
	}
	target, err := s.snapshots.Get(ctx, id)
	if err != nil {
		return types.RestoreResult{}, err
	}
	key := target.Key()

	release, err := s.queue.Acquire(ctx, key)
	if err != nil {
		return types.RestoreResult{}, enqueueError(err)
	}
	defer release()

	started := s.now()
	job := model.Job{
		ID:          uuid.NewString(),
		Kind:        model.KindRestore,
		LeagueID:    key.LeagueID,
		SeasonID:    key.SeasonID,
		Priority:    s.detector.ManualPriority(),
		Source:      model.SourceManual,
		Description: fmt.Sprintf("restore snapshot %s by %s", id, actor),
		Attempts:    1,
		MaxAttempts: 1,
		EnqueuedAt:  started,
		StartedAt:   &started,
	}

	res, err := s.restore(ctx, id, actor)
	finished := s.now()
	job.FinishedAt = &finished
	if err != nil {
		job.Status = model.JobFailed
		job.Error = err.Error()
		job.ErrorKind = errs.KindName(err)
	} else {
		job.Status = model.JobCompleted
		job.Result = &model.JobResult{SnapshotID: res.PreRestoreSnapshotID, Entries: res.Entries}
	}
	if rerr := s.queue.Record(ctx, job); rerr != nil {
		s.logger.Warn(ctx, "failed to record restore job", logger.Error(rerr))
	}
	if err != nil {
		return types.RestoreResult{}, err
	}
	res.JobID = job.ID
	return res, nil
}

func (s *Service) restore(ctx context.Context, id, actor string) (types.RestoreResult, error) {
	target, err := s.snapshots.Get(ctx, id)
	if err != nil {
		return types.RestoreResult{}, err
	}
	pre, err := s.snapshots.Capture(ctx, target.Key(), "pre-restore of "+id, actor)
	if err != nil {
		return types.RestoreResult{}, err
	}
	restored, err := s.snapshots.Restore(ctx, id)
	if err != nil {
		return types.RestoreResult{}, err
	}
	s.logger.Info(ctx, "snapshot restored",
		logger.String("snapshot_id", id),
		logger.String("pre_restore_snapshot_id", pre.ID),
		logger.String("key", target.Key().String()),
		logger.String("actor", actor),
	)
	return types.RestoreResult{
		SnapshotID:           restored.ID,
		PreRestoreSnapshotID: pre.ID,
		Entries:              len(restored.Entries),
	}, nil
}

// ParseKey splits "league/season" as used by the CLI and logs.
func ParseKey(s string) (model.Key, error) {
	league, season, ok := strings.Cut(s, "/")
	k := model.NewKey(strings.TrimSpace(league), strings.TrimSpace(season))
	if !ok || !k.Valid() {
		return model.Key{}, errs.Validationf("service.parse_key", "key %q must be league/season", s)
	}
	return k, nil
}
