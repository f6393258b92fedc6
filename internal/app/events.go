package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/okian/standings/internal/adapters/mq/queue"
	"github.com/okian/standings/internal/domain/errs"
	"github.com/okian/standings/internal/domain/model"
	"github.com/okian/standings/internal/domain/types"
	"github.com/okian/standings/internal/domain/validation"
	"github.com/okian/standings/pkg/logger"
	"github.com/okian/standings/pkg/metrics"
)

// Match event types, used in logs and metrics.
const (
	EventCreated   = "created"
	EventUpdated   = "updated"
	EventCorrected = "corrected"
	EventDeleted   = "deleted"
)

// SaveOptions tunes SaveMatch.
type SaveOptions struct {
	// Override permits corrections to a finished match.
	Override bool
	// IdempotencyKey makes client retries of the same save a no-op.
	IdempotencyKey string
}

// OnMatchCreated reacts to a match the surrounding application created.
func (s *Service) OnMatchCreated(ctx context.Context, m *model.Match) (types.EventOutcome, error) {
	return s.onEvent(ctx, EventCreated, nil, m, validation.Options{})
}

// OnMatchUpdated reacts to an ordinary update. Changing a finished match is
// rejected; use OnMatchCorrected.
func (s *Service) OnMatchUpdated(ctx context.Context, prev, next *model.Match) (types.EventOutcome, error) {
	return s.onEvent(ctx, EventUpdated, prev, next, validation.Options{})
}

// OnMatchCorrected is the override path for corrections to a finished match.
// Scores are re-validated.
func (s *Service) OnMatchCorrected(ctx context.Context, prev, next *model.Match) (types.EventOutcome, error) {
	return s.onEvent(ctx, EventCorrected, prev, next, validation.Options{Override: true})
}

// OnMatchDeleted reacts to a deleted match.
func (s *Service) OnMatchDeleted(ctx context.Context, m *model.Match) (types.EventOutcome, error) {
	return s.react(ctx, EventDeleted, m, nil, s.detector.Detect(m, nil))
}

// onEvent validates relevant changes before anything is enqueued. Changes
// that do not affect standings are not validated here.
func (s *Service) onEvent(ctx context.Context, event string, prev, next *model.Match, opts validation.Options) (types.EventOutcome, error) {
	dec := s.detector.Detect(prev, next)
	if !dec.Recalculate {
		return s.react(ctx, event, prev, next, dec)
	}
	res, err := s.validate(ctx, event, prev, next, opts)
	if err != nil {
		return types.EventOutcome{Decision: dec, Validation: res}, err
	}
	return s.react(ctx, event, prev, next, dec)
}

func (s *Service) validate(ctx context.Context, event string, prev, next *model.Match, opts validation.Options) (types.ValidationResult, error) {
	const op = "service.validate"
	res, err := s.validator.Validate(ctx, prev, next, opts)
	if err != nil {
		return res, errs.Wrap(op, err)
	}
	if !res.Valid {
		metrics.RecordMatchEvent(event, "rejected")
		s.logger.Info(ctx, "match change rejected",
			logger.String("match_id", next.ID),
			logger.String("event", event),
			logger.Int("violations", len(res.Errors)),
		)
		return res, errs.WrapKind(op, errs.ErrValidation, &ValidationError{Result: res})
	}
	return res, nil
}

// react enqueues one job per key dec marks as affected.
func (s *Service) react(ctx context.Context, event string, prev, next *model.Match, dec types.Decision) (types.EventOutcome, error) {
	out := types.EventOutcome{Decision: dec, Validation: types.ValidationResult{Valid: true}}
	if !dec.Recalculate {
		metrics.RecordMatchEvent(event, "ignored")
		return out, nil
	}
	metrics.RecordMatchEvent(event, "recalculate")

	for _, key := range dec.Keys {
		enq, err := s.queue.Enqueue(ctx, queue.Request{
			Key:         key,
			Priority:    dec.Priority,
			Source:      model.SourceMatchEvent,
			Description: matchDescription(event, prev, next, dec.Reasons),
		})
		if err != nil {
			return out, enqueueError(err)
		}
		out.JobIDs = append(out.JobIDs, enq.Job.ID)
	}
	s.logger.Debug(ctx, "match change scheduled recalculation",
		logger.String("event", event),
		logger.String("priority", dec.Priority.String()),
		logger.String("reasons", strings.Join(dec.Reasons, ",")),
		logger.Int("jobs", len(out.JobIDs)),
	)
	return out, nil
}

func matchDescription(event string, prev, next *model.Match, reasons []string) string {
	m := next
	if m == nil {
		m = prev
	}
	return fmt.Sprintf("match %s %s (%s)", m.ID, event, strings.Join(reasons, ", "))
}

func enqueueError(err error) error {
	if errors.Is(err, queue.ErrClosed) {
		return errs.WrapKind("service.enqueue", errs.ErrSystem, ErrStopped)
	}
	if errors.Is(err, queue.ErrInvalidKey) {
		return errs.WrapKind("service.enqueue", errs.ErrValidation, err)
	}
	return errs.Wrap("service.enqueue", err)
}

// SaveMatch is the thin "surrounding application": it validates, persists
// and fires the matching hook. A new match without an ID gets one.
func (s *Service) SaveMatch(ctx context.Context, m *model.Match, opts SaveOptions) (types.SaveResult, error) {
	const op = "service.save_match"
	if m == nil {
		return types.SaveResult{}, errs.Validationf(op, "match is required")
	}
	next := m.Clone()
	if next.ID == "" {
		next.ID = uuid.NewString()
	}

	if opts.IdempotencyKey != "" {
		if res, dup, err := s.awaitDuplicate(ctx, opts.IdempotencyKey, next.ID); dup || err != nil {
			return res, err
		}
	}

	res, err := s.saveMatch(ctx, next, opts)
	if opts.IdempotencyKey != "" {
		if err != nil {
			s.deduper.Unrecord(ctx, opts.IdempotencyKey)
		} else {
			s.deduper.Commit(ctx, opts.IdempotencyKey)
		}
	}
	return res, err
}

// awaitDuplicate claims key for id. If another save holds the key it waits
// for that save to settle: a committed save is returned as the duplicate, a
// failed one lets this request claim the key.
func (s *Service) awaitDuplicate(ctx context.Context, key, id string) (types.SaveResult, bool, error) {
	const op = "service.save_match"
	for {
		if _, seen := s.deduper.SeenAndRecord(ctx, key, id); !seen {
			return types.SaveResult{}, false, nil
		}
		firstID, committed, err := s.deduper.Wait(ctx, key)
		if err != nil {
			return types.SaveResult{}, false, errs.WrapKind(op, errs.ErrTransient, err)
		}
		if !committed {
			continue
		}
		existing, err := s.store.GetMatch(ctx, firstID)
		if err != nil {
			return types.SaveResult{}, false, errs.Wrap(op, err)
		}
		return types.SaveResult{Match: existing, Duplicate: true}, true, nil
	}
}

func (s *Service) saveMatch(ctx context.Context, next *model.Match, opts SaveOptions) (types.SaveResult, error) {
	const op = "service.save_match"
	prev, err := s.store.GetMatch(ctx, next.ID)
	switch {
	case errors.Is(err, errs.ErrNotFound):
		prev = nil
	case err != nil:
		return types.SaveResult{}, errs.Wrap(op, err)
	}

	event := EventCreated
	switch {
	case prev != nil && opts.Override:
		event = EventCorrected
	case prev != nil:
		event = EventUpdated
	}

	// Saves are always validated, relevant to standings or not.
	vres, err := s.validate(ctx, event, prev, next, validation.Options{Override: opts.Override})
	if err != nil {
		return types.SaveResult{Outcome: types.EventOutcome{Validation: vres}}, err
	}

	next.UpdatedAt = s.now().UTC()
	if err := s.store.SaveMatch(ctx, next); err != nil {
		return types.SaveResult{}, errs.Wrap(op, err)
	}
	out, err := s.react(ctx, event, prev, next, s.detector.Detect(prev, next))
	return types.SaveResult{Match: next, Outcome: out}, err
}

// DeleteMatch removes a match and fires OnMatchDeleted.
func (s *Service) DeleteMatch(ctx context.Context, id string) (types.EventOutcome, error) {
	const op = "service.delete_match"
	prev, err := s.store.GetMatch(ctx, id)
	if err != nil {
		return types.EventOutcome{}, errs.Wrap(op, err)
	}
	if err := s.store.DeleteMatch(ctx, id); err != nil {
		return types.EventOutcome{}, errs.Wrap(op, err)
	}
	return s.OnMatchDeleted(ctx, prev)
}

// GetMatch returns one match.
func (s *Service) GetMatch(ctx context.Context, id string) (*model.Match, error) {
	return s.store.GetMatch(ctx, id)
}

// ListMatches returns matches satisfying f.
func (s *Service) ListMatches(ctx context.Context, f model.MatchFilter) ([]model.Match, error) {
	return s.store.ListMatches(ctx, f)
}

// handle performs one attempt of a job: capture the current table, then
// recompute and replace it. Runs inside a worker while the key is held.
func (s *Service) handle(ctx context.Context, job model.Job) (*model.JobResult, error) {
	const op = "service.handle"
	switch job.Kind {
	case model.KindRecalculate:
	default:
		return nil, errs.System(op, fmt.Errorf("unsupported job kind %q", job.Kind))
	}

	key := job.Key()
	snap, err := s.snapshots.Capture(ctx, key,
		fmt.Sprintf("before job %s attempt %d", job.ID, job.Attempts), "system")
	if err != nil {
		return nil, err
	}
	res, err := s.engine.ComputeTable(ctx, key)
	if err != nil {
		return nil, err
	}
	return &model.JobResult{
		SnapshotID:      snap.ID,
		Entries:         len(res.Entries),
		ExcludedMatches: res.Excluded,
		Warnings:        res.Warnings,
	}, nil
}

// escalate tells operators about a job that ended failed.
func (s *Service) escalate(ctx context.Context, job model.Job) {
	if err := s.notifier.Notify(ctx, job); err != nil {
		s.logger.Error(ctx, "escalation failed", logger.String("job_id", job.ID), logger.Error(err))
	}
}
