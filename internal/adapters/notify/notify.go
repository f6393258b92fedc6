// Package notify escalates failed jobs to operators.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/okian/standings/internal/domain/model"
	"github.com/okian/standings/pkg/logger"
	"github.com/okian/standings/pkg/metrics"
)

// Notifier delivers an escalation for a job that ended failed.
type Notifier interface {
	Notify(ctx context.Context, job model.Job) error
}

// Message renders the operator text for a failed job.
func Message(job model.Job) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Table job %s failed for %s/%s\n", job.ID, job.LeagueID, job.SeasonID)
	fmt.Fprintf(&b, "kind: %s, attempts: %d/%d, error kind: %s\n", job.Kind, job.Attempts, job.MaxAttempts, job.ErrorKind)
	if job.Error != "" {
		fmt.Fprintf(&b, "error: %s\n", job.Error)
	}
	b.WriteString("Standings keep their last successful state until a rerun or rollback.")
	return b.String()
}

// Log writes escalations to the error log.
type Log struct {
	log logger.Logger
}

// NewLog returns a notifier logging through l.
func NewLog(l logger.Logger) *Log {
	if l == nil {
		l = logger.Nop()
	}
	return &Log{log: l}
}

func (n *Log) Notify(ctx context.Context, job model.Job) error {
	n.log.Error(ctx, "job escalated",
		logger.String("job_id", job.ID),
		logger.String("league_id", job.LeagueID),
		logger.String("season_id", job.SeasonID),
		logger.Int("attempts", job.Attempts),
		logger.String("error_kind", job.ErrorKind),
		logger.String("error", job.Error))
	return nil
}

// Multi fans an escalation out to every notifier and counts it once.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, job model.Job) error {
	metrics.RecordEscalation()
	var all []error
	for _, n := range m {
		if err := n.Notify(ctx, job); err != nil {
			all = append(all, err)
		}
	}
	return errors.Join(all...)
}
