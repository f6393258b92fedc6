package ctl

import (
	"context"
	"fmt"

	"github.com/okian/standings/internal/adapters/repository"
	"github.com/okian/standings/internal/domain/model"
	"github.com/okian/standings/internal/domain/ranking"
	"github.com/okian/standings/internal/domain/snapshot"
	"github.com/okian/standings/pkg/logger"
)

// Report is the outcome of an offline verification.
type Report struct {
	Key              model.Key `json:"key"`
	Rows             int       `json:"rows"`
	Excluded         []string  `json:"excluded,omitempty"`
	Warnings         []string  `json:"warnings,omitempty"`
	Mismatches       []string  `json:"mismatches,omitempty"`
	SnapshotsChecked int       `json:"snapshots_checked"`
	SnapshotErrors   []string  `json:"snapshot_errors,omitempty"`
}

// OK reports whether nothing disagreed.
func (r *Report) OK() bool { return len(r.Mismatches) == 0 && len(r.SnapshotErrors) == 0 }

// readOnly drops table writes so the engine can recompute without touching
// the stored table.
type readOnly struct {
	ranking.Store
}

func (readOnly) ReplaceTable(context.Context, model.Key, []model.TableEntry) error { return nil }

// Verify recomputes the table of key from the stored matches, compares it
// with the stored rows and checks the integrity of every snapshot of key.
// A failed comparison is reported, not returned; the error is for store
// failures only.
func Verify(ctx context.Context, store repository.Store, key model.Key, calc *ranking.Calculator, log logger.Logger) (*Report, error) {
	want, err := ranking.NewEngine(readOnly{Store: store}, ranking.WithCalculator(calc), ranking.WithLogger(log)).ComputeTable(ctx, key)
	if err != nil {
		return nil, err
	}
	got, err := store.Table(ctx, key)
	if err != nil {
		return nil, err
	}

	rep := &Report{
		Key:        key,
		Rows:       len(got),
		Excluded:   want.Excluded,
		Warnings:   want.Warnings,
		Mismatches: diffTables(want.Entries, got),
	}

	snaps, err := store.ListSnapshots(ctx, key)
	if err != nil {
		return nil, err
	}
	for i := range snaps {
		rep.SnapshotsChecked++
		if err := snapshot.Verify(&snaps[i]); err != nil {
			rep.SnapshotErrors = append(rep.SnapshotErrors, err.Error())
		}
	}
	return rep, nil
}

// diffTables lists every difference between the expected and the stored table.
func diffTables(want, got []model.TableEntry) []string {
	var out []string
	if len(want) != len(got) {
		out = append(out, fmt.Sprintf("row count: expected %d, stored %d", len(want), len(got)))
	}
	for i := 0; i < len(want) && i < len(got); i++ {
		w, g := want[i], got[i]
		if err := g.CheckInvariants(); err != nil {
			out = append(out, fmt.Sprintf("rank %d: %v", g.Rank, err))
		}
		if w.TeamID != g.TeamID {
			out = append(out, fmt.Sprintf("rank %d: expected %s, stored %s", w.Rank, w.TeamID, g.TeamID))
			continue
		}
		if w != g {
			out = append(out, fmt.Sprintf("rank %d %s: expected %s, stored %s", w.Rank, w.TeamID, line(w), line(g)))
		}
	}
	return out
}

func line(e model.TableEntry) string {
	return fmt.Sprintf("P%d W%d D%d L%d %d:%d Pts%d", e.Played, e.Won, e.Drawn, e.Lost, e.GoalsFor, e.GoalsAgainst, e.Points)
}
