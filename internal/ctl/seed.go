package ctl

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/okian/standings/internal/adapters/repository"
	"github.com/okian/standings/internal/domain/errs"
	"github.com/okian/standings/internal/domain/model"
	"github.com/okian/standings/internal/domain/ranking"
	"github.com/okian/standings/internal/domain/validation"
	"github.com/okian/standings/pkg/logger"
)

// SeedResult counts what Apply wrote.
type SeedResult struct {
	Teams   int                `json:"teams"`
	Players int                `json:"players"`
	Matches int                `json:"matches"`
	Table   []model.TableEntry `json:"table,omitempty"`
}

// Apply writes ds to store. Every match is validated first; a fixture
// with any invalid match writes no matches at all. Re-applying a fixture
// corrects existing matches as an authorised override.
func Apply(ctx context.Context, store repository.Store, ds *Dataset, log logger.Logger) (*SeedResult, error) {
	const op = "ctl.seed"
	if log == nil {
		log = logger.Nop()
	}

	if err := store.SaveLeague(ctx, &ds.League); err != nil {
		return nil, errs.Wrap(op, err)
	}
	if err := store.SaveSeason(ctx, &ds.Season); err != nil {
		return nil, errs.Wrap(op, err)
	}
	for i := range ds.Teams {
		if err := store.SaveTeam(ctx, &ds.Teams[i]); err != nil {
			return nil, errs.Wrap(op, err)
		}
	}
	for i := range ds.Players {
		if err := store.SavePlayer(ctx, &ds.Players[i]); err != nil {
			return nil, errs.Wrap(op, err)
		}
	}

	v := validation.New(store)
	var problems []string
	for i := range ds.Matches {
		m := &ds.Matches[i]
		prev, err := store.GetMatch(ctx, m.ID)
		if err != nil && !errors.Is(err, errs.ErrNotFound) {
			return nil, errs.Wrap(op, err)
		}
		res, err := v.Validate(ctx, prev, m, validation.Options{Override: true})
		if err != nil {
			return nil, errs.Wrap(op, err)
		}
		for _, e := range res.Errors {
			problems = append(problems, fmt.Sprintf("match %s %s: %s", m.ID, e.Field, e.Message))
		}
	}
	if len(problems) > 0 {
		return nil, errs.Validationf(op, "fixture rejected: %s", strings.Join(problems, "; "))
	}

	for i := range ds.Matches {
		if err := store.SaveMatch(ctx, &ds.Matches[i]); err != nil {
			return nil, errs.Wrap(op, err)
		}
	}

	log.Info(ctx, "fixture seeded",
		logger.String("key", ds.Key.String()),
		logger.Int("teams", len(ds.Teams)),
		logger.Int("players", len(ds.Players)),
		logger.Int("matches", len(ds.Matches)),
	)
	return &SeedResult{Teams: len(ds.Teams), Players: len(ds.Players), Matches: len(ds.Matches)}, nil
}

// Recompute rebuilds and stores the table of key in-process, without a
// running service.
func Recompute(ctx context.Context, store repository.Store, key model.Key, calc *ranking.Calculator, log logger.Logger) ([]model.TableEntry, error) {
	res, err := ranking.NewEngine(store, ranking.WithCalculator(calc), ranking.WithLogger(log)).ComputeTable(ctx, key)
	if err != nil {
		return nil, err
	}
	return res.Entries, nil
}

// EnsureEntries gives every seeded team a table row without recomputing,
// so a fixture seeded without --recompute still lists all its teams.
func EnsureEntries(ctx context.Context, store repository.Store, key model.Key, calc *ranking.Calculator, log logger.Logger) ([]model.TableEntry, error) {
	entries, _, err := ranking.NewEngine(store, ranking.WithCalculator(calc), ranking.WithLogger(log)).CreateMissingEntries(ctx, key)
	return entries, err
}
