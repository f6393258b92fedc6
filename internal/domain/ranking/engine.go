package ranking

import (
	"context"
	"time"

	"github.com/okian/standings/internal/domain/errs"
	"github.com/okian/standings/internal/domain/model"
	"github.com/okian/standings/pkg/logger"
	"github.com/okian/standings/pkg/metrics"
)

// Store is the part of the entity repository the engine needs.
type Store interface {
	ListTeams(ctx context.Context, key model.Key) ([]model.Team, error)
	ListMatches(ctx context.Context, filter model.MatchFilter) ([]model.Match, error)
	ListPlayers(ctx context.Context, teamID string) ([]model.Player, error)
	Table(ctx context.Context, key model.Key) ([]model.TableEntry, error)
	ReplaceTable(ctx context.Context, key model.Key, entries []model.TableEntry) error
}

// Engine loads, computes and writes one league/season table.
type Engine struct {
	store  Store
	calc   *Calculator
	logger logger.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithCalculator replaces the default calculator.
func WithCalculator(c *Calculator) EngineOption {
	return func(e *Engine) {
		if c != nil {
			e.calc = c
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(l logger.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine creates an Engine over store.
func NewEngine(store Store, opts ...EngineOption) *Engine {
	e := &Engine{store: store, calc: NewCalculator(), logger: logger.Nop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Calculator returns the calculator used by the engine.
func (e *Engine) Calculator() *Calculator { return e.calc }

// ComputeTable recomputes the table of key from its finished matches and
// replaces the stored rows in one atomic write. Repository failures are
// returned as they come; the job queue decides about retries.
func (e *Engine) ComputeTable(ctx context.Context, key model.Key) (Result, error) {
	const op = "ranking.compute"
	start := time.Now()

	teams, err := e.store.ListTeams(ctx, key)
	if err != nil {
		return Result{}, errs.Wrap(op, err)
	}
	filter := model.ForKey(key)
	filter.Status = model.StatusFinished
	matches, err := e.store.ListMatches(ctx, filter)
	if err != nil {
		return Result{}, errs.Wrap(op, err)
	}
	roster, err := e.roster(ctx, teams)
	if err != nil {
		return Result{}, errs.Wrap(op, err)
	}

	res := e.calc.Compute(key, teams, matches, roster)
	for _, w := range res.Warnings {
		e.logger.Warn(ctx, "table calculation warning", logger.String("key", key.String()), logger.String("warning", w))
	}
	for i := range res.Entries {
		if err := res.Entries[i].CheckInvariants(); err != nil {
			return Result{}, errs.System(op, err)
		}
	}

	if err := ctx.Err(); err != nil {
		return Result{}, errs.Wrap(op, err)
	}
	if err := e.store.ReplaceTable(ctx, key, res.Entries); err != nil {
		return Result{}, errs.Wrap(op, err)
	}

	metrics.RecordMatchesExcluded(len(res.Excluded))
	metrics.RecordTableRows(len(res.Entries))
	e.logger.Info(ctx, "table recalculated",
		logger.String("key", key.String()),
		logger.Int("teams", len(res.Entries)),
		logger.Int("matches", len(matches)),
		logger.Int("excluded", len(res.Excluded)),
		logger.Duration("took", time.Since(start)),
	)
	return res, nil
}

// CreateMissingEntries adds a zeroed row for every team of key without one
// and re-ranks the table. Existing rows keep their statistics. Nothing is
// written when every team already has a row.
func (e *Engine) CreateMissingEntries(ctx context.Context, key model.Key) ([]model.TableEntry, int, error) {
	const op = "ranking.create_missing"

	teams, err := e.store.ListTeams(ctx, key)
	if err != nil {
		return nil, 0, errs.Wrap(op, err)
	}
	current, err := e.store.Table(ctx, key)
	if err != nil {
		return nil, 0, errs.Wrap(op, err)
	}
	entries := CreateMissingEntries(key, teams, current)
	added := len(entries) - len(current)
	if added == 0 {
		return current, 0, nil
	}
	e.calc.Sort(entries)
	if err := e.store.ReplaceTable(ctx, key, entries); err != nil {
		return nil, 0, errs.Wrap(op, err)
	}
	e.logger.Info(ctx, "table entries created",
		logger.String("key", key.String()),
		logger.Int("added", added),
	)
	return entries, added, nil
}

func (e *Engine) roster(ctx context.Context, teams []model.Team) (Roster, error) {
	r := Roster{}
	for _, t := range teams {
		players, err := e.store.ListPlayers(ctx, t.ID)
		if err != nil {
			return nil, err
		}
		for _, p := range players {
			r[p.ID] = p.TeamID
		}
	}
	return r, nil
}
