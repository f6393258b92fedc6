// Package repository defines the entity store contract and its in-memory and
// SQL implementations.
package repository

import (
	"context"

	"github.com/okian/standings/internal/domain/model"
)

// Store provides read/write access to every persisted entity.
//
// Getters return an error matching ErrNotFound for unknown ids. ReplaceTable
// swaps all rows of one league/season atomically: readers observe either the
// previous table or the new one, never a mix.
type Store interface {
	SaveLeague(ctx context.Context, l *model.League) error
	ListLeagues(ctx context.Context) ([]model.League, error)
	SaveSeason(ctx context.Context, s *model.Season) error
	ListSeasons(ctx context.Context) ([]model.Season, error)

	SaveTeam(ctx context.Context, t *model.Team) error
	GetTeam(ctx context.Context, id string) (*model.Team, error)
	// ListTeams returns the teams of one league/season ordered by id.
	ListTeams(ctx context.Context, key model.Key) ([]model.Team, error)

	SavePlayer(ctx context.Context, p *model.Player) error
	GetPlayer(ctx context.Context, id string) (*model.Player, error)
	ListPlayers(ctx context.Context, teamID string) ([]model.Player, error)

	SaveMatch(ctx context.Context, m *model.Match) error
	GetMatch(ctx context.Context, id string) (*model.Match, error)
	// ListMatches returns matches satisfying f ordered by id.
	ListMatches(ctx context.Context, f model.MatchFilter) ([]model.Match, error)
	DeleteMatch(ctx context.Context, id string) error

	// Table returns the rows of one league/season ordered by rank.
	Table(ctx context.Context, key model.Key) ([]model.TableEntry, error)
	ReplaceTable(ctx context.Context, key model.Key, entries []model.TableEntry) error

	SaveSnapshot(ctx context.Context, s *model.Snapshot) error
	GetSnapshot(ctx context.Context, id string) (*model.Snapshot, error)
	// ListSnapshots returns snapshots newest first. A zero key lists all.
	ListSnapshots(ctx context.Context, key model.Key) ([]model.Snapshot, error)
	DeleteSnapshot(ctx context.Context, id string) error

	// SaveJob persists a finished job. Saving the same id again overwrites it.
	SaveJob(ctx context.Context, j *model.Job) error
	// ListJobs returns persisted jobs newest first; an empty leagueID lists all.
	ListJobs(ctx context.Context, leagueID string, limit int) ([]model.Job, error)

	Ping(ctx context.Context) error
	Close() error
}
