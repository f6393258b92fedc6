package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/okian/standings/internal/domain/errs"
	"github.com/okian/standings/internal/domain/model"
	"github.com/okian/standings/pkg/metrics"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

//go:embed schema_postgres.sql
var postgresSchema string

// Schema version tracking for SQLite:
// 1 - initial schema
const currentSchemaVersion = 1

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// SQLStore implements Store on database/sql. Queries use $N placeholders,
// which both lib/pq and mattn/go-sqlite3 accept, so one implementation serves
// both drivers.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

var _ Store = (*SQLStore)(nil)

// OpenSQLite creates or opens a SQLite database at path and applies the
// schema. Uses WAL mode and a single connection so writers never race.
func OpenSQLite(ctx context.Context, path string, opts ...Option) (*SQLStore, error) {
	o := applyOptions(opts)
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", o.busyTimeout.Milliseconds()),
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", p, err)
		}
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to execute schema: %w", err)
	}
	if err := migrateSQLite(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLStore{db: db, dialect: DriverSQLite}, nil
}

// OpenPostgres connects to PostgreSQL and applies the schema. The schema only
// uses IF NOT EXISTS statements so it is safe to apply on every start.
func OpenPostgres(ctx context.Context, dsn string, opts ...Option) (*SQLStore, error) {
	o := applyOptions(opts)
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(o.maxOpenConns)
	db.SetMaxIdleConns(o.maxOpenConns)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to execute schema: %w", err)
	}
	return &SQLStore{db: db, dialect: DriverPostgres}, nil
}

func applyOptions(opts []Option) sqlOptions {
	o := sqlOptions{busyTimeout: defaultBusyTimeout, maxOpenConns: defaultMaxOpenConns}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func migrateSQLite(ctx context.Context, db *sql.DB) error {
	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version >= currentSchemaVersion {
		return nil
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// Dialect reports the driver name the store was opened with.
func (s *SQLStore) Dialect() string { return s.dialect }

// observe records latency and classifies driver errors: missing rows become
// not found, undecodable records and constraint violations are system
// errors, everything else is a transient infrastructure failure.
func observe(op string, start time.Time, err *error) {
	if *err != nil {
		*err = classify(op, *err)
	}
	metrics.RecordRepositoryOp(op, time.Since(start), *err)
}

func classify(op string, err error) error {
	switch {
	case errors.Is(err, errs.ErrNotFound), errors.Is(err, errs.ErrConsistency):
		return err
	case errors.Is(err, ErrCorrupt), isPermanent(err):
		return errs.System(op, err)
	default:
		return errs.Transient(op, err)
	}
}

// isPermanent reports driver errors that fail the same way on every retry.
func isPermanent(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrConstraint || se.Code == sqlite3.ErrMismatch
	}
	var pe *pq.Error
	if errors.As(err, &pe) {
		// 22: data exception, 23: integrity constraint violation.
		return pe.Code.Class() == "22" || pe.Code.Class() == "23"
	}
	return false
}

// Leagues and seasons.

func (s *SQLStore) SaveLeague(ctx context.Context, l *model.League) (err error) {
	defer observe("save_league", time.Now(), &err)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO leagues (id, name) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name`, l.ID, l.Name)
	return err
}

func (s *SQLStore) ListLeagues(ctx context.Context) (out []model.League, err error) {
	defer observe("list_leagues", time.Now(), &err)
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM leagues ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var l model.League
		if err := rows.Scan(&l.ID, &l.Name); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *SQLStore) SaveSeason(ctx context.Context, season *model.Season) (err error) {
	defer observe("save_season", time.Now(), &err)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO seasons (id, name, active) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name, active = excluded.active`,
		season.ID, season.Name, season.Active)
	return err
}

func (s *SQLStore) ListSeasons(ctx context.Context) (out []model.Season, err error) {
	defer observe("list_seasons", time.Now(), &err)
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, active FROM seasons ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var season model.Season
		if err := rows.Scan(&season.ID, &season.Name, &season.Active); err != nil {
			return nil, err
		}
		out = append(out, season)
	}
	return out, rows.Err()
}

// Teams and players.

func (s *SQLStore) SaveTeam(ctx context.Context, t *model.Team) (err error) {
	defer observe("save_team", time.Now(), &err)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO teams (id, name, short_name, league_id, season_id) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name, short_name = excluded.short_name,
			league_id = excluded.league_id, season_id = excluded.season_id`,
		t.ID, t.Name, t.ShortName, t.LeagueID, t.SeasonID)
	return err
}

func (s *SQLStore) GetTeam(ctx context.Context, id string) (_ *model.Team, err error) {
	defer observe("get_team", time.Now(), &err)
	var t model.Team
	err = s.db.QueryRowContext(ctx, `
		SELECT id, name, short_name, league_id, season_id FROM teams WHERE id = $1`, id).
		Scan(&t.ID, &t.Name, &t.ShortName, &t.LeagueID, &t.SeasonID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("get team", id)
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *SQLStore) ListTeams(ctx context.Context, key model.Key) (out []model.Team, err error) {
	defer observe("list_teams", time.Now(), &err)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, short_name, league_id, season_id FROM teams
		WHERE league_id = $1 AND season_id = $2 ORDER BY id`, key.LeagueID, key.SeasonID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var t model.Team
		if err := rows.Scan(&t.ID, &t.Name, &t.ShortName, &t.LeagueID, &t.SeasonID); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLStore) SavePlayer(ctx context.Context, p *model.Player) (err error) {
	defer observe("save_player", time.Now(), &err)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO players (id, team_id, name, number) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET team_id = excluded.team_id, name = excluded.name, number = excluded.number`,
		p.ID, p.TeamID, p.Name, p.Number)
	return err
}

func (s *SQLStore) GetPlayer(ctx context.Context, id string) (_ *model.Player, err error) {
	defer observe("get_player", time.Now(), &err)
	var p model.Player
	err = s.db.QueryRowContext(ctx, `SELECT id, team_id, name, number FROM players WHERE id = $1`, id).
		Scan(&p.ID, &p.TeamID, &p.Name, &p.Number)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("get player", id)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *SQLStore) ListPlayers(ctx context.Context, teamID string) (out []model.Player, err error) {
	defer observe("list_players", time.Now(), &err)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, team_id, name, number FROM players WHERE team_id = $1 ORDER BY id`, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var p model.Player
		if err := rows.Scan(&p.ID, &p.TeamID, &p.Name, &p.Number); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Matches.

const matchColumns = `id, league_id, season_id, home_team_id, away_team_id, scheduled_at, status,
	home_score, away_score, goals, cards, substitutions, updated_at`

func (s *SQLStore) SaveMatch(ctx context.Context, m *model.Match) (err error) {
	defer observe("save_match", time.Now(), &err)
	goals, err := json.MarshalToString(emptyIfNil(m.Goals))
	if err != nil {
		return fmt.Errorf("encode goals of match %s: %w: %w", m.ID, ErrCorrupt, err)
	}
	cards, err := json.MarshalToString(emptyIfNil(m.Cards))
	if err != nil {
		return fmt.Errorf("encode cards of match %s: %w: %w", m.ID, ErrCorrupt, err)
	}
	subs, err := json.MarshalToString(emptyIfNil(m.Substitutions))
	if err != nil {
		return fmt.Errorf("encode substitutions of match %s: %w: %w", m.ID, ErrCorrupt, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO matches (`+matchColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			league_id = excluded.league_id, season_id = excluded.season_id,
			home_team_id = excluded.home_team_id, away_team_id = excluded.away_team_id,
			scheduled_at = excluded.scheduled_at, status = excluded.status,
			home_score = excluded.home_score, away_score = excluded.away_score,
			goals = excluded.goals, cards = excluded.cards, substitutions = excluded.substitutions,
			updated_at = excluded.updated_at`,
		m.ID, m.LeagueID, m.SeasonID, m.HomeTeamID, m.AwayTeamID, toNanos(m.ScheduledAt), string(m.Status),
		nullInt(m.HomeScore), nullInt(m.AwayScore), goals, cards, subs, toNanos(m.UpdatedAt))
	return err
}

func (s *SQLStore) GetMatch(ctx context.Context, id string) (_ *model.Match, err error) {
	defer observe("get_match", time.Now(), &err)
	m, err := scanMatch(s.db.QueryRowContext(ctx, `SELECT `+matchColumns+` FROM matches WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("get match", id)
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (s *SQLStore) ListMatches(ctx context.Context, f model.MatchFilter) (out []model.Match, err error) {
	defer observe("list_matches", time.Now(), &err)
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if f.LeagueID != "" {
		where = append(where, "league_id = "+arg(f.LeagueID))
	}
	if f.SeasonID != "" {
		where = append(where, "season_id = "+arg(f.SeasonID))
	}
	if f.Status != "" {
		where = append(where, "status = "+arg(string(f.Status)))
	}
	if f.TeamID != "" {
		p := arg(f.TeamID)
		where = append(where, "(home_team_id = "+p+" OR away_team_id = "+p+")")
	}
	q := `SELECT ` + matchColumns + ` FROM matches`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (s *SQLStore) DeleteMatch(ctx context.Context, id string) (err error) {
	defer observe("delete_match", time.Now(), &err)
	return s.deleteByID(ctx, "delete match", `DELETE FROM matches WHERE id = $1`, id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMatch(r rowScanner) (*model.Match, error) {
	var (
		m                      model.Match
		status                 string
		scheduled, updated     int64
		home, away             sql.NullInt64
		goals, cards, subsJSON string
	)
	if err := r.Scan(&m.ID, &m.LeagueID, &m.SeasonID, &m.HomeTeamID, &m.AwayTeamID, &scheduled, &status,
		&home, &away, &goals, &cards, &subsJSON, &updated); err != nil {
		return nil, err
	}
	m.Status = model.MatchStatus(status)
	m.ScheduledAt = fromNanos(scheduled)
	m.UpdatedAt = fromNanos(updated)
	if home.Valid {
		m.HomeScore = model.Score(int(home.Int64))
	}
	if away.Valid {
		m.AwayScore = model.Score(int(away.Int64))
	}
	if err := json.UnmarshalFromString(goals, &m.Goals); err != nil {
		return nil, fmt.Errorf("decode goals of match %s: %w: %w", m.ID, ErrCorrupt, err)
	}
	if err := json.UnmarshalFromString(cards, &m.Cards); err != nil {
		return nil, fmt.Errorf("decode cards of match %s: %w: %w", m.ID, ErrCorrupt, err)
	}
	if err := json.UnmarshalFromString(subsJSON, &m.Substitutions); err != nil {
		return nil, fmt.Errorf("decode substitutions of match %s: %w: %w", m.ID, ErrCorrupt, err)
	}
	if len(m.Goals) == 0 {
		m.Goals = nil
	}
	if len(m.Cards) == 0 {
		m.Cards = nil
	}
	if len(m.Substitutions) == 0 {
		m.Substitutions = nil
	}
	return &m, nil
}

// Tables.

func (s *SQLStore) Table(ctx context.Context, key model.Key) (out []model.TableEntry, err error) {
	defer observe("table", time.Now(), &err)
	rows, err := s.db.QueryContext(ctx, `
		SELECT league_id, season_id, team_id, team_name, table_rank, played, won, drawn, lost,
			goals_for, goals_against, goal_difference, points
		FROM table_entries WHERE league_id = $1 AND season_id = $2
		ORDER BY table_rank, team_id`, key.LeagueID, key.SeasonID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var e model.TableEntry
		if err := rows.Scan(&e.LeagueID, &e.SeasonID, &e.TeamID, &e.TeamName, &e.Rank, &e.Played, &e.Won,
			&e.Drawn, &e.Lost, &e.GoalsFor, &e.GoalsAgainst, &e.GoalDifference, &e.Points); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ReplaceTable deletes and re-inserts the rows of key inside one transaction.
func (s *SQLStore) ReplaceTable(ctx context.Context, key model.Key, entries []model.TableEntry) (err error) {
	defer observe("replace_table", time.Now(), &err)
	if err := checkEntries(key, entries); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace table tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, `DELETE FROM table_entries WHERE league_id = $1 AND season_id = $2`,
		key.LeagueID, key.SeasonID); err != nil {
		return fmt.Errorf("clear table %s: %w", key, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO table_entries (league_id, season_id, team_id, team_name, table_rank, played, won, drawn,
			lost, goals_for, goals_against, goal_difference, points)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`)
	if err != nil {
		return fmt.Errorf("prepare table insert: %w", err)
	}
	defer stmt.Close()

	for i := range entries {
		e := &entries[i]
		if _, err := stmt.ExecContext(ctx, e.LeagueID, e.SeasonID, e.TeamID, e.TeamName, e.Rank, e.Played,
			e.Won, e.Drawn, e.Lost, e.GoalsFor, e.GoalsAgainst, e.GoalDifference, e.Points); err != nil {
			return fmt.Errorf("insert row for team %s: %w", e.TeamID, err)
		}
	}
	return tx.Commit()
}

// Snapshots.

const snapshotColumns = `id, league_id, season_id, description, created_by, created_at, checksum, entries`

func (s *SQLStore) SaveSnapshot(ctx context.Context, snap *model.Snapshot) (err error) {
	defer observe("save_snapshot", time.Now(), &err)
	entries, err := json.MarshalToString(emptyIfNil(snap.Entries))
	if err != nil {
		return fmt.Errorf("encode entries of snapshot %s: %w: %w", snap.ID, ErrCorrupt, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshots (`+snapshotColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`,
		snap.ID, snap.LeagueID, snap.SeasonID, snap.Description, snap.CreatedBy, toNanos(snap.CreatedAt),
		strconv.FormatUint(snap.Checksum, 16), entries)
	return err
}

func (s *SQLStore) GetSnapshot(ctx context.Context, id string) (_ *model.Snapshot, err error) {
	defer observe("get_snapshot", time.Now(), &err)
	snap, err := scanSnapshot(s.db.QueryRowContext(ctx, `SELECT `+snapshotColumns+` FROM snapshots WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("get snapshot", id)
	}
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *SQLStore) ListSnapshots(ctx context.Context, key model.Key) (out []model.Snapshot, err error) {
	defer observe("list_snapshots", time.Now(), &err)
	var rows *sql.Rows
	if key == (model.Key{}) {
		rows, err = s.db.QueryContext(ctx, `SELECT `+snapshotColumns+` FROM snapshots
			ORDER BY created_at DESC, id DESC`)
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT `+snapshotColumns+` FROM snapshots
			WHERE league_id = $1 AND season_id = $2 ORDER BY created_at DESC, id DESC`, key.LeagueID, key.SeasonID)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *snap)
	}
	return out, rows.Err()
}

func (s *SQLStore) DeleteSnapshot(ctx context.Context, id string) (err error) {
	defer observe("delete_snapshot", time.Now(), &err)
	return s.deleteByID(ctx, "delete snapshot", `DELETE FROM snapshots WHERE id = $1`, id)
}

func scanSnapshot(r rowScanner) (*model.Snapshot, error) {
	var (
		snap              model.Snapshot
		created           int64
		checksum, entries string
	)
	if err := r.Scan(&snap.ID, &snap.LeagueID, &snap.SeasonID, &snap.Description, &snap.CreatedBy,
		&created, &checksum, &entries); err != nil {
		return nil, err
	}
	snap.CreatedAt = fromNanos(created)
	sum, err := strconv.ParseUint(checksum, 16, 64)
	if err != nil {
		return nil, fmt.Errorf("decode checksum of snapshot %s: %w: %w", snap.ID, ErrCorrupt, err)
	}
	snap.Checksum = sum
	if err := json.UnmarshalFromString(entries, &snap.Entries); err != nil {
		return nil, fmt.Errorf("decode entries of snapshot %s: %w: %w", snap.ID, ErrCorrupt, err)
	}
	return &snap, nil
}

// Jobs.

const jobColumns = `id, kind, league_id, season_id, priority, status, source, description, attempts,
	max_attempts, coalesced, merged, enqueued_at, not_before, started_at, finished_at, error, error_kind, result`

func (s *SQLStore) SaveJob(ctx context.Context, j *model.Job) (err error) {
	defer observe("save_job", time.Now(), &err)
	merged, err := json.MarshalToString(emptyIfNil(j.Merged))
	if err != nil {
		return fmt.Errorf("encode merged ids of job %s: %w: %w", j.ID, ErrCorrupt, err)
	}
	var result string
	if j.Result != nil {
		if result, err = json.MarshalToString(j.Result); err != nil {
			return fmt.Errorf("encode result of job %s: %w: %w", j.ID, ErrCorrupt, err)
		}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (id) DO UPDATE SET
			priority = excluded.priority, status = excluded.status, attempts = excluded.attempts,
			coalesced = excluded.coalesced, merged = excluded.merged, not_before = excluded.not_before,
			started_at = excluded.started_at, finished_at = excluded.finished_at,
			error = excluded.error, error_kind = excluded.error_kind, result = excluded.result`,
		j.ID, string(j.Kind), j.LeagueID, j.SeasonID, int(j.Priority), string(j.Status), j.Source, j.Description,
		j.Attempts, j.MaxAttempts, j.Coalesced, merged, toNanos(j.EnqueuedAt), toNanos(j.NotBefore),
		nullTime(j.StartedAt), nullTime(j.FinishedAt), j.Error, j.ErrorKind, result)
	return err
}

func (s *SQLStore) ListJobs(ctx context.Context, leagueID string, limit int) (out []model.Job, err error) {
	defer observe("list_jobs", time.Now(), &err)
	q := `SELECT ` + jobColumns + ` FROM jobs`
	var args []any
	if leagueID != "" {
		args = append(args, leagueID)
		q += ` WHERE league_id = $1`
	}
	q += ` ORDER BY enqueued_at DESC, id DESC`
	if limit > 0 {
		args = append(args, limit)
		q += ` LIMIT $` + strconv.Itoa(len(args))
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			j                            model.Job
			kind, status, merged, result string
			priority                     int
			enqueued, notBefore          int64
			started, finished            sql.NullInt64
		)
		if err := rows.Scan(&j.ID, &kind, &j.LeagueID, &j.SeasonID, &priority, &status, &j.Source,
			&j.Description, &j.Attempts, &j.MaxAttempts, &j.Coalesced, &merged, &enqueued, &notBefore,
			&started, &finished, &j.Error, &j.ErrorKind, &result); err != nil {
			return nil, err
		}
		j.Kind = model.JobKind(kind)
		j.Status = model.JobStatus(status)
		j.Priority = model.Priority(priority)
		j.EnqueuedAt = fromNanos(enqueued)
		j.NotBefore = fromNanos(notBefore)
		j.StartedAt = timePtr(started)
		j.FinishedAt = timePtr(finished)
		if err := json.UnmarshalFromString(merged, &j.Merged); err != nil {
			return nil, fmt.Errorf("decode merged ids of job %s: %w: %w", j.ID, ErrCorrupt, err)
		}
		if len(j.Merged) == 0 {
			j.Merged = nil
		}
		if result != "" {
			j.Result = &model.JobResult{}
			if err := json.UnmarshalFromString(result, j.Result); err != nil {
				return nil, fmt.Errorf("decode result of job %s: %w: %w", j.ID, ErrCorrupt, err)
			}
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// Lifecycle.

func (s *SQLStore) Ping(ctx context.Context) (err error) {
	defer observe("ping", time.Now(), &err)
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLStore) deleteByID(ctx context.Context, op, q, id string) error {
	res, err := s.db.ExecContext(ctx, q, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound(op, id)
	}
	return nil
}

// Column helpers. Times are stored as UTC unix nanoseconds; zero time is 0.

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toNanos(*t), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func emptyIfNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
