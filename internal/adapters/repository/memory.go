package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/okian/standings/internal/domain/errs"
	"github.com/okian/standings/internal/domain/model"
)

// MemoryStore keeps every entity in maps guarded by one RWMutex. Values are
// copied on the way in and out so callers never share state with the store.
type MemoryStore struct {
	mu        sync.RWMutex
	leagues   map[string]model.League
	seasons   map[string]model.Season
	teams     map[string]model.Team
	players   map[string]model.Player
	matches   map[string]*model.Match
	tables    map[model.Key][]model.TableEntry
	snapshots map[string]*model.Snapshot
	jobs      map[string]model.Job
	closed    bool
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		leagues:   make(map[string]model.League),
		seasons:   make(map[string]model.Season),
		teams:     make(map[string]model.Team),
		players:   make(map[string]model.Player),
		matches:   make(map[string]*model.Match),
		tables:    make(map[model.Key][]model.TableEntry),
		snapshots: make(map[string]*model.Snapshot),
		jobs:      make(map[string]model.Job),
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) SaveLeague(ctx context.Context, l *model.League) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leagues[l.ID] = *l
	return nil
}

func (s *MemoryStore) ListLeagues(ctx context.Context) ([]model.League, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.League, 0, len(s.leagues))
	for _, l := range s.leagues {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) SaveSeason(ctx context.Context, season *model.Season) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seasons[season.ID] = *season
	return nil
}

func (s *MemoryStore) ListSeasons(ctx context.Context) ([]model.Season, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Season, 0, len(s.seasons))
	for _, season := range s.seasons {
		out = append(out, season)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) SaveTeam(ctx context.Context, t *model.Team) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teams[t.ID] = *t
	return nil
}

func (s *MemoryStore) GetTeam(ctx context.Context, id string) (*model.Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.teams[id]
	if !ok {
		return nil, notFound("get team", id)
	}
	return &t, nil
}

func (s *MemoryStore) ListTeams(ctx context.Context, key model.Key) ([]model.Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Team
	for _, t := range s.teams {
		if t.Key() == key {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) SavePlayer(ctx context.Context, p *model.Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.players[p.ID] = *p
	return nil
}

func (s *MemoryStore) GetPlayer(ctx context.Context, id string) (*model.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.players[id]
	if !ok {
		return nil, notFound("get player", id)
	}
	return &p, nil
}

func (s *MemoryStore) ListPlayers(ctx context.Context, teamID string) ([]model.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Player
	for _, p := range s.players {
		if p.TeamID == teamID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) SaveMatch(ctx context.Context, m *model.Match) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.matches[m.ID] = m.Clone()
	return nil
}

func (s *MemoryStore) GetMatch(ctx context.Context, id string) (*model.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.matches[id]
	if !ok {
		return nil, notFound("get match", id)
	}
	return m.Clone(), nil
}

func (s *MemoryStore) ListMatches(ctx context.Context, f model.MatchFilter) ([]model.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Match
	for _, m := range s.matches {
		if f.Matches(m) {
			out = append(out, *m.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) DeleteMatch(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.matches[id]; !ok {
		return notFound("delete match", id)
	}
	delete(s.matches, id)
	return nil
}

func (s *MemoryStore) Table(ctx context.Context, key model.Key) ([]model.TableEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.TableEntry(nil), s.tables[key]...), nil
}

func (s *MemoryStore) ReplaceTable(ctx context.Context, key model.Key, entries []model.TableEntry) error {
	if err := checkEntries(key, entries); err != nil {
		return err
	}
	rows := append([]model.TableEntry(nil), entries...)
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Rank < rows[j].Rank })

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(rows) == 0 {
		delete(s.tables, key)
		return nil
	}
	s.tables[key] = rows
	return nil
}

func (s *MemoryStore) SaveSnapshot(ctx context.Context, snap *model.Snapshot) error {
	c := *snap
	c.Entries = append([]model.TableEntry(nil), snap.Entries...)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[c.ID] = &c
	return nil
}

func (s *MemoryStore) GetSnapshot(ctx context.Context, id string) (*model.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[id]
	if !ok {
		return nil, notFound("get snapshot", id)
	}
	c := *snap
	c.Entries = append([]model.TableEntry(nil), snap.Entries...)
	return &c, nil
}

func (s *MemoryStore) ListSnapshots(ctx context.Context, key model.Key) ([]model.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Snapshot
	for _, snap := range s.snapshots {
		if key != (model.Key{}) && snap.Key() != key {
			continue
		}
		c := *snap
		c.Entries = append([]model.TableEntry(nil), snap.Entries...)
		out = append(out, c)
	}
	sortSnapshots(out)
	return out, nil
}

func (s *MemoryStore) DeleteSnapshot(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.snapshots[id]; !ok {
		return notFound("delete snapshot", id)
	}
	delete(s.snapshots, id)
	return nil
}

func (s *MemoryStore) SaveJob(ctx context.Context, j *model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[j.ID] = j.Clone()
	return nil
}

func (s *MemoryStore) ListJobs(ctx context.Context, leagueID string, limit int) ([]model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Job
	for _, j := range s.jobs {
		if leagueID == "" || j.LeagueID == leagueID {
			out = append(out, j.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EnqueuedAt.Equal(out[j].EnqueuedAt) {
			return out[i].EnqueuedAt.After(out[j].EnqueuedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errs.Transient("ping", fmt.Errorf("store closed"))
	}
	return ctx.Err()
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// checkEntries rejects rows that belong to another league/season.
func checkEntries(key model.Key, entries []model.TableEntry) error {
	for i := range entries {
		if entries[i].Key() != key {
			return errs.WrapKind("replace table", errs.ErrConsistency,
				fmt.Errorf("%w: team %s is %s, want %s", ErrKeyMismatch, entries[i].TeamID, entries[i].Key(), key))
		}
	}
	return nil
}

func sortSnapshots(out []model.Snapshot) {
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
}
