package ctl

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lithammer/fuzzysearch/fuzzy"
	"gopkg.in/yaml.v3"

	"github.com/okian/standings/internal/domain/model"
)

// similarityThreshold is the minimum Levenshtein similarity accepted for a
// reference that is not a substring-style match of any name.
const similarityThreshold = 0.6

// Fixture is the YAML seed format: one league/season with its teams,
// players and matches. Matches and goals refer to teams and players by id or
// by (approximate) name.
type Fixture struct {
	League  model.League `yaml:"league"`
	Season  model.Season `yaml:"season"`
	Teams   []model.Team `yaml:"teams"`
	Players []PlayerSpec `yaml:"players"`
	Matches []MatchSpec  `yaml:"matches"`
}

// PlayerSpec is a roster entry; Team is a team reference.
type PlayerSpec struct {
	ID     string `yaml:"id"`
	Team   string `yaml:"team"`
	Name   string `yaml:"name"`
	Number int    `yaml:"number"`
}

// MatchSpec is a fixture match. Score is "H-A"; a match with a score and no
// status is finished, one without either is scheduled.
type MatchSpec struct {
	ID          string     `yaml:"id"`
	Home        string     `yaml:"home"`
	Away        string     `yaml:"away"`
	ScheduledAt string     `yaml:"scheduled_at"`
	Status      string     `yaml:"status"`
	Score       string     `yaml:"score"`
	Goals       []GoalSpec `yaml:"goals"`
}

// GoalSpec is a goal; Player is a player reference.
type GoalSpec struct {
	Minute  int    `yaml:"minute"`
	Player  string `yaml:"player"`
	OwnGoal bool   `yaml:"own_goal"`
	Penalty bool   `yaml:"penalty"`
}

// Dataset is a resolved fixture ready to be written to a store.
type Dataset struct {
	Key     model.Key
	League  model.League
	Season  model.Season
	Teams   []model.Team
	Players []model.Player
	Matches []model.Match
}

// LoadFixture decodes a YAML fixture.
func LoadFixture(r io.Reader) (*Fixture, error) {
	var f Fixture
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFixture, err)
	}
	return &f, nil
}

// Resolve turns references into ids and builds the entities.
func (f *Fixture) Resolve() (*Dataset, error) {
	if f.League.ID == "" || f.Season.ID == "" {
		return nil, fmt.Errorf("%w: league.id and season.id are required", ErrInvalidFixture)
	}
	if len(f.Teams) < 2 {
		return nil, fmt.Errorf("%w: at least two teams are required", ErrInvalidFixture)
	}
	key := model.NewKey(f.League.ID, f.Season.ID)
	ds := &Dataset{Key: key, League: f.League, Season: f.Season}
	if ds.League.Name == "" {
		ds.League.Name = ds.League.ID
	}
	if ds.Season.Name == "" {
		ds.Season.Name = ds.Season.ID
	}

	seen := map[string]bool{}
	for _, t := range f.Teams {
		if t.ID == "" {
			t.ID = slug(t.Name)
		}
		if t.ID == "" {
			return nil, fmt.Errorf("%w: team without id or name", ErrInvalidFixture)
		}
		if seen[t.ID] {
			return nil, fmt.Errorf("%w: duplicate team %s", ErrInvalidFixture, t.ID)
		}
		seen[t.ID] = true
		if t.Name == "" {
			t.Name = t.ID
		}
		t.LeagueID, t.SeasonID = key.LeagueID, key.SeasonID
		ds.Teams = append(ds.Teams, t)
	}
	teams := teamCandidates(ds.Teams)

	for _, p := range f.Players {
		i, err := resolve(p.Team, teams, ErrUnknownTeam)
		if err != nil {
			return nil, fmt.Errorf("player %q: %w", p.Name, err)
		}
		if p.ID == "" {
			p.ID = ds.Teams[i].ID + "-" + slug(p.Name)
		}
		ds.Players = append(ds.Players, model.Player{ID: p.ID, TeamID: ds.Teams[i].ID, Name: p.Name, Number: p.Number})
	}
	players := playerCandidates(ds.Players)

	for n, ms := range f.Matches {
		m, err := buildMatch(key, ms, ds, teams, players)
		if err != nil {
			return nil, fmt.Errorf("match %d (%s - %s): %w", n+1, ms.Home, ms.Away, err)
		}
		ds.Matches = append(ds.Matches, *m)
	}
	return ds, nil
}

func buildMatch(key model.Key, ms MatchSpec, ds *Dataset, teams, players []candidate) (*model.Match, error) {
	home, err := resolve(ms.Home, teams, ErrUnknownTeam)
	if err != nil {
		return nil, err
	}
	away, err := resolve(ms.Away, teams, ErrUnknownTeam)
	if err != nil {
		return nil, err
	}

	m := &model.Match{
		LeagueID:   key.LeagueID,
		SeasonID:   key.SeasonID,
		HomeTeamID: ds.Teams[home].ID,
		AwayTeamID: ds.Teams[away].ID,
		Status:     model.MatchStatus(strings.ToLower(ms.Status)),
	}
	if ms.ScheduledAt != "" {
		if m.ScheduledAt, err = parseTime(ms.ScheduledAt); err != nil {
			return nil, fmt.Errorf("%w: scheduled_at %q", ErrInvalidFixture, ms.ScheduledAt)
		}
	}
	if ms.Score != "" {
		h, a, err := parseScore(ms.Score)
		if err != nil {
			return nil, err
		}
		m.HomeScore, m.AwayScore = model.Score(h), model.Score(a)
	}
	if m.Status == "" {
		m.Status = model.StatusScheduled
		if m.HasScore() {
			m.Status = model.StatusFinished
		}
	}
	for _, g := range ms.Goals {
		i, err := resolve(g.Player, players, ErrUnknownPlayer)
		if err != nil {
			return nil, err
		}
		m.Goals = append(m.Goals, model.Goal{Minute: g.Minute, PlayerID: ds.Players[i].ID, OwnGoal: g.OwnGoal, Penalty: g.Penalty})
	}

	m.ID = ms.ID
	if m.ID == "" {
		// Stable ids make re-seeding the same fixture an update, not a duplicate.
		name := strings.Join([]string{key.String(), m.HomeTeamID, m.AwayTeamID, m.ScheduledAt.Format(time.RFC3339)}, "|")
		m.ID = uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
	}
	return m, nil
}

// candidate is one resolvable entity: exact aliases and a display name for
// fuzzy matching.
type candidate struct {
	aliases []string
	name    string
}

func teamCandidates(teams []model.Team) []candidate {
	out := make([]candidate, len(teams))
	for i, t := range teams {
		out[i] = candidate{aliases: []string{t.ID, t.Name, t.ShortName}, name: t.Name}
	}
	return out
}

func playerCandidates(players []model.Player) []candidate {
	out := make([]candidate, len(players))
	for i, p := range players {
		out[i] = candidate{aliases: []string{p.ID, p.Name}, name: p.Name}
	}
	return out
}

// resolve finds ref among cs: exact alias first, then a unique fuzzy
// subsequence match, then the closest name by Levenshtein similarity.
func resolve(ref string, cs []candidate, notFound error) (int, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return -1, fmt.Errorf("%w: empty reference", notFound)
	}
	for i, c := range cs {
		for _, a := range c.aliases {
			if a != "" && strings.EqualFold(a, ref) {
				return i, nil
			}
		}
	}

	names := make([]string, len(cs))
	for i, c := range cs {
		names[i] = c.name
	}
	ranks := fuzzy.RankFindNormalizedFold(ref, names)
	switch {
	case len(ranks) == 1:
		return ranks[0].OriginalIndex, nil
	case len(ranks) > 1:
		sort.Sort(ranks)
		targets := make([]string, 0, len(ranks))
		for _, r := range ranks {
			targets = append(targets, r.Target)
		}
		return -1, fmt.Errorf("%w: %q matches %s", ErrAmbiguous, ref, strings.Join(targets, ", "))
	}

	best, bestScore := -1, 0.0
	lref := strings.ToLower(ref)
	for i, n := range names {
		ln := strings.ToLower(n)
		d := fuzzy.LevenshteinDistance(lref, ln)
		score := 1 - float64(d)/float64(max(len(lref), len(ln)))
		if score > similarityThreshold && score > bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 {
		return -1, fmt.Errorf("%w: %q", notFound, ref)
	}
	return best, nil
}

func parseScore(s string) (int, int, error) {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == '-' || r == ':' })
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("%w: %q", ErrBadScore, s)
	}
	h, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	a, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil || h < 0 || a < 0 {
		return 0, 0, fmt.Errorf("%w: %q", ErrBadScore, s)
	}
	return h, a, nil
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	return time.Parse("2006-01-02", s)
}

func slug(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), "-")
}
