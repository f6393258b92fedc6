// Package ranking derives league tables from finished matches.
package ranking

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/okian/standings/internal/domain/model"
)

// Option applies a configuration option to the Calculator.
type Option func(*Calculator)

// WithLanguage sets the BCP 47 tag used to order team names on full ties.
func WithLanguage(tag string) Option {
	return func(c *Calculator) {
		if t, err := language.Parse(tag); err == nil {
			c.lang = t
		}
	}
}

// Calculator is a pure function over teams and matches.
type Calculator struct {
	lang language.Tag
}

// NewCalculator creates a Calculator. Names are collated in German by default.
func NewCalculator(opts ...Option) *Calculator {
	c := &Calculator{lang: language.German}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Result is one computed table plus what was left out.
type Result struct {
	Entries  []model.TableEntry
	Excluded []string
	Warnings []string
}

// Roster maps player IDs to team IDs for event-derived goal checks.
type Roster map[string]string

// Compute aggregates the finished matches of key into an ordered table.
// Every team of key gets a row, played or not. Inconsistent matches are
// excluded and reported; the rest of the table is still computed. The final
// score is authoritative, goal events only produce warnings.
func (c *Calculator) Compute(key model.Key, teams []model.Team, matches []model.Match, roster Roster) Result {
	var res Result

	rows := make(map[string]*model.TableEntry, len(teams))
	for _, t := range teams {
		if t.Key() != key {
			continue
		}
		rows[t.ID] = &model.TableEntry{LeagueID: key.LeagueID, SeasonID: key.SeasonID, TeamID: t.ID, TeamName: t.Name}
	}

	for i := range matches {
		m := &matches[i]
		if !m.Finished() {
			continue
		}
		if reason := inconsistency(key, m, rows); reason != "" {
			res.Excluded = append(res.Excluded, m.ID)
			res.Warnings = append(res.Warnings, fmt.Sprintf("match %s excluded: %s", m.ID, reason))
			continue
		}
		apply(rows[m.HomeTeamID], *m.HomeScore, *m.AwayScore)
		apply(rows[m.AwayTeamID], *m.AwayScore, *m.HomeScore)
		if w := goalCheck(m, roster); w != "" {
			res.Warnings = append(res.Warnings, w)
		}
	}

	res.Entries = make([]model.TableEntry, 0, len(rows))
	for _, r := range rows {
		r.GoalDifference = r.GoalsFor - r.GoalsAgainst
		r.Points = model.PointsWin*r.Won + model.PointsDraw*r.Drawn
		res.Entries = append(res.Entries, *r)
	}
	c.Sort(res.Entries)
	return res
}

func apply(r *model.TableEntry, scored, conceded int) {
	r.Played++
	r.GoalsFor += scored
	r.GoalsAgainst += conceded
	switch {
	case scored > conceded:
		r.Won++
	case scored == conceded:
		r.Drawn++
	default:
		r.Lost++
	}
}

// inconsistency returns why m cannot count towards the table of key.
func inconsistency(key model.Key, m *model.Match, rows map[string]*model.TableEntry) string {
	switch {
	case m.Key() != key:
		return fmt.Sprintf("belongs to %s", m.Key())
	case !m.HasScore():
		return "finished without a final score"
	case *m.HomeScore < 0 || *m.AwayScore < 0:
		return "negative score"
	case m.HomeTeamID == m.AwayTeamID:
		return "team plays itself"
	case rows[m.HomeTeamID] == nil:
		return fmt.Sprintf("home team %s is not part of %s", m.HomeTeamID, key)
	case rows[m.AwayTeamID] == nil:
		return fmt.Sprintf("away team %s is not part of %s", m.AwayTeamID, key)
	}
	return ""
}

// goalCheck attributes goal events to teams and compares them with the final
// score. Matches without goal events are not checked.
func goalCheck(m *model.Match, roster Roster) string {
	if len(m.Goals) == 0 || roster == nil {
		return ""
	}
	var home, away int
	for _, g := range m.Goals {
		team, ok := roster[g.PlayerID]
		if !ok {
			return fmt.Sprintf("match %s: goal by unknown player %s", m.ID, g.PlayerID)
		}
		forHome := team == m.HomeTeamID
		if g.OwnGoal {
			forHome = !forHome
		}
		if forHome {
			home++
		} else {
			away++
		}
	}
	if home != *m.HomeScore || away != *m.AwayScore {
		return fmt.Sprintf("match %s: goal events add up to %d-%d, final score %s is used", m.ID, home, away, m.ScoreLine())
	}
	return ""
}

// Sort orders entries by points, goal difference, goals for and team name,
// and assigns ranks 1..N. Names compare with the configured collation, then
// bytewise, then by team ID so the order is total.
func (c *Calculator) Sort(entries []model.TableEntry) {
	col := collate.New(c.lang)
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := &entries[i], &entries[j]
		if a.Points != b.Points {
			return a.Points > b.Points
		}
		if a.GoalDifference != b.GoalDifference {
			return a.GoalDifference > b.GoalDifference
		}
		if a.GoalsFor != b.GoalsFor {
			return a.GoalsFor > b.GoalsFor
		}
		if n := col.CompareString(a.TeamName, b.TeamName); n != 0 {
			return n < 0
		}
		if n := strings.Compare(a.TeamName, b.TeamName); n != 0 {
			return n < 0
		}
		return a.TeamID < b.TeamID
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
}

// CreateMissingEntries returns entries extended by a zeroed row for every
// team of key that has none yet. Existing rows are kept unchanged.
func CreateMissingEntries(key model.Key, teams []model.Team, entries []model.TableEntry) []model.TableEntry {
	have := make(map[string]bool, len(entries))
	for _, e := range entries {
		have[e.TeamID] = true
	}
	out := append([]model.TableEntry(nil), entries...)
	for _, t := range teams {
		if t.Key() != key || have[t.ID] {
			continue
		}
		have[t.ID] = true
		out = append(out, model.TableEntry{
			LeagueID: key.LeagueID, SeasonID: key.SeasonID,
			TeamID: t.ID, TeamName: t.Name, Rank: len(out) + 1,
		})
	}
	return out
}
