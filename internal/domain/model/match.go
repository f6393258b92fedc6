// Package model contains domain models passed between layers.
package model

import (
	"fmt"
	"time"
)

// MatchStatus is the lifecycle state of a match.
type MatchStatus string

// Match statuses.
const (
	StatusScheduled MatchStatus = "scheduled"
	StatusLive      MatchStatus = "live"
	StatusFinished  MatchStatus = "finished"
	StatusCancelled MatchStatus = "cancelled"
	StatusPostponed MatchStatus = "postponed"
)

// Valid reports whether s is a known status.
func (s MatchStatus) Valid() bool {
	switch s {
	case StatusScheduled, StatusLive, StatusFinished, StatusCancelled, StatusPostponed:
		return true
	}
	return false
}

// Key identifies one competition instance: a league in a season.
// All recalculation work is scoped and serialized per Key.
type Key struct {
	LeagueID string `json:"league_id" yaml:"league_id"`
	SeasonID string `json:"season_id" yaml:"season_id"`
}

// NewKey builds a Key.
func NewKey(leagueID, seasonID string) Key {
	return Key{LeagueID: leagueID, SeasonID: seasonID}
}

func (k Key) String() string { return k.LeagueID + "/" + k.SeasonID }

// Valid reports whether both components are set.
func (k Key) Valid() bool { return k.LeagueID != "" && k.SeasonID != "" }

// Match is a fixture between two teams of one league/season.
type Match struct {
	ID            string         `json:"id"`
	LeagueID      string         `json:"league_id"`
	SeasonID      string         `json:"season_id"`
	HomeTeamID    string         `json:"home_team_id"`
	AwayTeamID    string         `json:"away_team_id"`
	ScheduledAt   time.Time      `json:"scheduled_at"`
	Status        MatchStatus    `json:"status"`
	HomeScore     *int           `json:"home_score,omitempty"`
	AwayScore     *int           `json:"away_score,omitempty"`
	Goals         []Goal         `json:"goals,omitempty"`
	Cards         []Card         `json:"cards,omitempty"`
	Substitutions []Substitution `json:"substitutions,omitempty"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Key returns the league/season the match belongs to.
func (m *Match) Key() Key { return Key{LeagueID: m.LeagueID, SeasonID: m.SeasonID} }

// HasScore reports whether both final scores are present.
func (m *Match) HasScore() bool { return m.HomeScore != nil && m.AwayScore != nil }

// Finished reports whether the match counts towards standings.
func (m *Match) Finished() bool { return m != nil && m.Status == StatusFinished }

// ScoreLine renders the result for logs, e.g. "2-1" or "-:-".
func (m *Match) ScoreLine() string {
	if !m.HasScore() {
		return "-:-"
	}
	return fmt.Sprintf("%d-%d", *m.HomeScore, *m.AwayScore)
}

// Clone returns a deep copy so callers can mutate freely.
func (m *Match) Clone() *Match {
	if m == nil {
		return nil
	}
	c := *m
	c.HomeScore = cloneInt(m.HomeScore)
	c.AwayScore = cloneInt(m.AwayScore)
	c.Goals = append([]Goal(nil), m.Goals...)
	c.Cards = append([]Card(nil), m.Cards...)
	c.Substitutions = append([]Substitution(nil), m.Substitutions...)
	return &c
}

// Score returns a pointer to v, for building matches in code.
func Score(v int) *int { return &v }

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Team is a club taking part in one league/season.
type Team struct {
	ID        string `json:"id" yaml:"id"`
	Name      string `json:"name" yaml:"name"`
	ShortName string `json:"short_name,omitempty" yaml:"short_name,omitempty"`
	LeagueID  string `json:"league_id" yaml:"league_id"`
	SeasonID  string `json:"season_id" yaml:"season_id"`
}

// Key returns the league/season the team currently plays in.
func (t *Team) Key() Key { return Key{LeagueID: t.LeagueID, SeasonID: t.SeasonID} }

// Player belongs to exactly one team's roster.
type Player struct {
	ID     string `json:"id" yaml:"id"`
	TeamID string `json:"team_id" yaml:"team_id"`
	Name   string `json:"name" yaml:"name"`
	Number int    `json:"number,omitempty" yaml:"number,omitempty"`
}

// League groups teams into one competition.
type League struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// Season is a time-bounded edition of all leagues.
type Season struct {
	ID     string `json:"id" yaml:"id"`
	Name   string `json:"name" yaml:"name"`
	Active bool   `json:"active" yaml:"active"`
}

// MatchFilter narrows a match listing. Zero fields match everything.
type MatchFilter struct {
	LeagueID string
	SeasonID string
	Status   MatchStatus
	TeamID   string
}

// ForKey returns a filter for the matches of one league/season.
func ForKey(k Key) MatchFilter {
	return MatchFilter{LeagueID: k.LeagueID, SeasonID: k.SeasonID}
}

// Matches reports whether m satisfies the filter.
func (f MatchFilter) Matches(m *Match) bool {
	switch {
	case f.LeagueID != "" && m.LeagueID != f.LeagueID:
		return false
	case f.SeasonID != "" && m.SeasonID != f.SeasonID:
		return false
	case f.Status != "" && m.Status != f.Status:
		return false
	case f.TeamID != "" && m.HomeTeamID != f.TeamID && m.AwayTeamID != f.TeamID:
		return false
	}
	return true
}
