package model

import (
	"fmt"
	"time"
)

// Points awarded per result.
const (
	PointsWin  = 3
	PointsDraw = 1
)

// TableEntry is one team's aggregated standing row within a league/season.
// Only the ranking calculator writes these fields.
type TableEntry struct {
	LeagueID       string `json:"league_id"`
	SeasonID       string `json:"season_id"`
	TeamID         string `json:"team_id"`
	TeamName       string `json:"team_name"`
	Rank           int    `json:"rank"`
	Played         int    `json:"played"`
	Won            int    `json:"won"`
	Drawn          int    `json:"drawn"`
	Lost           int    `json:"lost"`
	GoalsFor       int    `json:"goals_for"`
	GoalsAgainst   int    `json:"goals_against"`
	GoalDifference int    `json:"goal_difference"`
	Points         int    `json:"points"`
}

// Key returns the league/season of the row.
func (e *TableEntry) Key() Key { return Key{LeagueID: e.LeagueID, SeasonID: e.SeasonID} }

// CheckInvariants verifies the arithmetic relations every row must satisfy.
func (e *TableEntry) CheckInvariants() error {
	switch {
	case e.TeamID == "":
		return fmt.Errorf("entry without team id")
	case e.Played < 0 || e.Won < 0 || e.Drawn < 0 || e.Lost < 0 || e.GoalsFor < 0 || e.GoalsAgainst < 0:
		return fmt.Errorf("team %s: negative count", e.TeamID)
	case e.Played != e.Won+e.Drawn+e.Lost:
		return fmt.Errorf("team %s: played %d != won+drawn+lost %d", e.TeamID, e.Played, e.Won+e.Drawn+e.Lost)
	case e.GoalDifference != e.GoalsFor-e.GoalsAgainst:
		return fmt.Errorf("team %s: goal difference %d != %d", e.TeamID, e.GoalDifference, e.GoalsFor-e.GoalsAgainst)
	case e.Points != PointsWin*e.Won+PointsDraw*e.Drawn:
		return fmt.Errorf("team %s: points %d != %d", e.TeamID, e.Points, PointsWin*e.Won+PointsDraw*e.Drawn)
	}
	return nil
}

// Snapshot is an immutable copy of a league/season's table at a point in time.
type Snapshot struct {
	ID          string       `json:"id"`
	LeagueID    string       `json:"league_id"`
	SeasonID    string       `json:"season_id"`
	Description string       `json:"description"`
	CreatedBy   string       `json:"created_by"`
	CreatedAt   time.Time    `json:"created_at"`
	Checksum    uint64       `json:"checksum"`
	Entries     []TableEntry `json:"entries"`
}

// Key returns the league/season captured by the snapshot.
func (s *Snapshot) Key() Key { return Key{LeagueID: s.LeagueID, SeasonID: s.SeasonID} }
