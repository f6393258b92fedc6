// Package validation checks proposed match results before any calculation is
// scheduled.
//
// Expected bad input never produces an error: it is reported through
// types.ValidationResult. An error is returned only when a lookup of a
// referenced entity fails for infrastructure reasons; it carries errs.ErrTransient.
package validation

import (
	"context"
	"errors"
	"fmt"

	"github.com/okian/standings/internal/domain/errs"
	"github.com/okian/standings/internal/domain/model"
	"github.com/okian/standings/internal/domain/types"
	"github.com/okian/standings/pkg/metrics"
)

// Validation error codes.
const (
	CodeRequired          = "required"
	CodeSameTeam          = "same_team"
	CodeNegativeScore     = "negative_score"
	CodeScoreRequired     = "score_required"
	CodeInvalidStatus     = "invalid_status"
	CodeInvalidTransition = "invalid_transition"
	CodeOverrideRequired  = "override_required"
	CodeMinuteOutOfRange  = "minute_out_of_range"
	CodePlayerNotInMatch  = "player_not_in_match"
	CodeInvalidCardType   = "invalid_card_type"
	CodeInvalidSub        = "invalid_substitution"
	CodeNotFound          = "not_found"
)

// Lookup resolves referenced entities. Implementations return an error
// matching errs.ErrNotFound for missing records.
type Lookup interface {
	GetTeam(ctx context.Context, id string) (*model.Team, error)
	GetPlayer(ctx context.Context, id string) (*model.Player, error)
}

// Options tunes a single validation.
type Options struct {
	// Override permits corrections to a finished match. Scores are re-validated.
	Override bool
}

// Validator implements the result validation gate.
type Validator struct {
	lookup Lookup
}

// New creates a Validator. A nil lookup skips existence checks.
func New(lookup Lookup) *Validator {
	return &Validator{lookup: lookup}
}

// Validate checks next against the rules and, when prev is not nil, the
// status state machine and the finished-match override rule.
func (v *Validator) Validate(ctx context.Context, prev, next *model.Match, opts Options) (types.ValidationResult, error) {
	res := types.ValidationResult{Valid: true}
	if next == nil {
		res.Add("match", CodeRequired, "match is required")
		return res, nil
	}

	checkShape(&res, next)
	checkScores(&res, next)
	if prev != nil {
		checkTransition(&res, prev, next, opts)
	}

	players, err := v.checkReferences(ctx, &res, next)
	if err != nil {
		return res, err
	}
	checkEvents(&res, next, players)

	for _, e := range res.Errors {
		metrics.RecordValidationRejection(e.Code)
	}
	return res, nil
}

func checkShape(res *types.ValidationResult, m *model.Match) {
	if m.LeagueID == "" {
		res.Add("league_id", CodeRequired, "league is required")
	}
	if m.SeasonID == "" {
		res.Add("season_id", CodeRequired, "season is required")
	}
	if m.HomeTeamID == "" {
		res.Add("home_team_id", CodeRequired, "home team is required")
	}
	if m.AwayTeamID == "" {
		res.Add("away_team_id", CodeRequired, "away team is required")
	}
	if m.HomeTeamID != "" && m.HomeTeamID == m.AwayTeamID {
		res.Add("away_team_id", CodeSameTeam, "a team cannot play itself")
	}
	if !m.Status.Valid() {
		res.Add("status", CodeInvalidStatus, fmt.Sprintf("unknown status %q", m.Status))
	}
}

func checkScores(res *types.ValidationResult, m *model.Match) {
	if m.HomeScore != nil && *m.HomeScore < 0 {
		res.Add("home_score", CodeNegativeScore, "score must not be negative")
	}
	if m.AwayScore != nil && *m.AwayScore < 0 {
		res.Add("away_score", CodeNegativeScore, "score must not be negative")
	}
	if m.Status == model.StatusFinished {
		if m.HomeScore == nil {
			res.Add("home_score", CodeScoreRequired, "finished match requires both scores")
		}
		if m.AwayScore == nil {
			res.Add("away_score", CodeScoreRequired, "finished match requires both scores")
		}
	}
}

func checkTransition(res *types.ValidationResult, prev, next *model.Match, opts Options) {
	if !prev.Status.Valid() || !next.Status.Valid() {
		return
	}
	if !CanTransition(prev.Status, next.Status) {
		res.Add("status", CodeInvalidTransition, transitionMessage(prev.Status, next.Status))
		return
	}
	if prev.Status != model.StatusFinished || opts.Override {
		return
	}
	if scoreChanged(prev, next) {
		res.Add("home_score", CodeOverrideRequired, "changing the score of a finished match requires an override")
	}
	if prev.HomeTeamID != next.HomeTeamID || prev.AwayTeamID != next.AwayTeamID ||
		prev.LeagueID != next.LeagueID || prev.SeasonID != next.SeasonID {
		res.Add("match", CodeOverrideRequired, "reassigning a finished match requires an override")
	}
}

func scoreChanged(a, b *model.Match) bool {
	return !sameInt(a.HomeScore, b.HomeScore) || !sameInt(a.AwayScore, b.AwayScore)
}

func sameInt(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// checkReferences confirms the teams exist and loads the players named in
// event lists. Missing entities are reported; lookup failures are returned.
func (v *Validator) checkReferences(ctx context.Context, res *types.ValidationResult, m *model.Match) (map[string]*model.Player, error) {
	players := map[string]*model.Player{}
	if v.lookup == nil {
		return players, nil
	}
	for _, ref := range [][2]string{{"home_team_id", m.HomeTeamID}, {"away_team_id", m.AwayTeamID}} {
		field, id := ref[0], ref[1]
		if id == "" {
			continue
		}
		if _, err := v.lookup.GetTeam(ctx, id); err != nil {
			if !errors.Is(err, errs.ErrNotFound) {
				return nil, errs.Transient("validation.team", err)
			}
			res.Add(field, CodeNotFound, fmt.Sprintf("team %s does not exist", id))
		}
	}
	for _, id := range referencedPlayers(m) {
		if _, ok := players[id]; ok {
			continue
		}
		p, err := v.lookup.GetPlayer(ctx, id)
		switch {
		case err == nil:
			players[id] = p
		case errors.Is(err, errs.ErrNotFound):
			players[id] = nil
		default:
			return nil, errs.Transient("validation.player", err)
		}
	}
	return players, nil
}

func referencedPlayers(m *model.Match) []string {
	var ids []string
	for _, g := range m.Goals {
		ids = append(ids, g.PlayerID)
	}
	for _, c := range m.Cards {
		ids = append(ids, c.PlayerID)
	}
	for _, s := range m.Substitutions {
		ids = append(ids, s.PlayerInID, s.PlayerOutID)
	}
	out := ids[:0]
	for _, id := range ids {
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}

func checkEvents(res *types.ValidationResult, m *model.Match, players map[string]*model.Player) {
	for i, g := range m.Goals {
		field := fmt.Sprintf("goals[%d]", i)
		checkMinute(res, field, g.Minute)
		checkPlayer(res, field+".player_id", g.PlayerID, m, players)
	}
	for i, c := range m.Cards {
		field := fmt.Sprintf("cards[%d]", i)
		checkMinute(res, field, c.Minute)
		checkPlayer(res, field+".player_id", c.PlayerID, m, players)
		if !c.Type.Valid() {
			res.Add(field+".type", CodeInvalidCardType, fmt.Sprintf("unknown card type %q", c.Type))
		}
	}
	for i, s := range m.Substitutions {
		field := fmt.Sprintf("substitutions[%d]", i)
		checkMinute(res, field, s.Minute)
		checkPlayer(res, field+".player_in_id", s.PlayerInID, m, players)
		checkPlayer(res, field+".player_out_id", s.PlayerOutID, m, players)
		if s.PlayerInID != "" && s.PlayerInID == s.PlayerOutID {
			res.Add(field, CodeInvalidSub, "player in and player out must differ")
			continue
		}
		in, out := players[s.PlayerInID], players[s.PlayerOutID]
		if in != nil && out != nil && in.TeamID != out.TeamID {
			res.Add(field, CodeInvalidSub, "substituted players must belong to the same team")
		}
	}
}

func checkMinute(res *types.ValidationResult, field string, minute int) {
	if minute < model.MinEventMinute || minute > model.MaxEventMinute {
		res.Add(field+".minute", CodeMinuteOutOfRange,
			fmt.Sprintf("minute %d outside [%d,%d]", minute, model.MinEventMinute, model.MaxEventMinute))
	}
}

func checkPlayer(res *types.ValidationResult, field, id string, m *model.Match, players map[string]*model.Player) {
	if id == "" {
		res.Add(field, CodeRequired, "player is required")
		return
	}
	p, known := players[id]
	if !known {
		// no lookup configured
		return
	}
	if p == nil {
		res.Add(field, CodeNotFound, fmt.Sprintf("player %s does not exist", id))
		return
	}
	if p.TeamID != m.HomeTeamID && p.TeamID != m.AwayTeamID {
		res.Add(field, CodePlayerNotInMatch, fmt.Sprintf("player %s plays for neither team", id))
	}
}
