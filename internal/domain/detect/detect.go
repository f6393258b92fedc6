// Package detect decides whether a match change affects standings and how
// urgently the affected tables must be recalculated.
package detect

import (
	"github.com/okian/standings/internal/domain/model"
	"github.com/okian/standings/internal/domain/types"
)

// Reasons reported in a Decision.
const (
	ReasonCompleted       = "completed"
	ReasonScoreCorrection = "score_correction"
	ReasonStructural      = "structural_change"
	ReasonDeleted         = "finished_match_deleted"
	ReasonReopened        = "left_finished"
	ReasonManual          = "manual"
)

// Option configures a Detector.
type Option func(*Detector)

// WithManualPriority sets the priority of administrative triggers.
func WithManualPriority(p model.Priority) Option {
	return func(d *Detector) {
		if p > 0 {
			d.manual = p
		}
	}
}

// Detector is stateless apart from its priority table.
type Detector struct {
	manual model.Priority
}

// New creates a Detector. Manual triggers default to high priority.
func New(opts ...Option) *Detector {
	d := &Detector{manual: model.PriorityHigh}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ManualPriority is the priority used for manual triggers without an explicit one.
func (d *Detector) ManualPriority() model.Priority { return d.manual }

// Manual builds the decision of an administrative trigger. A zero priority
// selects the configured default.
func (d *Detector) Manual(key model.Key, p model.Priority) types.Decision {
	if p <= 0 {
		p = d.manual
	}
	return types.Decision{Recalculate: true, Priority: p, Keys: []model.Key{key}, Reasons: []string{ReasonManual}}
}

// Detect compares two representations of a match. prev is nil on creation,
// next is nil on deletion.
func (d *Detector) Detect(prev, next *model.Match) types.Decision {
	dec := &decision{Decision: types.Decision{Changed: ChangedFields(prev, next)}}

	switch {
	case prev == nil && next == nil:
		return dec.Decision
	case prev == nil:
		if next.Finished() {
			dec.raise(model.PriorityNormal, ReasonCompleted, next.Key())
		}
	case next == nil:
		if prev.Finished() {
			dec.raise(model.PriorityHigh, ReasonDeleted, prev.Key())
		}
	default:
		d.detectUpdate(dec, prev, next)
	}
	return dec.Decision
}

func (d *Detector) detectUpdate(dec *decision, prev, next *model.Match) {
	if structural(prev, next) {
		dec.raise(model.PriorityHigh, ReasonStructural, prev.Key(), next.Key())
	}
	switch {
	case !prev.Finished() && next.Finished():
		dec.raise(model.PriorityNormal, ReasonCompleted, next.Key())
	case prev.Finished() && !next.Finished():
		dec.raise(model.PriorityHigh, ReasonReopened, prev.Key())
	case prev.Finished() && next.Finished() && scoreChanged(prev, next):
		dec.raise(model.PriorityHigh, ReasonScoreCorrection, next.Key())
	}
}

// decision accumulates triggers, keeping the highest priority and each key once.
type decision struct {
	types.Decision
}

func (d *decision) raise(p model.Priority, reason string, keys ...model.Key) {
	d.Recalculate = true
	if p > d.Priority {
		d.Priority = p
	}
	d.Reasons = append(d.Reasons, reason)
	for _, k := range keys {
		if !containsKey(d.Keys, k) {
			d.Keys = append(d.Keys, k)
		}
	}
}

func containsKey(keys []model.Key, k model.Key) bool {
	for _, x := range keys {
		if x == k {
			return true
		}
	}
	return false
}

func structural(a, b *model.Match) bool {
	return a.HomeTeamID != b.HomeTeamID || a.AwayTeamID != b.AwayTeamID ||
		a.LeagueID != b.LeagueID || a.SeasonID != b.SeasonID
}

func scoreChanged(a, b *model.Match) bool {
	return !equalScore(a.HomeScore, b.HomeScore) || !equalScore(a.AwayScore, b.AwayScore)
}

func equalScore(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// ChangedFields lists the fields that differ between prev and next. Creation
// and deletion report every populated field of the existing side.
func ChangedFields(prev, next *model.Match) []string {
	if prev == nil && next == nil {
		return nil
	}
	if prev == nil {
		prev = &model.Match{}
	}
	if next == nil {
		next = &model.Match{}
	}
	var out []string
	add := func(name string, changed bool) {
		if changed {
			out = append(out, name)
		}
	}
	add("league_id", prev.LeagueID != next.LeagueID)
	add("season_id", prev.SeasonID != next.SeasonID)
	add("home_team_id", prev.HomeTeamID != next.HomeTeamID)
	add("away_team_id", prev.AwayTeamID != next.AwayTeamID)
	add("scheduled_at", !prev.ScheduledAt.Equal(next.ScheduledAt))
	add("status", prev.Status != next.Status)
	add("home_score", !equalScore(prev.HomeScore, next.HomeScore))
	add("away_score", !equalScore(prev.AwayScore, next.AwayScore))
	add("goals", !equalSlices(prev.Goals, next.Goals))
	add("cards", !equalSlices(prev.Cards, next.Cards))
	add("substitutions", !equalSlices(prev.Substitutions, next.Substitutions))
	return out
}

func equalSlices[T comparable](a, b []T) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
