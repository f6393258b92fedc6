package validation

import (
	"fmt"

	"github.com/okian/standings/internal/domain/model"
)

// transitions lists the statuses reachable from each status. Finished is
// terminal; score corrections on finished matches go through the override path.
var transitions = map[model.MatchStatus][]model.MatchStatus{ //nolint:gochecknoglobals // fixed table
	model.StatusScheduled: {model.StatusLive, model.StatusCancelled, model.StatusPostponed},
	model.StatusLive:      {model.StatusFinished, model.StatusCancelled},
	model.StatusFinished:  {},
	model.StatusCancelled: {model.StatusScheduled},
	model.StatusPostponed: {model.StatusScheduled, model.StatusCancelled},
}

// CanTransition reports whether a match may move from one status to another.
// Staying in the same status is always allowed.
func CanTransition(from, to model.MatchStatus) bool {
	if from == to {
		return from.Valid()
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Next returns the statuses reachable from s.
func Next(s model.MatchStatus) []model.MatchStatus {
	return append([]model.MatchStatus(nil), transitions[s]...)
}

func transitionMessage(from, to model.MatchStatus) string {
	return fmt.Sprintf("status transition %s -> %s is not allowed (allowed: %v)", from, to, transitions[from])
}
