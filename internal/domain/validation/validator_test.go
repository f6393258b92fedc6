package validation_test

import (
	"context"
	"errors"
	"testing"

	"github.com/okian/standings/internal/domain/errs"
	"github.com/okian/standings/internal/domain/model"
	"github.com/okian/standings/internal/domain/validation"
	. "github.com/smartystreets/goconvey/convey"
)

type fakeLookup struct {
	teams   map[string]*model.Team
	players map[string]*model.Player
	err     error
}

func (f *fakeLookup) GetTeam(_ context.Context, id string) (*model.Team, error) {
	if f.err != nil {
		return nil, f.err
	}
	if t, ok := f.teams[id]; ok {
		return t, nil
	}
	return nil, errs.NewKind("get team", errs.ErrNotFound)
}

func (f *fakeLookup) GetPlayer(_ context.Context, id string) (*model.Player, error) {
	if f.err != nil {
		return nil, f.err
	}
	if p, ok := f.players[id]; ok {
		return p, nil
	}
	return nil, errs.NewKind("get player", errs.ErrNotFound)
}

func newLookup() *fakeLookup {
	return &fakeLookup{
		teams: map[string]*model.Team{
			"A": {ID: "A", Name: "Alpha"},
			"B": {ID: "B", Name: "Beta"},
		},
		players: map[string]*model.Player{
			"a1": {ID: "a1", TeamID: "A"},
			"a2": {ID: "a2", TeamID: "A"},
			"b1": {ID: "b1", TeamID: "B"},
			"c1": {ID: "c1", TeamID: "C"},
		},
	}
}

func finished(home, away int) *model.Match {
	return &model.Match{
		ID: "m1", LeagueID: "L", SeasonID: "S",
		HomeTeamID: "A", AwayTeamID: "B",
		Status:    model.StatusFinished,
		HomeScore: model.Score(home), AwayScore: model.Score(away),
	}
}

func TestValidate(t *testing.T) {
	ctx := context.Background()

	Convey("Given a validator with a roster lookup", t, func() {
		v := validation.New(newLookup())

		Convey("A well-formed finished match is valid", func() {
			m := finished(2, 1)
			m.Goals = []model.Goal{{Minute: 10, PlayerID: "a1"}, {Minute: 50, PlayerID: "b1"}, {Minute: 90, PlayerID: "a2"}}
			m.Cards = []model.Card{{Minute: 30, PlayerID: "b1", Type: model.CardYellow}}
			m.Substitutions = []model.Substitution{{Minute: 60, PlayerInID: "a2", PlayerOutID: "a1"}}

			res, err := v.Validate(ctx, nil, m, validation.Options{})
			So(err, ShouldBeNil)
			So(res.Valid, ShouldBeTrue)
		})

		Convey("A team may not play itself", func() {
			m := finished(1, 1)
			m.AwayTeamID = "A"
			res, err := v.Validate(ctx, nil, m, validation.Options{})
			So(err, ShouldBeNil)
			So(res.Valid, ShouldBeFalse)
			So(res.HasCode(validation.CodeSameTeam), ShouldBeTrue)
		})

		Convey("Scores must not be negative", func() {
			res, _ := v.Validate(ctx, nil, finished(-1, 0), validation.Options{})
			So(res.HasCode(validation.CodeNegativeScore), ShouldBeTrue)
		})

		Convey("A finished match needs both scores", func() {
			m := finished(1, 0)
			m.AwayScore = nil
			res, _ := v.Validate(ctx, nil, m, validation.Options{})
			So(res.HasCode(validation.CodeScoreRequired), ShouldBeTrue)
			So(res.Errors[0].Field, ShouldEqual, "away_score")
		})

		Convey("Event minutes must lie in [1,120]", func() {
			m := finished(1, 0)
			m.Goals = []model.Goal{{Minute: 0, PlayerID: "a1"}}
			m.Cards = []model.Card{{Minute: 121, PlayerID: "b1", Type: model.CardRed}}
			res, _ := v.Validate(ctx, nil, m, validation.Options{})
			So(len(res.Errors), ShouldEqual, 2)
			So(res.Errors[0].Code, ShouldEqual, validation.CodeMinuteOutOfRange)
			So(res.Errors[1].Field, ShouldEqual, "cards[0].minute")
		})

		Convey("Players must belong to one of the two teams", func() {
			m := finished(1, 0)
			m.Goals = []model.Goal{{Minute: 5, PlayerID: "c1"}, {Minute: 6, PlayerID: "ghost"}}
			res, _ := v.Validate(ctx, nil, m, validation.Options{})
			So(res.HasCode(validation.CodePlayerNotInMatch), ShouldBeTrue)
			So(res.HasCode(validation.CodeNotFound), ShouldBeTrue)
		})

		Convey("Substitutions swap two different players of one team", func() {
			m := finished(0, 0)
			m.Substitutions = []model.Substitution{
				{Minute: 46, PlayerInID: "a1", PlayerOutID: "a1"},
				{Minute: 70, PlayerInID: "a1", PlayerOutID: "b1"},
			}
			res, _ := v.Validate(ctx, nil, m, validation.Options{})
			So(len(res.Errors), ShouldEqual, 2)
			So(res.Errors[0].Code, ShouldEqual, validation.CodeInvalidSub)
		})

		Convey("Unknown teams are reported as not found", func() {
			m := finished(1, 0)
			m.HomeTeamID = "X"
			res, _ := v.Validate(ctx, nil, m, validation.Options{})
			So(res.HasCode(validation.CodeNotFound), ShouldBeTrue)
			So(res.Errors[0].Field, ShouldEqual, "home_team_id")
		})

		Convey("Status transitions follow the state machine", func() {
			prev := finished(1, 0)
			prev.Status = model.StatusScheduled
			next := finished(1, 0)

			res, _ := v.Validate(ctx, prev, next, validation.Options{})
			So(res.HasCode(validation.CodeInvalidTransition), ShouldBeTrue)
			So(res.Errors[0].Message, ShouldContainSubstring, "scheduled -> finished")
		})

		Convey("A finished match cannot leave finished", func() {
			next := finished(1, 0)
			next.Status = model.StatusLive
			res, _ := v.Validate(ctx, finished(1, 0), next, validation.Options{})
			So(res.HasCode(validation.CodeInvalidTransition), ShouldBeTrue)
		})

		Convey("Score corrections on finished matches need an override", func() {
			res, _ := v.Validate(ctx, finished(1, 0), finished(2, 0), validation.Options{})
			So(res.HasCode(validation.CodeOverrideRequired), ShouldBeTrue)

			res, _ = v.Validate(ctx, finished(1, 0), finished(2, 0), validation.Options{Override: true})
			So(res.Valid, ShouldBeTrue)

			res, _ = v.Validate(ctx, finished(1, 0), finished(-2, 0), validation.Options{Override: true})
			So(res.HasCode(validation.CodeNegativeScore), ShouldBeTrue)
		})

		Convey("A nil match is rejected without error", func() {
			res, err := v.Validate(ctx, nil, nil, validation.Options{})
			So(err, ShouldBeNil)
			So(res.HasCode(validation.CodeRequired), ShouldBeTrue)
		})
	})

	Convey("Given a lookup that is unavailable", t, func() {
		v := validation.New(&fakeLookup{err: errors.New("connection refused")})

		Convey("Validate returns a transient error", func() {
			_, err := v.Validate(ctx, nil, finished(1, 0), validation.Options{})
			So(err, ShouldNotBeNil)
			So(errors.Is(err, errs.ErrTransient), ShouldBeTrue)
		})
	})
}

func TestCanTransition(t *testing.T) {
	Convey("Given the match status state machine", t, func() {
		cases := []struct {
			from, to model.MatchStatus
			ok       bool
		}{
			{model.StatusScheduled, model.StatusLive, true},
			{model.StatusScheduled, model.StatusCancelled, true},
			{model.StatusScheduled, model.StatusPostponed, true},
			{model.StatusScheduled, model.StatusFinished, false},
			{model.StatusLive, model.StatusFinished, true},
			{model.StatusLive, model.StatusScheduled, false},
			{model.StatusFinished, model.StatusLive, false},
			{model.StatusFinished, model.StatusFinished, true},
			{model.StatusCancelled, model.StatusScheduled, true},
			{model.StatusCancelled, model.StatusLive, false},
			{model.StatusPostponed, model.StatusScheduled, true},
			{model.StatusPostponed, model.StatusCancelled, true},
			{model.StatusPostponed, model.StatusLive, false},
		}
		for _, c := range cases {
			So(validation.CanTransition(c.from, c.to), ShouldEqual, c.ok)
		}
		So(validation.Next(model.StatusFinished), ShouldBeEmpty)
	})
}
