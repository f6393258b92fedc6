package types_test

import (
	"testing"

	types "github.com/okian/standings/internal/domain/types"
	. "github.com/smartystreets/goconvey/convey"
)

func TestValidationResult(t *testing.T) {
	Convey("Given a fresh validation result", t, func() {
		res := types.ValidationResult{Valid: true}

		Convey("When no rule is violated", func() {
			Convey("Then it stays valid", func() {
				So(res.Valid, ShouldBeTrue)
				So(res.Errors, ShouldBeEmpty)
				So(res.HasCode("same_team"), ShouldBeFalse)
			})
		})

		Convey("When violations are added", func() {
			res.Add("away_team_id", "same_team", "a team cannot play itself")
			res.Add("home_score", "negative_score", "score must not be negative")

			Convey("Then it becomes invalid and keeps every error in order", func() {
				So(res.Valid, ShouldBeFalse)
				So(len(res.Errors), ShouldEqual, 2)
				So(res.Errors[0].Field, ShouldEqual, "away_team_id")
				So(res.Errors[1].Code, ShouldEqual, "negative_score")
				So(res.HasCode("same_team"), ShouldBeTrue)
			})
		})
	})
}
