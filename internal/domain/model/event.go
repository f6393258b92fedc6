package model

// Structured in-game events attached to a match. Each variant carries its
// required fields explicitly so the validator can check them precisely.

// Minute bounds for in-game events (regular time plus extra time).
const (
	MinEventMinute = 1
	MaxEventMinute = 120
)

// CardType distinguishes disciplinary cards.
type CardType string

// Card types.
const (
	CardYellow       CardType = "yellow"
	CardSecondYellow CardType = "second_yellow"
	CardRed          CardType = "red"
)

// Valid reports whether c is a known card type.
func (c CardType) Valid() bool {
	switch c {
	case CardYellow, CardSecondYellow, CardRed:
		return true
	}
	return false
}

// Goal is a goal scored by PlayerID. An own goal counts for the opponent
// of the player's team.
type Goal struct {
	Minute   int    `json:"minute"`
	PlayerID string `json:"player_id"`
	OwnGoal  bool   `json:"own_goal,omitempty"`
	Penalty  bool   `json:"penalty,omitempty"`
}

// Card is a booking shown to PlayerID.
type Card struct {
	Minute   int      `json:"minute"`
	PlayerID string   `json:"player_id"`
	Type     CardType `json:"type"`
}

// Substitution replaces PlayerOutID with PlayerInID of the same team.
type Substitution struct {
	Minute      int    `json:"minute"`
	PlayerInID  string `json:"player_in_id"`
	PlayerOutID string `json:"player_out_id"`
}
