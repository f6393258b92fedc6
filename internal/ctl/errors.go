package ctl

import "errors"

var (
	// ErrInvalidFixture is returned for fixtures missing required parts.
	ErrInvalidFixture = errors.New("invalid fixture")
	// ErrUnknownTeam is returned when a team reference matches nothing.
	ErrUnknownTeam = errors.New("unknown team")
	// ErrAmbiguous is returned when a reference matches several names.
	ErrAmbiguous = errors.New("ambiguous reference")
	// ErrUnknownPlayer is returned when a player reference matches nothing.
	ErrUnknownPlayer = errors.New("unknown player")
	// ErrBadScore is returned for score strings other than "H-A".
	ErrBadScore = errors.New("bad score")
	// ErrMismatch is returned by verification when stored and recomputed data differ.
	ErrMismatch = errors.New("verification failed")
)
