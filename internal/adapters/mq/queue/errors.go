package queue

import "errors"

// Sentinel kinds for queue errors.
var (
	ErrClosed     = errors.New("queue closed")
	ErrUnknownJob = errors.New("unknown job")
	ErrInvalidKey = errors.New("league and season are required")
)
