package repository

import "time"

const (
	defaultBusyTimeout  = 5 * time.Second
	defaultMaxOpenConns = 10
)

type sqlOptions struct {
	busyTimeout  time.Duration
	maxOpenConns int
}

// Option applies a configuration option to a SQL store.
type Option func(*sqlOptions)

// WithBusyTimeout sets how long SQLite waits on a locked database.
func WithBusyTimeout(d time.Duration) Option {
	return func(o *sqlOptions) {
		if d > 0 {
			o.busyTimeout = d
		}
	}
}

// WithMaxOpenConns caps the PostgreSQL connection pool. SQLite always uses
// a single connection.
func WithMaxOpenConns(n int) Option {
	return func(o *sqlOptions) {
		if n > 0 {
			o.maxOpenConns = n
		}
	}
}
