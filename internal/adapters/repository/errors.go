package repository

import (
	"errors"

	"github.com/okian/standings/internal/domain/errs"
)

// Sentinel kinds for store errors.
var (
	// ErrNotFound is the domain-wide not found kind so callers can match
	// either this or errs.ErrNotFound.
	ErrNotFound      = errs.ErrNotFound
	ErrUnknownDriver = errors.New("unknown database driver")
	ErrKeyMismatch   = errors.New("entry does not belong to key")

	// ErrCorrupt marks a record that cannot be encoded or decoded. Retrying
	// does not help.
	ErrCorrupt = errors.New("corrupt record")
)

func notFound(op, id string) error {
	return errs.WrapKind(op, ErrNotFound, errors.New(id))
}
