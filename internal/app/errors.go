package service

import (
	"errors"
	"strings"

	"github.com/okian/standings/internal/domain/types"
)

// Sentinel kinds for service errors.
var (
	ErrConfirmRequired = errors.New("restore requires confirm=true")
	ErrStopped         = errors.New("service stopped")
)

// ValidationError carries the rejected fields of a match save. It is always
// wrapped with errs.ErrValidation.
type ValidationError struct {
	Result types.ValidationResult
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Result.Errors))
	for _, fe := range e.Result.Errors {
		parts = append(parts, fe.Field+": "+fe.Message)
	}
	return "invalid match: " + strings.Join(parts, "; ")
}

// AsValidation extracts the validation result from err, if any.
func AsValidation(err error) (types.ValidationResult, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Result, true
	}
	return types.ValidationResult{}, false
}
