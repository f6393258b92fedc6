package api

import (
	"errors"
	"net/http"

	service "github.com/okian/standings/internal/app"
	"github.com/okian/standings/internal/domain/errs"
	"github.com/okian/standings/internal/domain/types"
	"github.com/okian/standings/pkg/logger"
)

// ErrBadRequest marks malformed requests.
var ErrBadRequest = errors.New("bad request")

func badRequest(msg string) error {
	return errs.WrapKind("api.request", errs.ErrValidation, errors.Join(ErrBadRequest, errors.New(msg)))
}

type errorResponse struct {
	Code    string             `json:"code"`
	Message string             `json:"message"`
	Errors  []types.FieldError `json:"errors,omitempty"`
}

// statusFor maps an error kind to an HTTP status.
func statusFor(err error) (int, string) {
	if errors.Is(err, service.ErrStopped) {
		return http.StatusServiceUnavailable, "stopped"
	}
	switch errs.KindOf(err) {
	case errs.ErrValidation:
		return http.StatusBadRequest, "validation_error"
	case errs.ErrNotFound:
		return http.StatusNotFound, "not_found"
	case errs.ErrConsistency:
		return http.StatusConflict, "consistency_error"
	case errs.ErrConcurrency:
		return http.StatusConflict, "concurrency_error"
	case errs.ErrTransient:
		return http.StatusServiceUnavailable, "transient_error"
	}
	return http.StatusInternalServerError, "internal_error"
}

func writeError(w http.ResponseWriter, r *http.Request, l logger.Logger, err error) {
	status, code := statusFor(err)
	resp := errorResponse{Code: code, Message: err.Error()}
	if vr, ok := service.AsValidation(err); ok {
		resp.Errors = vr.Errors
	}
	if status >= http.StatusInternalServerError {
		l.Error(r.Context(), "request failed",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Error(err),
		)
	}
	writeJSON(w, status, resp)
}
