package httpx

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/billiard-pos/billiard-pos/internal/shared"
)

// ErrBadRequest marks malformed requests detected by the transport layer.
var ErrBadRequest = fmt.Errorf("%w: malformed request", shared.ErrValidation)

// ErrorBody is the wire shape of every error response.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type coder interface {
	ErrorCode() string
}

type detailer interface {
	ErrorDetails() map[string]any
}

// StatusFor maps an error onto its HTTP status code.
func StatusFor(err error) int {
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		return http.StatusBadRequest
	case errors.Is(err, shared.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, shared.ErrValidation), errors.Is(err, shared.ErrBusinessRule):
		return http.StatusBadRequest
	case errors.Is(err, shared.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, shared.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// RespondError maps domain errors to the JSON error body. Unclassified errors
// are reported as an opaque internal error.
func RespondError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	body := ErrorBody{Error: codeFor(err, status), Message: err.Error()}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		body = ErrorBody{Error: "validation_failed", Message: "request validation failed", Details: fieldErrors(verrs)}
	}
	var d detailer
	if errors.As(err, &d) {
		body.Details = d.ErrorDetails()
	}
	switch status {
	case http.StatusInternalServerError:
		body = ErrorBody{Error: "internal", Message: "internal server error"}
	case http.StatusServiceUnavailable:
		w.Header().Set("Retry-After", "1")
	}
	JSON(w, status, body)
}

func codeFor(err error, status int) string {
	var c coder
	if errors.As(err, &c) {
		return c.ErrorCode()
	}
	switch status {
	case http.StatusNotFound:
		return "not_found"
	case http.StatusBadRequest:
		return "validation_failed"
	case http.StatusConflict:
		return "conflict"
	case http.StatusServiceUnavailable:
		return "unavailable"
	default:
		return "internal"
	}
}

func fieldErrors(verrs validator.ValidationErrors) map[string]string {
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if idx := strings.Index(field, "."); idx >= 0 {
			field = field[idx+1:]
		}
		if fe.Param() != "" {
			out[field] = fe.Tag() + "=" + fe.Param()
		} else {
			out[field] = fe.Tag()
		}
	}
	return out
}

// Fail writes err and logs it when the failure is not the client's fault.
func Fail(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	if status := StatusFor(err); status >= http.StatusInternalServerError && logger != nil {
		logger.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.Any("error", err),
		)
	}
	RespondError(w, err)
}
