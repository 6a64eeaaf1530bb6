package httpx

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/grc-saas/grc/internal/shared"
)

// RespondError maps domain errors to HTTP responses.
func RespondError(w http.ResponseWriter, err error) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		JSON(w, http.StatusBadRequest, Envelope{Success: false, Error: "Validation failed", Details: verr.Fields})
	case errors.Is(err, shared.ErrValidation):
		Fail(w, http.StatusBadRequest, clientMessage(err, shared.ErrValidation))
	case errors.Is(err, shared.ErrInvalidCredentials):
		Fail(w, http.StatusUnauthorized, "Invalid credentials")
	case errors.Is(err, shared.ErrUnauthenticated):
		Fail(w, http.StatusUnauthorized, "Authentication required")
	case errors.Is(err, shared.ErrForbidden):
		Fail(w, http.StatusForbidden, "Insufficient permissions")
	case errors.Is(err, shared.ErrNotFound):
		Fail(w, http.StatusNotFound, "Resource not found")
	case errors.Is(err, shared.ErrConflict):
		Fail(w, http.StatusConflict, clientMessage(err, shared.ErrConflict))
	default:
		slog.Default().Error("unhandled request error", slog.Any("error", err))
		Fail(w, http.StatusInternalServerError, "Internal server error")
	}
}

// clientMessage strips the sentinel prefix from wrapped errors so the
// detail added by the service reaches the client.
func clientMessage(err, sentinel error) string {
	msg := err.Error()
	if msg == sentinel.Error() {
		return capitalize(msg)
	}
	if i := strings.Index(msg, sentinel.Error()+": "); i >= 0 {
		return capitalize(msg[i+len(sentinel.Error())+2:])
	}
	return capitalize(msg)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
