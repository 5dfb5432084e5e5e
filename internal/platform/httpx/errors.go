package httpx

import (
	"errors"
	"net/http"

	"github.com/odyssey-erp/p2p/internal/shared"
)

// ErrBadRequest marks a body that could not be decoded.
var ErrBadRequest = errors.New("malformed request body")

// StatusFor maps the shared error taxonomy to an HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrBadRequest), errors.Is(err, shared.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, shared.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, shared.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, shared.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, shared.ErrConfigurationMissing):
		return http.StatusUnprocessableEntity
	case errors.Is(err, shared.ErrDependencyFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// RespondError writes the failure envelope for err.
func RespondError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	msg := shared.UserSafeMessage(err)
	if errors.Is(err, ErrBadRequest) {
		msg = err.Error()
	}
	JSON(w, status, Envelope{Success: false, Message: msg, Errors: shared.FieldErrors(err)})
}
