// internal/errors/mapper.go
package errors

import (
	"context"
	"errors"
	"net/http"

	"gorm.io/gorm"
)

// Service-level sentinel errors. Handlers map these to HTTP statuses via
// Map; everything else is a storage error and surfaces as 500.
var (
	// ErrUserNotFound means the requester has no preference record.
	ErrUserNotFound = errors.New("user not found")

	// ErrCallNotFound means the referenced call does not exist.
	ErrCallNotFound = errors.New("call not found")

	// ErrNotParticipant means the caller is not part of the referenced call.
	ErrNotParticipant = errors.New("user is not a participant of this call")

	// ErrInvalidArgument flags malformed client input.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Envelope is the JSON error body returned by all endpoints.
type Envelope struct {
	Error string `json:"error"`
}

// Map converts service/infra errors into an HTTP status and error envelope.
// Keeps handlers clean by centralizing the mapping; raw storage errors never
// leak their message to clients.
func Map(err error) (int, Envelope) {
	switch {
	case err == nil:
		return http.StatusOK, Envelope{}

	case errors.Is(err, ErrUserNotFound):
		return http.StatusBadRequest, Envelope{Error: "user not found"}

	case errors.Is(err, ErrCallNotFound):
		return http.StatusNotFound, Envelope{Error: "call not found"}

	case errors.Is(err, ErrNotParticipant):
		return http.StatusForbidden, Envelope{Error: "not a participant of this call"}

	case errors.Is(err, ErrInvalidArgument):
		return http.StatusBadRequest, Envelope{Error: err.Error()}

	case errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound, Envelope{Error: "record not found"}

	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, Envelope{Error: "request timed out"}

	case errors.Is(err, context.Canceled):
		return 499, Envelope{Error: "request was canceled"}

	default:
		return http.StatusInternalServerError, Envelope{Error: "internal error"}
	}
}
