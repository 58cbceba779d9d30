package rankapi

import (
	"fmt"
	"net/http"

	"github.com/gamilit/ranks-engine/internal/domain/shared"
)

// APIError is an error reported by the rank service. Error returns the
// service's message verbatim so it can be shown to the user as is.
type APIError struct {
	StatusCode int
	Message    string
	Kind       error
}

func (e *APIError) Error() string { return e.Message }

// Unwrap exposes the shared error kind for errors.Is checks.
func (e *APIError) Unwrap() error { return e.Kind }

// Temporary reports whether the same request may succeed later.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

func newStatusError(status int, message string) *APIError {
	if message == "" {
		message = fmt.Sprintf("rank API returned %d %s", status, http.StatusText(status))
	}

	var kind error
	switch {
	case status == http.StatusTooManyRequests:
		kind = shared.ErrRankAPIRateLimited
	case status == http.StatusGatewayTimeout || status == http.StatusRequestTimeout:
		kind = shared.ErrRankAPITimeout
	case status >= http.StatusInternalServerError:
		kind = shared.ErrRankAPIUnavailable
	case status == http.StatusNotFound:
		kind = shared.ErrNotFound
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = shared.ErrExternalService
	case status == http.StatusConflict || status == http.StatusUnprocessableEntity:
		kind = shared.ErrStateTransition
	default:
		kind = shared.ErrInvalidInput
	}
	return &APIError{StatusCode: status, Message: message, Kind: kind}
}
