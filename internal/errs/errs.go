// Package errs defines the caller-visible error taxonomy of the messaging core.
//
// All of these are terminal failures: the core never retries on its own. Only
// ErrUnavailable is safe for the caller to retry.
package errs

import (
	"errors"
	"net/http"
)

var (
	// ErrNotFound means the chat or message does not exist.
	ErrNotFound = errors.New("not found")

	// ErrForbidden means the actor is not a participant or lacks the role
	// required for the operation.
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidState means the requested transition is not legal from the
	// chat's current status.
	ErrInvalidState = errors.New("invalid state")

	// ErrQuotaExceeded means the initiator already sent the maximum number of
	// messages allowed while the chat request is pending.
	ErrQuotaExceeded = errors.New("pending message quota exceeded")

	// ErrApprovalRequired means the recipient tried to send before approving
	// the chat request.
	ErrApprovalRequired = errors.New("approval required")

	// ErrBlocked means the blocking policy vetoed the send, in either
	// direction. Blocking overrides an otherwise accepted chat.
	ErrBlocked = errors.New("blocked")

	// ErrIdentityMismatch means a payload claimed an actor identity different
	// from the authenticated identity of the connection.
	ErrIdentityMismatch = errors.New("identity mismatch")

	// ErrUnavailable means persistence or an external dependency timed out.
	// Retryable by the caller.
	ErrUnavailable = errors.New("temporarily unavailable")
)

// Code returns a stable machine-readable code for err, used in REST bodies
// and push-channel error events.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrQuotaExceeded):
		return "quota_exceeded"
	case errors.Is(err, ErrApprovalRequired):
		return "approval_required"
	case errors.Is(err, ErrBlocked):
		return "blocked"
	case errors.Is(err, ErrIdentityMismatch):
		return "identity_mismatch"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	default:
		return "internal"
	}
}

// HTTPStatus maps err to the status code of the synchronous surface.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrForbidden),
		errors.Is(err, ErrApprovalRequired),
		errors.Is(err, ErrBlocked),
		errors.Is(err, ErrIdentityMismatch):
		return http.StatusForbidden
	case errors.Is(err, ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, ErrQuotaExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
