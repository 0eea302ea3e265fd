// Package handlers implements the operator API endpoints: session management,
// the prepare/publish workflow, and automation rule CRUD. Handlers are
// transport-thin: validate input, call a service, map the error taxonomy to
// HTTP.
package handlers

// Stable machine-readable error codes. Clients branch on these, not on
// messages.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthenticated"
	ErrCodeNotFound     = "not_found"
	ErrCodeConflict     = "conflict"
	ErrCodeGone         = "gone"
	ErrCodeRateLimited  = "too_many_requests"
	ErrCodeInternal     = "internal_error"

	// Domain-specific:
	ErrCodeTokenInvalid     = "token_invalid"
	ErrCodeTokenExpired     = "token_expired"
	ErrCodeTokenConsumed    = "token_consumed"
	ErrCodeQuotaExceeded    = "quota_exceeded"
	ErrCodeBusy             = "busy"
	ErrCodeMethodNotAllowed = "method_not_allowed"
)
