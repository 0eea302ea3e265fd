// Package services defines the business logic of the listing autopilot:
// session lifecycle, the prepare/confirm/publish workflow, and scheduled
// automation rules. This file centralizes common service-level error values
// so that they can be consistently returned by service methods and checked
// by callers.
//
// Errors owned by lower layers (vault.ErrUnauthenticated, lock.ErrBusy,
// quota.ErrExceeded, browser.ErrChallengeDetected) pass through unchanged;
// callers match them with errors.Is.
package services

import "errors"

// Confirm-token errors.
var (
	// ErrTokenInvalid indicates a confirm token that fails authenticated
	// decryption, names a different owner, or has no minted record. Such
	// tokens were never issued by this system in their presented form.
	ErrTokenInvalid = errors.New("confirm token invalid")

	// ErrTokenExpired indicates a well-formed token past its lifetime. The
	// draft must go through prepare again.
	ErrTokenExpired = errors.New("confirm token expired")

	// ErrTokenConsumed indicates a token that was already redeemed. The
	// original attempt's outcome is available under its idempotency key.
	ErrTokenConsumed = errors.New("confirm token already consumed")

	// ErrIdempotencyKeyRequired is returned when a publish request carries
	// no idempotency key. Publishing without one is never accepted.
	ErrIdempotencyKeyRequired = errors.New("idempotency key required")
)
