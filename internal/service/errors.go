package service

import "errors"

// Domain rejections.  Handlers map them to HTTP statuses; every other error
// from this package is an infrastructure failure and becomes a 500.
var (
	// ErrUnauthorized covers a missing, malformed, expired or foreign access
	// token, and a refresh token that is unknown, revoked or expired.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidLink is the single answer for a magic link that is unknown,
	// consumed, expired or belongs to a disabled account.
	ErrInvalidLink = errors.New("invalid or expired link")
	// ErrAccountDisabled is returned when a valid credential names an account
	// that no longer exists or is inactive.
	ErrAccountDisabled = errors.New("account disabled or not found")
	// ErrForbidden is returned for an authenticated principal lacking a role.
	ErrForbidden = errors.New("forbidden")
	// ErrUnknownTask is returned by Maintenance.Run for an unrecognised task.
	ErrUnknownTask = errors.New("unknown maintenance task")
)
