// Package repository holds the hand-written MySQL data access for accounts,
// magic links and refresh tokens.
package repository

import "errors"

// ErrNotFound is returned when a row does not exist or, for the single-use
// token tables, when a conditional update matched nothing.  Callers cannot
// tell an unknown token from a consumed, revoked or expired one.
var ErrNotFound = errors.New("not found")
