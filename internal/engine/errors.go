package engine

import "errors"

// Action outcomes surfaced to callers as typed errors. Conflicts are
// normal race outcomes, not exceptional conditions.
var (
	ErrValidation      = errors.New("invalid action payload")
	ErrNotFound        = errors.New("alert not found")
	ErrForbidden       = errors.New("subject outside actor scope")
	ErrAlreadyResolved = errors.New("alert already resolved")
)
