package model

import "errors"

// Business failures are returned as sentinel errors and checked with
// errors.Is; they always leave state unchanged. Backend faults are wrapped
// into ErrBackendUnavailable at the adapter boundary so callers can tell a
// rule violation (correct the input) from a transient fault (retry).
var (
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrInsufficientPoints = errors.New("insufficient points")
	ErrEntityNotFound     = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidTransition  = errors.New("invalid state transition")
	ErrAlreadySettled     = errors.New("already settled")
	ErrStaleWrite         = errors.New("stale write: revision is no longer current")
	ErrBackendUnavailable = errors.New("backend unavailable")
	ErrValidation         = errors.New("validation failed")
)

// IsBusiness reports whether err is a business-rule refusal rather than a
// transient backend fault.
func IsBusiness(err error) bool {
	for _, e := range []error{
		ErrInsufficientFunds,
		ErrInsufficientPoints,
		ErrEntityNotFound,
		ErrAlreadyExists,
		ErrInvalidTransition,
		ErrAlreadySettled,
		ErrStaleWrite,
		ErrValidation,
	} {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}
