package domain

import "errors"

var (
	// ErrNotFound is returned when a record does not exist for the tenant.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidInput is returned when request data fails validation.
	ErrInvalidInput = errors.New("invalid input")

	// ErrIllegalTransition is returned when a lifecycle change is not
	// permitted from the entity's current state.
	ErrIllegalTransition = errors.New("illegal transition")

	// ErrConflict is returned when a uniqueness constraint would be broken,
	// e.g. a second case for the same alert.
	ErrConflict = errors.New("conflict")
)
