package library

import "errors"

var (
	// ErrValidation marks malformed or missing input.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound marks a referenced id or email that does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict marks a business-rule violation such as no copies left,
	// an inactive member, a duplicate email or an already returned loan.
	ErrConflict = errors.New("conflict")

	// ErrAuthentication is returned for any credential mismatch. It never
	// says whether the email or the password was wrong.
	ErrAuthentication = errors.New("invalid email or password")
)
