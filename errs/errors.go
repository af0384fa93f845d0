/*
errors.go - Centralized error types for the points engine

PURPOSE:
  All caller-facing error kinds in one place. Services return these
  sentinels (or structured errors that unwrap to them) so the HTTP layer
  and the CLI can map them without string matching.

ERROR CATEGORIES:
  1. Input errors    - ErrValidation, ErrMissingIdentifier
  2. Session errors  - ErrNotAuthenticated, ErrAccessDenied
  3. Account errors  - ErrAccountExists, ErrAccountNotFound, ErrInvalidCredential
  4. Lookup errors   - ErrUnknownUser
  Store boundary failures live in package record (ErrStoreRead, ErrStoreWrite).

PROPAGATION:
  Nothing is retried internally. If a multi-step chain fails midway,
  earlier writes persist and the error is returned as-is.

USAGE:
  if errors.Is(err, errs.ErrNotAuthenticated) {
      // prompt for login
  }
*/
package errs

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned for bad caller input: trimmed-empty
	// required fields, short passwords.
	ErrValidation = errors.New("validation failed")

	// ErrNotAuthenticated is returned when an operation needs a session
	// and none is active.
	ErrNotAuthenticated = errors.New("not logged in")

	// ErrAccessDenied is returned when the caller is authenticated but
	// lacks the admin role.
	ErrAccessDenied = errors.New("access denied")

	// ErrAccountExists is returned by signup when a profile already exists.
	ErrAccountExists = errors.New("account already exists")

	// ErrAccountNotFound is returned by login when no record exists.
	ErrAccountNotFound = errors.New("account not found")

	// ErrInvalidCredential is returned by login on password mismatch.
	ErrInvalidCredential = errors.New("wrong password")

	// ErrUnknownUser is returned when an admin targets a missing profile.
	ErrUnknownUser = errors.New("unknown user")

	// ErrMissingIdentifier is returned when a required id is empty.
	ErrMissingIdentifier = errors.New("missing identifier")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// Invalid is shorthand for a *ValidationError.
func Invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// MissingIdentifierError names which identifier was empty.
type MissingIdentifierError struct {
	Name string
}

func (e *MissingIdentifierError) Error() string {
	return "missing " + e.Name
}

func (e *MissingIdentifierError) Unwrap() error {
	return ErrMissingIdentifier
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError reports whether err was caused by caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrMissingIdentifier)
}

// IsNotFound reports whether err indicates a missing account.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrUnknownUser)
}

// IsAuth reports whether err is a session or permission failure.
func IsAuth(err error) bool {
	return errors.Is(err, ErrNotAuthenticated) ||
		errors.Is(err, ErrAccessDenied) ||
		errors.Is(err, ErrInvalidCredential)
}
