/*
errors.go - Storage-level error types shared by every store

PURPOSE:
  Store implementations (memory, sqlite, postgres) report misses, conflicts
  and duplicates through these sentinels so the leave package can translate
  them into domain errors without knowing the backend.

USAGE:
    if errors.Is(err, generic.ErrNotFound) {
        return &leave.PolicyNotFoundError{...}
    }

SEE ALSO:
  - leave/errors.go: Domain error taxonomy built on top of these
  - retry.go: Retries ErrConcurrentModification
*/
package generic

import "errors"

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when a keyed record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when inserting append-only reference data
	// under an ID that is already taken.
	ErrAlreadyExists = errors.New("already exists")

	// ErrDuplicateIdempotencyKey is returned when a journal entry with the
	// same idempotency key already exists.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrConcurrentModification is returned when a versioned write loses a
	// compare-and-swap race.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrInvalidPeriod is returned when a period ends before it starts.
	ErrInvalidPeriod = errors.New("invalid period: end before start")
)

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
