package domain

import "errors"

// Error taxonomy for the scoring pipeline. Callers classify failures with
// errors.Is; side-effect failures (audit logging, alert creation) are never
// surfaced through these, only logged.
var (
	// ErrValidation marks a malformed transaction input. No state is mutated.
	ErrValidation = errors.New("validation failed")

	// ErrDataAccess marks an unavailable historical store or cache during
	// feature computation. Never silently converted to zero-valued features.
	ErrDataAccess = errors.New("data access failed")

	// ErrNotFound marks a missing record, distinct from store unavailability.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidConfig marks a rejected threshold or cost-matrix update.
	// Prior configuration is always retained.
	ErrInvalidConfig = errors.New("invalid configuration")
)
