package ports

import "errors"

// Standard application-level errors.
// Adapters should wrap underlying infrastructure errors with these standard errors.
var (
	// ErrValidation signals malformed input (e.g. non-positive quantity).
	// Surfaced immediately to the caller, never retried automatically.
	ErrValidation = errors.New("invalid request parameters")

	// ErrNotFound signals an operation referencing a position id that was never opened.
	ErrNotFound = errors.New("position not found")

	// ErrConflict signals an optimistic-version mismatch on a mutation.
	// Recovered locally via bounded retry; surfaced only when retries are exhausted.
	ErrConflict = errors.New("position version conflict")

	// ErrPersistence signals a durable store I/O failure or timeout. The
	// operation was aborted with no partial state committed; callers may
	// retry the whole operation after backoff.
	ErrPersistence = errors.New("durable store operation failed")

	// ErrDuplicateEntry signals an insert of a record that already exists.
	ErrDuplicateEntry = errors.New("record already exists")
)
