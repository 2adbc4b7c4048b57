package interfaces

import "errors"

// Sentinel errors shared across storage implementations. Handlers map these
// to HTTP status codes without depending on the storage backend.
var (
	// ErrNotFound is returned when a job, result or event does not exist
	// for the requesting user.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a guarded status transition loses the
	// race, e.g. a second finalizer or a cancel against a terminal job.
	ErrConflict = errors.New("conflict")

	// ErrInvalidInput is returned when a seed URL or job option fails
	// validation before a job is created.
	ErrInvalidInput = errors.New("invalid input")
)
