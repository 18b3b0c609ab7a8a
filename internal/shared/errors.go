package shared

import "errors"

// Error taxonomy shared by every module. Module errors wrap one of these with
// %w so callers and the HTTP layer can classify failures with errors.Is.
var (
	// ErrNotFound indicates an unknown identifier. The single operation is rejected.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates input rejected before any mutation.
	ErrValidation = errors.New("validation failed")
	// ErrConflict indicates a concurrent writer won a uniqueness race.
	ErrConflict = errors.New("conflict")
	// ErrTransient indicates an aborted transaction that may succeed on retry.
	ErrTransient = errors.New("transient persistence failure")
)

// IsRetryable reports whether err is worth retrying by a caller.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrConflict)
}
