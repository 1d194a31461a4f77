package provider

import "errors"

var (
	// ErrUnavailable marks transient provider failures. Retried with
	// backoff inside the adapter, then fatal to the calling operation only.
	ErrUnavailable = errors.New("provider unavailable")

	// ErrNameConflict means the branch name already exists in the project.
	// Caller error; never retried.
	ErrNameConflict = errors.New("branch name conflict")

	// ErrBranchNotReady means the branch is still provisioning. Transient;
	// callers poll with a bound.
	ErrBranchNotReady = errors.New("branch not ready")

	// ErrNotFound means the named branch does not exist.
	ErrNotFound = errors.New("branch not found")
)

// Transient reports whether the error is worth retrying at all.
func Transient(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, ErrBranchNotReady)
}
