package groundwork

import "errors"

var (
	// ErrNotFound is returned when a document ID does not resolve to a
	// known, non-tombstoned document.
	ErrNotFound = errors.New("groundwork: document not found")

	// ErrInvalidInput is returned when a caller-supplied value fails
	// validation before any state is touched.
	ErrInvalidInput = errors.New("groundwork: invalid input")

	// ErrRemoteUnavailable is returned when no remote transport is
	// configured or the configured one cannot be reached.
	ErrRemoteUnavailable = errors.New("groundwork: remote unavailable")

	// ErrSyncInProgress reports that a sync cycle was requested while one
	// was already running. Callers treating sync as best-effort may ignore
	// it.
	ErrSyncInProgress = errors.New("groundwork: sync already in progress")
)
