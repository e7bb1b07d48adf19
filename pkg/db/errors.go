package db

import "errors"

var (
	// ErrNotFound is returned when a looked-up record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrSyncInProgress is returned when starting a run while another
	// run already holds in_progress.
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrConflictResolved is returned when resolving a conflict that
	// already carries a resolution.
	ErrConflictResolved = errors.New("conflict already resolved")
)
