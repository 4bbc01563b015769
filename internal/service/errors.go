package service

import "errors"

var (
	// ErrConfiguration covers a missing group or scene that may not be
	// auto-initialised. Not retried internally.
	ErrConfiguration = errors.New("configuration error")
	// ErrAllocation means no live node could take a delegated call.
	ErrAllocation = errors.New("no live node available")
	// ErrGeneration means the delegated idempotent id call did not succeed.
	ErrGeneration = errors.New("idempotent id generation failed")
	// ErrPersistenceInconsistency is an unexpected affected-row count. The
	// surrounding transaction is rolled back.
	ErrPersistenceInconsistency = errors.New("persistence inconsistency")
	ErrTaskNotFound             = errors.New("retry task not found")
	ErrInvalidStatus            = errors.New("invalid retry status")
	// ErrRunningConflict means another RUNNING task already holds the
	// idempotent id.
	ErrRunningConflict = errors.New("a running task with the same idempotent id exists")
)
