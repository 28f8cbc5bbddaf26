package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInvalidExecContext = errors.New("invalid executor context")
	ErrReadDatabaseRow    = errors.New("failed to read database row")

	// Ledger integrity errors. Indicate a programming or operator mistake;
	// they propagate to the caller and are never retried.
	ErrDuplicateJob      = errors.New("job id already exists")
	ErrDuplicateInvoice  = errors.New("invoice already saved for this job")
	ErrUnknownJob        = errors.New("unknown job id")
	ErrInvalidTransition = errors.New("job is already terminal")

	// External-dependency failures surfaced by pipeline stages.
	ErrBlobNotFound = errors.New("blob not found")
	ErrBlobTimeout  = errors.New("blob fetch timed out")
	ErrExtraction   = errors.New("extraction provider failed")

	ErrUnknownTaskKind   = errors.New("unknown task kind")
	ErrRateLimited       = errors.New("too many enqueue requests")
	ErrLockNotAcquired   = errors.New("lock not acquired")
	ErrResultNotInReview = errors.New("result is not awaiting review")
)
