package repository

import (
	"context"
	"time"

	"invoice-extraction-pipeline/internal/domain/model"
)

// JobRepository is the ledger: the single source of truth for job existence
// and terminal outcome. All writes go through these operations, implemented
// with row-level locking so two workers can never double-process a job.
type JobRepository interface {
	// Create inserts a new job in 'pending'. Returns domain.ErrDuplicateJob
	// if the id already exists.
	Create(ctx context.Context, tx Tx, job *model.ProcessingJob) error

	// Get is a point read used by polling clients.
	Get(ctx context.Context, tx Tx, id string) (*model.ProcessingJob, error)

	// Transition moves status to 'running' on first call and updates
	// stage/progress. Progress never decreases. Returns domain.ErrUnknownJob
	// if absent, domain.ErrInvalidTransition if the job is terminal.
	Transition(ctx context.Context, id string, stage model.Stage, progress int) error

	// Complete sets status 'completed', result and completed_at (set exactly
	// once). Idempotent no-op when already completed with an identical result
	// hash; domain.ErrInvalidTransition otherwise.
	Complete(ctx context.Context, tx Tx, id string, result *model.ExtractionResult) error

	// Fail sets status 'failed', error and completed_at, with the same
	// terminality rule as Complete.
	Fail(ctx context.Context, tx Tx, id string, errMsg string) error

	// ClaimPending atomically fetches the oldest pending job and marks it
	// running (FOR UPDATE SKIP LOCKED), so no other worker picks it up.
	// Returns domain.ErrNotFound when the queue is empty.
	ClaimPending(ctx context.Context) (*model.ProcessingJob, error)

	// FailStale fails jobs stuck in 'running' with no progress for longer
	// than ttl and returns how many were failed.
	FailStale(ctx context.Context, ttl time.Duration) (int, error)

	// UpdateResult rewrites the result payload of a completed job (manual
	// review outcomes). The job's status is not touched.
	UpdateResult(ctx context.Context, tx Tx, id string, result *model.ExtractionResult) error

	// MarkViewed records owner acknowledgement of a terminal job.
	MarkViewed(ctx context.Context, id string, at time.Time) error

	// ListUnviewed returns terminal jobs the owner has not acknowledged.
	ListUnviewed(ctx context.Context, ownerID string) ([]*model.ProcessingJob, error)
}
