package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"invoice-extraction-pipeline/internal/domain"
	"invoice-extraction-pipeline/internal/domain/model"
	"invoice-extraction-pipeline/internal/domain/ports/repository"
)

var _ repository.JobRepository = (*jobRepo)(nil)

type jobRepo struct {
	pool *pgxpool.Pool
	tm   repository.TransactionManager
}

func NewJobRepo(pool *pgxpool.Pool, tm repository.TransactionManager) *jobRepo {
	return &jobRepo{pool: pool, tm: tm}
}

const jobColumns = `id, owner_id, kind, status, current_stage, progress, blob_ref, filename,
auto_save, confidence_threshold, result, error, retries, created_at, updated_at, completed_at, viewed_at`

func (r *jobRepo) Create(ctx context.Context, tx repository.Tx, job *model.ProcessingJob) error {
	now := time.Now()
	job.CreatedAt = now
	job.UpdatedAt = now
	job.Status = model.JobStatusPending

	const q = `
INSERT INTO processing_jobs
  (id, owner_id, kind, status, current_stage, progress, blob_ref, filename,
   auto_save, confidence_threshold, error, retries, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14);`

	_, err := execSQL(ctx, r.pool, tx, q,
		job.ID, job.OwnerID, string(job.Kind), string(job.Status), string(job.Stage), job.Progress,
		job.BlobRef, job.Filename, job.AutoSave, job.Threshold, job.Error, job.Retries,
		job.CreatedAt, job.UpdatedAt)
	if isUniqueViolation(err) {
		return domain.ErrDuplicateJob
	}
	return err
}

func (r *jobRepo) Get(ctx context.Context, tx repository.Tx, id string) (*model.ProcessingJob, error) {
	q := `SELECT ` + jobColumns + ` FROM processing_jobs WHERE id = $1;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	job, err := scanJob(row)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrUnknownJob
	}
	return job, err
}

func (r *jobRepo) Transition(ctx context.Context, id string, stage model.Stage, progress int) error {
	return r.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		status, prev, err := r.lockStatus(ctx, tx, id)
		if err != nil {
			return err
		}
		if status.Terminal() {
			return domain.ErrInvalidTransition
		}
		// Progress is monotonically non-decreasing while running.
		if progress < prev {
			progress = prev
		}
		const q = `
UPDATE processing_jobs
SET status = 'running', current_stage = $2, progress = $3, updated_at = $4
WHERE id = $1;`
		_, err = execSQL(ctx, r.pool, tx, q, id, string(stage), progress, time.Now())
		return err
	})
}

func (r *jobRepo) Complete(ctx context.Context, tx repository.Tx, id string, result *model.ExtractionResult) error {
	if tx == nil {
		return r.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
			return r.completeLocked(ctx, tx, id, result)
		})
	}
	return r.completeLocked(ctx, tx, id, result)
}

func (r *jobRepo) completeLocked(ctx context.Context, tx repository.Tx, id string, result *model.ExtractionResult) error {
	cur, err := r.lockJob(ctx, tx, id)
	if err != nil {
		return err
	}
	if cur.Status.Terminal() {
		// Idempotent only for a repeat of the identical completion.
		if cur.Status == model.JobStatusCompleted && cur.Result.Hash() == result.Hash() {
			return nil
		}
		return domain.ErrInvalidTransition
	}
	b, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	const q = `
UPDATE processing_jobs
SET status = 'completed', current_stage = 'complete', progress = 100,
    result = $2, updated_at = $3, completed_at = $3
WHERE id = $1;`
	_, err = execSQL(ctx, r.pool, tx, q, id, b, time.Now())
	return err
}

func (r *jobRepo) Fail(ctx context.Context, tx repository.Tx, id string, errMsg string) error {
	if tx == nil {
		return r.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
			return r.failLocked(ctx, tx, id, errMsg)
		})
	}
	return r.failLocked(ctx, tx, id, errMsg)
}

func (r *jobRepo) failLocked(ctx context.Context, tx repository.Tx, id string, errMsg string) error {
	cur, err := r.lockJob(ctx, tx, id)
	if err != nil {
		return err
	}
	if cur.Status.Terminal() {
		if cur.Status == model.JobStatusFailed && cur.Error == errMsg {
			return nil
		}
		return domain.ErrInvalidTransition
	}
	const q = `
UPDATE processing_jobs
SET status = 'failed', error = $2, updated_at = $3, completed_at = $3
WHERE id = $1;`
	_, err = execSQL(ctx, r.pool, tx, q, id, errMsg, time.Now())
	return err
}

func (r *jobRepo) ClaimPending(ctx context.Context) (*model.ProcessingJob, error) {
	var job *model.ProcessingJob

	err := r.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		q := `
SELECT ` + jobColumns + `
FROM processing_jobs
WHERE status = 'pending'
ORDER BY created_at
LIMIT 1
FOR UPDATE SKIP LOCKED;`

		row, err := pickRow(ctx, r.pool, tx, q)
		if err != nil {
			return err
		}
		claimed, err := scanJob(row)
		if err != nil {
			return err
		}

		// Mark running so no other worker picks it up.
		claimed.Status = model.JobStatusRunning
		claimed.Stage = model.StageFetch
		claimed.UpdatedAt = time.Now()
		const upd = `
UPDATE processing_jobs
SET status = 'running', current_stage = 'fetch', updated_at = $2
WHERE id = $1;`
		if _, err := execSQL(ctx, r.pool, tx, upd, claimed.ID, claimed.UpdatedAt); err != nil {
			return err
		}
		job = claimed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (r *jobRepo) FailStale(ctx context.Context, ttl time.Duration) (int, error) {
	cutoff := time.Now().Add(-ttl)
	const q = `
UPDATE processing_jobs
SET status = 'failed',
    error = 'stale_timeout: no progress past TTL',
    updated_at = now(), completed_at = now()
WHERE status = 'running' AND updated_at < $1;`
	cmd, err := execSQL(ctx, r.pool, nil, q, cutoff)
	if err != nil {
		return 0, err
	}
	return int(cmd.RowsAffected()), nil
}

func (r *jobRepo) UpdateResult(ctx context.Context, tx repository.Tx, id string, result *model.ExtractionResult) error {
	b, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	const q = `
UPDATE processing_jobs SET result = $2, updated_at = $3
WHERE id = $1 AND status = 'completed';`
	cmd, err := execSQL(ctx, r.pool, tx, q, id, b, time.Now())
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		if _, err := r.Get(ctx, tx, id); err != nil {
			return err
		}
		return domain.ErrInvalidTransition
	}
	return nil
}

func (r *jobRepo) MarkViewed(ctx context.Context, id string, at time.Time) error {
	const q = `
UPDATE processing_jobs SET viewed_at = $2
WHERE id = $1 AND status IN ('completed', 'failed') AND viewed_at IS NULL;`
	cmd, err := execSQL(ctx, r.pool, nil, q, id, at)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		job, err := r.Get(ctx, nil, id)
		if err != nil {
			return err
		}
		if job.ViewedAt != nil {
			return nil // already acknowledged
		}
		return domain.ErrInvalidTransition
	}
	return nil
}

func (r *jobRepo) ListUnviewed(ctx context.Context, ownerID string) ([]*model.ProcessingJob, error) {
	q := `
SELECT ` + jobColumns + `
FROM processing_jobs
WHERE owner_id = $1 AND status IN ('completed', 'failed') AND viewed_at IS NULL
ORDER BY completed_at DESC;`
	rows, err := pickRows(ctx, r.pool, nil, q, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.ProcessingJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// lockStatus takes the row lock and returns status + progress.
func (r *jobRepo) lockStatus(ctx context.Context, tx repository.Tx, id string) (model.JobStatus, int, error) {
	const q = `SELECT status, progress FROM processing_jobs WHERE id = $1 FOR UPDATE;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return "", 0, err
	}
	var status string
	var progress int
	if err := row.Scan(&status, &progress); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", 0, domain.ErrUnknownJob
		}
		return "", 0, domain.ErrReadDatabaseRow
	}
	return model.JobStatus(status), progress, nil
}

// lockJob takes the row lock and returns the full job.
func (r *jobRepo) lockJob(ctx context.Context, tx repository.Tx, id string) (*model.ProcessingJob, error) {
	q := `SELECT ` + jobColumns + ` FROM processing_jobs WHERE id = $1 FOR UPDATE;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	job, err := scanJob(row)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrUnknownJob
	}
	return job, err
}

func scanJob(row pgx.Row) (*model.ProcessingJob, error) {
	var (
		j          model.ProcessingJob
		kind       string
		status     string
		stage      string
		resultJSON []byte
	)
	err := row.Scan(
		&j.ID, &j.OwnerID, &kind, &status, &stage, &j.Progress, &j.BlobRef, &j.Filename,
		&j.AutoSave, &j.Threshold, &resultJSON, &j.Error, &j.Retries,
		&j.CreatedAt, &j.UpdatedAt, &j.CompletedAt, &j.ViewedAt,
	)
	if err != nil {
		return nil, translateScan(err)
	}
	j.Kind = model.TaskKind(kind)
	j.Status = model.JobStatus(status)
	j.Stage = model.Stage(stage)
	if len(resultJSON) > 0 {
		var res model.ExtractionResult
		if err := json.Unmarshal(resultJSON, &res); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
		j.Result = &res
	}
	return &j, nil
}
