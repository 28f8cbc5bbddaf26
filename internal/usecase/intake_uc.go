package usecase

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"invoice-extraction-pipeline/internal/domain"
	"invoice-extraction-pipeline/internal/domain/model"
	"invoice-extraction-pipeline/internal/domain/ports/repository"
	"invoice-extraction-pipeline/internal/infra/logging"
	"invoice-extraction-pipeline/internal/infra/metrics"
	red "invoice-extraction-pipeline/internal/infra/redis"
)

// Compile-time check
var _ IntakeUseCase = (*intakeUC)(nil)

// RateLimiter is the slice of the redis limiter intake needs.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

type IntakeUseCase interface {
	// Enqueue registers a job and returns immediately; the worker picks it
	// up out of band. The job id is the client's handle for polling and
	// subscribing.
	Enqueue(ctx context.Context, ownerID string, req model.TaskRequest) (*model.ProcessingJob, error)
	Status(ctx context.Context, jobID string) (*model.ProcessingJob, error)
	MarkViewed(ctx context.Context, jobID string) error
	ListUnviewed(ctx context.Context, ownerID string) ([]*model.ProcessingJob, error)
}

type intakeUC struct {
	jobs             repository.JobRepository
	audit            repository.AuditLogRepository
	tm               repository.TransactionManager
	limiter          RateLimiter
	limitPerMin      int
	defaultThreshold float64
	log              *zerolog.Logger
}

func NewIntakeUseCase(
	jobs repository.JobRepository,
	audit repository.AuditLogRepository,
	tm repository.TransactionManager,
	limiter RateLimiter,
	limitPerMin int,
	defaultThreshold float64,
	logger *zerolog.Logger,
) *intakeUC {
	l := logger.With().Str("component", "IntakeUC").Logger()
	return &intakeUC{
		jobs:             jobs,
		audit:            audit,
		tm:               tm,
		limiter:          limiter,
		limitPerMin:      limitPerMin,
		defaultThreshold: defaultThreshold,
		log:              &l,
	}
}

func (u *intakeUC) Enqueue(ctx context.Context, ownerID string, req model.TaskRequest) (*model.ProcessingJob, error) {
	defer logging.TraceDuration(u.log, "IntakeUC.Enqueue")()

	if ownerID == "" {
		metrics.IncEnqueueRejected("invalid")
		return nil, domain.ErrInvalidArgument
	}
	switch req.Kind {
	case model.TaskInvoiceExtraction:
		if req.InvoiceExtraction == nil || req.InvoiceExtraction.BlobRef == "" {
			metrics.IncEnqueueRejected("invalid")
			return nil, domain.ErrInvalidArgument
		}
	default:
		metrics.IncEnqueueRejected("invalid")
		return nil, domain.ErrUnknownTaskKind
	}
	if req.InvoiceExtraction.ConfidenceThreshold <= 0 {
		req.InvoiceExtraction.ConfidenceThreshold = u.defaultThreshold
	}

	ctx = logging.WithOwnerID(ctx, ownerID)
	log := logging.With(ctx, u.log)

	if u.limiter != nil {
		ok, err := u.limiter.Allow(ctx, red.EnqueueKey(ownerID), u.limitPerMin, time.Minute)
		if err != nil {
			log.Warn().Err(err).Msg("rate limiter unavailable, allowing request")
		} else if !ok {
			metrics.IncEnqueueRejected("rate_limited")
			return nil, domain.ErrRateLimited
		}
	}

	job := model.NewProcessingJob(ulid.Make().String(), ownerID, req)

	// Job row and its audit entry commit or roll back together.
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if err := u.jobs.Create(ctx, tx, job); err != nil {
			return err
		}
		return u.audit.Record(ctx, tx, &model.AuditEntry{
			TableName: "processing_jobs",
			RecordID:  job.ID,
			Action:    model.AuditCreate,
			NewValues: map[string]any{
				"kind":     string(job.Kind),
				"blob_ref": job.BlobRef,
				"filename": job.Filename,
			},
			ChangedBy: ownerID,
			Reason:    "job enqueued",
		})
	})
	if err != nil {
		if err == domain.ErrDuplicateJob {
			metrics.IncEnqueueRejected("duplicate")
		}
		return nil, err
	}

	metrics.IncJobEnqueued()
	log.Info().Str("job_id", job.ID).Str("kind", string(job.Kind)).Msg("job enqueued")
	return job, nil
}

func (u *intakeUC) Status(ctx context.Context, jobID string) (*model.ProcessingJob, error) {
	return u.jobs.Get(ctx, nil, jobID)
}

func (u *intakeUC) MarkViewed(ctx context.Context, jobID string) error {
	return u.jobs.MarkViewed(ctx, jobID, time.Now())
}

func (u *intakeUC) ListUnviewed(ctx context.Context, ownerID string) ([]*model.ProcessingJob, error) {
	return u.jobs.ListUnviewed(ctx, ownerID)
}
