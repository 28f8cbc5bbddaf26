package usecase

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"invoice-extraction-pipeline/internal/domain"
	"invoice-extraction-pipeline/internal/domain/model"
	"invoice-extraction-pipeline/internal/domain/ports/repository"
	"invoice-extraction-pipeline/internal/infra/logging"
)

var _ ReviewUseCase = (*reviewUC)(nil)

// ReviewUseCase handles results that did not clear the auto-save bar. It
// acts on the stored result payload only; the job state machine is untouched
// (the job stays completed throughout).
type ReviewUseCase interface {
	// Approve persists the extracted invoice and marks the result approved.
	Approve(ctx context.Context, jobID, actor string) (*model.Invoice, error)
	// Reject marks the result rejected; nothing is persisted.
	Reject(ctx context.Context, jobID, actor, reason string) error
}

type reviewUC struct {
	jobs     repository.JobRepository
	invoices repository.InvoiceRepository
	audit    repository.AuditLogRepository
	tm       repository.TransactionManager
	log      *zerolog.Logger
}

func NewReviewUseCase(
	jobs repository.JobRepository,
	invoices repository.InvoiceRepository,
	audit repository.AuditLogRepository,
	tm repository.TransactionManager,
	logger *zerolog.Logger,
) *reviewUC {
	l := logger.With().Str("component", "ReviewUC").Logger()
	return &reviewUC{jobs: jobs, invoices: invoices, audit: audit, tm: tm, log: &l}
}

func (u *reviewUC) Approve(ctx context.Context, jobID, actor string) (*model.Invoice, error) {
	defer logging.TraceDuration(u.log, "ReviewUC.Approve")()

	job, err := u.jobs.Get(ctx, nil, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != model.JobStatusCompleted || job.Result == nil || job.Result.Review != model.ReviewPending {
		return nil, domain.ErrResultNotInReview
	}

	inv := model.InvoiceFromFields(uuid.NewString(), job.ID, job.OwnerID, job.Result.Fields)
	updated := *job.Result
	updated.Review = model.ReviewApproved
	updated.InvoiceID = inv.ID

	err = u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if err := u.invoices.Save(ctx, tx, inv); err != nil {
			return err
		}
		if err := u.jobs.UpdateResult(ctx, tx, job.ID, &updated); err != nil {
			return err
		}
		return u.audit.Record(ctx, tx, &model.AuditEntry{
			TableName: "invoices",
			RecordID:  inv.ID,
			Action:    model.AuditCreate,
			NewValues: map[string]any{"job_id": job.ID, "total": inv.Total, "currency": inv.CurrencyCode},
			ChangedBy: actor,
			Reason:    "manual review approved",
		})
	})
	if err != nil {
		return nil, err
	}

	u.log.Info().Str("job_id", jobID).Str("invoice_id", inv.ID).Str("actor", actor).Msg("review approved")
	return inv, nil
}

func (u *reviewUC) Reject(ctx context.Context, jobID, actor, reason string) error {
	defer logging.TraceDuration(u.log, "ReviewUC.Reject")()

	job, err := u.jobs.Get(ctx, nil, jobID)
	if err != nil {
		return err
	}
	if job.Status != model.JobStatusCompleted || job.Result == nil || job.Result.Review != model.ReviewPending {
		return domain.ErrResultNotInReview
	}

	updated := *job.Result
	updated.Review = model.ReviewRejected

	err = u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if err := u.jobs.UpdateResult(ctx, tx, job.ID, &updated); err != nil {
			return err
		}
		return u.audit.Record(ctx, tx, &model.AuditEntry{
			TableName: "processing_jobs",
			RecordID:  job.ID,
			Action:    model.AuditUpdate,
			OldValues: map[string]any{"review": string(model.ReviewPending)},
			NewValues: map[string]any{"review": string(model.ReviewRejected)},
			ChangedBy: actor,
			Reason:    reason,
		})
	})
	if err != nil {
		return err
	}

	u.log.Info().Str("job_id", jobID).Str("actor", actor).Msg("review rejected")
	return nil
}
