package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"invoice-extraction-pipeline/internal/domain"
	"invoice-extraction-pipeline/internal/domain/model"
	"invoice-extraction-pipeline/internal/domain/ports/adapter"
	"invoice-extraction-pipeline/internal/domain/ports/broadcast"
	"invoice-extraction-pipeline/internal/domain/ports/repository"
	"invoice-extraction-pipeline/internal/infra/logging"
	"invoice-extraction-pipeline/internal/infra/metrics"
	"invoice-extraction-pipeline/internal/usecase"
)

const extractionPrompt = "Extract the structured invoice data from the attached document. " +
	"Report every monetary amount as a decimal string and include your overall confidence in [0,1]."

// providerNamer is satisfied by the multi-adapter; used only to label metrics.
type providerNamer interface {
	Provider(model string) string
}

// ExtractionProcessor claims pending jobs and drives them through
// fetch -> llm_extraction -> validation -> save -> complete. Each job has a
// single writer (the claim takes the row lock), stage events are published in
// execution order, and no event follows a terminal transition.
type ExtractionProcessor struct {
	jobs      repository.JobRepository
	invoices  repository.InvoiceRepository
	audit     repository.AuditLogRepository
	tm        repository.TransactionManager
	blobs     adapter.BlobStore
	ai        adapter.ExtractionAdapter
	bus       broadcast.Broadcaster
	validator *usecase.Validator

	defaultModel string
	retries      int
	backoff      time.Duration
	pollEvery    time.Duration

	log *zerolog.Logger
}

func NewExtractionProcessor(
	jobs repository.JobRepository,
	invoices repository.InvoiceRepository,
	audit repository.AuditLogRepository,
	tm repository.TransactionManager,
	blobs adapter.BlobStore,
	ai adapter.ExtractionAdapter,
	bus broadcast.Broadcaster,
	validator *usecase.Validator,
	defaultModel string,
	retries int,
	backoff time.Duration,
	pollEvery time.Duration,
	logger *zerolog.Logger,
) *ExtractionProcessor {
	l := logger.With().Str("component", "ExtractionProcessor").Logger()
	return &ExtractionProcessor{
		jobs:         jobs,
		invoices:     invoices,
		audit:        audit,
		tm:           tm,
		blobs:        blobs,
		ai:           ai,
		bus:          bus,
		validator:    validator,
		defaultModel: defaultModel,
		retries:      retries,
		backoff:      backoff,
		pollEvery:    pollEvery,
		log:          &l,
	}
}

// Start polls for pending jobs and submits them to the pool.
// This should be run in a goroutine.
func (p *ExtractionProcessor) Start(ctx context.Context, pool *Pool) {
	p.log.Info().Msg("extraction processor started")
	ticker := time.NewTicker(p.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.Info().Msg("extraction processor stopping")
			return
		case <-ticker.C:
			_ = pool.Submit(func(ctx context.Context) error {
				p.ProcessOne(ctx)
				return nil
			})
		}
	}
}

// ProcessOne claims and runs a single job, if one is pending.
func (p *ExtractionProcessor) ProcessOne(ctx context.Context) {
	job, err := p.jobs.ClaimPending(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			p.log.Error().Err(err).Msg("claim pending job")
		}
		return
	}

	ctx = logging.WithJobID(logging.WithOwnerID(ctx, job.OwnerID), job.ID)
	log := logging.With(ctx, p.log)
	defer logging.TraceDuration(log, "ExtractionProcessor.ProcessOne")()

	log.Info().Str("kind", string(job.Kind)).Msg("processing job")
	start := time.Now()

	// Closed dispatch over the task variant.
	switch job.Kind {
	case model.TaskInvoiceExtraction:
		p.runInvoiceExtraction(ctx, job)
	default:
		p.failJob(ctx, job, model.StageFetch, fmt.Sprintf("unknown task kind %q", job.Kind))
	}

	log.Info().Dur("duration", time.Since(start)).Msg("job finished")
}

func (p *ExtractionProcessor) runInvoiceExtraction(ctx context.Context, job *model.ProcessingJob) {
	// fetch: the blob reference is caller-supplied and stable, so any
	// failure here is terminal without retry.
	if !p.enterStage(ctx, job, model.StageFetch, 5) {
		return
	}
	fetchStart := time.Now()
	content, mime, err := p.blobs.Fetch(ctx, job.BlobRef)
	metrics.ObserveStage(string(model.StageFetch), time.Since(fetchStart))
	if err != nil {
		p.failJob(ctx, job, model.StageFetch, "fetch_error: "+err.Error())
		return
	}
	p.leaveStage(ctx, job, model.StageFetch, 25)

	// llm_extraction: provider errors are retried a bounded number of times
	// with doubling backoff before the job fails.
	if !p.enterStage(ctx, job, model.StageExtraction, 30) {
		return
	}
	doc, usage, err := p.extractWithRetry(ctx, job, content, mime)
	if err != nil {
		p.failJob(ctx, job, model.StageExtraction, "extraction_error: "+err.Error())
		return
	}
	_ = usage
	p.leaveStage(ctx, job, model.StageExtraction, 70)

	// validation: downgrades confidence, never fails the job.
	if !p.enterStage(ctx, job, model.StageValidation, 75) {
		return
	}
	valStart := time.Now()
	fields, confidence, warnings := p.validator.Validate(doc)
	metrics.ObserveStage(string(model.StageValidation), time.Since(valStart))
	metrics.ObserveConfidence(confidence)
	p.leaveStage(ctx, job, model.StageValidation, 85)

	// save + complete: the ledger's terminal write, the invoice row and the
	// audit entries share one transaction; the complete event publishes only
	// after that transaction commits.
	if !p.enterStage(ctx, job, model.StageSave, 90) {
		return
	}
	result := &model.ExtractionResult{
		Fields:          fields,
		ConfidenceScore: confidence,
		Warnings:        warnings,
		Model:           p.defaultModel,
	}
	saveStart := time.Now()
	err = p.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if confidence >= job.Threshold && job.AutoSave {
			inv := model.InvoiceFromFields(uuid.NewString(), job.ID, job.OwnerID, fields)
			if err := p.invoices.Save(ctx, tx, inv); err != nil {
				return err
			}
			result.AutoSaved = true
			result.InvoiceID = inv.ID
			if err := p.audit.Record(ctx, tx, &model.AuditEntry{
				TableName: "invoices",
				RecordID:  inv.ID,
				Action:    model.AuditCreate,
				NewValues: map[string]any{"job_id": job.ID, "total": inv.Total, "currency": inv.CurrencyCode},
				ChangedBy: job.OwnerID,
				Reason:    "auto-save above confidence threshold",
			}); err != nil {
				return err
			}
		} else {
			result.AutoSaved = false
			result.Review = model.ReviewPending
		}
		return p.jobs.Complete(ctx, tx, job.ID, result)
	})
	metrics.ObserveStage(string(model.StageSave), time.Since(saveStart))
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			logging.With(ctx, p.log).Warn().Msg("job went terminal mid-save, dropping result")
			return
		}
		p.failJob(ctx, job, model.StageSave, "save_error: "+err.Error())
		return
	}

	metrics.IncJobProcessed(string(model.JobStatusCompleted))
	p.bus.Publish(ctx, model.StageCompleteEvent(job.ID, model.StageSave))
	p.bus.Publish(ctx, model.CompleteEvent(job.ID, result))
}

// extractWithRetry streams the provider call, forwarding text chunks to
// subscribers, and retries bounded times on provider errors.
func (p *ExtractionProcessor) extractWithRetry(ctx context.Context, job *model.ProcessingJob, content []byte, mime string) ([]byte, adapter.Usage, error) {
	req := adapter.ExtractionRequest{
		Model:      p.defaultModel,
		Filename:   job.Filename,
		MIMEType:   mime,
		Content:    content,
		SchemaHint: usecase.InvoiceSchemaHint(),
		Prompt:     extractionPrompt,
	}

	provider := "multi"
	if n, ok := p.ai.(providerNamer); ok {
		provider = n.Provider(req.Model)
	}
	if tokens, err := p.ai.CountTokens(ctx, req.Model, req.Prompt+req.SchemaHint); err == nil {
		p.log.Debug().Str("job_id", job.ID).Int("prompt_tokens", tokens).Msg("prompt token estimate")
	}

	onText := func(chunk string) {
		p.bus.Publish(ctx, model.StreamingTextEvent(job.ID, chunk))
	}

	var lastErr error
	backoff := p.backoff
	for attempt := 0; attempt <= p.retries; attempt++ {
		if attempt > 0 {
			metrics.IncExtractionRetry(provider, req.Model)
			select {
			case <-ctx.Done():
				return nil, adapter.Usage{}, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		callStart := time.Now()
		doc, usage, err := p.ai.Extract(ctx, req, onText)
		latency := int(time.Since(callStart) / time.Millisecond)
		metrics.ObserveExtraction(provider, req.Model, usage.PromptTokens, usage.CompletionTokens, latency, err == nil)
		if err == nil {
			metrics.ObserveStage(string(model.StageExtraction), time.Since(callStart))
			return doc, usage, nil
		}
		lastErr = err
		p.log.Warn().Err(err).Str("job_id", job.ID).Int("attempt", attempt+1).Msg("extraction attempt failed")
	}
	return nil, adapter.Usage{}, fmt.Errorf("%w: %v", domain.ErrExtraction, lastErr)
}

// enterStage advances the ledger and announces the stage. Returns false when
// the job is already terminal (e.g. failed by the stale reconciler), in which
// case no further stage may run and no event is published.
func (p *ExtractionProcessor) enterStage(ctx context.Context, job *model.ProcessingJob, stage model.Stage, progress int) bool {
	if err := p.jobs.Transition(ctx, job.ID, stage, progress); err != nil {
		p.log.Warn().Err(err).Str("job_id", job.ID).Str("stage", string(stage)).Msg("stage transition refused")
		return false
	}
	p.bus.Publish(ctx, model.StageStartEvent(job.ID, stage))
	p.bus.Publish(ctx, model.ProgressEvent(job.ID, stage, progress, "stage started"))
	return true
}

func (p *ExtractionProcessor) leaveStage(ctx context.Context, job *model.ProcessingJob, stage model.Stage, progress int) {
	if err := p.jobs.Transition(ctx, job.ID, stage, progress); err != nil {
		return
	}
	p.bus.Publish(ctx, model.StageCompleteEvent(job.ID, stage))
	p.bus.Publish(ctx, model.ProgressEvent(job.ID, stage, progress, "stage finished"))
}

// failJob records the terminal failure exactly once, with its audit row in
// the same transaction, and publishes the error event only if this call won
// the transition.
func (p *ExtractionProcessor) failJob(ctx context.Context, job *model.ProcessingJob, stage model.Stage, msg string) {
	log := logging.With(ctx, p.log)
	err := p.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if err := p.jobs.Fail(ctx, tx, job.ID, msg); err != nil {
			return err
		}
		return p.audit.Record(ctx, tx, &model.AuditEntry{
			TableName: "processing_jobs",
			RecordID:  job.ID,
			Action:    model.AuditUpdate,
			NewValues: map[string]any{"status": string(model.JobStatusFailed), "error": msg},
			ChangedBy: "worker",
			Reason:    "stage failure",
		})
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			return // someone else already terminated the job
		}
		log.Error().Err(err).Msg("record job failure")
		return
	}

	metrics.IncJobProcessed(string(model.JobStatusFailed))
	log.Error().Str("stage", string(stage)).Str("error", msg).Msg("job failed")
	p.bus.Publish(ctx, model.ErrorEvent(job.ID, stage, msg))
}
