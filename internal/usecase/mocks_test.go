package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"invoice-extraction-pipeline/internal/domain"
	"invoice-extraction-pipeline/internal/domain/model"
	"invoice-extraction-pipeline/internal/domain/ports/repository"
)

func testLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

// memJobRepo is an in-memory ledger with the same transition rules as the
// Postgres implementation, used by unit tests.
type memJobRepo struct {
	mu        sync.Mutex
	jobs      map[string]*model.ProcessingJob
	order     []string // insertion order, stands in for ORDER BY created_at
	createErr error
}

func newMemJobRepo() *memJobRepo {
	return &memJobRepo{jobs: make(map[string]*model.ProcessingJob)}
}

func copyJob(j *model.ProcessingJob) *model.ProcessingJob {
	cp := *j
	if j.Result != nil {
		r := *j.Result
		cp.Result = &r
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	if j.ViewedAt != nil {
		t := *j.ViewedAt
		cp.ViewedAt = &t
	}
	return &cp
}

func (m *memJobRepo) Create(ctx context.Context, tx repository.Tx, job *model.ProcessingJob) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; ok {
		return domain.ErrDuplicateJob
	}
	job.Status = model.JobStatusPending
	m.jobs[job.ID] = copyJob(job)
	m.order = append(m.order, job.ID)
	return nil
}

func (m *memJobRepo) Get(ctx context.Context, tx repository.Tx, id string) (*model.ProcessingJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, domain.ErrUnknownJob
	}
	return copyJob(j), nil
}

func (m *memJobRepo) Transition(ctx context.Context, id string, stage model.Stage, progress int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return domain.ErrUnknownJob
	}
	if j.Status.Terminal() {
		return domain.ErrInvalidTransition
	}
	if progress < j.Progress {
		progress = j.Progress
	}
	j.Status = model.JobStatusRunning
	j.Stage = stage
	j.Progress = progress
	j.UpdatedAt = time.Now()
	return nil
}

func (m *memJobRepo) Complete(ctx context.Context, tx repository.Tx, id string, result *model.ExtractionResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return domain.ErrUnknownJob
	}
	if j.Status.Terminal() {
		if j.Status == model.JobStatusCompleted && j.Result.Hash() == result.Hash() {
			return nil
		}
		return domain.ErrInvalidTransition
	}
	now := time.Now()
	r := *result
	j.Status = model.JobStatusCompleted
	j.Stage = model.StageComplete
	j.Progress = 100
	j.Result = &r
	j.Error = ""
	j.UpdatedAt = now
	j.CompletedAt = &now
	return nil
}

func (m *memJobRepo) Fail(ctx context.Context, tx repository.Tx, id string, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return domain.ErrUnknownJob
	}
	if j.Status.Terminal() {
		if j.Status == model.JobStatusFailed && j.Error == errMsg {
			return nil
		}
		return domain.ErrInvalidTransition
	}
	now := time.Now()
	j.Status = model.JobStatusFailed
	j.Error = errMsg
	j.Result = nil
	j.UpdatedAt = now
	j.CompletedAt = &now
	return nil
}

func (m *memJobRepo) ClaimPending(ctx context.Context) (*model.ProcessingJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.order {
		j := m.jobs[id]
		if j.Status != model.JobStatusPending {
			continue
		}
		j.Status = model.JobStatusRunning
		j.Stage = model.StageFetch
		j.UpdatedAt = time.Now()
		return copyJob(j), nil
	}
	return nil, domain.ErrNotFound
}

func (m *memJobRepo) FailStale(ctx context.Context, ttl time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-ttl)
	n := 0
	for _, j := range m.jobs {
		if j.Status == model.JobStatusRunning && j.UpdatedAt.Before(cutoff) {
			now := time.Now()
			j.Status = model.JobStatusFailed
			j.Error = "stale_timeout: no progress past TTL"
			j.UpdatedAt = now
			j.CompletedAt = &now
			n++
		}
	}
	return n, nil
}

func (m *memJobRepo) UpdateResult(ctx context.Context, tx repository.Tx, id string, result *model.ExtractionResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return domain.ErrUnknownJob
	}
	if j.Status != model.JobStatusCompleted {
		return domain.ErrInvalidTransition
	}
	r := *result
	j.Result = &r
	j.UpdatedAt = time.Now()
	return nil
}

func (m *memJobRepo) MarkViewed(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return domain.ErrUnknownJob
	}
	if j.ViewedAt != nil {
		return nil
	}
	if !j.Status.Terminal() {
		return domain.ErrInvalidTransition
	}
	j.ViewedAt = &at
	return nil
}

func (m *memJobRepo) ListUnviewed(ctx context.Context, ownerID string) ([]*model.ProcessingJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.ProcessingJob
	for _, id := range m.order {
		j := m.jobs[id]
		if j.OwnerID == ownerID && j.Status.Terminal() && j.ViewedAt == nil {
			out = append(out, copyJob(j))
		}
	}
	return out, nil
}

type memInvoiceRepo struct {
	mu       sync.Mutex
	invoices map[string]*model.Invoice
	saveErr  error
}

func newMemInvoiceRepo() *memInvoiceRepo {
	return &memInvoiceRepo{invoices: make(map[string]*model.Invoice)}
}

func (m *memInvoiceRepo) Save(ctx context.Context, tx repository.Tx, inv *model.Invoice) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *inv
	m.invoices[inv.ID] = &cp
	return nil
}

func (m *memInvoiceRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *inv
	return &cp, nil
}

func (m *memInvoiceRepo) FindByJobID(ctx context.Context, tx repository.Tx, jobID string) (*model.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inv := range m.invoices {
		if inv.JobID == jobID {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

type memAuditRepo struct {
	mu      sync.Mutex
	entries []*model.AuditEntry
}

func newMemAuditRepo() *memAuditRepo { return &memAuditRepo{} }

func (m *memAuditRepo) Record(ctx context.Context, tx repository.Tx, entry *model.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *entry
	cp.ChangedAt = time.Now()
	m.entries = append(m.entries, &cp)
	return nil
}

func (m *memAuditRepo) RecordBulk(ctx context.Context, tx repository.Tx, table string, action model.AuditAction, meta model.BulkMeta, actor, reason string) error {
	return m.Record(ctx, tx, &model.AuditEntry{
		TableName: table,
		Action:    action,
		NewValues: map[string]any{"count": meta.Count},
		ChangedBy: actor,
		Reason:    reason,
	})
}

func (m *memAuditRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// memTxManager runs the callback directly; the in-memory repos ignore tx.
type memTxManager struct{}

func (memTxManager) WithTx(ctx context.Context, _ pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	return fn(ctx, nil)
}

// stubLimiter scripts the rate limiter's answers.
type stubLimiter struct {
	allow bool
	err   error
	calls int
}

func (s *stubLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	s.calls++
	return s.allow, s.err
}
