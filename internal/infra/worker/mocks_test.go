package worker

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"invoice-extraction-pipeline/internal/domain"
	"invoice-extraction-pipeline/internal/domain/model"
	"invoice-extraction-pipeline/internal/domain/ports/adapter"
	"invoice-extraction-pipeline/internal/domain/ports/repository"
)

func testLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

// ledgerRepo mirrors the Postgres ledger's transition rules in memory.
type ledgerRepo struct {
	mu    sync.Mutex
	jobs  map[string]*model.ProcessingJob
	order []string
}

func newLedgerRepo() *ledgerRepo {
	return &ledgerRepo{jobs: make(map[string]*model.ProcessingJob)}
}

func (m *ledgerRepo) add(job *model.ProcessingJob) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *job
	m.jobs[job.ID] = &cp
	m.order = append(m.order, job.ID)
}

func (m *ledgerRepo) Create(ctx context.Context, tx repository.Tx, job *model.ProcessingJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; ok {
		return domain.ErrDuplicateJob
	}
	cp := *job
	cp.Status = model.JobStatusPending
	m.jobs[job.ID] = &cp
	m.order = append(m.order, job.ID)
	return nil
}

func (m *ledgerRepo) Get(ctx context.Context, tx repository.Tx, id string) (*model.ProcessingJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, domain.ErrUnknownJob
	}
	cp := *j
	return &cp, nil
}

func (m *ledgerRepo) Transition(ctx context.Context, id string, stage model.Stage, progress int) error {
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

func (m *ledgerRepo) Complete(ctx context.Context, tx repository.Tx, id string, result *model.ExtractionResult) error {
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
	j.CompletedAt = &now
	j.UpdatedAt = now
	return nil
}

func (m *ledgerRepo) Fail(ctx context.Context, tx repository.Tx, id string, errMsg string) error {
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
	j.CompletedAt = &now
	j.UpdatedAt = now
	return nil
}

func (m *ledgerRepo) ClaimPending(ctx context.Context) (*model.ProcessingJob, error) {
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
		cp := *j
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (m *ledgerRepo) FailStale(ctx context.Context, ttl time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-ttl)
	n := 0
	for _, j := range m.jobs {
		if j.Status == model.JobStatusRunning && j.UpdatedAt.Before(cutoff) {
			now := time.Now()
			j.Status = model.JobStatusFailed
			j.Error = "stale_timeout: no progress past TTL"
			j.CompletedAt = &now
			j.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func (m *ledgerRepo) UpdateResult(ctx context.Context, tx repository.Tx, id string, result *model.ExtractionResult) error {
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
	return nil
}

func (m *ledgerRepo) MarkViewed(ctx context.Context, id string, at time.Time) error {
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

func (m *ledgerRepo) ListUnviewed(ctx context.Context, ownerID string) ([]*model.ProcessingJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.ProcessingJob
	for _, id := range m.order {
		j := m.jobs[id]
		if j.OwnerID == ownerID && j.Status.Terminal() && j.ViewedAt == nil {
			cp := *j
			out = append(out, &cp)
		}
	}
	return out, nil
}

type memInvoiceRepo struct {
	mu       sync.Mutex
	invoices []*model.Invoice
	saveErr  error
}

func (m *memInvoiceRepo) Save(ctx context.Context, tx repository.Tx, inv *model.Invoice) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *inv
	m.invoices = append(m.invoices, &cp)
	return nil
}

func (m *memInvoiceRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inv := range m.invoices {
		if inv.ID == id {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
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

func (m *memInvoiceRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.invoices)
}

type memAuditRepo struct {
	mu      sync.Mutex
	entries []*model.AuditEntry
}

func (m *memAuditRepo) Record(ctx context.Context, tx repository.Tx, entry *model.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *entry
	m.entries = append(m.entries, &cp)
	return nil
}

func (m *memAuditRepo) RecordBulk(ctx context.Context, tx repository.Tx, table string, action model.AuditAction, meta model.BulkMeta, actor, reason string) error {
	return m.Record(ctx, tx, &model.AuditEntry{TableName: table, Action: action, ChangedBy: actor, Reason: reason})
}

type memTxManager struct{}

func (memTxManager) WithTx(ctx context.Context, _ pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	return fn(ctx, nil)
}

// recordingBus captures published events in order.
type recordingBus struct {
	mu     sync.Mutex
	events []model.Event
}

func (b *recordingBus) Publish(ctx context.Context, event model.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

func (b *recordingBus) Subscribe(ctx context.Context, jobID string) (<-chan model.Event, func()) {
	ch := make(chan model.Event)
	close(ch)
	return ch, func() {}
}

func (b *recordingBus) all() []model.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]model.Event, len(b.events))
	copy(out, b.events)
	return out
}

// stubBlobStore serves canned bytes or a scripted error. The hook runs before
// returning, letting tests interleave external mutations with the fetch.
type stubBlobStore struct {
	content []byte
	mime    string
	err     error
	hook    func()
}

func (s *stubBlobStore) Fetch(ctx context.Context, ref string) ([]byte, string, error) {
	if s.hook != nil {
		s.hook()
	}
	if s.err != nil {
		return nil, "", s.err
	}
	return s.content, s.mime, nil
}

// stubExtractor fails a scripted number of times before returning its doc.
type stubExtractor struct {
	mu        sync.Mutex
	doc       []byte
	chunks    []string
	failTimes int
	err       error
	calls     int
}

func (s *stubExtractor) Extract(ctx context.Context, req adapter.ExtractionRequest, onText adapter.StreamHandler) ([]byte, adapter.Usage, error) {
	s.mu.Lock()
	s.calls++
	call := s.calls
	s.mu.Unlock()
	if call <= s.failTimes {
		return nil, adapter.Usage{}, s.err
	}
	if onText != nil {
		for _, c := range s.chunks {
			onText(c)
		}
	}
	return s.doc, adapter.Usage{PromptTokens: 100, CompletionTokens: 50}, nil
}

func (s *stubExtractor) CountTokens(ctx context.Context, model, prompt string) (int, error) {
	return len(prompt) / 4, nil
}
