package worker

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"invoice-extraction-pipeline/internal/domain/model"
	"invoice-extraction-pipeline/internal/usecase"
)

const highConfidenceDoc = `{
	"vendor_name": "Acme Supplies Ltd",
	"invoice_number": "INV-2041",
	"invoice_date": "2026-08-14",
	"total": "144.00",
	"currency_code": "EUR",
	"confidence": 0.93
}`

const lowConfidenceDoc = `{
	"vendor_name": "Acme Supplies Ltd",
	"invoice_number": "INV-2041",
	"total": "144.00",
	"currency_code": "EUR",
	"confidence": 0.41
}`

type procFixture struct {
	proc     *ExtractionProcessor
	jobs     *ledgerRepo
	invoices *memInvoiceRepo
	audit    *memAuditRepo
	bus      *recordingBus
	blobs    *stubBlobStore
	ai       *stubExtractor
}

func newProcFixture(t *testing.T, blobs *stubBlobStore, ai *stubExtractor, retries int) *procFixture {
	t.Helper()

	validator, err := usecase.NewInvoiceValidator()
	if err != nil {
		t.Fatalf("validator: %v", err)
	}
	f := &procFixture{
		jobs:     newLedgerRepo(),
		invoices: &memInvoiceRepo{},
		audit:    &memAuditRepo{},
		bus:      &recordingBus{},
		blobs:    blobs,
		ai:       ai,
	}
	f.proc = NewExtractionProcessor(
		f.jobs, f.invoices, f.audit, memTxManager{},
		blobs, ai, f.bus, validator,
		"test-model", retries, time.Millisecond, time.Second, testLogger(),
	)
	return f
}

func enqueueJob(t *testing.T, f *procFixture, autoSave bool, threshold float64) *model.ProcessingJob {
	t.Helper()
	job := model.NewProcessingJob("job-1", "owner-1", model.NewInvoiceExtractionRequest("blobs/inv.pdf", "inv.pdf", autoSave, threshold))
	if err := f.jobs.Create(context.Background(), nil, job); err != nil {
		t.Fatalf("create job: %v", err)
	}
	return job
}

func eventKinds(events []model.Event) []model.EventKind {
	out := make([]model.EventKind, 0, len(events))
	for _, e := range events {
		out = append(out, e.Kind)
	}
	return out
}

func TestProcessor_AutoSaveAboveThreshold(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	blobs := &stubBlobStore{content: []byte("pdf bytes"), mime: "application/pdf"}
	ai := &stubExtractor{doc: []byte(highConfidenceDoc), chunks: []string{"reading", "done"}}
	f := newProcFixture(t, blobs, ai, 0)
	job := enqueueJob(t, f, true, 0.8)

	f.proc.ProcessOne(ctx)

	got, err := f.jobs.Get(ctx, nil, job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != model.JobStatusCompleted {
		t.Fatalf("expected completed, got %s (error=%q)", got.Status, got.Error)
	}
	if got.Progress != 100 || got.Stage != model.StageComplete {
		t.Fatalf("expected progress 100 at stage complete, got %d at %s", got.Progress, got.Stage)
	}
	if got.CompletedAt == nil {
		t.Fatalf("expected completed_at to be set")
	}
	if got.Result == nil || !got.Result.AutoSaved {
		t.Fatalf("expected an auto-saved result, got %+v", got.Result)
	}
	if got.Result.ConfidenceScore != 0.93 {
		t.Fatalf("expected confidence 0.93, got %v", got.Result.ConfidenceScore)
	}
	if f.invoices.count() != 1 {
		t.Fatalf("expected one saved invoice, got %d", f.invoices.count())
	}
	inv, err := f.invoices.FindByJobID(ctx, nil, job.ID)
	if err != nil {
		t.Fatalf("FindByJobID: %v", err)
	}
	if inv.ID != got.Result.InvoiceID {
		t.Fatalf("result invoice id %q does not match saved %q", got.Result.InvoiceID, inv.ID)
	}

	events := f.bus.all()
	if len(events) == 0 {
		t.Fatalf("expected events to be published")
	}
	last := events[len(events)-1]
	if last.Kind != model.EventComplete {
		t.Fatalf("expected the complete event last, got %s", last.Kind)
	}
	if last.Result == nil || !last.Result.AutoSaved {
		t.Fatalf("complete event should carry the result, got %+v", last.Result)
	}
	for i, e := range events[:len(events)-1] {
		if e.Terminal() {
			t.Fatalf("terminal event at position %d before the end: %v", i, eventKinds(events))
		}
	}

	// Streaming text surfaced between extraction start and completion.
	var texts []string
	for _, e := range events {
		if e.Kind == model.EventStreamingText {
			texts = append(texts, e.Text)
		}
	}
	if len(texts) != 2 || texts[0] != "reading" || texts[1] != "done" {
		t.Fatalf("expected streamed chunks in order, got %v", texts)
	}
}

func TestProcessor_BelowThresholdGoesToReview(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	blobs := &stubBlobStore{content: []byte("pdf"), mime: "application/pdf"}
	ai := &stubExtractor{doc: []byte(lowConfidenceDoc)}
	f := newProcFixture(t, blobs, ai, 0)
	job := enqueueJob(t, f, true, 0.8)

	f.proc.ProcessOne(ctx)

	got, err := f.jobs.Get(ctx, nil, job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != model.JobStatusCompleted {
		t.Fatalf("low confidence still completes the job, got %s", got.Status)
	}
	if got.Result.AutoSaved {
		t.Fatalf("result below threshold must not auto-save")
	}
	if got.Result.Review != model.ReviewPending {
		t.Fatalf("expected review pending, got %q", got.Result.Review)
	}
	if f.invoices.count() != 0 {
		t.Fatalf("no invoice should be saved, got %d", f.invoices.count())
	}
}

func TestProcessor_AutoSaveDisabled(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	blobs := &stubBlobStore{content: []byte("pdf"), mime: "application/pdf"}
	ai := &stubExtractor{doc: []byte(highConfidenceDoc)}
	f := newProcFixture(t, blobs, ai, 0)
	job := enqueueJob(t, f, false, 0.8)

	f.proc.ProcessOne(ctx)

	got, _ := f.jobs.Get(ctx, nil, job.ID)
	if got.Result == nil || got.Result.AutoSaved {
		t.Fatalf("auto_save=false must park the result for review, got %+v", got.Result)
	}
	if got.Result.Review != model.ReviewPending {
		t.Fatalf("expected review pending, got %q", got.Result.Review)
	}
	if f.invoices.count() != 0 {
		t.Fatalf("no invoice should be saved without auto_save")
	}
}

func TestProcessor_FetchFailureFailsJob(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	blobs := &stubBlobStore{err: errors.New("blob not found")}
	ai := &stubExtractor{doc: []byte(highConfidenceDoc)}
	f := newProcFixture(t, blobs, ai, 2)
	job := enqueueJob(t, f, true, 0.8)

	f.proc.ProcessOne(ctx)

	got, _ := f.jobs.Get(ctx, nil, job.ID)
	if got.Status != model.JobStatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if !strings.HasPrefix(got.Error, "fetch_error:") {
		t.Fatalf("expected a fetch_error, got %q", got.Error)
	}
	if got.Result != nil {
		t.Fatalf("a failed job must not carry a result")
	}
	if got.CompletedAt == nil {
		t.Fatalf("failure is terminal, completed_at must be set")
	}
	if ai.calls != 0 {
		t.Fatalf("fetch failures are terminal, the provider must not be called (calls=%d)", ai.calls)
	}

	events := f.bus.all()
	last := events[len(events)-1]
	if last.Kind != model.EventError || last.Stage != model.StageFetch {
		t.Fatalf("expected a fetch error event last, got %+v", last)
	}
	for _, e := range events {
		if e.Stage == model.StageExtraction {
			t.Fatalf("no extraction stage events expected, got %v", eventKinds(events))
		}
	}
}

func TestProcessor_ExtractionRetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	blobs := &stubBlobStore{content: []byte("pdf"), mime: "application/pdf"}
	ai := &stubExtractor{doc: []byte(highConfidenceDoc), failTimes: 2, err: errors.New("rate limited upstream")}
	f := newProcFixture(t, blobs, ai, 2)
	job := enqueueJob(t, f, true, 0.8)

	f.proc.ProcessOne(ctx)

	got, _ := f.jobs.Get(ctx, nil, job.ID)
	if got.Status != model.JobStatusCompleted {
		t.Fatalf("expected the third attempt to succeed, got %s (error=%q)", got.Status, got.Error)
	}
	if ai.calls != 3 {
		t.Fatalf("expected 3 provider calls, got %d", ai.calls)
	}
}

func TestProcessor_ExtractionExhaustedFailsJob(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	blobs := &stubBlobStore{content: []byte("pdf"), mime: "application/pdf"}
	ai := &stubExtractor{failTimes: 10, err: errors.New("provider down")}
	f := newProcFixture(t, blobs, ai, 2)
	job := enqueueJob(t, f, true, 0.8)

	f.proc.ProcessOne(ctx)

	got, _ := f.jobs.Get(ctx, nil, job.ID)
	if got.Status != model.JobStatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if !strings.HasPrefix(got.Error, "extraction_error:") {
		t.Fatalf("expected an extraction_error, got %q", got.Error)
	}
	if ai.calls != 3 {
		t.Fatalf("expected initial attempt plus 2 retries, got %d calls", ai.calls)
	}
}

func TestProcessor_UnknownTaskKindFailsJob(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newProcFixture(t, &stubBlobStore{}, &stubExtractor{}, 0)

	job := model.NewProcessingJob("job-odd", "owner-1", model.TaskRequest{Kind: "pdf_merge"})
	job.BlobRef = "blobs/x"
	f.jobs.add(job)

	f.proc.ProcessOne(ctx)

	got, _ := f.jobs.Get(ctx, nil, job.ID)
	if got.Status != model.JobStatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if !strings.Contains(got.Error, "unknown task kind") {
		t.Fatalf("expected an unknown-kind error, got %q", got.Error)
	}
}

func TestProcessor_NoEventsAfterExternalTermination(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newProcFixture(t, &stubBlobStore{}, &stubExtractor{doc: []byte(highConfidenceDoc)}, 0)
	job := enqueueJob(t, f, true, 0.8)

	// The reconciler (or an operator) fails the job while the fetch is in
	// flight; the worker must go quiet instead of publishing stale progress.
	f.blobs.content = []byte("pdf")
	f.blobs.mime = "application/pdf"
	f.blobs.hook = func() {
		_ = f.jobs.Fail(ctx, nil, job.ID, "stale_timeout: no progress past TTL")
	}

	f.proc.ProcessOne(ctx)

	got, _ := f.jobs.Get(ctx, nil, job.ID)
	if got.Status != model.JobStatusFailed {
		t.Fatalf("external failure must stick, got %s", got.Status)
	}
	if got.Error != "stale_timeout: no progress past TTL" {
		t.Fatalf("worker must not overwrite the terminal error, got %q", got.Error)
	}

	for _, e := range f.bus.all() {
		if e.Stage == model.StageExtraction || e.Kind == model.EventComplete {
			t.Fatalf("no events may follow an external termination, got %v", eventKinds(f.bus.all()))
		}
	}
	if f.ai.calls != 0 {
		t.Fatalf("extraction must not run after termination")
	}
}

func TestProcessor_EmptyQueueIsQuiet(t *testing.T) {
	t.Parallel()

	f := newProcFixture(t, &stubBlobStore{}, &stubExtractor{}, 0)
	f.proc.ProcessOne(context.Background())

	if len(f.bus.all()) != 0 {
		t.Fatalf("an empty queue must publish nothing")
	}
}

func TestProcessor_ProgressNeverDecreases(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	blobs := &stubBlobStore{content: []byte("pdf"), mime: "application/pdf"}
	ai := &stubExtractor{doc: []byte(highConfidenceDoc)}
	f := newProcFixture(t, blobs, ai, 0)
	enqueueJob(t, f, true, 0.8)

	f.proc.ProcessOne(ctx)

	prev := -1
	for _, e := range f.bus.all() {
		if e.Kind != model.EventProgress {
			continue
		}
		if e.Percent < prev {
			t.Fatalf("progress went backwards: %d after %d", e.Percent, prev)
		}
		prev = e.Percent
	}
}
