package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"invoice-extraction-pipeline/internal/config"
	"invoice-extraction-pipeline/internal/domain/model"
	"invoice-extraction-pipeline/internal/domain/ports/adapter"
	hub "invoice-extraction-pipeline/internal/infra/broadcast"
	pg "invoice-extraction-pipeline/internal/infra/db/postgres"
	"invoice-extraction-pipeline/internal/infra/logging"
	"invoice-extraction-pipeline/internal/infra/worker"
	"invoice-extraction-pipeline/internal/usecase"
)

// A self-contained pipeline run against a real database with stubbed blob
// storage and extraction, so the full enqueue -> stages -> complete flow can
// be watched without any external provider.

type stubBlobStore struct{}

func (stubBlobStore) Fetch(_ context.Context, ref string) ([]byte, string, error) {
	return []byte("demo invoice content for " + ref), "text/plain", nil
}

type stubExtractor struct{}

const cannedDoc = `{
  "vendor_name": "Acme Supplies Ltd",
  "invoice_number": "INV-2041",
  "invoice_date": "2026-08-14",
  "due_date": "2026-09-13",
  "subtotal": "120.00",
  "tax": "24.00",
  "total": "144.00",
  "currency_code": "EUR",
  "line_items": [
    {"description": "Copier paper A4", "quantity": 10, "unit_price": "12.00", "amount": "120.00"}
  ],
  "confidence": 0.93
}`

func (stubExtractor) Extract(_ context.Context, _ adapter.ExtractionRequest, onText adapter.StreamHandler) ([]byte, adapter.Usage, error) {
	if onText != nil {
		onText("reading document...")
		onText("found vendor Acme Supplies Ltd")
	}
	return []byte(cannedDoc), adapter.Usage{PromptTokens: 420, CompletionTokens: 180}, nil
}

func (stubExtractor) CountTokens(_ context.Context, _ string, text string) (int, error) {
	return len(text) / 4, nil
}

type allowAllLimiter struct{}

func (allowAllLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return true, nil
}

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, true)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.Log, true)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 4)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()

	tm := pg.NewTxManager(pool)
	jobRepo := pg.NewJobRepo(pool, tm)
	invoiceRepo := pg.NewInvoiceRepo(pool)
	auditRepo := pg.NewAuditRepo(pool)

	validator, err := usecase.NewInvoiceValidator()
	if err != nil {
		log.Fatalf("validator: %v", err)
	}
	bus := hub.NewHub(logger)
	intakeUC := usecase.NewIntakeUseCase(jobRepo, auditRepo, tm, allowAllLimiter{}, 1000, cfg.Pipeline.DefaultThreshold, logger)
	processor := worker.NewExtractionProcessor(
		jobRepo, invoiceRepo, auditRepo, tm,
		stubBlobStore{}, stubExtractor{}, bus, validator,
		"stub-model", 0, time.Second, time.Second, logger,
	)

	job, err := intakeUC.Enqueue(ctx, "demo-owner", model.NewInvoiceExtractionRequest("demo/invoice-2041.pdf", "invoice-2041.pdf", true, 0.8))
	if err != nil {
		log.Fatalf("enqueue: %v", err)
	}
	fmt.Printf("enqueued job %s\n", job.ID)

	events, cancelSub := bus.Subscribe(ctx, job.ID)
	defer cancelSub()

	processor.ProcessOne(ctx)

	for ev := range events {
		switch ev.Kind {
		case model.EventStreamingText:
			fmt.Printf("  [%s] %s\n", ev.Kind, ev.Text)
		case model.EventComplete:
			fmt.Printf("  [%s] confidence=%.2f auto_saved=%v invoice_id=%s\n",
				ev.Kind, ev.Result.ConfidenceScore, ev.Result.AutoSaved, ev.Result.InvoiceID)
		case model.EventError:
			fmt.Printf("  [%s] stage=%s %s\n", ev.Kind, ev.Stage, ev.Message)
		default:
			fmt.Printf("  [%s] stage=%s progress=%d\n", ev.Kind, ev.Stage, ev.Percent)
		}
		if ev.Terminal() {
			break
		}
	}

	final, err := intakeUC.Status(ctx, job.ID)
	if err != nil {
		log.Fatalf("status: %v", err)
	}
	fmt.Printf("final status=%s progress=%d\n", final.Status, final.Progress)
}
