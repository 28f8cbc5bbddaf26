//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"invoice-extraction-pipeline/internal/domain/model"
)

func TestAuditRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode.")
	}

	ctx := context.Background()
	repo := NewAuditRepo(testPool)

	t.Run("records an entry against the seeded schema", func(t *testing.T) {
		cleanup(t)

		entry := &model.AuditEntry{
			TableName: "processing_jobs",
			RecordID:  "job-1",
			Action:    model.AuditCreate,
			NewValues: map[string]any{"kind": "invoice_extraction"},
			ChangedBy: "owner-1",
			Reason:    "job enqueued",
		}
		if err := repo.Record(ctx, nil, entry); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
		if entry.ID == "" || entry.ChangedAt.IsZero() {
			t.Fatal("Record must backfill id and changed_at")
		}

		var (
			action    string
			changedBy string
			changedAt time.Time
		)
		err := testPool.QueryRow(ctx,
			`SELECT action, changed_by, changed_at FROM audit_log WHERE id = $1`,
			entry.ID).Scan(&action, &changedBy, &changedAt)
		if err != nil {
			t.Fatalf("could not read the audit row back: %v", err)
		}
		if action != string(model.AuditCreate) || changedBy != "owner-1" {
			t.Fatalf("unexpected audit row %s/%s", action, changedBy)
		}
		if changedAt.IsZero() {
			t.Fatal("changed_at was not stored")
		}
	})

	t.Run("bulk records collapse to one aggregate row", func(t *testing.T) {
		cleanup(t)

		meta := model.BulkMeta{Count: 3, Metadata: map[string]any{"sweep": "stale"}}
		if err := repo.RecordBulk(ctx, nil, "processing_jobs", model.AuditBulkUpdate, meta, "reconciler", "stale sweep"); err != nil {
			t.Fatalf("RecordBulk failed: %v", err)
		}

		var n int
		if err := testPool.QueryRow(ctx,
			`SELECT count(*) FROM audit_log WHERE record_id = '*'`).Scan(&n); err != nil {
			t.Fatalf("count failed: %v", err)
		}
		if n != 1 {
			t.Fatalf("expected one aggregate row, got %d", n)
		}
	})
}
