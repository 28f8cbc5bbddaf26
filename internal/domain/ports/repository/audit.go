package repository

import (
	"context"

	"invoice-extraction-pipeline/internal/domain/model"
)

// AuditLogRepository appends provenance rows. Record must be called with the
// same tx as the mutation it documents so both commit or roll back together.
type AuditLogRepository interface {
	Record(ctx context.Context, tx Tx, entry *model.AuditEntry) error
	// RecordBulk writes one aggregate row for a bulk mutation.
	RecordBulk(ctx context.Context, tx Tx, table string, action model.AuditAction, meta model.BulkMeta, actor, reason string) error
}
