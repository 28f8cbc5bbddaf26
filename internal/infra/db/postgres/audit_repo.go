package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4/pgxpool"

	"invoice-extraction-pipeline/internal/domain/model"
	"invoice-extraction-pipeline/internal/domain/ports/repository"
)

var _ repository.AuditLogRepository = (*auditRepo)(nil)

// auditRepo appends to audit_log. Rows are never updated or deleted; the
// table carries no UPDATE path at all.
type auditRepo struct {
	pool *pgxpool.Pool
}

func NewAuditRepo(pool *pgxpool.Pool) *auditRepo {
	return &auditRepo{pool: pool}
}

const auditColumns = `id, table_name, record_id, action, old_values, new_values, changed_by, reason, changed_at`

func (r *auditRepo) Record(ctx context.Context, tx repository.Tx, entry *model.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.ChangedAt.IsZero() {
		entry.ChangedAt = time.Now()
	}
	oldV, err := marshalValues(entry.OldValues)
	if err != nil {
		return err
	}
	newV, err := marshalValues(entry.NewValues)
	if err != nil {
		return err
	}

	const q = `
INSERT INTO audit_log (` + auditColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);`

	_, err = execSQL(ctx, r.pool, tx, q,
		entry.ID, entry.TableName, entry.RecordID, string(entry.Action),
		oldV, newV, entry.ChangedBy, entry.Reason, entry.ChangedAt)
	return err
}

func (r *auditRepo) RecordBulk(ctx context.Context, tx repository.Tx, table string, action model.AuditAction, meta model.BulkMeta, actor, reason string) error {
	newV := map[string]any{"count": meta.Count}
	for k, v := range meta.Metadata {
		newV[k] = v
	}
	return r.Record(ctx, tx, &model.AuditEntry{
		TableName: table,
		RecordID:  "*",
		Action:    action,
		NewValues: newV,
		ChangedBy: actor,
		Reason:    reason,
	})
}

func marshalValues(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal audit values: %w", err)
	}
	return b, nil
}
