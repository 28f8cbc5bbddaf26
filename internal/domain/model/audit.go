package model

import "time"

type AuditAction string

const (
	AuditCreate     AuditAction = "CREATE"
	AuditUpdate     AuditAction = "UPDATE"
	AuditDelete     AuditAction = "DELETE"
	AuditBulkCreate AuditAction = "BULK_CREATE"
	AuditBulkUpdate AuditAction = "BULK_UPDATE"
	AuditBulkDelete AuditAction = "BULK_DELETE"
)

// AuditEntry is an append-only provenance record. It is written in the same
// transaction as the mutation it documents, so a rolled-back business write
// leaves no orphan audit row. Never mutated after insert.
type AuditEntry struct {
	ID        string
	TableName string
	RecordID  string
	Action    AuditAction
	OldValues map[string]any
	NewValues map[string]any
	ChangedBy string
	Reason    string
	ChangedAt time.Time
}

// BulkMeta summarizes a bulk mutation: one aggregate row instead of one row
// per affected record.
type BulkMeta struct {
	Count    int            `json:"count"`
	Metadata map[string]any `json:"metadata,omitempty"`
}
