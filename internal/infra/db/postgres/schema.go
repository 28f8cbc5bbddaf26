package postgres

// Schema creates the job ledger, the saved invoices and the append-only
// audit log. Statements are idempotent so the seeder can run repeatedly.
// All primary keys are application-generated strings (ULIDs for jobs,
// UUIDs for invoices and audit rows); nothing here is serial.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS processing_jobs (
		id            TEXT PRIMARY KEY,
		owner_id      TEXT NOT NULL,
		kind          TEXT NOT NULL,
		status        TEXT NOT NULL DEFAULT 'pending',
		current_stage TEXT NOT NULL DEFAULT '',
		progress      INT  NOT NULL DEFAULT 0,
		blob_ref      TEXT NOT NULL,
		filename      TEXT NOT NULL DEFAULT '',
		auto_save     BOOLEAN NOT NULL DEFAULT FALSE,
		confidence_threshold DOUBLE PRECISION NOT NULL DEFAULT 0.8,
		result        JSONB,
		error         TEXT NOT NULL DEFAULT '',
		retries       INT  NOT NULL DEFAULT 0,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
		completed_at  TIMESTAMPTZ,
		viewed_at     TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_pending
		ON processing_jobs (created_at) WHERE status = 'pending'`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_running_updated
		ON processing_jobs (updated_at) WHERE status = 'running'`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_owner_unviewed
		ON processing_jobs (owner_id) WHERE viewed_at IS NULL`,

	`CREATE TABLE IF NOT EXISTS invoices (
		id             TEXT PRIMARY KEY,
		job_id         TEXT NOT NULL REFERENCES processing_jobs(id),
		owner_id       TEXT NOT NULL,
		vendor_name    TEXT NOT NULL DEFAULT '',
		invoice_number TEXT NOT NULL DEFAULT '',
		invoice_date   TEXT NOT NULL DEFAULT '',
		due_date       TEXT NOT NULL DEFAULT '',
		subtotal       TEXT NOT NULL DEFAULT '',
		tax            TEXT NOT NULL DEFAULT '',
		total          TEXT NOT NULL DEFAULT '',
		currency_code  TEXT NOT NULL DEFAULT '',
		line_items     JSONB NOT NULL DEFAULT '[]',
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_invoices_owner ON invoices (owner_id)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_invoices_job ON invoices (job_id)`,

	`CREATE TABLE IF NOT EXISTS audit_log (
		id         TEXT PRIMARY KEY,
		table_name TEXT NOT NULL,
		record_id  TEXT NOT NULL,
		action     TEXT NOT NULL,
		old_values JSONB,
		new_values JSONB,
		changed_by TEXT NOT NULL,
		reason     TEXT NOT NULL DEFAULT '',
		changed_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_record ON audit_log (table_name, record_id)`,
}
