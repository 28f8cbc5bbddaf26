package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"invoice-extraction-pipeline/internal/domain"
	"invoice-extraction-pipeline/internal/domain/model"
	"invoice-extraction-pipeline/internal/domain/ports/repository"
)

var _ repository.InvoiceRepository = (*invoiceRepo)(nil)

type invoiceRepo struct {
	pool *pgxpool.Pool
}

func NewInvoiceRepo(pool *pgxpool.Pool) *invoiceRepo {
	return &invoiceRepo{pool: pool}
}

func (r *invoiceRepo) Save(ctx context.Context, tx repository.Tx, inv *model.Invoice) error {
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now()
	}
	items, err := json.Marshal(inv.LineItems)
	if err != nil {
		return fmt.Errorf("marshal line items: %w", err)
	}

	const q = `
INSERT INTO invoices
  (id, job_id, owner_id, vendor_name, invoice_number, invoice_date, due_date,
   subtotal, tax, total, currency_code, line_items, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13);`

	_, err = execSQL(ctx, r.pool, tx, q,
		inv.ID, inv.JobID, inv.OwnerID, inv.VendorName, inv.InvoiceNumber, inv.InvoiceDate,
		inv.DueDate, inv.Subtotal, inv.Tax, inv.Total, inv.CurrencyCode, items, inv.CreatedAt)
	if isUniqueViolation(err) {
		return domain.ErrDuplicateInvoice
	}
	return err
}

const invoiceColumns = `id, job_id, owner_id, vendor_name, invoice_number, invoice_date, due_date,
subtotal, tax, total, currency_code, line_items, created_at`

func (r *invoiceRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Invoice, error) {
	q := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = $1;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	return scanInvoice(row)
}

func (r *invoiceRepo) FindByJobID(ctx context.Context, tx repository.Tx, jobID string) (*model.Invoice, error) {
	q := `SELECT ` + invoiceColumns + ` FROM invoices WHERE job_id = $1;`
	row, err := pickRow(ctx, r.pool, tx, q, jobID)
	if err != nil {
		return nil, err
	}
	return scanInvoice(row)
}

func scanInvoice(row interface {
	Scan(dest ...interface{}) error
}) (*model.Invoice, error) {
	var (
		inv   model.Invoice
		items []byte
	)
	err := row.Scan(
		&inv.ID, &inv.JobID, &inv.OwnerID, &inv.VendorName, &inv.InvoiceNumber, &inv.InvoiceDate,
		&inv.DueDate, &inv.Subtotal, &inv.Tax, &inv.Total, &inv.CurrencyCode, &items, &inv.CreatedAt)
	if err != nil {
		return nil, translateScan(err)
	}
	if len(items) > 0 {
		if err := json.Unmarshal(items, &inv.LineItems); err != nil {
			return nil, fmt.Errorf("decode line items: %w", err)
		}
	}
	return &inv, nil
}
