package repository

import (
	"context"

	"invoice-extraction-pipeline/internal/domain/model"
)

type InvoiceRepository interface {
	// Save persists the invoice and its line items. Must run inside the
	// caller's transaction when tx is non-nil. Returns
	// domain.ErrDuplicateInvoice when the job already has a saved invoice.
	Save(ctx context.Context, tx Tx, inv *model.Invoice) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Invoice, error)
	FindByJobID(ctx context.Context, tx Tx, jobID string) (*model.Invoice, error)
}
