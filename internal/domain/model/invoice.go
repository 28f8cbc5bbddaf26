package model

import "time"

// InvoiceFields is the structured data the LLM extracts from an invoice
// image. Money amounts travel as decimal strings ("123.45") so nothing is
// lost to float rounding before validation parses them.
type InvoiceFields struct {
	VendorName    string        `json:"vendor_name"`
	InvoiceNumber string        `json:"invoice_number"`
	InvoiceDate   string        `json:"invoice_date"` // YYYY-MM-DD
	DueDate       string        `json:"due_date,omitempty"`
	Subtotal      string        `json:"subtotal,omitempty"`
	Tax           string        `json:"tax,omitempty"`
	Total         string        `json:"total"`
	CurrencyCode  string        `json:"currency_code"`
	LineItems     []InvoiceLine `json:"line_items,omitempty"`
	Confidence    float64       `json:"confidence"`
}

type InvoiceLine struct {
	Description string `json:"description"`
	Quantity    string `json:"quantity,omitempty"`
	UnitPrice   string `json:"unit_price,omitempty"`
	Amount      string `json:"amount"`
}

// Invoice is the persisted domain entity, written only when confidence
// clears the threshold and auto-save was requested, or when a reviewer
// approves the result.
type Invoice struct {
	ID            string
	JobID         string
	OwnerID       string
	VendorName    string
	InvoiceNumber string
	InvoiceDate   string
	DueDate       string
	Subtotal      string
	Tax           string
	Total         string
	CurrencyCode  string
	LineItems     []InvoiceLine
	CreatedAt     time.Time
}

func InvoiceFromFields(id, jobID, ownerID string, f InvoiceFields) *Invoice {
	return &Invoice{
		ID:            id,
		JobID:         jobID,
		OwnerID:       ownerID,
		VendorName:    f.VendorName,
		InvoiceNumber: f.InvoiceNumber,
		InvoiceDate:   f.InvoiceDate,
		DueDate:       f.DueDate,
		Subtotal:      f.Subtotal,
		Tax:           f.Tax,
		Total:         f.Total,
		CurrencyCode:  f.CurrencyCode,
		LineItems:     f.LineItems,
		CreatedAt:     time.Now(),
	}
}
