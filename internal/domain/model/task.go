package model

// TaskKind is a closed set of task variants. Dispatch happens through a
// switch in the worker; an unrecognized kind fails the job instead of being
// routed by string.
type TaskKind string

const (
	TaskInvoiceExtraction TaskKind = "invoice_extraction"
)

// TaskRequest is a tagged variant: Kind selects which payload pointer is set.
type TaskRequest struct {
	Kind              TaskKind
	InvoiceExtraction *InvoiceExtractionTask
}

// InvoiceExtractionTask carries everything the orchestrator needs; the file
// bytes never pass through the core, only the blob reference does.
type InvoiceExtractionTask struct {
	BlobRef             string
	Filename            string
	AutoSave            bool
	ConfidenceThreshold float64
}

func NewInvoiceExtractionRequest(blobRef, filename string, autoSave bool, threshold float64) TaskRequest {
	return TaskRequest{
		Kind: TaskInvoiceExtraction,
		InvoiceExtraction: &InvoiceExtractionTask{
			BlobRef:             blobRef,
			Filename:            filename,
			AutoSave:            autoSave,
			ConfidenceThreshold: threshold,
		},
	}
}
