package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

type Stage string

const (
	StageFetch      Stage = "fetch"
	StageExtraction Stage = "llm_extraction"
	StageValidation Stage = "validation"
	StageSave       Stage = "save"
	StageComplete   Stage = "complete"
)

// ProcessingJob is one unit of asynchronous extraction work. It is created
// synchronously on upload acceptance, mutated only by the worker executing it,
// and terminal once completed/failed (a retry creates a new job).
type ProcessingJob struct {
	ID          string
	OwnerID     string
	Kind        TaskKind
	Status      JobStatus
	Stage       Stage
	Progress    int
	BlobRef     string
	Filename    string
	AutoSave    bool
	Threshold   float64
	Result      *ExtractionResult
	Error       string
	Retries     int
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
	ViewedAt    *time.Time
}

func NewProcessingJob(id, ownerID string, req TaskRequest) *ProcessingJob {
	now := time.Now()
	j := &ProcessingJob{
		ID:        id,
		OwnerID:   ownerID,
		Kind:      req.Kind,
		Status:    JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if req.InvoiceExtraction != nil {
		j.BlobRef = req.InvoiceExtraction.BlobRef
		j.Filename = req.InvoiceExtraction.Filename
		j.AutoSave = req.InvoiceExtraction.AutoSave
		j.Threshold = req.InvoiceExtraction.ConfidenceThreshold
	}
	return j
}

// ReviewState of an extraction result that did not clear the auto-save bar.
type ReviewState string

const (
	ReviewNone     ReviewState = ""
	ReviewPending  ReviewState = "pending"
	ReviewApproved ReviewState = "approved"
	ReviewRejected ReviewState = "rejected"
)

// ExtractionResult is the structured payload of a completed job. Exactly one
// of Result/Error is ever set on a terminal job.
type ExtractionResult struct {
	Fields          InvoiceFields `json:"fields"`
	ConfidenceScore float64       `json:"confidence_score"`
	AutoSaved       bool          `json:"auto_saved"`
	InvoiceID       string        `json:"invoice_id,omitempty"`
	Review          ReviewState   `json:"review,omitempty"`
	Warnings        []string      `json:"warnings,omitempty"`
	Model           string        `json:"model,omitempty"`
}

// Hash returns a stable digest of the result used for the complete()
// idempotence check: completing twice with an identical result is a no-op.
func (r *ExtractionResult) Hash() string {
	if r == nil {
		return ""
	}
	b, _ := json.Marshal(r)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
