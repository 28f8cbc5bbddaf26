package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"invoice-extraction-pipeline/internal/domain"
	"invoice-extraction-pipeline/internal/domain/model"
)

type enqueueRequest struct {
	OwnerID             string  `json:"owner_id"`
	BlobRef             string  `json:"blob_ref"`
	Filename            string  `json:"filename"`
	AutoSave            bool    `json:"auto_save"`
	ConfidenceThreshold float64 `json:"confidence_threshold"`
}

type jobResponse struct {
	ID          string                  `json:"id"`
	OwnerID     string                  `json:"owner_id"`
	Kind        string                  `json:"kind"`
	Status      string                  `json:"status"`
	Stage       string                  `json:"current_stage,omitempty"`
	Progress    int                     `json:"progress"`
	Filename    string                  `json:"filename,omitempty"`
	Result      *model.ExtractionResult `json:"result,omitempty"`
	Error       string                  `json:"error,omitempty"`
	CreatedAt   time.Time               `json:"created_at"`
	CompletedAt *time.Time              `json:"completed_at,omitempty"`
	ViewedAt    *time.Time              `json:"viewed_at,omitempty"`
}

func toJobResponse(j *model.ProcessingJob) jobResponse {
	return jobResponse{
		ID:          j.ID,
		OwnerID:     j.OwnerID,
		Kind:        string(j.Kind),
		Status:      string(j.Status),
		Stage:       string(j.Stage),
		Progress:    j.Progress,
		Filename:    j.Filename,
		Result:      j.Result,
		Error:       j.Error,
		CreatedAt:   j.CreatedAt,
		CompletedAt: j.CompletedAt,
		ViewedAt:    j.ViewedAt,
	}
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	task := model.NewInvoiceExtractionRequest(req.BlobRef, req.Filename, req.AutoSave, req.ConfidenceThreshold)
	job, err := s.intake.Enqueue(r.Context(), req.OwnerID, task)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, toJobResponse(job))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.intake.Status(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(job))
}

func (s *Server) handleMarkViewed(w http.ResponseWriter, r *http.Request) {
	if err := s.intake.MarkViewed(r.Context(), chi.URLParam(r, "jobID")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListUnviewed(w http.ResponseWriter, r *http.Request) {
	ownerID := r.URL.Query().Get("owner_id")
	if ownerID == "" {
		writeError(w, http.StatusBadRequest, "owner_id is required")
		return
	}
	jobs, err := s.intake.ListUnviewed(r.Context(), ownerID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := make([]jobResponse, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, toJobResponse(j))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleMintSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reviewer string `json:"reviewer"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Reviewer == "" {
		writeError(w, http.StatusBadRequest, "reviewer is required")
		return
	}
	if _, err := s.auth.Mint(w, req.Reviewer); err != nil {
		writeError(w, http.StatusInternalServerError, "could not mint session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	claims, err := s.auth.ParseFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	inv, err := s.review.Approve(r.Context(), chi.URLParam(r, "jobID"), claims.Subject)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"invoice_id": inv.ID})
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	claims, err := s.auth.ParseFromRequest(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.Reason == "" {
		req.Reason = "manual review rejected"
	}
	if err := s.review.Reject(r.Context(), chi.URLParam(r, "jobID"), claims.Subject, req.Reason); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrUnknownJob), errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrDuplicateJob), errors.Is(err, domain.ErrDuplicateInvoice):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrResultNotInReview):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrUnknownTaskKind):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
