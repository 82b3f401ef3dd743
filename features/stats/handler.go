package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"walter/apps/backend/internal/middleware"
	"walter/apps/backend/internal/pipeline"
)

type ReceiptRepo interface {
	Count(ctx context.Context) (int, error)
}

type JobRepo interface {
	Count(ctx context.Context) (int, error)
	CountByStatus(ctx context.Context, status pipeline.Status) (int, error)
}

type LedgerRepo interface {
	Count(ctx context.Context) (int, error)
}

type Handler struct {
	receiptRepo ReceiptRepo
	jobRepo     JobRepo
	ledgerRepo  LedgerRepo
}

func NewHandler(r ReceiptRepo, j JobRepo, l LedgerRepo) *Handler {
	return &Handler{receiptRepo: r, jobRepo: j, ledgerRepo: l}
}

type StatsResponse struct {
	Receipts   int `json:"receipts"`
	Records    int `json:"records"`
	Jobs       int `json:"jobs"`
	QueuedJobs int `json:"queued_jobs"`
	FailedJobs int `json:"failed_jobs"`
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	slog.InfoContext(ctx, "getting stats", "correlationId", correlationID)

	rCount, err := h.receiptRepo.Count(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count receipts", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count receipts", http.StatusInternalServerError)
		return
	}

	lCount, err := h.ledgerRepo.Count(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count records", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count records", http.StatusInternalServerError)
		return
	}

	jCount, err := h.jobRepo.Count(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count jobs", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count jobs", http.StatusInternalServerError)
		return
	}

	queued, err := h.jobRepo.CountByStatus(ctx, pipeline.StatusQueued)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count queued jobs", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count queued jobs", http.StatusInternalServerError)
		return
	}

	failed, err := h.jobRepo.CountByStatus(ctx, pipeline.StatusFailed)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count failed jobs", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count failed jobs", http.StatusInternalServerError)
		return
	}

	resp := StatsResponse{
		Receipts:   rCount,
		Records:    lCount,
		Jobs:       jCount,
		QueuedJobs: queued,
		FailedJobs: failed,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": resp}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
