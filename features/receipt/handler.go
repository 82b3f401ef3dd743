package receipt

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"walter/apps/backend/internal/middleware"
)

type Handler struct {
	service        *Service
	maxUploadBytes int64
}

func NewHandler(service *Service, maxUploadBytes int64) *Handler {
	return &Handler{service: service, maxUploadBytes: maxUploadBytes}
}

// userID resolves the caller. Auth proper sits in front of this
// service; the gateway forwards the identity in a header.
func userID(r *http.Request) string {
	if id := r.Header.Get("X-User-ID"); id != "" {
		return id
	}
	return "default"
}

func (h *Handler) Presign(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FileName    string `json:"file_name"`
		ContentType string `json:"content_type"`
		SizeBytes   int64  `json:"size_bytes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}
	if req.FileName == "" {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "file_name is required", http.StatusBadRequest)
		return
	}
	if req.SizeBytes <= 0 {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "size_bytes must be positive", http.StatusBadRequest)
		return
	}
	if req.SizeBytes > h.maxUploadBytes {
		h.writeError(r.Context(), w, "PAYLOAD_TOO_LARGE", "file exceeds upload limit", http.StatusRequestEntityTooLarge)
		return
	}

	result, err := h.service.Presign(r.Context(), userID(r), req.FileName, req.ContentType, req.SizeBytes)
	if err != nil {
		if errors.Is(err, ErrUnsupportedType) {
			h.writeError(r.Context(), w, "VALIDATION_ERROR", "unsupported content type", http.StatusBadRequest)
			return
		}
		slog.Error("presign failed", "error", err, "file_name", req.FileName)
		h.writeError(r.Context(), w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": result}); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	result, err := h.service.Confirm(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			h.writeError(r.Context(), w, "NOT_FOUND", "Receipt not found", http.StatusNotFound)
		case errors.Is(err, ErrNotUploaded):
			h.writeError(r.Context(), w, "UPLOAD_INCOMPLETE", "No uploaded file found for this receipt", http.StatusConflict)
		case errors.Is(err, ErrSizeMismatch):
			h.writeError(r.Context(), w, "UPLOAD_MISMATCH", "Uploaded file does not match the declared size", http.StatusConflict)
		default:
			slog.Error("confirm failed", "error", err, "receipt_id", id)
			h.writeError(r.Context(), w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": result}); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	receipts, err := h.service.List(r.Context(), userID(r))
	if err != nil {
		h.writeError(r.Context(), w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}
	if receipts == nil {
		receipts = []Receipt{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"data": receipts,
		"meta": map[string]int{"count": len(receipts)},
	}); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rcpt, err := h.service.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			h.writeError(r.Context(), w, "NOT_FOUND", "Receipt not found", http.StatusNotFound)
			return
		}
		h.writeError(r.Context(), w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": rcpt}); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	url, err := h.service.DownloadURL(r.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			h.writeError(r.Context(), w, "NOT_FOUND", "Receipt not found", http.StatusNotFound)
			return
		}
		h.writeError(r.Context(), w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": map[string]string{"url": url}}); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.service.Delete(r.Context(), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			h.writeError(r.Context(), w, "NOT_FOUND", "Receipt not found", http.StatusNotFound)
			return
		}
		h.writeError(r.Context(), w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Scan parses an inline upload without storing anything.
func (h *Handler) Scan(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	contentType := r.Header.Get("Content-Type")
	parsed, err := h.service.Scan(r.Context(), r.Body, contentType)
	if err != nil {
		if errors.Is(err, ErrUnsupportedType) {
			h.writeError(r.Context(), w, "VALIDATION_ERROR", "unsupported content type", http.StatusBadRequest)
			return
		}
		slog.Error("scan failed", "error", err)
		h.writeError(r.Context(), w, "SCAN_FAILED", "Could not read the receipt", http.StatusUnprocessableEntity)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": parsed}); err != nil {
		slog.Error("failed to encode response", "error", err)
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
