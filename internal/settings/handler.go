package settings

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"walter/apps/backend/internal/middleware"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// GetSettings returns the singleton settings row with the API key
// masked; clients only need to know whether a key is configured.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.svc.Get(r.Context())
	if err != nil {
		h.writeError(r.Context(), w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}

	out := *s
	out.GeminiAPIKey = maskKey(out.GeminiAPIKey)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"data": out})
}

// UpdateSettings validates and persists the settings. An empty or
// masked gemini_api_key in the request means "keep the current key",
// so a client can round-trip the GET response without wiping it.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var s Settings
	if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}
	if s.JobMaxAttempts < 1 {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "job_max_attempts must be at least 1", http.StatusBadRequest)
		return
	}
	if s.DefaultCurrency != "" && len(s.DefaultCurrency) != 3 {
		h.writeError(r.Context(), w, "VALIDATION_ERROR", "default_currency must be a 3-letter code", http.StatusBadRequest)
		return
	}

	if s.GeminiAPIKey == "" || strings.HasPrefix(s.GeminiAPIKey, "****") {
		current, err := h.svc.Get(r.Context())
		if err != nil {
			h.writeError(r.Context(), w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
			return
		}
		s.GeminiAPIKey = current.GeminiAPIKey
	}

	if err := h.svc.Update(r.Context(), &s); err != nil {
		h.writeError(r.Context(), w, "INTERNAL_ERROR", err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func maskKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
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

	json.NewEncoder(w).Encode(resp)
}
