package job

import (
	"encoding/json"
	"time"

	"walter/apps/backend/internal/pipeline"
)

// Job is one unit of receipt-processing work. The row in receipt_jobs is
// the source of truth for stage, status, attempts and lease ownership;
// only the worker mutates it after creation.
type Job struct {
	ID          string          `json:"id"`
	ReceiptID   string          `json:"receipt_id"`
	UserID      string          `json:"user_id"`
	Stage       pipeline.Stage  `json:"stage"`
	Status      pipeline.Status `json:"status"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	LastError   string          `json:"last_error,omitempty"`

	// Lease bookkeeping, present only while status is processing.
	LeaseOwner     string     `json:"-"`
	LeaseExpiresAt *time.Time `json:"-"`

	// Stage payloads carried between attempts on the row itself.
	OCRText string          `json:"-"`
	Parsed  json.RawMessage `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StagePayload is what a successful stage execution leaves behind for the
// next stage.
type StagePayload struct {
	OCRText string
	Parsed  json.RawMessage
}
