package worker

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nsqio/go-nsq"
	"walter/apps/backend/internal/middleware"
)

// WakeConsumer turns queue events into worker nudges. The database row
// is the source of truth; a dropped or duplicated message only changes
// when the poller notices the job, never whether it runs.
type WakeConsumer struct {
	worker *Worker
}

func NewWakeConsumer(w *Worker) *WakeConsumer {
	return &WakeConsumer{worker: w}
}

func (h *WakeConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var payload JobWakePayload
	if err := json.Unmarshal(m.Body, &payload); err != nil {
		// Poison Pill: Invalid JSON, don't retry
		slog.Error("poison pill: invalid json", "error", err)
		return nil
	}

	ctx := context.Background()
	if payload.CorrelationID != "" {
		ctx = middleware.WithCorrelationID(ctx, payload.CorrelationID)
	}

	slog.InfoContext(ctx, "wake signal received", "job_id", payload.JobID, "receipt_id", payload.ReceiptID)
	h.worker.Wake()
	return nil
}
