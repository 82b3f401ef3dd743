package job

import (
	"context"
	"encoding/json"
	"log/slog"

	"walter/apps/backend/internal/config"
	"walter/apps/backend/internal/middleware"
	"walter/apps/backend/internal/pipeline"
	"walter/apps/backend/internal/settings"
)

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

type SettingsService interface {
	Get(ctx context.Context) (*settings.Settings, error)
}

type Service struct {
	repo            Repository
	pub             EventPublisher
	settings        SettingsService
	fallbackRetries int
}

func NewService(repo Repository, pub EventPublisher, settingsSvc SettingsService, fallbackRetries int) *Service {
	return &Service{repo: repo, pub: pub, settings: settingsSvc, fallbackRetries: fallbackRetries}
}

// Enqueue creates the pipeline job for a confirmed receipt upload. The
// job starts at the first stage; the published event only wakes the
// worker early, the row itself is what gets claimed.
func (s *Service) Enqueue(ctx context.Context, receiptID, userID string) (*Job, error) {
	maxAttempts := s.fallbackRetries
	if s.settings != nil {
		if set, err := s.settings.Get(ctx); err == nil && set.JobMaxAttempts > 0 {
			maxAttempts = set.JobMaxAttempts
		}
	}

	j := &Job{
		ReceiptID:   receiptID,
		UserID:      userID,
		Stage:       pipeline.StageVerifyingUpload,
		Status:      pipeline.StatusQueued,
		MaxAttempts: maxAttempts,
	}
	if err := s.repo.Create(ctx, j); err != nil {
		return nil, err
	}

	if s.pub != nil {
		payload, _ := json.Marshal(map[string]interface{}{
			"job_id":         j.ID,
			"receipt_id":     receiptID,
			"correlation_id": middleware.GetCorrelationID(ctx),
		})
		if err := s.pub.Publish(config.TopicReceiptJob, payload); err != nil {
			// The poller will still find the row on its next tick.
			slog.ErrorContext(ctx, "failed to publish job wake event", "error", err, "job_id", j.ID)
		} else {
			slog.InfoContext(ctx, "published job wake event", "job_id", j.ID, "receipt_id", receiptID)
		}
	}

	return j, nil
}

// Status returns the job as seen by a polling client.
func (s *Service) Status(ctx context.Context, id string) (*Job, error) {
	return s.repo.Get(ctx, id)
}

// StatusByReceipt returns the latest job for a receipt.
func (s *Service) StatusByReceipt(ctx context.Context, receiptID string) (*Job, error) {
	return s.repo.GetByReceipt(ctx, receiptID)
}

func (s *Service) ListFailed(ctx context.Context) ([]Job, error) {
	return s.repo.ListFailed(ctx)
}

func (s *Service) Count(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}
