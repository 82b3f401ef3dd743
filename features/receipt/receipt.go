package receipt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"time"

	"github.com/google/uuid"

	"walter/apps/backend/features/job"
	"walter/apps/backend/internal/adapter/objstore"
	"walter/apps/backend/internal/pipeline"
)

const (
	StatusPendingUpload = "pending_upload"
	StatusUploaded      = "uploaded"
	StatusProcessed     = "processed"
	StatusFailed        = "failed"
)

var (
	ErrUnsupportedType = errors.New("unsupported content type")
	ErrNotUploaded     = errors.New("upload not completed")
	ErrSizeMismatch    = errors.New("uploaded size does not match declared size")
)

// allowedTypes lists what the OCR sidecar can read.
var allowedTypes = map[string]bool{
	"image/jpeg":      true,
	"image/png":       true,
	"image/webp":      true,
	"application/pdf": true,
}

type Receipt struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	ObjectKey   string    `json:"-"`
	FileName    string    `json:"file_name"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Repository interface {
	Create(ctx context.Context, rcpt *Receipt) error
	Get(ctx context.Context, id string) (*Receipt, error)
	List(ctx context.Context, userID string) ([]Receipt, error)
	UpdateStatus(ctx context.Context, id, status string) error
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
}

type ObjectStore interface {
	PresignPut(ctx context.Context, key string, expiry time.Duration) (string, error)
	PresignGet(ctx context.Context, key, filename string, expiry time.Duration) (string, error)
	Stat(ctx context.Context, key string) (objstore.ObjectInfo, error)
	Remove(ctx context.Context, key string) error
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, receiptID, userID string) (*job.Job, error)
}

type TextExtractor interface {
	ExtractText(ctx context.Context, body io.Reader, contentType string) (string, error)
}

type ReceiptParser interface {
	Parse(ctx context.Context, text string) (*pipeline.ParsedReceipt, error)
}

type Service struct {
	repo          Repository
	objects       ObjectStore
	jobs          JobEnqueuer
	extractor     TextExtractor
	parser        ReceiptParser
	presignExpiry time.Duration
}

func NewService(repo Repository, objects ObjectStore, jobs JobEnqueuer, extractor TextExtractor, parser ReceiptParser, presignExpiry time.Duration) *Service {
	return &Service{
		repo:          repo,
		objects:       objects,
		jobs:          jobs,
		extractor:     extractor,
		parser:        parser,
		presignExpiry: presignExpiry,
	}
}

type PresignResult struct {
	Receipt   *Receipt `json:"receipt"`
	UploadURL string   `json:"upload_url"`
}

// Presign registers the upload and hands back a URL the client PUTs the
// file to directly. The receipt stays pending_upload until Confirm.
func (s *Service) Presign(ctx context.Context, userID, fileName, contentType string, sizeBytes int64) (*PresignResult, error) {
	if !allowedTypes[contentType] {
		return nil, ErrUnsupportedType
	}

	rcpt := &Receipt{
		UserID:      userID,
		ObjectKey:   fmt.Sprintf("receipts/%s/%s%s", userID, uuid.New().String(), path.Ext(fileName)),
		FileName:    path.Base(fileName),
		ContentType: contentType,
		SizeBytes:   sizeBytes,
		Status:      StatusPendingUpload,
	}
	if err := s.repo.Create(ctx, rcpt); err != nil {
		return nil, err
	}

	uploadURL, err := s.objects.PresignPut(ctx, rcpt.ObjectKey, s.presignExpiry)
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "presigned receipt upload", "receipt_id", rcpt.ID, "object_key", rcpt.ObjectKey)
	return &PresignResult{Receipt: rcpt, UploadURL: uploadURL}, nil
}

type ConfirmResult struct {
	Receipt *Receipt `json:"receipt"`
	Job     *job.Job `json:"job"`
}

// Confirm checks the object actually landed in storage, marks the
// receipt uploaded and enqueues the processing job.
func (s *Service) Confirm(ctx context.Context, id string) (*ConfirmResult, error) {
	rcpt, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	info, err := s.objects.Stat(ctx, rcpt.ObjectKey)
	if err != nil {
		if errors.Is(err, objstore.ErrObjectNotFound) {
			return nil, ErrNotUploaded
		}
		return nil, err
	}
	if rcpt.SizeBytes > 0 && info.Size != rcpt.SizeBytes {
		return nil, ErrSizeMismatch
	}

	if err := s.repo.UpdateStatus(ctx, id, StatusUploaded); err != nil {
		return nil, err
	}
	rcpt.Status = StatusUploaded

	j, err := s.jobs.Enqueue(ctx, rcpt.ID, rcpt.UserID)
	if err != nil {
		return nil, fmt.Errorf("enqueue processing job: %w", err)
	}

	slog.InfoContext(ctx, "receipt upload confirmed", "receipt_id", rcpt.ID, "job_id", j.ID)
	return &ConfirmResult{Receipt: rcpt, Job: j}, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Receipt, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, userID string) ([]Receipt, error) {
	return s.repo.List(ctx, userID)
}

// DownloadURL returns a short-lived link to the original file.
func (s *Service) DownloadURL(ctx context.Context, id string) (string, error) {
	rcpt, err := s.repo.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return s.objects.PresignGet(ctx, rcpt.ObjectKey, rcpt.FileName, s.presignExpiry)
}

// Delete removes the stored object first so a failed removal never
// leaves an orphaned row pointing at nothing.
func (s *Service) Delete(ctx context.Context, id string) error {
	rcpt, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.objects.Remove(ctx, rcpt.ObjectKey); err != nil && !errors.Is(err, objstore.ErrObjectNotFound) {
		return err
	}
	return s.repo.Delete(ctx, id)
}

// Scan runs OCR and parsing synchronously on an uploaded body without
// creating any records. Used for a quick preview before committing.
func (s *Service) Scan(ctx context.Context, body io.Reader, contentType string) (*pipeline.ParsedReceipt, error) {
	if !allowedTypes[contentType] {
		return nil, ErrUnsupportedType
	}

	text, err := s.extractor.ExtractText(ctx, body, contentType)
	if err != nil {
		return nil, fmt.Errorf("extract text: %w", err)
	}

	parsed, err := s.parser.Parse(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("parse receipt: %w", err)
	}
	return parsed, nil
}
