package worker

import (
	"context"
	"errors"
	"io"
	"time"

	"walter/apps/backend/features/job"
	"walter/apps/backend/internal/adapter/objstore"
	"walter/apps/backend/internal/pipeline"
)

type JobStore interface {
	Claim(ctx context.Context, owner string, lease time.Duration) (*job.Job, error)
	Advance(ctx context.Context, id, owner string, next pipeline.Stage, payload *job.StagePayload) error
	Requeue(ctx context.Context, id, owner, lastError string) error
	Fail(ctx context.Context, id, owner, lastError string) error
}

type ObjectStore interface {
	Stat(ctx context.Context, key string) (objstore.ObjectInfo, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

type TextExtractor interface {
	ExtractText(ctx context.Context, body io.Reader, contentType string) (string, error)
}

type ReceiptParser interface {
	Parse(ctx context.Context, text string) (*pipeline.ParsedReceipt, error)
}

type LedgerStore interface {
	ApplyParsed(ctx context.Context, receiptID, userID string, parsed *pipeline.ParsedReceipt) error
}

type ReceiptDetails struct {
	ObjectKey   string
	ContentType string
	SizeBytes   int64
}

type ReceiptStore interface {
	GetDetails(ctx context.Context, id string) (*ReceiptDetails, error)
	UpdateStatus(ctx context.Context, id, status string) error
}

// PermanentError wraps failures that retrying cannot fix, such as a
// missing object or content no model can parse. The worker fails the
// job immediately instead of consuming remaining attempts.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
