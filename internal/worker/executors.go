package worker

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"walter/apps/backend/features/job"
	"walter/apps/backend/internal/adapter/gemini"
	"walter/apps/backend/internal/adapter/objstore"
	"walter/apps/backend/internal/adapter/ocr"
	"walter/apps/backend/internal/pipeline"
)

// executeStage runs the side effect for the job's current stage and
// returns the payload to carry into the next one. Failures are
// transient unless wrapped with Permanent.
func (w *Worker) executeStage(ctx context.Context, j *job.Job) (*job.StagePayload, error) {
	switch j.Stage {
	case pipeline.StageVerifyingUpload:
		return w.verifyUpload(ctx, j)
	case pipeline.StageExtractingText:
		return w.extractText(ctx, j)
	case pipeline.StageParsingAI:
		return w.parseReceipt(ctx, j)
	case pipeline.StageUpdatingRecords:
		return w.updateRecords(ctx, j)
	default:
		return nil, Permanent(fmt.Errorf("unknown stage %q", j.Stage))
	}
}

func (w *Worker) verifyUpload(ctx context.Context, j *job.Job) (*job.StagePayload, error) {
	details, err := w.receipts.GetDetails(ctx, j.ReceiptID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, Permanent(fmt.Errorf("receipt %s not found", j.ReceiptID))
		}
		return nil, fmt.Errorf("fetch receipt: %w", err)
	}

	info, err := w.objects.Stat(ctx, details.ObjectKey)
	if err != nil {
		if errors.Is(err, objstore.ErrObjectNotFound) {
			return nil, Permanent(fmt.Errorf("object %s not found in storage", details.ObjectKey))
		}
		return nil, fmt.Errorf("stat object: %w", err)
	}

	if details.SizeBytes > 0 && info.Size != details.SizeBytes {
		return nil, Permanent(fmt.Errorf("object size %d does not match declared %d", info.Size, details.SizeBytes))
	}

	if details.ContentType != "" && info.ContentType != "" && !strings.EqualFold(info.ContentType, details.ContentType) {
		return nil, Permanent(fmt.Errorf("object content type %q does not match declared %q", info.ContentType, details.ContentType))
	}

	return nil, nil
}

func (w *Worker) extractText(ctx context.Context, j *job.Job) (*job.StagePayload, error) {
	details, err := w.receipts.GetDetails(ctx, j.ReceiptID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, Permanent(fmt.Errorf("receipt %s not found", j.ReceiptID))
		}
		return nil, fmt.Errorf("fetch receipt: %w", err)
	}

	body, err := w.objects.Get(ctx, details.ObjectKey)
	if err != nil {
		if errors.Is(err, objstore.ErrObjectNotFound) {
			return nil, Permanent(fmt.Errorf("object %s not found in storage", details.ObjectKey))
		}
		return nil, fmt.Errorf("get object: %w", err)
	}
	defer body.Close()

	text, err := w.extractor.ExtractText(ctx, body, details.ContentType)
	if err != nil {
		if errors.Is(err, ocr.ErrUnreadable) {
			return nil, Permanent(fmt.Errorf("extract text: %w", err))
		}
		return nil, fmt.Errorf("extract text: %w", err)
	}

	// Oversized documents get truncated rather than rejected; the
	// parser only needs the line items and totals near the top. The cut
	// must land on a rune boundary or the stored text is invalid UTF-8.
	if w.ocrMaxChars > 0 && len(text) > w.ocrMaxChars {
		cut := w.ocrMaxChars
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}

	return &job.StagePayload{OCRText: text}, nil
}

func (w *Worker) parseReceipt(ctx context.Context, j *job.Job) (*job.StagePayload, error) {
	if j.OCRText == "" {
		return nil, Permanent(errors.New("no extracted text to parse"))
	}

	parsed, err := w.parser.Parse(ctx, j.OCRText)
	if err != nil {
		if errors.Is(err, gemini.ErrUnparseable) {
			return nil, Permanent(fmt.Errorf("parse receipt: %w", err))
		}
		return nil, fmt.Errorf("parse receipt: %w", err)
	}

	raw, err := json.Marshal(parsed)
	if err != nil {
		return nil, Permanent(fmt.Errorf("marshal parsed receipt: %w", err))
	}

	return &job.StagePayload{Parsed: raw}, nil
}

func (w *Worker) updateRecords(ctx context.Context, j *job.Job) (*job.StagePayload, error) {
	if len(j.Parsed) == 0 {
		return nil, Permanent(errors.New("no parsed receipt to apply"))
	}

	var parsed pipeline.ParsedReceipt
	if err := json.Unmarshal(j.Parsed, &parsed); err != nil {
		return nil, Permanent(fmt.Errorf("unmarshal parsed receipt: %w", err))
	}

	if err := w.ledger.ApplyParsed(ctx, j.ReceiptID, j.UserID, &parsed); err != nil {
		return nil, fmt.Errorf("apply ledger records: %w", err)
	}

	if err := w.receipts.UpdateStatus(ctx, j.ReceiptID, "processed"); err != nil {
		return nil, fmt.Errorf("mark receipt processed: %w", err)
	}

	return nil, nil
}
