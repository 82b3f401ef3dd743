package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/lthibault/jitterbug/v2"
	"walter/apps/backend/features/job"
	"walter/apps/backend/internal/pipeline"
)

type Worker struct {
	id        string
	jobs      JobStore
	receipts  ReceiptStore
	objects   ObjectStore
	extractor TextExtractor
	parser    ReceiptParser
	ledger    LedgerStore

	pollInterval  time.Duration
	leaseDuration time.Duration
	stageTimeout  time.Duration
	ocrMaxChars   int

	wake chan struct{}
}

type Config struct {
	ID            string
	PollInterval  time.Duration
	LeaseDuration time.Duration
	StageTimeout  time.Duration
	OCRMaxChars   int
}

func New(cfg Config, jobs JobStore, receipts ReceiptStore, objects ObjectStore, extractor TextExtractor, parser ReceiptParser, ledger LedgerStore) *Worker {
	return &Worker{
		id:            cfg.ID,
		jobs:          jobs,
		receipts:      receipts,
		objects:       objects,
		extractor:     extractor,
		parser:        parser,
		ledger:        ledger,
		pollInterval:  cfg.PollInterval,
		leaseDuration: cfg.LeaseDuration,
		stageTimeout:  cfg.StageTimeout,
		ocrMaxChars:   cfg.OCRMaxChars,
		wake:          make(chan struct{}, 1),
	}
}

// Wake nudges the worker to poll immediately instead of waiting for
// the next tick. Safe to call from any goroutine; extra nudges while
// one is pending are dropped.
func (w *Worker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Run polls for claimable jobs until the context is cancelled. The
// ticker is jittered so multiple workers sharing a database don't
// thundering-herd the claim query.
func (w *Worker) Run(ctx context.Context) {
	ticker := jitterbug.New(w.pollInterval, &jitterbug.Norm{Stdev: w.pollInterval / 10, Mean: 0})
	defer ticker.Stop()

	slog.Info("worker started", "worker_id", w.id, "poll_interval", w.pollInterval)

	for {
		w.drain(ctx)

		select {
		case <-ctx.Done():
			slog.Info("worker stopping", "worker_id", w.id)
			return
		case <-ticker.C:
		case <-w.wake:
		}
	}
}

// drain claims and processes jobs until the queue is empty. A job in
// flight is finished before cancellation is observed, so shutdown
// never abandons a held lease mid-stage.
func (w *Worker) drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		j, err := w.jobs.Claim(ctx, w.id, w.leaseDuration)
		if err != nil {
			if !errors.Is(err, job.ErrNoClaimableJobs) {
				slog.Error("claim failed", "worker_id", w.id, "error", err)
			}
			return
		}

		w.processJob(ctx, j)
	}
}

func (w *Worker) processJob(ctx context.Context, j *job.Job) {
	slog.Info("processing job", "job_id", j.ID, "receipt_id", j.ReceiptID, "stage", j.Stage, "attempt", j.Attempts)

	// A claimed job runs to completion even during shutdown: the stage
	// and its outcome writes are detached from run cancellation and
	// bounded by the stage timeout instead, so a SIGTERM mid-stage
	// cannot strand the job leased with an unpersisted outcome.
	ctx = context.WithoutCancel(ctx)
	stageCtx, cancel := context.WithTimeout(ctx, w.stageTimeout)
	payload, err := w.executeStage(stageCtx, j)
	cancel()

	if err == nil {
		next := pipeline.Next(j.Stage, false)
		if err := w.jobs.Advance(ctx, j.ID, w.id, next, payload); err != nil {
			w.logLeaseOutcome(j, "advance", err)
			return
		}
		slog.Info("stage completed", "job_id", j.ID, "stage", j.Stage, "next", next)
		return
	}

	if IsPermanent(err) {
		slog.Error("permanent failure", "job_id", j.ID, "stage", j.Stage, "error", err)
		if failErr := w.jobs.Fail(ctx, j.ID, w.id, err.Error()); failErr != nil {
			w.logLeaseOutcome(j, "fail", failErr)
			return
		}
		w.markReceiptFailed(ctx, j)
		return
	}

	// Transient: the attempt already counted at claim time, so the
	// retry decision only looks at the accumulated total.
	if pipeline.DecideRetry(j.Attempts, j.MaxAttempts) == pipeline.StatusQueued {
		slog.Warn("transient failure, requeueing", "job_id", j.ID, "stage", j.Stage, "attempt", j.Attempts, "error", err)
		if reqErr := w.jobs.Requeue(ctx, j.ID, w.id, err.Error()); reqErr != nil {
			w.logLeaseOutcome(j, "requeue", reqErr)
		}
		return
	}

	slog.Error("retries exhausted", "job_id", j.ID, "stage", j.Stage, "attempts", j.Attempts, "error", err)
	if failErr := w.jobs.Fail(ctx, j.ID, w.id, err.Error()); failErr != nil {
		w.logLeaseOutcome(j, "fail", failErr)
		return
	}
	w.markReceiptFailed(ctx, j)
}

func (w *Worker) markReceiptFailed(ctx context.Context, j *job.Job) {
	if err := w.receipts.UpdateStatus(ctx, j.ReceiptID, "failed"); err != nil {
		slog.Error("failed to mark receipt failed", "receipt_id", j.ReceiptID, "error", err)
	}
}

// logLeaseOutcome distinguishes a lost lease, which another worker has
// legitimately taken over, from a real persistence failure.
func (w *Worker) logLeaseOutcome(j *job.Job, op string, err error) {
	if errors.Is(err, job.ErrLeaseLost) {
		slog.Warn("lease lost, dropping job", "job_id", j.ID, "op", op, "worker_id", w.id)
		return
	}
	slog.Error("job update failed", "job_id", j.ID, "op", op, "error", err)
}
