package job

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"walter/apps/backend/internal/pipeline"
)

// ErrNoClaimableJobs is returned by Claim when nothing is queued and no
// lease has expired. Not an error condition for the worker, just an empty
// poll.
var ErrNoClaimableJobs = errors.New("no claimable jobs")

// ErrLeaseLost is returned when a guarded update matches no row, meaning
// the caller's lease was taken over after expiring.
var ErrLeaseLost = errors.New("job lease lost")

type Repository interface {
	Create(ctx context.Context, j *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	GetByReceipt(ctx context.Context, receiptID string) (*Job, error)
	ListFailed(ctx context.Context) ([]Job, error)
	Count(ctx context.Context) (int, error)
	CountByStatus(ctx context.Context, status pipeline.Status) (int, error)

	// Worker-side operations. All updates are compare-and-set on
	// (id, lease_owner) so a worker whose lease expired cannot clobber
	// the job after another worker claimed it.
	Claim(ctx context.Context, owner string, lease time.Duration) (*Job, error)
	Advance(ctx context.Context, id, owner string, next pipeline.Stage, payload *StagePayload) error
	Requeue(ctx context.Context, id, owner, lastError string) error
	Fail(ctx context.Context, id, owner, lastError string) error
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const jobColumns = `id, receipt_id, user_id, stage, status, attempts, max_attempts, lease_owner, lease_expires_at, ocr_text, parsed, last_error, created_at, updated_at`

func (r *PostgresRepo) Create(ctx context.Context, j *Job) error {
	query := `INSERT INTO receipt_jobs (receipt_id, user_id, stage, status, max_attempts) VALUES ($1, $2, $3, $4, $5) RETURNING id, attempts, created_at, updated_at`
	return r.db.QueryRowContext(ctx, query, j.ReceiptID, j.UserID, j.Stage, j.Status, j.MaxAttempts).
		Scan(&j.ID, &j.Attempts, &j.CreatedAt, &j.UpdatedAt)
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM receipt_jobs WHERE id = $1`
	return scanJob(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepo) GetByReceipt(ctx context.Context, receiptID string) (*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM receipt_jobs WHERE receipt_id = $1 ORDER BY created_at DESC LIMIT 1`
	return scanJob(r.db.QueryRowContext(ctx, query, receiptID))
}

func (r *PostgresRepo) ListFailed(ctx context.Context) ([]Job, error) {
	query := `SELECT ` + jobColumns + ` FROM receipt_jobs WHERE status = 'failed' ORDER BY updated_at DESC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

func (r *PostgresRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM receipt_jobs`).Scan(&count)
	return count, err
}

func (r *PostgresRepo) CountByStatus(ctx context.Context, status pipeline.Status) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM receipt_jobs WHERE status = $1`, status).Scan(&count)
	return count, err
}

// Claim atomically takes the oldest claimable job: queued, or processing
// with an expired lease (a crashed worker's leftovers). SKIP LOCKED makes
// concurrent workers pick disjoint rows; exactly one wins any given job.
// The attempt counter is incremented inside the same statement so a crash
// after the claim still burns the attempt.
func (r *PostgresRepo) Claim(ctx context.Context, owner string, lease time.Duration) (*Job, error) {
	query := `
		UPDATE receipt_jobs SET
			status = 'processing',
			lease_owner = $1,
			lease_expires_at = NOW() + ($2 * INTERVAL '1 second'),
			attempts = COALESCE(attempts, 0) + 1,
			updated_at = NOW()
		WHERE id = (
			SELECT id FROM receipt_jobs
			WHERE status = 'queued'
			   OR (status = 'processing' AND lease_expires_at < NOW())
			ORDER BY created_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING ` + jobColumns
	j, err := scanJob(r.db.QueryRowContext(ctx, query, owner, int(lease.Seconds())))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoClaimableJobs
	}
	return j, err
}

// Advance moves a job to its next stage after a successful execution,
// persisting any payload the stage produced and clearing the lease and
// last error. A job advancing into the completed stage gets terminal
// status in the same write.
func (r *PostgresRepo) Advance(ctx context.Context, id, owner string, next pipeline.Stage, payload *StagePayload) error {
	status := pipeline.StatusQueued
	if next == pipeline.StageCompleted {
		status = pipeline.StatusCompleted
	}

	var ocrText any
	var parsed any
	if payload != nil && payload.OCRText != "" {
		ocrText = payload.OCRText
	}
	if payload != nil && len(payload.Parsed) > 0 {
		parsed = []byte(payload.Parsed)
	}

	query := `
		UPDATE receipt_jobs SET
			stage = $3,
			status = $4,
			ocr_text = COALESCE($5, ocr_text),
			parsed = COALESCE($6, parsed),
			last_error = NULL,
			lease_owner = NULL,
			lease_expires_at = NULL,
			updated_at = NOW()
		WHERE id = $1 AND lease_owner = $2 AND status = 'processing'`
	return r.guardedExec(ctx, query, id, owner, next, status, ocrText, parsed)
}

// Requeue puts a transiently failed job back in the queue at the same
// stage, recording the failure.
func (r *PostgresRepo) Requeue(ctx context.Context, id, owner, lastError string) error {
	query := `
		UPDATE receipt_jobs SET
			status = 'queued',
			last_error = $3,
			lease_owner = NULL,
			lease_expires_at = NULL,
			updated_at = NOW()
		WHERE id = $1 AND lease_owner = $2 AND status = 'processing'`
	return r.guardedExec(ctx, query, id, owner, lastError)
}

// Fail marks a job permanently failed. Terminal: no claim query ever
// matches a failed row again.
func (r *PostgresRepo) Fail(ctx context.Context, id, owner, lastError string) error {
	query := `
		UPDATE receipt_jobs SET
			stage = 'failed',
			status = 'failed',
			last_error = $3,
			lease_owner = NULL,
			lease_expires_at = NULL,
			updated_at = NOW()
		WHERE id = $1 AND lease_owner = $2 AND status = 'processing'`
	return r.guardedExec(ctx, query, id, owner, lastError)
}

func (r *PostgresRepo) guardedExec(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrLeaseLost
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanJob maps nullable columns defensively: a NULL attempts counter
// becomes -1 (most permissive for the retry policy) while a NULL
// max_attempts becomes 0 (most restrictive), matching DecideRetry's
// fail-safe handling of corrupted values.
func scanJob(row rowScanner) (*Job, error) {
	j := &Job{}
	var (
		attempts    sql.NullInt64
		maxAttempts sql.NullInt64
		leaseOwner  sql.NullString
		leaseExpiry sql.NullTime
		ocrText     sql.NullString
		parsed      []byte
		lastError   sql.NullString
	)

	err := row.Scan(&j.ID, &j.ReceiptID, &j.UserID, &j.Stage, &j.Status,
		&attempts, &maxAttempts, &leaseOwner, &leaseExpiry,
		&ocrText, &parsed, &lastError, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if attempts.Valid {
		j.Attempts = int(attempts.Int64)
	} else {
		j.Attempts = -1
	}
	if maxAttempts.Valid {
		j.MaxAttempts = int(maxAttempts.Int64)
	}
	j.LeaseOwner = leaseOwner.String
	if leaseExpiry.Valid {
		t := leaseExpiry.Time
		j.LeaseExpiresAt = &t
	}
	j.OCRText = ocrText.String
	if len(parsed) > 0 {
		j.Parsed = json.RawMessage(parsed)
	}
	j.LastError = lastError.String

	return j, nil
}

var _ Repository = (*PostgresRepo)(nil)
