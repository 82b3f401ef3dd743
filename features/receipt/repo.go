package receipt

import (
	"context"
	"database/sql"

	"walter/apps/backend/internal/worker"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const receiptColumns = `id, user_id, object_key, file_name, content_type, size_bytes, status, created_at, updated_at`

func (r *PostgresRepo) Create(ctx context.Context, rcpt *Receipt) error {
	query := `INSERT INTO receipts (user_id, object_key, file_name, content_type, size_bytes, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`
	return r.db.QueryRowContext(ctx, query,
		rcpt.UserID, rcpt.ObjectKey, rcpt.FileName, rcpt.ContentType, rcpt.SizeBytes, rcpt.Status,
	).Scan(&rcpt.ID, &rcpt.CreatedAt, &rcpt.UpdatedAt)
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (*Receipt, error) {
	rcpt := &Receipt{}
	query := `SELECT ` + receiptColumns + ` FROM receipts WHERE id = $1`
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&rcpt.ID, &rcpt.UserID, &rcpt.ObjectKey, &rcpt.FileName, &rcpt.ContentType,
		&rcpt.SizeBytes, &rcpt.Status, &rcpt.CreatedAt, &rcpt.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return rcpt, nil
}

func (r *PostgresRepo) List(ctx context.Context, userID string) ([]Receipt, error) {
	query := `SELECT ` + receiptColumns + ` FROM receipts WHERE user_id = $1 ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var receipts []Receipt
	for rows.Next() {
		var rcpt Receipt
		if err := rows.Scan(
			&rcpt.ID, &rcpt.UserID, &rcpt.ObjectKey, &rcpt.FileName, &rcpt.ContentType,
			&rcpt.SizeBytes, &rcpt.Status, &rcpt.CreatedAt, &rcpt.UpdatedAt,
		); err != nil {
			return nil, err
		}
		receipts = append(receipts, rcpt)
	}
	return receipts, rows.Err()
}

func (r *PostgresRepo) UpdateStatus(ctx context.Context, id, status string) error {
	query := `UPDATE receipts SET status = $1, updated_at = NOW() WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, status, id)
	return err
}

func (r *PostgresRepo) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM receipts WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

func (r *PostgresRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM receipts`).Scan(&count)
	return count, err
}

// GetDetails serves the pipeline worker, which only needs the storage
// coordinates to verify and fetch the file.
func (r *PostgresRepo) GetDetails(ctx context.Context, id string) (*worker.ReceiptDetails, error) {
	query := `SELECT object_key, content_type, size_bytes FROM receipts WHERE id = $1`
	details := &worker.ReceiptDetails{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(&details.ObjectKey, &details.ContentType, &details.SizeBytes)
	if err != nil {
		return nil, err
	}
	return details, nil
}
