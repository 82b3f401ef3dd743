package ledger

import (
	"context"
	"database/sql"
	"fmt"

	"walter/apps/backend/internal/pipeline"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

// ApplyParsed upserts the record for a receipt and replaces its line
// items in one transaction. Keyed on receipt_id so a worker retrying
// the stage, or a second worker finishing a reclaimed job, lands on
// the same row instead of duplicating it.
func (r *PostgresRepo) ApplyParsed(ctx context.Context, receiptID, userID string, parsed *pipeline.ParsedReceipt) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var recordID string
	query := `INSERT INTO ledger_records (user_id, receipt_id, merchant, txn_date, amount, currency, category)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (receipt_id) DO UPDATE SET
			merchant = EXCLUDED.merchant,
			txn_date = EXCLUDED.txn_date,
			amount = EXCLUDED.amount,
			currency = EXCLUDED.currency,
			category = EXCLUDED.category,
			updated_at = NOW()
		RETURNING id`
	err = tx.QueryRowContext(ctx, query,
		userID, receiptID, parsed.Merchant, parsed.Date, parsed.Amount, parsed.Currency, parsed.Category,
	).Scan(&recordID)
	if err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM ledger_record_items WHERE record_id = $1`, recordID); err != nil {
		return fmt.Errorf("clear items: %w", err)
	}

	for _, item := range parsed.Items {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO ledger_record_items (record_id, description, quantity, amount) VALUES ($1, $2, $3, $4)`,
			recordID, item.Description, item.Quantity, item.Amount,
		)
		if err != nil {
			return fmt.Errorf("insert item: %w", err)
		}
	}

	return tx.Commit()
}

const recordColumns = `id, user_id, COALESCE(receipt_id::text, ''), merchant, to_char(txn_date, 'YYYY-MM-DD'), amount, currency, category, created_at, updated_at`

func (r *PostgresRepo) List(ctx context.Context, userID string) ([]Record, error) {
	query := `SELECT ` + recordColumns + ` FROM ledger_records WHERE user_id = $1 ORDER BY txn_date DESC, created_at DESC`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(
			&rec.ID, &rec.UserID, &rec.ReceiptID, &rec.Merchant, &rec.Date,
			&rec.Amount, &rec.Currency, &rec.Category, &rec.CreatedAt, &rec.UpdatedAt,
		); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (*Record, error) {
	rec := &Record{}
	query := `SELECT ` + recordColumns + ` FROM ledger_records WHERE id = $1`
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&rec.ID, &rec.UserID, &rec.ReceiptID, &rec.Merchant, &rec.Date,
		&rec.Amount, &rec.Currency, &rec.Category, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	items, err := r.getItems(ctx, id)
	if err != nil {
		return nil, err
	}
	rec.Items = items
	return rec, nil
}

func (r *PostgresRepo) getItems(ctx context.Context, recordID string) ([]Item, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, record_id, description, quantity, amount FROM ledger_record_items WHERE record_id = $1 ORDER BY id`,
		recordID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.RecordID, &item.Description, &item.Quantity, &item.Amount); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *PostgresRepo) Delete(ctx context.Context, id string) error {
	// Items go with it via ON DELETE CASCADE.
	_, err := r.db.ExecContext(ctx, `DELETE FROM ledger_records WHERE id = $1`, id)
	return err
}

func (r *PostgresRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ledger_records`).Scan(&count)
	return count, err
}

func (r *PostgresRepo) TotalByCategory(ctx context.Context, userID string) (map[string]float64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT category, SUM(amount) FROM ledger_records WHERE user_id = $1 GROUP BY category`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	totals := make(map[string]float64)
	for rows.Next() {
		var category string
		var total float64
		if err := rows.Scan(&category, &total); err != nil {
			return nil, err
		}
		totals[category] = total
	}
	return totals, rows.Err()
}
