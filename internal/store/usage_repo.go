package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/quantforge/alphagate/internal/domain"
)

// UsageRepo handles persistence for budget usage records.
type UsageRepo struct{}

// DayOf returns the UTC budget day of a unix timestamp.
func DayOf(unix int64) string {
	return time.Unix(unix, 0).UTC().Format("2006-01-02")
}

// CreateTx inserts a usage record within an existing transaction.
func (r *UsageRepo) CreateTx(ctx context.Context, tx *sql.Tx, rec domain.UsageRecord) error {
	const q = `INSERT INTO budget_usage (run_id, day, tokens, reason, created_at)
VALUES (?, ?, ?, ?, ?)`
	_, err := tx.ExecContext(ctx, q,
		rec.RunID,
		DayOf(rec.CreatedAt),
		rec.Tokens,
		rec.Reason,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create usage record: %w", err)
	}
	return nil
}

// SumByDay returns the tokens recorded for day.
func (r *UsageRepo) SumByDay(ctx context.Context, db *sql.DB, day string) (int64, error) {
	var total int64
	err := db.QueryRowContext(ctx, `SELECT COALESCE(SUM(tokens), 0) FROM budget_usage WHERE day = ?`, day).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum usage: %w", err)
	}
	return total, nil
}

// ListByRun returns all usage records for a run, ordered by creation time.
func (r *UsageRepo) ListByRun(ctx context.Context, db *sql.DB, runID string) ([]domain.UsageRecord, error) {
	const q = `SELECT run_id, tokens, reason, created_at
FROM budget_usage
WHERE run_id = ?
ORDER BY created_at ASC, id ASC`

	rows, err := db.QueryContext(ctx, q, runID)
	if err != nil {
		return nil, fmt.Errorf("list usage: %w", err)
	}
	defer rows.Close()

	var recs []domain.UsageRecord
	for rows.Next() {
		var u domain.UsageRecord
		if err := rows.Scan(&u.RunID, &u.Tokens, &u.Reason, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}
		recs = append(recs, u)
	}
	return recs, rows.Err()
}
