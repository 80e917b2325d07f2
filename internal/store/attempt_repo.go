package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/quantforge/alphagate/internal/domain"
)

// AttemptRepo handles persistence for RepairAttempt records.
type AttemptRepo struct{}

// InsertTx stores one attempt of a run within an existing transaction.
func (r *AttemptRepo) InsertTx(ctx context.Context, tx *sql.Tx, runID string, a domain.RepairAttempt) error {
	const q = `INSERT INTO repair_attempts (run_id, attempt_index, draft_expression, report_json, action_taken, resulting_candidate, signature)
VALUES (?, ?, ?, ?, ?, ?, ?)`
	report, err := json.Marshal(a.Report)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	_, err = tx.ExecContext(ctx, q,
		runID,
		a.Index,
		a.Draft,
		string(report),
		string(a.Action),
		a.ResultingCandidate,
		string(a.Signature),
	)
	if err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

// ListByRun returns the attempts of a run in order.
func (r *AttemptRepo) ListByRun(ctx context.Context, db *sql.DB, runID string) ([]domain.RepairAttempt, error) {
	const q = `SELECT attempt_index, draft_expression, report_json, action_taken, resulting_candidate, signature
FROM repair_attempts
WHERE run_id = ?
ORDER BY attempt_index ASC`

	rows, err := db.QueryContext(ctx, q, runID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	var attempts []domain.RepairAttempt
	for rows.Next() {
		var a domain.RepairAttempt
		var report, action, sig string
		if err := rows.Scan(&a.Index, &a.Draft, &report, &action, &a.ResultingCandidate, &sig); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		if err := json.Unmarshal([]byte(report), &a.Report); err != nil {
			return nil, fmt.Errorf("decode report: %w", err)
		}
		a.Action = domain.RepairAction(action)
		a.Signature = domain.ErrorSignature(sig)
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}
