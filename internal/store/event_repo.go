package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/quantforge/alphagate/internal/domain"
)

// EventRepo handles persistence for RunEvent records.
type EventRepo struct{}

// AppendTx inserts a run event within an existing transaction.
func (r *EventRepo) AppendTx(ctx context.Context, tx *sql.Tx, event domain.RunEvent) error {
	const q = `INSERT INTO run_events (run_id, candidate_id, seq_no, event_type, attempt, payload_json, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`
	payload := []byte("{}")
	if len(event.Payload) > 0 {
		var err error
		if payload, err = json.Marshal(event.Payload); err != nil {
			return fmt.Errorf("encode event payload: %w", err)
		}
	}
	_, err := tx.ExecContext(ctx, q,
		event.RunID,
		event.CandidateID,
		event.SeqNo,
		string(event.Type),
		event.Attempt,
		string(payload),
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// ListByRun returns events for a run with sequence numbers greater than sinceSeq,
// ordered by sequence number ascending.
func (r *EventRepo) ListByRun(ctx context.Context, db *sql.DB, runID string, sinceSeq int64) ([]domain.RunEvent, error) {
	const q = `SELECT id, run_id, candidate_id, seq_no, event_type, attempt, payload_json, created_at
FROM run_events
WHERE run_id = ? AND seq_no > ?
ORDER BY seq_no ASC`

	rows, err := db.QueryContext(ctx, q, runID, sinceSeq)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []domain.RunEvent
	for rows.Next() {
		var e domain.RunEvent
		var typ, payload string
		if err := rows.Scan(&e.ID, &e.RunID, &e.CandidateID, &e.SeqNo, &typ, &e.Attempt, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Type = domain.EventType(typ)
		if payload != "{}" {
			if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
				return nil, fmt.Errorf("decode event payload: %w", err)
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
