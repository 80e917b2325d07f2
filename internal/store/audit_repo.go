package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// HandoffRecord is one validated-candidate request and its decision.
type HandoffRecord struct {
	ID        string   `json:"id"`
	RunID     string   `json:"run_id"`
	Allowed   bool     `json:"allowed"`
	Blockers  []string `json:"blockers"`
	CreatedAt int64    `json:"created_at"`
}

// AuditRepo handles persistence for handoff audit entries.
type AuditRepo struct{}

// Record inserts an audit record.
func (r *AuditRepo) Record(ctx context.Context, db *sql.DB, rec HandoffRecord) error {
	const q = `INSERT INTO handoff_audit (id, run_id, allowed, blockers_json, created_at)
VALUES (?, ?, ?, ?, ?)`
	blockers, err := json.Marshal(nonNil(rec.Blockers))
	if err != nil {
		return fmt.Errorf("encode blockers: %w", err)
	}
	_, err = db.ExecContext(ctx, q,
		rec.ID,
		rec.RunID,
		boolInt(rec.Allowed),
		string(blockers),
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record audit: %w", err)
	}
	return nil
}

// ListByRun returns all audit records for a run, ordered by creation time.
func (r *AuditRepo) ListByRun(ctx context.Context, db *sql.DB, runID string) ([]HandoffRecord, error) {
	const q = `SELECT id, run_id, allowed, blockers_json, created_at
FROM handoff_audit
WHERE run_id = ?
ORDER BY created_at ASC, id ASC`

	rows, err := db.QueryContext(ctx, q, runID)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	var recs []HandoffRecord
	for rows.Next() {
		var h HandoffRecord
		var allowed int
		var blockers string
		if err := rows.Scan(&h.ID, &h.RunID, &allowed, &blockers, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		h.Allowed = allowed != 0
		if err := json.Unmarshal([]byte(blockers), &h.Blockers); err != nil {
			return nil, fmt.Errorf("decode blockers: %w", err)
		}
		recs = append(recs, h)
	}
	return recs, rows.Err()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
