package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/quantforge/alphagate/internal/domain"
)

// RunRepo handles persistence for RunState rows. Attempts and events live
// in their own tables.
type RunRepo struct{}

// CreateTx inserts a new run within an existing transaction.
func (r *RunRepo) CreateTx(ctx context.Context, tx *sql.Tx, state *domain.RunState) error {
	const q = `INSERT INTO runs (run_id, candidate_id, query, status, state_version, expansions, structural_repairs,
	tokens_reserved, event_order_violation, signature_history_json, reason, created_at_unix, updated_at_unix)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	sigs, err := json.Marshal(signatures(state.SignatureHistory))
	if err != nil {
		return fmt.Errorf("encode signature history: %w", err)
	}
	_, err = tx.ExecContext(ctx, q,
		state.RunID,
		state.CandidateID,
		state.Query,
		string(state.Status),
		state.StateVersion,
		state.Expansions,
		state.StructuralRepairs,
		state.TokensReserved,
		boolInt(state.EventOrderViolation),
		string(sigs),
		state.Reason,
		state.CreatedAtUnix,
		state.UpdatedAtUnix,
	)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// VersionTx returns the stored state_version of a run, or 0 if the run is
// not stored.
func (r *RunRepo) VersionTx(ctx context.Context, tx *sql.Tx, runID string) (int64, error) {
	var v int64
	err := tx.QueryRowContext(ctx, `SELECT state_version FROM runs WHERE run_id = ?`, runID).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get run version: %w", err)
	}
	return v, nil
}

const runColumns = `run_id, candidate_id, query, status, state_version, expansions, structural_repairs,
	tokens_reserved, event_order_violation, signature_history_json, reason, created_at_unix, updated_at_unix`

// GetByID retrieves a run by its ID, without attempts or events.
func (r *RunRepo) GetByID(ctx context.Context, db *sql.DB, runID string) (*domain.RunState, error) {
	row := db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID)
	s, err := scanRun(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrRunNotFound
		}
		return nil, fmt.Errorf("get run: %w", err)
	}
	return s, nil
}

// ListRecent returns up to limit runs, most recently updated first.
func (r *RunRepo) ListRecent(ctx context.Context, db *sql.DB, limit int) ([]*domain.RunState, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY updated_at_unix DESC, run_id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*domain.RunState
	for rows.Next() {
		s, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, s)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*domain.RunState, error) {
	var s domain.RunState
	var status, sigs string
	var violation int
	err := row.Scan(&s.RunID, &s.CandidateID, &s.Query, &status, &s.StateVersion, &s.Expansions,
		&s.StructuralRepairs, &s.TokensReserved, &violation, &sigs, &s.Reason, &s.CreatedAtUnix, &s.UpdatedAtUnix)
	if err != nil {
		return nil, err
	}
	s.Status = domain.RunStatus(status)
	s.EventOrderViolation = violation != 0
	var history []string
	if err := json.Unmarshal([]byte(sigs), &history); err != nil {
		return nil, fmt.Errorf("decode signature history: %w", err)
	}
	for _, h := range history {
		s.SignatureHistory = append(s.SignatureHistory, domain.ErrorSignature(h))
	}
	return &s, nil
}

func signatures(h []domain.ErrorSignature) []string {
	out := make([]string, len(h))
	for i, s := range h {
		out[i] = string(s)
	}
	return out
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
