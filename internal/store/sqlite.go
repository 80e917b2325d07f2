// Package store provides SQLite-backed persistence for finished runs, budget
// usage and imported catalogs.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// schemaV1 defines the initial database schema.
const schemaV1 = `
CREATE TABLE IF NOT EXISTS runs (
	run_id                 TEXT PRIMARY KEY,
	candidate_id           TEXT NOT NULL,
	query                  TEXT NOT NULL DEFAULT '',
	status                 TEXT NOT NULL DEFAULT 'pending',
	state_version          INTEGER NOT NULL DEFAULT 1,
	expansions             INTEGER NOT NULL DEFAULT 0,
	structural_repairs     INTEGER NOT NULL DEFAULT 0,
	tokens_reserved        INTEGER NOT NULL DEFAULT 0,
	event_order_violation  INTEGER NOT NULL DEFAULT 0,
	signature_history_json TEXT NOT NULL DEFAULT '[]',
	reason                 TEXT NOT NULL DEFAULT '',
	created_at_unix        INTEGER NOT NULL DEFAULT 0,
	updated_at_unix        INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_runs_updated ON runs(updated_at_unix);

CREATE TABLE IF NOT EXISTS run_events (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id       TEXT NOT NULL,
	candidate_id TEXT NOT NULL,
	seq_no       INTEGER NOT NULL,
	event_type   TEXT NOT NULL,
	attempt      INTEGER NOT NULL DEFAULT 0,
	payload_json TEXT NOT NULL DEFAULT '{}',
	created_at   INTEGER NOT NULL,
	UNIQUE(run_id, seq_no)
);
CREATE INDEX IF NOT EXISTS idx_run_events_run_seq ON run_events(run_id, seq_no);

CREATE TABLE IF NOT EXISTS repair_attempts (
	run_id              TEXT NOT NULL,
	attempt_index       INTEGER NOT NULL,
	draft_expression    TEXT NOT NULL DEFAULT '',
	report_json         TEXT NOT NULL DEFAULT '{}',
	action_taken        TEXT NOT NULL DEFAULT '',
	resulting_candidate TEXT NOT NULL DEFAULT '',
	signature           TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, attempt_index)
);

CREATE TABLE IF NOT EXISTS budget_usage (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id     TEXT NOT NULL,
	day        TEXT NOT NULL,
	tokens     INTEGER NOT NULL DEFAULT 0,
	reason     TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_budget_usage_day ON budget_usage(day);

CREATE TABLE IF NOT EXISTS catalog_snapshots (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	source     TEXT NOT NULL DEFAULT '',
	document   BLOB NOT NULL,
	checksum   TEXT NOT NULL DEFAULT '',
	operators  INTEGER NOT NULL DEFAULT 0,
	datasets   INTEGER NOT NULL DEFAULT 0,
	fields     INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS handoff_audit (
	id            TEXT PRIMARY KEY,
	run_id        TEXT NOT NULL,
	allowed       INTEGER NOT NULL DEFAULT 0,
	blockers_json TEXT NOT NULL DEFAULT '[]',
	created_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_handoff_audit_run ON handoff_audit(run_id);
`

// NewDB opens a SQLite database at the given path with recommended pragmas
// and runs the V1 schema migration.
func NewDB(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Limit connections to 1 for SQLite (WAL allows concurrent reads but single writer).
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return db, nil
}

func migrate(db *sql.DB) error {
	_, err := db.ExecContext(context.Background(), schemaV1)
	return err
}
