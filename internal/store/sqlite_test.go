package store

import (
	"path/filepath"
	"testing"
)

func TestNewDB(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	db, err := NewDB(dbPath)
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	defer db.Close()

	// Verify tables were created by querying sqlite_master.
	rows, err := db.Query("SELECT name FROM sqlite_master WHERE type='table' ORDER BY name")
	if err != nil {
		t.Fatalf("query tables: %v", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("scan table name: %v", err)
		}
		tables = append(tables, name)
	}

	expected := map[string]bool{
		"runs":              true,
		"run_events":        true,
		"repair_attempts":   true,
		"budget_usage":      true,
		"catalog_snapshots": true,
		"handoff_audit":     true,
	}
	found := make(map[string]bool)
	for _, name := range tables {
		found[name] = true
	}
	for name := range expected {
		if !found[name] {
			t.Errorf("missing table %q", name)
		}
	}
}

func TestNewDB_Reopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	for i := 0; i < 2; i++ {
		db, err := NewDB(dbPath)
		if err != nil {
			t.Fatalf("NewDB #%d: %v", i, err)
		}
		db.Close()
	}
}
