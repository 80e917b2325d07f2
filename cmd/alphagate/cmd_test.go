package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/quantforge/alphagate/internal/domain"
)

const testCatalog = `
operators:
  - name: rank
    category: Cross Sectional
    scope: REGULAR
    arity: 1
  - name: ts_delta
    category: Time Series
    scope: REGULAR
    arity: 2
datasets:
  - id: pv1
    name: Price Volume Data
    category: Price Volume
    subcategory_id: pv-price-volume
    subcategory_name: Price Volume
fields:
  - id: close
    dataset_id: pv1
    type: matrix
    description: daily close price
  - id: volume
    dataset_id: pv1
    type: matrix
    description: daily traded volume
`

// writeConfig writes a synthetic-provider config into a temp dir. When
// withCatalog is false the pipeline reads the catalog from the database.
func writeConfig(t *testing.T, withCatalog bool) (cfgPath, catalogPath string) {
	t.Helper()
	dir := t.TempDir()
	catalogPath = filepath.Join(dir, "catalog.yaml")
	if err := os.WriteFile(catalogPath, []byte(testCatalog), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	cfg := "db_path: " + filepath.Join(dir, "alphagate.db") + "\n" +
		"log:\n  level: error\n" +
		"generation:\n  provider: synthetic\n"
	if withCatalog {
		cfg += "catalog_path: " + catalogPath + "\n"
	}
	cfgPath = filepath.Join(dir, "alphagate.yaml")
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return cfgPath, catalogPath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out, "alphagate dev") {
		t.Errorf("output = %q", out)
	}
}

func TestValidate(t *testing.T) {
	cfg, _ := writeConfig(t, true)

	out, err := execute(t, "--config", cfg, "validate", "rank(ts_delta(close, 5))")
	if err != nil {
		t.Fatalf("validate: %v\n%s", err, out)
	}
	var report domain.ValidationReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if !report.Passed {
		t.Errorf("report = %+v, want passed", report)
	}

	out, err = execute(t, "--config", cfg, "validate", "bogus_op(close)")
	if !errors.Is(err, errValidationFailed) {
		t.Fatalf("err = %v, want errValidationFailed", err)
	}
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.Passed || len(report.Errors) == 0 {
		t.Errorf("report = %+v, want errors", report)
	}
}

func TestValidate_FromFile(t *testing.T) {
	cfg, _ := writeConfig(t, true)
	exprPath := filepath.Join(t.TempDir(), "alpha.txt")
	if err := os.WriteFile(exprPath, []byte("rank(volume)\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := execute(t, "--config", cfg, "validate", "--file", exprPath); err != nil {
		t.Fatalf("validate --file: %v", err)
	}
}

func TestValidate_NoExpression(t *testing.T) {
	cfg, _ := writeConfig(t, true)
	if _, err := execute(t, "--config", cfg, "validate"); err == nil {
		t.Fatal("expected an error without an expression")
	}
}

func TestRun_DryRun(t *testing.T) {
	cfg, _ := writeConfig(t, true)

	out, err := execute(t, "--config", cfg, "run", "--dry-run", "--run-id", "run-cli", "price momentum")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	var sum domain.RunSummary
	if err := json.Unmarshal([]byte(out), &sum); err != nil {
		t.Fatalf("decode summary %q: %v", out, err)
	}
	if sum.RunID != "run-cli" {
		t.Errorf("run_id = %q", sum.RunID)
	}
	if sum.FinalState != domain.RunPassed {
		t.Errorf("final_state = %s (%s), want passed", sum.FinalState, sum.Reason)
	}
	if sum.EventOrderViolation {
		t.Error("unexpected event order violation")
	}
	if !strings.Contains(sum.FinalExpression, "close") && !strings.Contains(sum.FinalExpression, "volume") {
		t.Errorf("final_expression = %q", sum.FinalExpression)
	}
}

func TestRun_QueriesFile(t *testing.T) {
	cfg, _ := writeConfig(t, true)
	qPath := filepath.Join(t.TempDir(), "queries.txt")
	if err := os.WriteFile(qPath, []byte("price momentum\n# skipped\n\nvolume reversal\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "--config", cfg, "run", "--dry-run", "--queries-file", qPath)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d summaries, want 2:\n%s", len(lines), out)
	}
}

func TestRun_RunIDNeedsOneQuery(t *testing.T) {
	cfg, _ := writeConfig(t, true)
	qPath := filepath.Join(t.TempDir(), "queries.txt")
	if err := os.WriteFile(qPath, []byte("a\nb\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := execute(t, "--config", cfg, "run", "--dry-run", "--run-id", "x", "--queries-file", qPath); err == nil {
		t.Fatal("expected an error")
	}
}

func TestCatalogImportAndStats(t *testing.T) {
	cfg, catalogPath := writeConfig(t, false)

	if _, err := execute(t, "--config", cfg, "catalog", "stats"); err == nil {
		t.Fatal("stats on an empty database should fail")
	}

	out, err := execute(t, "--config", cfg, "catalog", "import", catalogPath)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if !strings.Contains(out, "2 operators, 1 datasets, 2 fields") {
		t.Errorf("import output = %q", out)
	}

	out, err = execute(t, "--config", cfg, "catalog", "stats")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	var stats map[string]int
	if err := json.Unmarshal([]byte(out), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats["operators"] != 2 || stats["fields"] != 2 {
		t.Errorf("stats = %v", stats)
	}

	// The imported catalog backs validation when no catalog file is set.
	if _, err := execute(t, "--config", cfg, "validate", "rank(close)"); err != nil {
		t.Fatalf("validate against imported catalog: %v", err)
	}
}

func TestResolveConfigPath(t *testing.T) {
	if got := resolveConfigPath("explicit.yaml"); got != "explicit.yaml" {
		t.Errorf("flag: got %q", got)
	}
	t.Setenv("ALPHAGATE_CONFIG", "/etc/alphagate.yaml")
	if got := resolveConfigPath(""); got != "/etc/alphagate.yaml" {
		t.Errorf("env: got %q", got)
	}
}
