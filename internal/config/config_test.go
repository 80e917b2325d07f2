package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/quantforge/alphagate/internal/domain"
)

// validYAML returns a minimal valid configuration.
func validYAML() string {
	return `
db_path: /tmp/test.db
catalog_path: /tmp/catalog.yaml
generation:
  model: gpt-test
budget:
  per_day_tokens: 100000
`
}

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoad_Valid(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "alphagate.yaml", validYAML())

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DBPath != "/tmp/test.db" {
		t.Errorf("DBPath = %q, want /tmp/test.db", cfg.DBPath)
	}
	if cfg.Generation.Model != "gpt-test" {
		t.Errorf("Model = %q, want gpt-test", cfg.Generation.Model)
	}
	if cfg.Budget.PerDayTokens != 100000 {
		t.Errorf("PerDayTokens = %d, want 100000", cfg.Budget.PerDayTokens)
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "alphagate.yaml", validYAML())

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:9810" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.MaxConcurrentWorkers != 4 {
		t.Errorf("MaxConcurrentWorkers = %d, want 4", cfg.MaxConcurrentWorkers)
	}
	if cfg.Generation.MaxCompletionTokens != 1600 {
		t.Errorf("MaxCompletionTokens = %d, want 1600", cfg.Generation.MaxCompletionTokens)
	}
	if cfg.Budget.PerBatchTokens != 52000 {
		t.Errorf("PerBatchTokens = %d, want 52000", cfg.Budget.PerBatchTokens)
	}
	if cfg.Retrieval.MaxPromptTokens != 12000 {
		t.Errorf("MaxPromptTokens = %d, want 12000", cfg.Retrieval.MaxPromptTokens)
	}
	if cfg.Repair.MaxRepairAttempts != 3 {
		t.Errorf("MaxRepairAttempts = %d, want 3", cfg.Repair.MaxRepairAttempts)
	}

	bp := cfg.BudgetPolicy()
	if bp.Exploit.Fields != 60 || bp.Explore.Operators != 12 || bp.ExploreFloor != 1 {
		t.Errorf("BudgetPolicy = %+v", bp)
	}
	if len(bp.FallbackSteps) != 4 || bp.FallbackSteps[0] != 0.85 {
		t.Errorf("FallbackSteps = %v", bp.FallbackSteps)
	}
	ep := cfg.ExpansionPolicy()
	if !ep.Enabled || ep.FieldFactor != 1.5 || ep.OperatorFactor != 1.25 || ep.ReserveTokens != 2500 {
		t.Errorf("ExpansionPolicy = %+v", ep)
	}
}

func TestLoad_JSONDocument(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "alphagate.json",
		`{"db_path": "/tmp/j.db", "repair": {"max_repair_attempts": 5}}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Repair.MaxRepairAttempts != 5 {
		t.Errorf("MaxRepairAttempts = %d, want 5", cfg.Repair.MaxRepairAttempts)
	}
	if cfg.Repair.StopOnRepeatedError {
		t.Error("StopOnRepeatedError should default to false")
	}
}

func TestLoad_StopOnRepeatedError(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "alphagate.yaml", `
repair:
  stop_on_repeated_error: true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Repair.StopOnRepeatedError {
		t.Error("StopOnRepeatedError = false, want true")
	}
	if cfg.Repair.MaxRepairAttempts != 3 {
		t.Errorf("MaxRepairAttempts = %d, want default 3", cfg.Repair.MaxRepairAttempts)
	}
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DBPath != "alphagate.db" {
		t.Errorf("DBPath = %q, want alphagate.db", cfg.DBPath)
	}
}

func TestLoad_ExpansionDisabled(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "alphagate.yaml", `
retrieval:
  expansion:
    enabled: false
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ExpansionPolicy().Enabled {
		t.Error("expansion should be disabled")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv(EnvDBPath, "/env/db.sqlite")
	t.Setenv(EnvListenAddr, ":7000")
	t.Setenv(EnvCatalogPath, "/env/catalog.yaml")
	t.Setenv("ALT_KEY", "sk-test")

	path := writeConfig(t, t.TempDir(), "alphagate.yaml", `
db_path: /tmp/test.db
generation:
  api_key_env: ALT_KEY
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DBPath != "/env/db.sqlite" {
		t.Errorf("DBPath = %q, want env override", cfg.DBPath)
	}
	if cfg.ListenAddr != ":7000" {
		t.Errorf("ListenAddr = %q, want :7000", cfg.ListenAddr)
	}
	if cfg.CatalogPath != "/env/catalog.yaml" {
		t.Errorf("CatalogPath = %q, want env override", cfg.CatalogPath)
	}
	if cfg.Generation.APIKey != "sk-test" {
		t.Errorf("APIKey = %q, want sk-test", cfg.Generation.APIKey)
	}
}

func TestLoad_APIKeyNotReadFromFile(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	path := writeConfig(t, t.TempDir(), "alphagate.yaml", `
generation:
  api_key: sk-from-file
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Generation.APIKey != "" {
		t.Errorf("APIKey = %q, want empty", cfg.Generation.APIKey)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "bad provider",
			content: "generation:\n  provider: carrier-pigeon\n",
			want:    "generation.provider",
		},
		{
			name:    "fallback step out of range",
			content: "retrieval:\n  fallback_steps: [0.9, 1.5]\n",
			want:    "retrieval.fallback_steps",
		},
		{
			name:    "warn ratio above one",
			content: "budget:\n  warn_ratio: 1.5\n",
			want:    "budget.warn_ratio",
		},
		{
			name:    "too many attempts",
			content: "repair:\n  max_repair_attempts: 50\n",
			want:    "repair.max_repair_attempts",
		},
		{
			name:    "negative lane bound",
			content: "retrieval:\n  explore:\n    fields: -1\n",
			want:    "retrieval.explore.fields",
		},
		{
			name:    "bad log format",
			content: "log:\n  format: xml\n",
			want:    "log.format",
		},
		{
			name:    "expansion factor below one",
			content: "retrieval:\n  expansion:\n    field_factor: 0.5\n",
			want:    "retrieval.expansion.field_factor",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, t.TempDir(), "alphagate.yaml", tt.content)
			_, err := Load(path)
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, domain.ErrConfigInvalid) {
				t.Errorf("error = %v, want ErrConfigInvalid", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err.Error(), tt.want)
			}
		})
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/alphagate.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "alphagate.yaml", "db_path: [unclosed")
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}
