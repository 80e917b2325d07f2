// Package config loads the alphagate runtime configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/quantforge/alphagate/internal/domain"
)

// Environment overrides.
const (
	EnvDBPath      = "ALPHAGATE_DB_PATH"
	EnvListenAddr  = "ALPHAGATE_LISTEN_ADDR"
	EnvCatalogPath = "ALPHAGATE_CATALOG_PATH"
)

// LogConfig selects the logger level and encoding.
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json console"`
}

// GenerationConfig configures the draft provider.
type GenerationConfig struct {
	Provider            string  `yaml:"provider" validate:"oneof=openai synthetic"`
	Model               string  `yaml:"model"`
	BaseURL             string  `yaml:"base_url" validate:"omitempty,url"`
	APIKeyEnv           string  `yaml:"api_key_env" validate:"required"`
	Temperature         float32 `yaml:"temperature" validate:"gte=0,lte=2"`
	MaxCompletionTokens int     `yaml:"max_completion_tokens" validate:"gte=1"`
	RequestsPerMinute   int     `yaml:"requests_per_minute" validate:"gte=0"`
	TimeoutSec          int     `yaml:"timeout_sec" validate:"gte=0"`

	// APIKey is read from the APIKeyEnv variable, never from the file.
	APIKey string `yaml:"-"`
}

// Timeout returns the per-call timeout, zero for none.
func (g GenerationConfig) Timeout() time.Duration {
	return time.Duration(g.TimeoutSec) * time.Second
}

// BudgetConfig caps reserved tokens per scope. A zero per-request cap
// leaves single calls uncapped; the batch and day caps default when zero.
type BudgetConfig struct {
	PerRequestTokens int64   `yaml:"per_request_tokens" validate:"gte=0"`
	PerBatchTokens   int64   `yaml:"per_batch_tokens" validate:"gte=0"`
	PerDayTokens     int64   `yaml:"per_day_tokens" validate:"gte=0"`
	WarnRatio        float64 `yaml:"warn_ratio" validate:"gt=0,lte=1"`
}

// ExpansionConfig mirrors domain.ExpansionPolicy.
type ExpansionConfig struct {
	Enabled             *bool   `yaml:"enabled"`
	FieldFactor         float64 `yaml:"field_factor" validate:"gte=1"`
	OperatorFactor      float64 `yaml:"operator_factor" validate:"gte=1"`
	SubcategoryStep     int     `yaml:"subcategory_step" validate:"gte=1"`
	ReserveTokens       int     `yaml:"reserve_tokens" validate:"gte=0"`
	RepetitionThreshold int     `yaml:"repetition_threshold" validate:"gte=1"`
	MaxExpansions       int     `yaml:"max_expansions" validate:"gte=0"`
}

// RetrievalConfig configures context selection.
type RetrievalConfig struct {
	MaxPromptTokens int               `yaml:"max_prompt_tokens" validate:"gte=0"`
	Exploit         domain.LaneBounds `yaml:"exploit"`
	Explore         domain.LaneBounds `yaml:"explore"`
	ExploreFloor    int               `yaml:"explore_floor" validate:"gte=0"`
	FallbackSteps   []float64         `yaml:"fallback_steps" validate:"dive,gt=0,lt=1"`
	Expansion       ExpansionConfig   `yaml:"expansion"`
}

// RepairConfig bounds the repair loop. StopOnRepeatedError gives up once the
// same errors repeat and no expansion is left.
type RepairConfig struct {
	MaxRepairAttempts    int  `yaml:"max_repair_attempts" validate:"gte=1,lte=10"`
	MaxStructuralRepairs int  `yaml:"max_structural_repairs" validate:"gte=0"`
	StopOnRepeatedError  bool `yaml:"stop_on_repeated_error"`
}

// Config holds the pipeline's runtime configuration.
type Config struct {
	DBPath               string           `yaml:"db_path" validate:"required"`
	ListenAddr           string           `yaml:"listen_addr" validate:"required"`
	CatalogPath          string           `yaml:"catalog_path"`
	MaxConcurrentWorkers int              `yaml:"max_concurrent_workers" validate:"gte=1,lte=64"`
	Log                  LogConfig        `yaml:"log"`
	Generation           GenerationConfig `yaml:"generation"`
	Budget               BudgetConfig     `yaml:"budget"`
	Retrieval            RetrievalConfig  `yaml:"retrieval"`
	Repair               RepairConfig     `yaml:"repair"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads a YAML (or JSON) config file, applies defaults and environment
// overrides, and validates. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyDefaults()
	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.DBPath == "" {
		c.DBPath = "alphagate.db"
	}
	if c.ListenAddr == "" {
		c.ListenAddr = "127.0.0.1:9810"
	}
	if c.MaxConcurrentWorkers == 0 {
		c.MaxConcurrentWorkers = 4
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}

	g := &c.Generation
	if g.Provider == "" {
		g.Provider = "openai"
	}
	if g.Model == "" {
		g.Model = "gpt-4o-mini"
	}
	if g.APIKeyEnv == "" {
		g.APIKeyEnv = "OPENAI_API_KEY"
	}
	if g.MaxCompletionTokens == 0 {
		g.MaxCompletionTokens = 1600
	}
	if g.RequestsPerMinute == 0 {
		g.RequestsPerMinute = 60
	}
	if g.TimeoutSec == 0 {
		g.TimeoutSec = 60
	}

	b := &c.Budget
	if b.PerBatchTokens == 0 {
		b.PerBatchTokens = 52000
	}
	if b.PerDayTokens == 0 {
		b.PerDayTokens = 1_500_000
	}
	if b.WarnRatio == 0 {
		b.WarnRatio = 0.8
	}

	r := &c.Retrieval
	if r.MaxPromptTokens == 0 {
		r.MaxPromptTokens = 12000
	}
	if r.Exploit == (domain.LaneBounds{}) {
		r.Exploit = domain.LaneBounds{Subcategories: 4, Datasets: 14, Fields: 60, Operators: 48}
	}
	if r.Explore == (domain.LaneBounds{}) {
		r.Explore = domain.LaneBounds{Subcategories: 1, Datasets: 3, Fields: 12, Operators: 12}
	}
	if r.ExploreFloor == 0 {
		r.ExploreFloor = 1
	}
	if len(r.FallbackSteps) == 0 {
		r.FallbackSteps = []float64{0.85, 0.70, 0.55, 0.40}
	}

	e := &r.Expansion
	if e.Enabled == nil {
		on := true
		e.Enabled = &on
	}
	if e.FieldFactor == 0 {
		e.FieldFactor = 1.5
	}
	if e.OperatorFactor == 0 {
		e.OperatorFactor = 1.25
	}
	if e.SubcategoryStep == 0 {
		e.SubcategoryStep = 1
	}
	if e.ReserveTokens == 0 {
		e.ReserveTokens = 2500
	}
	if e.RepetitionThreshold == 0 {
		e.RepetitionThreshold = 2
	}
	if e.MaxExpansions == 0 {
		e.MaxExpansions = 2
	}

	if c.Repair.MaxRepairAttempts == 0 {
		c.Repair.MaxRepairAttempts = 3
	}
	if c.Repair.MaxStructuralRepairs == 0 {
		c.Repair.MaxStructuralRepairs = 2
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvDBPath); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv(EnvListenAddr); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv(EnvCatalogPath); v != "" {
		c.CatalogPath = v
	}
	c.Generation.APIKey = os.Getenv(c.Generation.APIKeyEnv)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (c *Config) validate() error {
	var problems []string

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return domain.WrapEngineError(domain.ErrConfigInvalid.Code, "validate config", err)
		}
		for _, fe := range verrs {
			problems = append(problems, describe(fe))
		}
	}
	if c.Retrieval.Exploit.Fields == 0 || c.Retrieval.Exploit.Operators == 0 {
		problems = append(problems, "retrieval.exploit needs at least one field and one operator")
	}

	if len(problems) > 0 {
		return &domain.EngineError{
			Code:    domain.ErrConfigInvalid.Code,
			Message: fmt.Sprintf("%s: %v", domain.ErrConfigInvalid.Message, problems),
		}
	}
	return nil
}

// describe renders a field error with its YAML path, e.g.
// "repair.max_repair_attempts must satisfy gte=1 (got 0)".
func describe(fe validator.FieldError) string {
	path := fe.Namespace()
	if i := strings.IndexByte(path, '.'); i >= 0 {
		path = path[i+1:]
	}
	rule := fe.Tag()
	if fe.Param() != "" {
		rule += "=" + fe.Param()
	}
	return fmt.Sprintf("%s must satisfy %s (got %v)", path, rule, fe.Value())
}

// BudgetPolicy returns the selection policy.
func (c *Config) BudgetPolicy() domain.BudgetPolicy {
	r := c.Retrieval
	return domain.BudgetPolicy{
		Exploit:          r.Exploit,
		Explore:          r.Explore,
		ExploreFloor:     r.ExploreFloor,
		MaxContextTokens: r.MaxPromptTokens,
		FallbackSteps:    append([]float64(nil), r.FallbackSteps...),
	}
}

// ExpansionPolicy returns the expansion policy.
func (c *Config) ExpansionPolicy() domain.ExpansionPolicy {
	e := c.Retrieval.Expansion
	return domain.ExpansionPolicy{
		Enabled:             e.Enabled == nil || *e.Enabled,
		FieldFactor:         e.FieldFactor,
		OperatorFactor:      e.OperatorFactor,
		SubcategoryStep:     e.SubcategoryStep,
		ReserveTokens:       e.ReserveTokens,
		RepetitionThreshold: e.RepetitionThreshold,
		MaxExpansions:       e.MaxExpansions,
	}
}
