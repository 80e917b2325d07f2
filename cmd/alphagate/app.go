package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/quantforge/alphagate/internal/budget"
	"github.com/quantforge/alphagate/internal/catalog"
	"github.com/quantforge/alphagate/internal/config"
	"github.com/quantforge/alphagate/internal/events"
	"github.com/quantforge/alphagate/internal/generation"
	"github.com/quantforge/alphagate/internal/metrics"
	"github.com/quantforge/alphagate/internal/store"
	"github.com/quantforge/alphagate/internal/workflow"
)

// app is the wired pipeline for one CLI invocation.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	store    *store.Store
	catalog  catalog.Provider
	file     *catalog.FileProvider
	ledger   *budget.Ledger
	bus      *events.Bus
	registry *prometheus.Registry
	handoff  *workflow.Handoff
	orch     *workflow.Orchestrator
	batch    *workflow.BatchRunner
	closers  []func()
}

func buildLogger(cfg config.LogConfig, opts *globalOptions) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	if opts.verbose {
		level = zapcore.DebugLevel
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	format := cfg.Format
	if opts.logFormat != "" {
		format = opts.logFormat
	}
	if format == "console" {
		zc.Encoding = "console"
		zc.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	return zc.Build()
}

// loadConfig resolves and loads the configuration and builds the logger.
func loadConfig(opts *globalOptions) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(resolveConfigPath(opts.configPath))
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := buildLogger(cfg.Log, opts)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// newApp opens the store and wires every pipeline component. gen overrides
// the configured generator when non-nil.
func newApp(ctx context.Context, opts *globalOptions, gen workflow.Generator) (*app, error) {
	cfg, logger, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger}
	a.closers = append(a.closers, func() { _ = logger.Sync() })

	db, err := store.NewDB(cfg.DBPath)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open database: %w", err)
	}
	a.closers = append(a.closers, func() { db.Close() })
	a.store = store.New(db)

	if cfg.CatalogPath != "" {
		a.file = &catalog.FileProvider{Path: cfg.CatalogPath}
		a.catalog = a.file
	} else {
		a.catalog = a.store
	}

	a.ledger = budget.NewLedger(budget.Limits{
		Request: cfg.Budget.PerRequestTokens,
		Batch:   cfg.Budget.PerBatchTokens,
		Day:     cfg.Budget.PerDayTokens,
	})
	a.ledger.WarnRatio = cfg.Budget.WarnRatio
	used, err := a.store.DayUsage(ctx, a.ledger.Day())
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("seed budget ledger: %w", err)
	}
	a.ledger.Seed(used)

	a.bus = events.NewBus(logger)
	a.bus.Subscribe(events.LogHandler(logger))
	a.registry = prometheus.NewRegistry()
	m := metrics.New(a.registry)
	a.bus.Subscribe(m.Handle)
	if err := metrics.RegisterBudget(a.registry, a.ledger.Status); err != nil {
		a.Close()
		return nil, fmt.Errorf("register budget metrics: %w", err)
	}

	a.handoff = workflow.NewHandoff(a.store)
	a.handoff.SetAuditor(a.store)

	if gen == nil {
		if gen, err = newGenerator(cfg, logger); err != nil {
			a.Close()
			return nil, err
		}
	}
	wopts := workflow.Options{
		MaxRepairAttempts:    cfg.Repair.MaxRepairAttempts,
		MaxStructuralRepairs: cfg.Repair.MaxStructuralRepairs,
		StopOnRepeatedError:  cfg.Repair.StopOnRepeatedError,
		MaxCompletionTokens:  cfg.Generation.MaxCompletionTokens,
		Budget:               cfg.BudgetPolicy(),
		Expansion:            cfg.ExpansionPolicy(),
	}
	a.orch = workflow.NewOrchestrator(gen, a.ledger, a.bus, a.handoff, wopts, logger)
	a.batch = workflow.NewBatchRunner(a.orch, cfg.MaxConcurrentWorkers, a.ledger, logger)

	logger.Debug("pipeline wired",
		zap.String("db_path", cfg.DBPath),
		zap.String("catalog_path", cfg.CatalogPath),
		zap.String("provider", cfg.Generation.Provider),
		zap.Int64("day_tokens_used", used))
	return a, nil
}

func newGenerator(cfg *config.Config, logger *zap.Logger) (workflow.Generator, error) {
	g := cfg.Generation
	if g.Provider == "synthetic" {
		return generation.Synthetic{}, nil
	}
	p, err := generation.NewOpenAIProvider(generation.OpenAIConfig{
		APIKey:              g.APIKey,
		BaseURL:             g.BaseURL,
		Model:               g.Model,
		Temperature:         g.Temperature,
		MaxCompletionTokens: g.MaxCompletionTokens,
		RequestsPerMinute:   g.RequestsPerMinute,
		Timeout:             g.Timeout(),
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create generation provider (set %s or use --dry-run): %w", g.APIKeyEnv, err)
	}
	return p, nil
}

// Close releases the app's resources in reverse order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
