package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quantforge/alphagate/internal/budget"
	"github.com/quantforge/alphagate/internal/catalog"
	"github.com/quantforge/alphagate/internal/domain"
	"github.com/quantforge/alphagate/internal/events"
	"github.com/quantforge/alphagate/internal/fastexpr"
	"github.com/quantforge/alphagate/internal/prompt"
	"github.com/quantforge/alphagate/internal/retrieval"
)

// Generator produces raw draft text for a context pack.
type Generator interface {
	Generate(ctx context.Context, req domain.GenerationRequest) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req domain.GenerationRequest) (string, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, req domain.GenerationRequest) (string, error) {
	return f(ctx, req)
}

// Ledger is the budget the orchestrator reserves generation tokens against.
type Ledger interface {
	ReserveAll(tokens int64) error
	ReleaseAll(tokens int64)
	Action() domain.CostAction
}

// Options configures the repair loop. With StopOnRepeatedError a run gives
// up as soon as the repetition threshold is reached and no expansion is
// left to try.
type Options struct {
	MaxRepairAttempts    int
	MaxStructuralRepairs int
	StopOnRepeatedError  bool
	MaxCompletionTokens  int
	Budget               domain.BudgetPolicy
	Expansion            domain.ExpansionPolicy
}

// DefaultOptions returns the standard loop limits and retrieval policies.
func DefaultOptions() Options {
	return Options{
		MaxRepairAttempts:    3,
		MaxStructuralRepairs: 2,
		MaxCompletionTokens:  1600,
		Budget:               retrieval.DefaultBudgetPolicy(),
		Expansion:            retrieval.DefaultExpansionPolicy(),
	}
}

// Request describes one candidate to generate and validate. Empty IDs are
// filled with random UUIDs.
type Request struct {
	RunID       string
	CandidateID string
	Query       string
	Snapshot    *catalog.Snapshot
}

// Orchestrator drives one candidate at a time through generation,
// validation and repair. Run may be called from many goroutines; each call
// owns its own state.
type Orchestrator struct {
	gen       Generator
	ledger    Ledger
	sink      events.Sink
	handoff   *Handoff
	validator *fastexpr.Validator
	opts      Options
	logger    *zap.Logger
	now       func() time.Time
}

// NewOrchestrator wires an orchestrator. A nil ledger means no token limits,
// a nil sink drops events and a nil handoff keeps no terminal runs.
func NewOrchestrator(gen Generator, ledger Ledger, sink events.Sink, handoff *Handoff, opts Options, logger *zap.Logger) *Orchestrator {
	if ledger == nil {
		ledger = budget.NewLedger(budget.Limits{})
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		gen:       gen,
		ledger:    ledger,
		sink:      sink,
		handoff:   handoff,
		validator: fastexpr.NewValidator(),
		opts:      opts,
		logger:    logger,
		now:       time.Now,
	}
}

// Run processes one candidate until it reaches a terminal state. Terminal
// outcomes, including Blocked and GaveUp, are not errors; the returned
// error is non-nil only when the run could not be carried out.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*domain.RunState, error) {
	if req.Snapshot == nil {
		return nil, domain.NewEngineError(domain.ErrCatalogEmpty.Code, "no catalog snapshot for run")
	}
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	if req.CandidateID == "" {
		req.CandidateID = uuid.NewString()
	}

	r := newRun(req.RunID, req.CandidateID, req.Query, o.sink, o.now)
	if err := o.loop(ctx, r, req); err != nil {
		return r.state, fmt.Errorf("run %s: %w", req.RunID, err)
	}
	return r.state, o.finish(ctx, r)
}

func (o *Orchestrator) loop(ctx context.Context, r *run, req Request) error {
	sel := retrieval.NewSelector(req.Snapshot)
	pack, err := sel.Select(req.Query, o.opts.Budget)
	if err != nil {
		if errors.Is(err, domain.ErrBudgetExceeded) {
			return o.block(r, "selection", err)
		}
		return err
	}

	expr, ok, err := o.draft(ctx, r, pack, nil)
	if err != nil || !ok {
		return err
	}

	streakFrom := 0
	for attempt := 1; ; attempt++ {
		r.attempt = attempt
		if attempt == 1 {
			if err := r.transition(domain.RunValidating); err != nil {
				return err
			}
			r.emit(domain.EventValidationStarted, nil)
		} else {
			r.emit(domain.EventRetryStarted, nil)
		}

		report := o.validator.Validate(expr, req.Snapshot)
		sig := Signature(report)
		r.state.Attempts = append(r.state.Attempts, domain.RepairAttempt{
			Index:     attempt,
			Draft:     expr,
			Report:    report,
			Action:    domain.ActionNone,
			Signature: sig,
		})
		cur := len(r.state.Attempts) - 1

		if report.Passed {
			if err := r.transition(domain.RunPassed); err != nil {
				return err
			}
			r.emit(passEvent(attempt), map[string]any{"error_codes": []domain.ErrorCode{}})
			return nil
		}

		if err := r.transition(domain.RunFailed); err != nil {
			return err
		}
		r.emit(failEvent(attempt), map[string]any{"errors": report.Codes()})
		r.state.SignatureHistory = append(r.state.SignatureHistory, sig)
		streak := repeatStreak(r.state.SignatureHistory[streakFrom:])

		// Guard 1: repeated identical failures widen the context first,
		// as long as another attempt is allowed.
		if o.shouldExpand(r, attempt, streak) {
			r.state.Attempts[cur].Action = domain.ActionRetrievalExpansion
			next, err := sel.Expand(pack, o.opts.Expansion)
			if err != nil {
				if errors.Is(err, domain.ErrBudgetExceeded) {
					return o.block(r, "expansion", err)
				}
				return err
			}
			r.emit(domain.EventRetrievalExpanded, map[string]any{
				"previous_pack_size": pack.Size(),
				"expanded_pack_size": next.Size(),
				"repeat_count":       streak,
			})
			pack = next
			r.state.Expansions++
			streakFrom = len(r.state.SignatureHistory)

			if err := r.transition(domain.RunRetrying); err != nil {
				return err
			}
			expr, ok, err = o.draft(ctx, r, pack, buildInstruction(attempt, report, streak, true, pack, expr))
			if err != nil || !ok {
				return err
			}
			r.state.Attempts[cur].ResultingCandidate = expr
			continue
		}

		// Guard 2: attempt limit.
		if attempt > o.opts.MaxRepairAttempts {
			r.state.Attempts[cur].Action = domain.ActionGiveUp
			r.state.Reason = fmt.Sprintf("no passing expression after %d attempts", attempt)
			return r.transition(domain.RunGaveUp)
		}
		if o.opts.StopOnRepeatedError && streak >= o.repetitionThreshold() {
			r.state.Attempts[cur].Action = domain.ActionGiveUp
			r.state.Reason = fmt.Sprintf("same errors repeated %d times with no expansion left", streak)
			return r.transition(domain.RunGaveUp)
		}

		// Guard 3: mechanical fix, else regenerate with the errors attached.
		if err := r.transition(domain.RunRetrying); err != nil {
			return err
		}
		if fixed, ok := DeterministicFix(expr, report, pack, req.Snapshot); ok {
			r.state.Attempts[cur].Action = domain.ActionDeterministicFix
			expr = fixed
		} else {
			r.state.Attempts[cur].Action = domain.ActionRegenerateRequest
			expr, ok, err = o.draft(ctx, r, pack, buildInstruction(attempt, report, streak, false, pack, expr))
			if err != nil || !ok {
				return err
			}
		}
		r.state.Attempts[cur].ResultingCandidate = expr
	}
}

func (o *Orchestrator) shouldExpand(r *run, attempt, streak int) bool {
	p := o.opts.Expansion
	return p.Enabled &&
		attempt <= o.opts.MaxRepairAttempts &&
		streak >= o.repetitionThreshold() &&
		r.state.Expansions < p.MaxExpansions
}

func (o *Orchestrator) repetitionThreshold() int {
	return max(1, o.opts.Expansion.RepetitionThreshold)
}

// draft reserves the estimated size of the request it is about to send,
// repair payload included, plus the completion cap, then calls the
// generator and reads the draft's container. It returns false when the run
// ended in a terminal state instead of producing an expression.
func (o *Orchestrator) draft(ctx context.Context, r *run, pack *domain.ContextPack, instr *domain.RepairInstruction) (string, bool, error) {
	req := domain.GenerationRequest{
		RunID:       r.state.RunID,
		CandidateID: r.state.CandidateID,
		Pack:        pack,
		Repair:      instr,
	}
	for {
		tokens := int64(prompt.Estimate(req).Tokens + o.opts.MaxCompletionTokens)
		if err := o.ledger.ReserveAll(tokens); err != nil {
			return "", false, o.block(r, "generation", err)
		}
		r.emit(domain.EventBudgetCheckPassed, map[string]any{
			"tokens": tokens,
			"status": string(o.ledger.Action()),
		})

		raw, err := o.gen.Generate(ctx, req)
		if err != nil {
			o.ledger.ReleaseAll(tokens)
			o.logger.Warn("generation failed",
				zap.String("run_id", r.state.RunID),
				zap.Int("attempt", r.attempt),
				zap.Error(err))
			r.state.Reason = domain.WrapEngineError(domain.ErrGenerationUnavailable.Code, "generate", err).Error()
			return "", false, r.transition(domain.RunGenerationUnavailable)
		}
		r.state.TokensReserved += tokens

		if r.state.Status == domain.RunPending {
			if err := r.transition(domain.RunGenerated); err != nil {
				return "", false, err
			}
			r.emit(domain.EventCandidateGenerated, map[string]any{"chars": len(raw)})
		}

		expr, repaired, perr := ParseDraft(raw)
		if perr == nil {
			if repaired {
				r.state.StructuralRepairs++
			}
			return expr, true, nil
		}

		r.state.StructuralRepairs++
		r.structuralFailures++
		if r.structuralFailures > o.opts.MaxStructuralRepairs {
			r.state.Reason = "structural: " + perr.Error()
			return "", false, r.transition(domain.RunGaveUp)
		}
		req.FormatError = perr.Error()
	}
}

// block records a budget refusal and ends the run in Blocked.
func (o *Orchestrator) block(r *run, stage string, cause error) error {
	payload := map[string]any{"stage": stage, "error": cause.Error()}
	var scopeErr *budget.ScopeError
	var ctxErr *retrieval.ExceededError
	switch {
	case errors.As(cause, &scopeErr):
		payload["scope"] = string(scopeErr.Scope)
		payload["tokens"] = scopeErr.Need
	case errors.As(cause, &ctxErr):
		payload["tokens"] = ctxErr.Tokens
		payload["ceiling"] = ctxErr.Ceiling
		payload["fallback_stages"] = len(ctxErr.Stages)
	}
	r.emit(domain.EventBudgetCheckFailed, payload)
	r.emit(domain.EventBudgetBlocked, map[string]any{"stage": stage})
	o.logger.Warn("run blocked by budget",
		zap.String("run_id", r.state.RunID),
		zap.String("stage", stage),
		zap.Error(cause))
	r.state.Reason = stage + ": " + cause.Error()
	return r.transition(domain.RunBlocked)
}

// finish audits the event order, emits the summary and hands the run off.
func (o *Orchestrator) finish(ctx context.Context, r *run) error {
	st := r.state
	st.EventOrderViolation = EventOrderViolation(st.Events)
	sum := st.Summary()
	r.emit(domain.EventRunSummary, map[string]any{
		"final_state":           string(sum.FinalState),
		"attempts":              sum.Attempts,
		"event_order_violation": sum.EventOrderViolation,
		"distinct_error_codes":  sum.DistinctErrorCodes,
		"expansion_used":        sum.ExpansionUsed,
		"structural_repairs":    sum.StructuralRepairs,
	})
	o.logger.Info("run finished",
		zap.String("run_id", st.RunID),
		zap.String("state", string(st.Status)),
		zap.Int("attempts", sum.Attempts),
		zap.Bool("event_order_violation", sum.EventOrderViolation))

	if o.handoff == nil {
		return nil
	}
	return o.handoff.Record(ctx, st)
}

func passEvent(attempt int) domain.EventType {
	if attempt == 1 {
		return domain.EventValidationPassed
	}
	return domain.EventRetryPassed
}

func failEvent(attempt int) domain.EventType {
	if attempt == 1 {
		return domain.EventValidationFailed
	}
	return domain.EventRetryFailed
}
