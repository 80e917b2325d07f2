// Package workflow runs the validation-gated repair loop for generated
// FastExpr candidates and hands validated ones to simulation.
package workflow

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/quantforge/alphagate/internal/domain"
)

// Decision is a gate's verdict on a terminal run.
type Decision struct {
	Allow    bool
	Blockers []string
}

// Gate evaluates whether a terminal run may be handed to simulation.
type Gate interface {
	Name() string
	Evaluate(ctx context.Context, state *domain.RunState) (Decision, error)
}

// PassedGate admits only runs that ended in Passed with a passing final report.
type PassedGate struct{}

// Name returns the gate name.
func (PassedGate) Name() string { return "passed" }

// Evaluate checks the terminal state and the last validation report.
func (PassedGate) Evaluate(_ context.Context, state *domain.RunState) (Decision, error) {
	d := Decision{Allow: true}
	if state.Status != domain.RunPassed {
		d.Allow = false
		d.Blockers = append(d.Blockers, "run is not passed (state="+string(state.Status)+")")
		return d, nil
	}
	if n := len(state.Attempts); n == 0 || !state.Attempts[n-1].Report.Passed {
		d.Allow = false
		d.Blockers = append(d.Blockers, "final validation report did not pass")
	}
	return d, nil
}

// RunStore persists terminal runs and loads them back.
type RunStore interface {
	Archive(ctx context.Context, state *domain.RunState) error
	LoadRun(ctx context.Context, runID string) (*domain.RunState, error)
}

// Auditor records every validated-candidate request and its decision.
type Auditor interface {
	RecordHandoff(ctx context.Context, runID string, allowed bool, blockers []string) error
}

// Handoff holds terminal runs and exposes validated candidates to the
// simulation side. Blocked and GaveUp runs are only visible through State.
type Handoff struct {
	mu      sync.RWMutex
	runs    map[string]*domain.RunState
	gates   []Gate
	store   RunStore
	auditor Auditor
}

// NewHandoff creates a handoff guarded by PassedGate. store may be nil.
func NewHandoff(store RunStore) *Handoff {
	return &Handoff{
		runs:  make(map[string]*domain.RunState),
		gates: []Gate{PassedGate{}},
		store: store,
	}
}

// Register adds a gate evaluated after the ones already registered.
func (h *Handoff) Register(g Gate) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.gates = append(h.gates, g)
}

// SetAuditor installs the auditor consulted by GetValidatedCandidate.
func (h *Handoff) SetAuditor(a Auditor) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.auditor = a
}

// Record archives a terminal run when a store is configured, then keeps it
// in memory. A run the store rejects is not kept.
func (h *Handoff) Record(ctx context.Context, state *domain.RunState) error {
	if !state.Status.Terminal() {
		return domain.NewEngineError(domain.ErrInvalidTransition.Code,
			fmt.Sprintf("run %s is not terminal (state=%s)", state.RunID, state.Status))
	}
	if h.store != nil {
		if err := h.store.Archive(ctx, state); err != nil {
			return fmt.Errorf("archive run %s: %w", state.RunID, err)
		}
	}
	h.mu.Lock()
	h.runs[state.RunID] = state
	h.mu.Unlock()
	return nil
}

// State returns the full record of a run, including its attempt history.
func (h *Handoff) State(ctx context.Context, runID string) (*domain.RunState, error) {
	h.mu.RLock()
	st, ok := h.runs[runID]
	h.mu.RUnlock()
	if ok {
		return st, nil
	}
	if h.store != nil {
		return h.store.LoadRun(ctx, runID)
	}
	return nil, domain.ErrRunNotFound
}

// GetValidatedCandidate returns the candidate of a run every gate admits.
func (h *Handoff) GetValidatedCandidate(ctx context.Context, runID string) (domain.Candidate, error) {
	st, err := h.State(ctx, runID)
	if err != nil {
		return domain.Candidate{}, err
	}

	h.mu.RLock()
	gates := append([]Gate(nil), h.gates...)
	auditor := h.auditor
	h.mu.RUnlock()

	var blockers []string
	for _, g := range gates {
		d, err := g.Evaluate(ctx, st)
		if err != nil {
			return domain.Candidate{}, fmt.Errorf("evaluate gate %s: %w", g.Name(), err)
		}
		if !d.Allow {
			blockers = append(blockers, d.Blockers...)
		}
	}
	if auditor != nil {
		if err := auditor.RecordHandoff(ctx, runID, len(blockers) == 0, blockers); err != nil {
			return domain.Candidate{}, fmt.Errorf("audit handoff %s: %w", runID, err)
		}
	}
	if len(blockers) > 0 {
		return domain.Candidate{}, domain.NewEngineError(
			domain.ErrCandidateNotValidated.Code,
			fmt.Sprintf("run %s: %s", runID, strings.Join(blockers, "; ")),
		)
	}

	last := st.Attempts[len(st.Attempts)-1]
	return domain.Candidate{
		RunID:         st.RunID,
		CandidateID:   st.CandidateID,
		Query:         st.Query,
		Expression:    last.Draft,
		UsedFields:    last.Report.UsedFields,
		UsedOperators: last.Report.UsedOperators,
		Attempts:      len(st.Attempts),
		ValidatedAt:   st.UpdatedAtUnix,
	}, nil
}
