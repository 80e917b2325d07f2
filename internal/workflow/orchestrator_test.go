package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/quantforge/alphagate/internal/budget"
	"github.com/quantforge/alphagate/internal/catalog/catalogtest"
	"github.com/quantforge/alphagate/internal/domain"
	"github.com/quantforge/alphagate/internal/events"
	"github.com/quantforge/alphagate/internal/prompt"
	"github.com/quantforge/alphagate/internal/retrieval"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func jsonDraft(expr string) string {
	b, _ := json.Marshal(map[string]string{"expression": expr})
	return string(b)
}

// scripted returns its drafts in order, repeating the last one.
type scripted struct {
	mu     sync.Mutex
	drafts []string
	err    error
	calls  []domain.GenerationRequest
}

func (s *scripted) Generate(_ context.Context, req domain.GenerationRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, req)
	if s.err != nil {
		return "", s.err
	}
	i := min(len(s.calls), len(s.drafts)) - 1
	return s.drafts[i], nil
}

type fixture struct {
	gen     *scripted
	ledger  *budget.Ledger
	rec     *events.Recorder
	handoff *Handoff
	orch    *Orchestrator
}

func newFixture(t *testing.T, opts Options, limits budget.Limits, drafts ...string) *fixture {
	t.Helper()
	f := &fixture{
		gen:     &scripted{drafts: drafts},
		ledger:  budget.NewLedger(limits),
		rec:     &events.Recorder{},
		handoff: NewHandoff(nil),
	}
	f.orch = NewOrchestrator(f.gen, f.ledger, f.rec, f.handoff, opts, nil)
	return f
}

func (f *fixture) run(t *testing.T) *domain.RunState {
	t.Helper()
	st, err := f.orch.Run(context.Background(), Request{Query: testQuery, Snapshot: catalogtest.Snapshot()})
	require.NoError(t, err)
	require.NotNil(t, st)
	return st
}

func actions(st *domain.RunState) []domain.RepairAction {
	out := make([]domain.RepairAction, len(st.Attempts))
	for i, a := range st.Attempts {
		out[i] = a.Action
	}
	return out
}

func TestOrchestrator_PassesFirstTry(t *testing.T) {
	f := newFixture(t, DefaultOptions(), budget.Limits{}, jsonDraft("rank(ts_delta(close, 5))"))
	st := f.run(t)

	assert.Equal(t, domain.RunPassed, st.Status)
	assert.Len(t, st.Attempts, 1)
	assert.False(t, st.EventOrderViolation)
	assert.Equal(t, []domain.EventType{
		domain.EventBudgetCheckPassed,
		domain.EventCandidateGenerated,
		domain.EventValidationStarted,
		domain.EventValidationPassed,
		domain.EventRunSummary,
	}, f.rec.Types(st.RunID))

	cand, err := f.handoff.GetValidatedCandidate(context.Background(), st.RunID)
	require.NoError(t, err)
	assert.Equal(t, "rank(ts_delta(close, 5))", cand.Expression)
	assert.Equal(t, []string{"close"}, cand.UsedFields)
	assert.Equal(t, 1, cand.Attempts)

	require.Len(t, f.gen.calls, 1)
	assert.Nil(t, f.gen.calls[0].Repair)
	assert.NotEmpty(t, f.gen.calls[0].Pack.Fields)
}

// Identical failures on attempts 1 and 2 trigger one expansion; the
// regenerated draft passes on attempt 3.
func TestOrchestrator_RepeatedSignatureExpands(t *testing.T) {
	bad := jsonDraft("x = rank(close);")
	f := newFixture(t, DefaultOptions(), budget.Limits{}, bad, bad, jsonDraft("rank(close)"))
	st := f.run(t)

	assert.Equal(t, domain.RunPassed, st.Status)
	assert.Len(t, st.Attempts, 3)
	assert.Equal(t, []domain.RepairAction{
		domain.ActionRegenerateRequest,
		domain.ActionRetrievalExpansion,
		domain.ActionNone,
	}, actions(st))
	assert.Equal(t, 1, st.Expansions)
	assert.False(t, st.EventOrderViolation)

	types := f.rec.Types(st.RunID)
	n := 0
	for _, tp := range types {
		if tp == domain.EventRetrievalExpanded {
			n++
		}
	}
	assert.Equal(t, 1, n)

	require.Len(t, f.gen.calls, 3)
	require.NotNil(t, f.gen.calls[2].Repair)
	assert.True(t, f.gen.calls[2].Repair.ExpandedRetrieval)
	assert.Equal(t, 2, f.gen.calls[2].Repair.RepeatedErrorCount)
	assert.Equal(t, 1, f.gen.calls[2].Pack.Expansions)
	assert.Greater(t, len(f.gen.calls[2].Pack.Fields), len(f.gen.calls[0].Pack.Fields)-1)

	sum := st.Summary()
	assert.True(t, sum.ExpansionUsed)
	assert.Equal(t, []domain.ErrorCode{domain.CodeMissingTerminalReturn}, sum.DistinctErrorCodes)
}

func TestOrchestrator_DeterministicFix(t *testing.T) {
	f := newFixture(t, DefaultOptions(), budget.Limits{}, jsonDraft("rank(clse)"))
	st := f.run(t)

	assert.Equal(t, domain.RunPassed, st.Status)
	require.Len(t, st.Attempts, 2)
	assert.Equal(t, domain.ActionDeterministicFix, st.Attempts[0].Action)
	assert.Equal(t, "rank(close)", st.Attempts[0].ResultingCandidate)
	assert.Len(t, f.gen.calls, 1, "a mechanical fix needs no regeneration")
	assert.Equal(t, []domain.EventType{
		domain.EventBudgetCheckPassed,
		domain.EventCandidateGenerated,
		domain.EventValidationStarted,
		domain.EventValidationFailed,
		domain.EventRetryStarted,
		domain.EventRetryPassed,
		domain.EventRunSummary,
	}, f.rec.Types(st.RunID))
}

func TestOrchestrator_GivesUpAfterMaxAttempts(t *testing.T) {
	opts := DefaultOptions()
	opts.Expansion.Enabled = false
	f := newFixture(t, opts, budget.Limits{}, jsonDraft("x = rank(close);"))
	st := f.run(t)

	assert.Equal(t, domain.RunGaveUp, st.Status)
	assert.Len(t, st.Attempts, opts.MaxRepairAttempts+1)
	assert.Equal(t, domain.ActionGiveUp, st.Attempts[len(st.Attempts)-1].Action)
	assert.False(t, st.EventOrderViolation)
	assert.Zero(t, st.Expansions)

	_, err := f.handoff.GetValidatedCandidate(context.Background(), st.RunID)
	assert.ErrorIs(t, err, domain.ErrCandidateNotValidated)
	hist, err := f.handoff.State(context.Background(), st.RunID)
	require.NoError(t, err)
	assert.Len(t, hist.Attempts, opts.MaxRepairAttempts+1)
}

func TestOrchestrator_ExpansionStopsAtAttemptLimit(t *testing.T) {
	opts := DefaultOptions()
	f := newFixture(t, opts, budget.Limits{}, jsonDraft("x = rank(close);"))
	st := f.run(t)

	assert.Equal(t, domain.RunGaveUp, st.Status)
	assert.Len(t, st.Attempts, opts.MaxRepairAttempts+1)
	assert.Equal(t, 1, st.Expansions)
	assert.Equal(t, []domain.RepairAction{
		domain.ActionRegenerateRequest,
		domain.ActionRetrievalExpansion,
		domain.ActionRegenerateRequest,
		domain.ActionGiveUp,
	}, actions(st))
}

func TestOrchestrator_ExpansionLimit(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxRepairAttempts = 6
	f := newFixture(t, opts, budget.Limits{}, jsonDraft("x = rank(close);"))
	st := f.run(t)

	assert.Equal(t, domain.RunGaveUp, st.Status)
	assert.Equal(t, opts.Expansion.MaxExpansions, st.Expansions)
	assert.Len(t, st.Attempts, opts.MaxRepairAttempts+1)
	assert.Equal(t, []domain.RepairAction{
		domain.ActionRegenerateRequest,
		domain.ActionRetrievalExpansion,
		domain.ActionRegenerateRequest,
		domain.ActionRetrievalExpansion,
		domain.ActionRegenerateRequest,
		domain.ActionRegenerateRequest,
		domain.ActionGiveUp,
	}, actions(st))
}

func TestOrchestrator_StopOnRepeatedError(t *testing.T) {
	t.Run("without expansion", func(t *testing.T) {
		opts := DefaultOptions()
		opts.Expansion.Enabled = false
		opts.StopOnRepeatedError = true
		f := newFixture(t, opts, budget.Limits{}, jsonDraft("x = rank(close);"))
		st := f.run(t)

		assert.Equal(t, domain.RunGaveUp, st.Status)
		assert.Len(t, st.Attempts, 2)
		assert.Contains(t, st.Reason, "repeated")
		assert.False(t, st.EventOrderViolation)
	})

	t.Run("after expansions are used", func(t *testing.T) {
		opts := DefaultOptions()
		opts.MaxRepairAttempts = 6
		opts.Expansion.MaxExpansions = 1
		opts.StopOnRepeatedError = true
		f := newFixture(t, opts, budget.Limits{}, jsonDraft("x = rank(close);"))
		st := f.run(t)

		assert.Equal(t, domain.RunGaveUp, st.Status)
		assert.Equal(t, []domain.RepairAction{
			domain.ActionRegenerateRequest,
			domain.ActionRetrievalExpansion,
			domain.ActionRegenerateRequest,
			domain.ActionGiveUp,
		}, actions(st))
	})
}

func TestOrchestrator_ReservesRenderedRequest(t *testing.T) {
	opts := DefaultOptions()
	f := newFixture(t, opts, budget.Limits{}, jsonDraft("x = rank(close);"), jsonDraft("rank(close)"))
	st := f.run(t)

	require.Equal(t, domain.RunPassed, st.Status)
	require.Len(t, f.gen.calls, 2)
	require.NotNil(t, f.gen.calls[1].Repair)

	var reserved []int64
	for _, ev := range f.rec.ByRun(st.RunID) {
		if ev.Type == domain.EventBudgetCheckPassed {
			reserved = append(reserved, ev.Payload["tokens"].(int64))
		}
	}
	require.Len(t, reserved, 2)
	for i, call := range f.gen.calls {
		want := int64(prompt.Estimate(call).Tokens + opts.MaxCompletionTokens)
		assert.Equal(t, want, reserved[i], "call %d", i)

		user, err := prompt.Render(call)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, reserved[i]-int64(opts.MaxCompletionTokens), int64(len(user)/4))
	}
	assert.Greater(t, reserved[1], reserved[0], "the repair payload is reserved too")
	assert.Equal(t, reserved[0]+reserved[1], st.TokensReserved)
}

func TestOrchestrator_BlockedAtSelection(t *testing.T) {
	opts := DefaultOptions()
	opts.Budget.MaxContextTokens = 10
	f := newFixture(t, opts, budget.Limits{}, jsonDraft("rank(close)"))
	st := f.run(t)

	assert.Equal(t, domain.RunBlocked, st.Status)
	assert.Empty(t, st.Attempts)
	assert.Empty(t, f.gen.calls)
	assert.False(t, st.EventOrderViolation)
	assert.Equal(t, []domain.EventType{
		domain.EventBudgetCheckFailed,
		domain.EventBudgetBlocked,
		domain.EventRunSummary,
	}, f.rec.Types(st.RunID))

	_, err := f.handoff.GetValidatedCandidate(context.Background(), st.RunID)
	assert.ErrorIs(t, err, domain.ErrCandidateNotValidated)
}

func TestOrchestrator_BlockedByLedgerDoesNotConsume(t *testing.T) {
	f := newFixture(t, DefaultOptions(), budget.Limits{Day: 100}, jsonDraft("rank(close)"))
	st := f.run(t)

	assert.Equal(t, domain.RunBlocked, st.Status)
	assert.Empty(t, f.gen.calls)
	for _, u := range f.ledger.Status() {
		if u.Scope != domain.ScopeRequest {
			assert.Zero(t, u.Used, "scope %s", u.Scope)
		}
	}
	ev := f.rec.ByRun(st.RunID)[0]
	assert.Equal(t, domain.EventBudgetCheckFailed, ev.Type)
	assert.Equal(t, "day", ev.Payload["scope"])
}

func TestOrchestrator_GenerationUnavailable(t *testing.T) {
	f := newFixture(t, DefaultOptions(), budget.Limits{Day: 1_000_000})
	f.gen.err = errors.New("upstream 503")
	st := f.run(t)

	assert.Equal(t, domain.RunGenerationUnavailable, st.Status)
	assert.Contains(t, st.Reason, "upstream 503")
	assert.Zero(t, st.TokensReserved)
	assert.Zero(t, f.ledger.Status()[2].Used, "reservation is released")
}

func TestOrchestrator_StructuralRepairIsNotAnAttempt(t *testing.T) {
	f := newFixture(t, DefaultOptions(), budget.Limits{}, "```json\n{\"expression\": \"rank(close)\",}\n```")
	st := f.run(t)

	assert.Equal(t, domain.RunPassed, st.Status)
	assert.Len(t, st.Attempts, 1)
	assert.Equal(t, 1, st.StructuralRepairs)
}

func TestOrchestrator_StructuralExhaustion(t *testing.T) {
	f := newFixture(t, DefaultOptions(), budget.Limits{}, `{"expression": [`)
	st := f.run(t)

	assert.Equal(t, domain.RunGaveUp, st.Status)
	assert.Empty(t, st.Attempts)
	assert.Contains(t, st.Reason, "structural")
	require.Len(t, f.gen.calls, DefaultOptions().MaxStructuralRepairs+1)
	assert.NotEmpty(t, f.gen.calls[1].FormatError)
}

func TestOrchestrator_ConcurrentRunsShareDayBudget(t *testing.T) {
	opts := DefaultOptions()
	pack, err := retrieval.NewSelector(catalogtest.Snapshot()).Select(testQuery, opts.Budget)
	require.NoError(t, err)
	need := int64(pack.TokenEstimate.Tokens + opts.MaxCompletionTokens)

	f := newFixture(t, opts, budget.Limits{Day: need + need/2}, jsonDraft("rank(close)"))

	var wg sync.WaitGroup
	states := make([]*domain.RunState, 2)
	for i := range states {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			st, err := f.orch.Run(context.Background(), Request{Query: testQuery, Snapshot: catalogtest.Snapshot()})
			assert.NoError(t, err)
			states[i] = st
		}(i)
	}
	wg.Wait()

	counts := map[domain.RunStatus]int{}
	for _, st := range states {
		counts[st.Status]++
	}
	assert.Equal(t, map[domain.RunStatus]int{domain.RunPassed: 1, domain.RunBlocked: 1}, counts)
	assert.Equal(t, need, f.ledger.Status()[2].Used)
}

func TestOrchestrator_NilSnapshot(t *testing.T) {
	f := newFixture(t, DefaultOptions(), budget.Limits{}, jsonDraft("rank(close)"))
	_, err := f.orch.Run(context.Background(), Request{Query: testQuery})
	assert.ErrorIs(t, err, domain.ErrCatalogEmpty)
}
