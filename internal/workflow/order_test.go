package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/quantforge/alphagate/internal/domain"
)

func seq(types ...domain.EventType) []domain.RunEvent {
	out := make([]domain.RunEvent, len(types))
	for i, t := range types {
		out[i] = domain.RunEvent{SeqNo: int64(i + 1), Type: t}
	}
	return out
}

const (
	gen     = domain.EventCandidateGenerated
	started = domain.EventValidationStarted
	passed  = domain.EventValidationPassed
	failed  = domain.EventValidationFailed
	rStart  = domain.EventRetryStarted
	rPass   = domain.EventRetryPassed
	rFail   = domain.EventRetryFailed
	budgOK  = domain.EventBudgetCheckPassed
	expand  = domain.EventRetrievalExpanded
	summary = domain.EventRunSummary
)

func TestEventOrderViolation(t *testing.T) {
	tests := []struct {
		name string
		evs  []domain.RunEvent
		want bool
	}{
		{"first_pass", seq(budgOK, gen, started, passed, summary), false},
		{"retry_loop", seq(gen, started, failed, budgOK, rStart, rFail, expand, rStart, rPass, summary), false},
		{"gave_up", seq(gen, started, failed, rStart, rFail, rStart, rFail), false},
		{"never_validated", seq(domain.EventBudgetCheckFailed, domain.EventBudgetBlocked, summary), false},
		{"started_without_generated", seq(started, passed), true},
		{"outcome_without_start", seq(gen, passed), true},
		{"retry_after_pass", seq(gen, started, passed, rStart, rPass), true},
		{"retry_without_outcome", seq(gen, started, failed, rStart, rStart, rPass), true},
		{"double_start", seq(gen, started, failed, started, passed), true},
		{"retry_outcome_without_retry", seq(gen, started, failed, rPass), true},
		{"dangling_start", seq(gen, started), true},
		{"dangling_retry", seq(gen, started, failed, rStart), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EventOrderViolation(tt.evs))
		})
	}
}

func TestSignature(t *testing.T) {
	a := domain.ValidationReport{Errors: []domain.ValidationError{
		{Code: domain.CodeUnknownField, Token: "clse", Span: domain.Span{Start: 5}},
		{Code: domain.CodeUnknownOperator, Token: "rnk", Span: domain.Span{Start: 0}},
	}}
	b := domain.ValidationReport{Errors: []domain.ValidationError{
		{Code: domain.CodeUnknownOperator, Token: "rnk", Span: domain.Span{Start: 12}, Occurrences: 2},
		{Code: domain.CodeUnknownField, Token: "clse", Span: domain.Span{Start: 40}},
	}}

	assert.Equal(t, domain.ErrorSignature("unknown_field:clse|unknown_operator:rnk"), Signature(a))
	assert.Equal(t, Signature(a), Signature(b))
	assert.Empty(t, Signature(domain.ValidationReport{Passed: true}))
}

func TestRepeatStreak(t *testing.T) {
	assert.Equal(t, 0, repeatStreak(nil))
	assert.Equal(t, 1, repeatStreak([]domain.ErrorSignature{"a", "b"}))
	assert.Equal(t, 3, repeatStreak([]domain.ErrorSignature{"b", "a", "a", "a"}))
	assert.Equal(t, 1, repeatStreak([]domain.ErrorSignature{"a", "a", "b"}))
}
