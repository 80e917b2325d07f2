package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantforge/alphagate/internal/catalog/catalogtest"
	"github.com/quantforge/alphagate/internal/domain"
	"github.com/quantforge/alphagate/internal/fastexpr"
	"github.com/quantforge/alphagate/internal/retrieval"
)

const testQuery = "price volume momentum reversal"

func testPack(t *testing.T) *domain.ContextPack {
	t.Helper()
	policy := retrieval.DefaultBudgetPolicy()
	policy.MaxContextTokens = 0
	pack, err := retrieval.NewSelector(catalogtest.Snapshot()).Select(testQuery, policy)
	require.NoError(t, err)
	return pack
}

func TestDeterministicFix(t *testing.T) {
	snap := catalogtest.Snapshot()
	pack := testPack(t)

	tests := []struct {
		name string
		expr string
		want string
	}{
		{"unknown_operator", "rnk(close)", "rank(close)"},
		{"unknown_field", "a = ts_mean(clse, 5); rank(a - clse)", "a = ts_mean(close, 5); rank(a - close)"},
		{"both", "rnk(clse)", "rank(close)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := fastexpr.Validate(tt.expr, snap)
			require.False(t, report.Passed)

			got, ok := DeterministicFix(tt.expr, report, pack, snap)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
			assert.True(t, fastexpr.Validate(got, snap).Passed)
		})
	}
}

func TestDeterministicFix_ScopeSwapKeepsCategory(t *testing.T) {
	snap := catalogtest.Snapshot()
	expr := "combo_blend(close)"
	report := fastexpr.Validate(expr, snap)
	require.Equal(t, []domain.ErrorCode{domain.CodeScopeViolation}, report.Codes())

	got, ok := DeterministicFix(expr, report, testPack(t), snap)
	require.True(t, ok)
	assert.Contains(t, []string{"rank(close)", "zscore(close)", "scale(close)"}, got)
}

func TestDeterministicFix_VectorField(t *testing.T) {
	snap := catalogtest.Snapshot()
	expr := "rank(vector_field)"
	report := fastexpr.Validate(expr, snap)

	got, ok := DeterministicFix(expr, report, testPack(t), snap)
	require.True(t, ok)
	assert.NotEqual(t, expr, got)
	assert.True(t, fastexpr.Validate(got, snap).Passed, "fixed expression %q", got)
}

func TestDeterministicFix_NoMechanicalFix(t *testing.T) {
	snap := catalogtest.Snapshot()
	pack := testPack(t)
	for _, expr := range []string{
		"x = rank(close);",
		"rank(close",
		"rnk(close); rank(open)",
		"group_rank(close)",
	} {
		report := fastexpr.Validate(expr, snap)
		require.False(t, report.Passed, expr)
		_, ok := DeterministicFix(expr, report, pack, snap)
		assert.False(t, ok, expr)
	}
}

func TestLevenshtein(t *testing.T) {
	assert.Equal(t, 0, levenshtein("rank", "rank"))
	assert.Equal(t, 1, levenshtein("rnk", "rank"))
	assert.Equal(t, 3, levenshtein("kitten", "sitting"))
	assert.Equal(t, 4, levenshtein("", "rank"))
}

func TestBuildInstruction(t *testing.T) {
	snap := catalogtest.Snapshot()
	pack := testPack(t)
	report := fastexpr.Validate("x = rank(close);", snap)

	instr := buildInstruction(2, report, 2, true, pack, "x = rank(close);")
	assert.Equal(t, 2, instr.Attempt)
	assert.Equal(t, []domain.ErrorCode{domain.CodeMissingTerminalReturn}, instr.ErrorCodes)
	assert.Equal(t, []string{domain.CodeMissingTerminalReturn.Hint()}, instr.Hints)
	assert.True(t, instr.ExpandedRetrieval)
	assert.Equal(t, len(pack.Fields), instr.AvailableCandidates["fields"])
}
