package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantforge/alphagate/internal/catalog/catalogtest"
	"github.com/quantforge/alphagate/internal/domain"
)

func smallPolicy() domain.BudgetPolicy {
	return domain.BudgetPolicy{
		Exploit:      domain.LaneBounds{Subcategories: 2, Datasets: 2, Fields: 4, Operators: 4},
		Explore:      domain.LaneBounds{Subcategories: 1, Datasets: 1, Fields: 2, Operators: 2},
		ExploreFloor: 1,
	}
}

func TestExpand_GrowsAndRetainsExploit(t *testing.T) {
	sel := NewSelector(catalogtest.Snapshot())
	prev, err := sel.Select(query, smallPolicy())
	require.NoError(t, err)

	next, err := sel.Expand(prev, DefaultExpansionPolicy())
	require.NoError(t, err)

	assert.Equal(t, 1, next.Expansions)
	assert.Greater(t, len(next.Fields), len(prev.Fields))
	assert.Greater(t, len(next.Operators), len(prev.Operators))
	assert.Greater(t, len(next.Subcategories), len(prev.Subcategories))
	assert.Subset(t, next.Lanes.Exploit.FieldIDs, prev.Lanes.Exploit.FieldIDs)
	assert.Subset(t, next.Lanes.Exploit.OperatorNames, prev.Lanes.Exploit.OperatorNames)
	assert.Subset(t, next.Lanes.Exploit.DatasetIDs, prev.Lanes.Exploit.DatasetIDs)
	assert.NotEmpty(t, next.Lanes.Explore.FieldIDs)
	assertDisjointLanes(t, next)

	assert.Equal(t, DefaultExpansionPolicy(), next.ExpansionPolicy)
	assert.Greater(t, next.BudgetPolicy.Exploit.Fields, prev.BudgetPolicy.Exploit.Fields)

	again, err := sel.Expand(next, DefaultExpansionPolicy())
	require.NoError(t, err)
	assert.Equal(t, 2, again.Expansions)
}

func TestExpand_CeilingWithoutReserve(t *testing.T) {
	sel := NewSelector(catalogtest.Snapshot())
	prev, err := sel.Select(query, smallPolicy())
	require.NoError(t, err)
	prev.BudgetPolicy.MaxContextTokens = prev.TokenEstimate.Tokens

	policy := DefaultExpansionPolicy()
	policy.ReserveTokens = 0
	_, err = sel.Expand(prev, policy)
	assert.ErrorIs(t, err, domain.ErrBudgetExceeded)

	policy.ReserveTokens = 100000
	next, err := sel.Expand(prev, policy)
	require.NoError(t, err)
	assert.LessOrEqual(t, next.TokenEstimate.Tokens, prev.TokenEstimate.Tokens+policy.ReserveTokens)
}

func TestScaleCount(t *testing.T) {
	assert.Equal(t, 6, scaleCount(4, 1.5))
	assert.Equal(t, 2, scaleCount(1, 1.25))
	assert.Equal(t, 2, scaleCount(0, 1.5))
	assert.Equal(t, 5, scaleCount(4, 0.5))
}
