package retrieval

import (
	"math"

	"github.com/quantforge/alphagate/internal/domain"
)

// Expand returns a larger pack built from prev after repeated identical
// validation failures. Stages are cumulative: fields (and the datasets that
// host them) grow by FieldFactor, then operators by OperatorFactor, then the
// subcategory count by SubcategoryStep. The result is the last stage that
// fits MaxContextTokens plus ReserveTokens. Every exploit candidate of prev
// stays in the exploit lane of the result.
func (s *Selector) Expand(prev *domain.ContextPack, policy domain.ExpansionPolicy) (*domain.ContextPack, error) {
	exploit := laneBounds(prev, domain.LaneExploit)
	explore := laneBounds(prev, domain.LaneExplore)
	floor := prev.BudgetPolicy.ExploreFloor
	ceiling := 0
	if prev.BudgetPolicy.MaxContextTokens > 0 {
		ceiling = prev.BudgetPolicy.MaxContextTokens + max(0, policy.ReserveTokens)
	}
	step := max(1, policy.SubcategoryStep)

	stages := []func(b *domain.LaneBounds){
		func(b *domain.LaneBounds) {
			b.Fields = scaleCount(b.Fields, policy.FieldFactor)
			b.Datasets = scaleCount(b.Datasets, policy.FieldFactor)
		},
		func(b *domain.LaneBounds) { b.Operators = scaleCount(b.Operators, policy.OperatorFactor) },
		func(b *domain.LaneBounds) { b.Subcategories = max(1, b.Subcategories) + step },
	}

	var best *domain.ContextPack
	var bestEx, bestXp domain.LaneBounds
	for _, stage := range stages {
		stage(&exploit)
		stage(&explore)
		next := s.build(prev.Query, exploit, explore, floor)
		retain(next, prev)
		if ceiling > 0 && next.TokenEstimate.Tokens > ceiling {
			if best == nil {
				return nil, &ExceededError{Tokens: next.TokenEstimate.Tokens, Ceiling: ceiling}
			}
			break
		}
		best, bestEx, bestXp = next, exploit, explore
	}

	best.BudgetPolicy = prev.BudgetPolicy
	best.BudgetPolicy.Exploit = bestEx
	best.BudgetPolicy.Explore = bestXp
	best.ExpansionPolicy = policy
	best.Expansions = prev.Expansions + 1
	return best, nil
}

// laneBounds counts what a lane of p currently holds.
func laneBounds(p *domain.ContextPack, lane domain.Lane) domain.LaneBounds {
	sel := p.Lanes.Exploit
	if lane == domain.LaneExplore {
		sel = p.Lanes.Explore
	}
	return domain.LaneBounds{
		Subcategories: len(sel.SubcategoryIDs),
		Datasets:      len(sel.DatasetIDs),
		Fields:        len(sel.FieldIDs),
		Operators:     len(sel.OperatorNames),
	}
}

// scaleCount grows base by factor, by at least one.
func scaleCount(base int, factor float64) int {
	base = max(1, base)
	scaled := int(math.Round(float64(base) * math.Max(1, factor)))
	if scaled <= base {
		scaled = base + 1
	}
	return scaled
}

// retain merges prev's exploit candidates into next ahead of next's own, so
// expansion never shrinks the exploit lane. If the new explore lane came up
// empty, prev's explore candidates are carried over.
func retain(next, prev *domain.ContextPack) {
	next.Subcategories = mergeLanes(prev.Subcategories, next.Subcategories, subID, subLane)
	next.Datasets = mergeLanes(prev.Datasets, next.Datasets, datasetID, func(c domain.DatasetCandidate) domain.Lane { return c.Lane })
	next.Fields = mergeLanes(prev.Fields, next.Fields, fieldID, fieldLane)
	next.Operators = mergeLanes(prev.Operators, next.Operators, operatorName, operatorLane)
	syncPack(next)
}

func mergeLanes[T any](prev, next []T, id func(T) string, lane func(T) domain.Lane) []T {
	out := make([]T, 0, len(prev)+len(next))
	seen := make(map[string]bool)
	add := func(it T) {
		if !seen[id(it)] {
			seen[id(it)] = true
			out = append(out, it)
		}
	}
	for _, it := range prev {
		if lane(it) == domain.LaneExploit {
			add(it)
		}
	}
	for _, it := range next {
		if lane(it) == domain.LaneExploit {
			add(it)
		}
	}
	nExploit := len(out)
	for _, it := range next {
		if lane(it) == domain.LaneExplore {
			add(it)
		}
	}
	if len(out) == nExploit {
		for _, it := range prev {
			if lane(it) == domain.LaneExplore {
				add(it)
			}
		}
	}
	return out
}
