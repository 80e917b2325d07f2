package retrieval

import (
	"fmt"
	"math"

	"github.com/quantforge/alphagate/internal/domain"
)

// ExceededError reports a selection or expansion that could not fit its
// token ceiling. It matches domain.ErrBudgetExceeded under errors.Is.
type ExceededError struct {
	Tokens  int
	Ceiling int
	Stages  []domain.FallbackStage
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("context needs ~%d tokens, ceiling is %d (after %d fallback stages)", e.Tokens, e.Ceiling, len(e.Stages))
}

func (e *ExceededError) Unwrap() error { return domain.ErrBudgetExceeded }

// Fallback dimensions, in the order they are shrunk.
const (
	DimFields        = "fields"
	DimOperators     = "operators"
	DimSubcategories = "subcategories"
)

var fallbackDimensions = []string{DimFields, DimOperators, DimSubcategories}

// floors are the explore-lane minimums per dimension.
type floors struct {
	fields, operators, subcategories int
}

func floorTargets(p *domain.ContextPack, floor int) floors {
	if floor <= 0 {
		return floors{}
	}
	return floors{
		fields:        min(floor, len(p.Lanes.Explore.FieldIDs)),
		operators:     min(floor, len(p.Lanes.Explore.OperatorNames)),
		subcategories: min(floor, len(p.Lanes.Explore.SubcategoryIDs)),
	}
}

// applyFallback shrinks fields, then operators, then subcategories. Each
// dimension is walked through every step factor, compounding on the result
// of the previous stage, until the pack fits. A stage that cannot shrink
// without breaking a floor is skipped.
func applyFallback(pack *domain.ContextPack, policy domain.BudgetPolicy) (*domain.ContextPack, error) {
	steps := policy.FallbackSteps
	if len(steps) == 0 {
		steps = DefaultFallbackSteps
	}
	fl := floorTargets(pack, policy.ExploreFloor)
	work := clonePack(pack)

	for _, dim := range fallbackDimensions {
		for _, factor := range steps {
			if factor <= 0 || factor >= 1 {
				continue
			}
			next, ok := shrink(work, dim, factor, fl)
			if !ok {
				continue
			}
			syncPack(next)
			next.FallbackStages = append(next.FallbackStages, domain.FallbackStage{
				Dimension:   dim,
				Factor:      factor,
				TotalBefore: work.Size(),
				TotalAfter:  next.Size(),
				TokensAfter: next.TokenEstimate.Tokens,
			})
			work = next
			if withinCeiling(work, policy.MaxContextTokens) {
				return work, nil
			}
		}
	}
	return nil, &ExceededError{Tokens: work.TokenEstimate.Tokens, Ceiling: policy.MaxContextTokens, Stages: work.FallbackStages}
}

// shrink returns a reduced copy of p, or false when dim cannot shrink.
func shrink(p *domain.ContextPack, dim string, factor float64, fl floors) (*domain.ContextPack, bool) {
	next := clonePack(p)
	switch dim {
	case DimFields:
		keep, ok := trim(p.Fields, fieldLane, factor, fl.fields)
		if !ok {
			return nil, false
		}
		next.Fields = keep
	case DimOperators:
		keep, ok := trim(p.Operators, operatorLane, factor, fl.operators)
		if !ok {
			return nil, false
		}
		next.Operators = keep
	case DimSubcategories:
		keep, ok := trim(p.Subcategories, subLane, factor, fl.subcategories)
		if !ok {
			return nil, false
		}
		next.Subcategories = keep
		kept := ids(keep, subID)
		next.Datasets = filter(p.Datasets, func(d domain.DatasetCandidate) bool { return kept[d.SubcategoryID] })
		if len(next.Datasets) > 0 {
			ds := ids(next.Datasets, datasetID)
			next.Fields = filter(p.Fields, func(f domain.FieldCandidate) bool { return ds[f.DatasetID] })
		}
		lostExploit := countLane(next.Fields, fieldLane, domain.LaneExploit) == 0 && countLane(p.Fields, fieldLane, domain.LaneExploit) > 0
		if lostExploit || countLane(next.Fields, fieldLane, domain.LaneExplore) < fl.fields {
			return nil, false
		}
	default:
		return nil, false
	}
	return next, true
}

func subLane(c domain.SubcategoryCandidate) domain.Lane   { return c.Lane }
func fieldLane(c domain.FieldCandidate) domain.Lane       { return c.Lane }
func operatorLane(c domain.OperatorCandidate) domain.Lane { return c.Lane }

// trim cuts items to floor(len*factor), always removing at least one item,
// while keeping one exploit item and minExplore explore items.
func trim[T any](items []T, lane func(T) domain.Lane, factor float64, minExplore int) ([]T, bool) {
	exAvail := countLane(items, lane, domain.LaneExploit)
	xpAvail := len(items) - exAvail
	minTotal := min(1, exAvail) + minExplore
	cur := len(items)
	if cur <= minTotal {
		return nil, false
	}
	target := int(math.Floor(float64(cur) * factor))
	if target >= cur {
		target = cur - 1
	}
	if target < minTotal {
		target = minTotal
	}

	exT, xpT := allocate(target, exAvail, xpAvail, minExplore)
	out := make([]T, 0, target)
	for _, it := range items {
		switch lane(it) {
		case domain.LaneExploit:
			if exT > 0 {
				out = append(out, it)
				exT--
			}
		default:
			if xpT > 0 {
				out = append(out, it)
				xpT--
			}
		}
	}
	return out, true
}

// allocate splits target between the lanes in proportion to what is
// available, guaranteeing minExplore explore items and one exploit item.
func allocate(target, exAvail, xpAvail, minExplore int) (exT, xpT int) {
	if target <= 0 {
		return 0, 0
	}
	if exAvail+xpAvail <= target {
		return exAvail, xpAvail
	}
	xpT = int(math.Round(float64(target) * float64(xpAvail) / float64(exAvail+xpAvail)))
	xpT = max(xpT, minExplore)
	xpT = min(xpT, xpAvail, target)
	exT = min(exAvail, target-xpT)
	if exAvail > 0 && exT <= 0 {
		exT = 1
		xpT = target - 1
	}
	for exT+xpT < target {
		switch {
		case exT < exAvail:
			exT++
		case xpT < xpAvail:
			xpT++
		default:
			return exT, xpT
		}
	}
	return exT, xpT
}

func countLane[T any](items []T, lane func(T) domain.Lane, want domain.Lane) int {
	n := 0
	for _, it := range items {
		if lane(it) == want {
			n++
		}
	}
	return n
}

func filter[T any](items []T, keep func(T) bool) []T {
	out := make([]T, 0, len(items))
	for _, it := range items {
		if keep(it) {
			out = append(out, it)
		}
	}
	return out
}

func clonePack(p *domain.ContextPack) *domain.ContextPack {
	c := *p
	c.Subcategories = append([]domain.SubcategoryCandidate(nil), p.Subcategories...)
	c.Datasets = append([]domain.DatasetCandidate(nil), p.Datasets...)
	c.Fields = append([]domain.FieldCandidate(nil), p.Fields...)
	c.Operators = append([]domain.OperatorCandidate(nil), p.Operators...)
	c.FallbackStages = append([]domain.FallbackStage(nil), p.FallbackStages...)
	return &c
}
