// Package retrieval selects the bounded context handed to the generator: a
// relevance-ranked exploit lane, a diversity-biased explore lane, a token
// fallback ladder, and expansion after repeated validation failures.
package retrieval

import (
	"sort"
	"strings"

	"github.com/quantforge/alphagate/internal/catalog"
	"github.com/quantforge/alphagate/internal/domain"
)

// DefaultFallbackSteps are the shrink factors applied per dimension.
var DefaultFallbackSteps = []float64{0.85, 0.7, 0.55, 0.4}

// DefaultBudgetPolicy returns the default lane bounds and token ceiling.
func DefaultBudgetPolicy() domain.BudgetPolicy {
	return domain.BudgetPolicy{
		Exploit:          domain.LaneBounds{Subcategories: 4, Datasets: 14, Fields: 60, Operators: 48},
		Explore:          domain.LaneBounds{Subcategories: 1, Datasets: 3, Fields: 12, Operators: 12},
		ExploreFloor:     1,
		MaxContextTokens: 12000,
		FallbackSteps:    append([]float64(nil), DefaultFallbackSteps...),
	}
}

// DefaultExpansionPolicy returns the default expansion policy.
func DefaultExpansionPolicy() domain.ExpansionPolicy {
	return domain.ExpansionPolicy{
		Enabled:             true,
		FieldFactor:         1.5,
		OperatorFactor:      1.25,
		SubcategoryStep:     1,
		ReserveTokens:       2500,
		RepetitionThreshold: 2,
		MaxExpansions:       2,
	}
}

var allowedFieldTypes = map[domain.ValueType]bool{
	domain.TypeMatrix: true,
	domain.TypeGroup:  true,
	domain.TypeVector: true,
}

// Selector builds context packs from one catalog snapshot. It holds no
// mutable state and is safe for concurrent use.
type Selector struct {
	snap *catalog.Snapshot
}

// NewSelector returns a selector over snap.
func NewSelector(snap *catalog.Snapshot) *Selector {
	return &Selector{snap: snap}
}

// Select scores the catalog against query and returns a pack within
// policy.MaxContextTokens. When the initial pack is too large the fallback
// ladder shrinks it; if that cannot succeed without breaking the explore
// floor, Select returns an *ExceededError.
func (s *Selector) Select(query string, policy domain.BudgetPolicy) (*domain.ContextPack, error) {
	if len(s.snap.Datasets()) == 0 {
		return nil, domain.NewEngineError(domain.ErrCatalogEmpty.Code, "catalog has no datasets to select from")
	}
	query = strings.TrimSpace(query)
	pack := s.build(query, policy.Exploit, policy.Explore, policy.ExploreFloor)
	pack.BudgetPolicy = policy
	if withinCeiling(pack, policy.MaxContextTokens) {
		return pack, nil
	}
	return applyFallback(pack, policy)
}

func withinCeiling(p *domain.ContextPack, ceiling int) bool {
	return ceiling <= 0 || p.TokenEstimate.Tokens <= ceiling
}

func exploreK(bound, floor int) int {
	if bound < floor {
		return floor
	}
	return bound
}

// reserveExplore caps the exploit count so that a small pool still leaves
// floor items for the explore lane.
func reserveExplore(exK, pool, floor int) int {
	if floor > 0 && pool-exK < floor {
		return max(1, pool-floor)
	}
	return exK
}

// build selects every lane for the given bounds.
func (s *Selector) build(query string, exploit, explore domain.LaneBounds, floor int) *domain.ContextPack {
	q := tokenize(query)

	exSubs, xpSubs := s.selectSubcategories(q, exploit.Subcategories, exploreK(explore.Subcategories, floor), floor)
	exDs, xpDs := s.selectDatasets(q, ids(exSubs, subID), ids(xpSubs, subID), exploit.Datasets, exploreK(explore.Datasets, floor), floor)
	exF, xpF := s.selectFields(q, ids(exDs, datasetID), ids(xpDs, datasetID), exploit.Fields, exploreK(explore.Fields, floor), floor)
	exOp, xpOp := s.selectOperators(q, exploit.Operators, exploreK(explore.Operators, floor), floor)

	pack := &domain.ContextPack{
		Query:         query,
		Subcategories: append(exSubs, xpSubs...),
		Datasets:      append(exDs, xpDs...),
		Fields:        append(exF, xpF...),
		Operators:     append(exOp, xpOp...),
	}
	syncPack(pack)
	return pack
}

func subID(c domain.SubcategoryCandidate) string      { return c.ID }
func datasetID(c domain.DatasetCandidate) string      { return c.ID }
func fieldID(c domain.FieldCandidate) string          { return c.ID }
func operatorName(c domain.OperatorCandidate) string { return c.Name }

func ids[T any](items []T, id func(T) string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, it := range items {
		out[id(it)] = true
	}
	return out
}

func (s *Selector) selectSubcategories(q []string, exK, xpK, floor int) (exploit, explore []domain.SubcategoryCandidate) {
	subs := s.snap.Subcategories()
	texts := make([]string, len(subs))
	for i, sc := range subs {
		texts[i] = strings.Join([]string{sc.ID, sc.Name, sc.Category}, " ")
	}
	raw := newIDFIndex(texts).scores(q)
	norm := normalize(raw)

	order := indices(len(subs))
	sort.SliceStable(order, func(a, b int) bool {
		i, j := order[a], order[b]
		if raw[i] != raw[j] {
			return raw[i] > raw[j]
		}
		if subs[i].DatasetCount != subs[j].DatasetCount {
			return subs[i].DatasetCount > subs[j].DatasetCount
		}
		return subs[i].ID < subs[j].ID
	})

	exK = reserveExplore(max(1, exK), len(subs), floor)
	cand := func(i int, lane domain.Lane) domain.SubcategoryCandidate {
		return domain.SubcategoryCandidate{ID: subs[i].ID, Name: subs[i].Name, Category: subs[i].Category, Lane: lane, Score: round4(norm[i])}
	}
	var rest []int
	for _, i := range order {
		if len(exploit) < exK {
			exploit = append(exploit, cand(i, domain.LaneExploit))
			continue
		}
		rest = append(rest, i)
	}

	// Explore prefers thinly populated subcategories.
	sort.SliceStable(rest, func(a, b int) bool {
		i, j := rest[a], rest[b]
		if subs[i].DatasetCount != subs[j].DatasetCount {
			return subs[i].DatasetCount < subs[j].DatasetCount
		}
		if raw[i] != raw[j] {
			return raw[i] > raw[j]
		}
		return subs[i].ID < subs[j].ID
	})
	for _, i := range rest {
		if len(explore) >= xpK {
			break
		}
		explore = append(explore, cand(i, domain.LaneExplore))
	}
	return exploit, explore
}

func (s *Selector) selectDatasets(q []string, exSubs, xpSubs map[string]bool, exK, xpK, floor int) (exploit, explore []domain.DatasetCandidate) {
	all := s.snap.Datasets()
	texts := make([]string, len(all))
	quality := make([]float64, len(all))
	for i, ds := range all {
		texts[i] = strings.Join([]string{ds.ID, ds.Name, ds.Description, ds.Category, ds.SubcategoryName}, " ")
		quality[i] = ds.ValueScore*4 + ds.Coverage*2 + float64(ds.FieldCount)*0.01
	}
	hit := normalize(newIDFIndex(texts).scores(q))
	qual := normalize(quality)
	score := make([]float64, len(all))
	for i := range all {
		score[i] = 0.8*hit[i] + 0.2*qual[i]
	}

	order := indices(len(all))
	sort.SliceStable(order, func(a, b int) bool {
		i, j := order[a], order[b]
		if score[i] != score[j] {
			return score[i] > score[j]
		}
		if all[i].FieldCount != all[j].FieldCount {
			return all[i].FieldCount > all[j].FieldCount
		}
		return all[i].ID < all[j].ID
	})

	exK = reserveExplore(exK, len(all), floor)
	cand := func(i int, lane domain.Lane, sc float64) domain.DatasetCandidate {
		return domain.DatasetCandidate{ID: all[i].ID, Name: all[i].Name, SubcategoryID: all[i].SubcategoryID, Lane: lane, Score: round4(clip01(sc))}
	}
	taken := make(map[int]bool)
	for _, i := range order {
		if len(exploit) >= exK {
			break
		}
		if len(exSubs) > 0 && !exSubs[all[i].SubcategoryID] {
			continue
		}
		exploit = append(exploit, cand(i, domain.LaneExploit, score[i]))
		taken[i] = true
	}
	for _, i := range order {
		if len(explore) >= xpK {
			break
		}
		if taken[i] || (len(xpSubs) > 0 && !xpSubs[all[i].SubcategoryID]) {
			continue
		}
		explore = append(explore, cand(i, domain.LaneExplore, score[i]))
		taken[i] = true
	}
	if len(explore) == 0 && xpK > 0 {
		// Least-exposed datasets first: fewest fields.
		rest := make([]int, 0, len(all))
		for i := range all {
			if !taken[i] {
				rest = append(rest, i)
			}
		}
		sort.SliceStable(rest, func(a, b int) bool {
			i, j := rest[a], rest[b]
			if all[i].FieldCount != all[j].FieldCount {
				return all[i].FieldCount < all[j].FieldCount
			}
			if all[i].ValueScore != all[j].ValueScore {
				return all[i].ValueScore > all[j].ValueScore
			}
			return all[i].ID < all[j].ID
		})
		for _, i := range rest {
			if len(explore) >= xpK {
				break
			}
			explore = append(explore, cand(i, domain.LaneExplore, qual[i]))
		}
	}
	return exploit, explore
}

func typePriority(t domain.ValueType) int {
	switch t {
	case domain.TypeMatrix:
		return 3
	case domain.TypeGroup:
		return 2
	case domain.TypeVector:
		return 1
	}
	return 0
}

func (s *Selector) selectFields(q []string, exDs, xpDs map[string]bool, exK, xpK, floor int) (exploit, explore []domain.FieldCandidate) {
	var all []domain.Field
	for _, f := range s.snap.Fields() {
		if allowedFieldTypes[f.Type] {
			all = append(all, f)
		}
	}
	texts := make([]string, len(all))
	quality := make([]float64, len(all))
	for i, f := range all {
		texts[i] = strings.Join([]string{f.ID, f.Description, f.DatasetID}, " ")
		quality[i] = float64(f.AlphaCount)*0.7 + f.Coverage*0.3
	}
	hit := normalize(newIDFIndex(texts).scores(q))
	qual := normalize(quality)
	score := make([]float64, len(all))
	for i := range all {
		score[i] = 0.85*hit[i] + 0.15*qual[i]
	}

	order := indices(len(all))
	sort.SliceStable(order, func(a, b int) bool {
		i, j := order[a], order[b]
		if score[i] != score[j] {
			return score[i] > score[j]
		}
		if pi, pj := typePriority(all[i].Type), typePriority(all[j].Type); pi != pj {
			return pi > pj
		}
		return all[i].ID < all[j].ID
	})

	exK = reserveExplore(exK, len(all), floor)
	cand := func(i int, lane domain.Lane, sc float64) domain.FieldCandidate {
		return domain.FieldCandidate{ID: all[i].ID, DatasetID: all[i].DatasetID, Type: all[i].Type, Lane: lane, Score: round4(clip01(sc))}
	}
	taken := make(map[int]bool)
	for _, i := range order {
		if len(exploit) >= exK {
			break
		}
		if len(exDs) > 0 && !exDs[all[i].DatasetID] {
			continue
		}
		exploit = append(exploit, cand(i, domain.LaneExploit, score[i]))
		taken[i] = true
	}
	for _, i := range order {
		if len(explore) >= xpK {
			break
		}
		if taken[i] || (len(xpDs) > 0 && !xpDs[all[i].DatasetID]) {
			continue
		}
		explore = append(explore, cand(i, domain.LaneExplore, score[i]))
		taken[i] = true
	}
	if len(explore) == 0 && xpK > 0 {
		rest := make([]int, 0, len(all))
		for i := range all {
			if !taken[i] {
				rest = append(rest, i)
			}
		}
		sort.SliceStable(rest, func(a, b int) bool {
			i, j := rest[a], rest[b]
			if all[i].AlphaCount != all[j].AlphaCount {
				return all[i].AlphaCount < all[j].AlphaCount
			}
			return all[i].ID < all[j].ID
		})
		for _, i := range rest {
			if len(explore) >= xpK {
				break
			}
			explore = append(explore, cand(i, domain.LaneExplore, qual[i]))
		}
	}
	return exploit, explore
}

func (s *Selector) selectOperators(q []string, exK, xpK, floor int) (exploit, explore []domain.OperatorCandidate) {
	all := s.snap.Operators()
	categories := make(map[string]int)
	texts := make([]string, len(all))
	for i, op := range all {
		categories[categoryKey(op.Category)]++
		texts[i] = strings.Join([]string{op.Name, op.Category, op.Description, op.Definition}, " ")
	}
	hit := normalize(newIDFIndex(texts).scores(q))
	catCount := func(i int) int { return categories[categoryKey(all[i].Category)] }

	order := indices(len(all))
	sort.SliceStable(order, func(a, b int) bool {
		i, j := order[a], order[b]
		if hit[i] != hit[j] {
			return hit[i] > hit[j]
		}
		if catCount(i) != catCount(j) {
			return catCount(i) < catCount(j)
		}
		return all[i].Name < all[j].Name
	})

	exK = reserveExplore(exK, len(all), floor)
	cand := func(i int, lane domain.Lane) domain.OperatorCandidate {
		return domain.OperatorCandidate{Name: all[i].Name, Category: all[i].Category, Scopes: all[i].Scopes, Lane: lane, Score: round4(hit[i])}
	}
	var rest []int
	for _, i := range order {
		if len(exploit) < exK {
			exploit = append(exploit, cand(i, domain.LaneExploit))
			continue
		}
		rest = append(rest, i)
	}
	// Explore favours operators from small categories.
	sort.SliceStable(rest, func(a, b int) bool {
		i, j := rest[a], rest[b]
		if catCount(i) != catCount(j) {
			return catCount(i) < catCount(j)
		}
		if hit[i] != hit[j] {
			return hit[i] > hit[j]
		}
		return all[i].Name < all[j].Name
	})
	for _, i := range rest {
		if len(explore) >= xpK {
			break
		}
		explore = append(explore, cand(i, domain.LaneExplore))
	}
	return exploit, explore
}

func categoryKey(c string) string {
	if c == "" {
		return "uncategorized"
	}
	return c
}

func indices(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// syncPack adds subcategories referenced only through datasets, rebuilds the
// lane views and re-estimates tokens.
func syncPack(p *domain.ContextPack) {
	known := ids(p.Subcategories, subID)
	for _, ds := range p.Datasets {
		if ds.SubcategoryID == "" || known[ds.SubcategoryID] {
			continue
		}
		known[ds.SubcategoryID] = true
		p.Subcategories = append(p.Subcategories, domain.SubcategoryCandidate{ID: ds.SubcategoryID, Lane: ds.Lane})
	}
	p.Lanes = domain.Lanes{Exploit: laneSelection(p, domain.LaneExploit), Explore: laneSelection(p, domain.LaneExplore)}
	p.TokenEstimate = EstimateTokens(p)
}

func laneSelection(p *domain.ContextPack, lane domain.Lane) domain.LaneSelection {
	sel := domain.LaneSelection{
		SubcategoryIDs: []string{},
		DatasetIDs:     []string{},
		FieldIDs:       []string{},
		OperatorNames:  []string{},
	}
	for _, c := range p.Subcategories {
		if c.Lane == lane {
			sel.SubcategoryIDs = append(sel.SubcategoryIDs, c.ID)
		}
	}
	for _, c := range p.Datasets {
		if c.Lane == lane {
			sel.DatasetIDs = append(sel.DatasetIDs, c.ID)
		}
	}
	for _, c := range p.Fields {
		if c.Lane == lane {
			sel.FieldIDs = append(sel.FieldIDs, c.ID)
		}
	}
	for _, c := range p.Operators {
		if c.Lane == lane {
			sel.OperatorNames = append(sel.OperatorNames, c.Name)
		}
	}
	return sel
}
