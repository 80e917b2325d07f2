package workflow

import (
	"github.com/quantforge/alphagate/internal/catalog"
	"github.com/quantforge/alphagate/internal/domain"
	"github.com/quantforge/alphagate/internal/fastexpr"
)

// DeterministicFix rewrites expr so that every error of the report is
// addressed mechanically with a candidate already in the pack:
//
//   - unknown_operator: nearest REGULAR operator of the pack
//   - scope_violation: nearest REGULAR operator, same category first
//   - unknown_field: nearest MATRIX field of the pack
//   - type_violation on a VECTOR field: nearest MATRIX field
//
// It returns false if any error has no mechanical fix or nothing changed;
// the caller then asks for a regeneration instead.
func DeterministicFix(expr string, report domain.ValidationReport, pack *domain.ContextPack, snap *catalog.Snapshot) (string, bool) {
	if report.Passed || len(report.Errors) == 0 || pack == nil || snap == nil {
		return "", false
	}
	ops := make(map[string]string)
	fields := make(map[string]string)

	for _, e := range report.Errors {
		var (
			repl string
			ok   bool
		)
		switch e.Code {
		case domain.CodeUnknownOperator:
			repl, ok = nearestOperator(e.Token, "", pack, snap)
			ops[e.Token] = repl
		case domain.CodeScopeViolation:
			op, _ := snap.Operator(e.Token)
			repl, ok = nearestOperator(e.Token, op.Category, pack, snap)
			ops[e.Token] = repl
		case domain.CodeUnknownField:
			repl, ok = nearestField(e.Token, pack, snap)
			fields[e.Token] = repl
		case domain.CodeTypeViolation:
			if f, known := snap.Field(e.Token); known && f.Type == domain.TypeVector {
				repl, ok = nearestField(e.Token, pack, snap)
				fields[e.Token] = repl
			}
		}
		if !ok {
			return "", false
		}
	}

	out := fastexpr.RewriteIdents(expr, func(name string, role fastexpr.IdentRole) (string, bool) {
		switch role {
		case fastexpr.RoleCall:
			r, ok := ops[name]
			return r, ok
		case fastexpr.RoleRef:
			r, ok := fields[name]
			return r, ok
		}
		return "", false
	})
	if out == expr {
		return "", false
	}
	return out, true
}

// nearestOperator picks the REGULAR-allowed pack operator closest to name.
// When category is set, operators of that category are preferred. Ties keep
// pack order.
func nearestOperator(name, category string, pack *domain.ContextPack, snap *catalog.Snapshot) (string, bool) {
	var all, same []string
	for _, c := range pack.Operators {
		op, ok := snap.Operator(c.Name)
		if !ok || c.Name == name || !op.AllowsScope(domain.ScopeRegular) {
			continue
		}
		all = append(all, c.Name)
		if category != "" && op.Category == category {
			same = append(same, c.Name)
		}
	}
	if len(same) > 0 {
		return nearest(name, same)
	}
	return nearest(name, all)
}

// nearestField picks the MATRIX pack field closest to name.
func nearestField(name string, pack *domain.ContextPack, snap *catalog.Snapshot) (string, bool) {
	var ids []string
	for _, c := range pack.Fields {
		f, ok := snap.Field(c.ID)
		if ok && c.ID != name && f.Type == domain.TypeMatrix {
			ids = append(ids, c.ID)
		}
	}
	return nearest(name, ids)
}

func nearest(name string, options []string) (string, bool) {
	best, bestDist := "", -1
	for _, o := range options {
		if d := levenshtein(name, o); bestDist < 0 || d < bestDist {
			best, bestDist = o, d
		}
	}
	return best, bestDist >= 0
}

// levenshtein is the edit distance between a and b, using two rows.
func levenshtein(a, b string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}
	if len(a) < len(b) {
		a, b = b, a
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

// buildInstruction assembles the repair instruction for a regeneration.
func buildInstruction(attempt int, report domain.ValidationReport, streak int, expanded bool, pack *domain.ContextPack, prev string) *domain.RepairInstruction {
	codes := report.Codes()
	hints := make([]string, 0, len(codes))
	for _, c := range codes {
		if h := c.Hint(); h != "" {
			hints = append(hints, h)
		}
	}
	return &domain.RepairInstruction{
		Attempt:            attempt,
		ErrorCodes:         codes,
		Errors:             append([]domain.ValidationError(nil), report.Errors...),
		RepeatedErrorCount: streak,
		ExpandedRetrieval:  expanded,
		Hints:              hints,
		AvailableCandidates: map[string]int{
			"fields":        len(pack.Fields),
			"operators":     len(pack.Operators),
			"subcategories": len(pack.Subcategories),
		},
		PreviousExpression: prev,
	}
}
