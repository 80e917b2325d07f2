package workflow

import (
	"sort"
	"strings"

	"github.com/quantforge/alphagate/internal/domain"
)

// Signature normalizes a failed report to its sorted set of code:token
// pairs. Spans and occurrence counts are ignored, so the same mistake made
// at a different place yields the same signature. A passing report has an
// empty signature.
func Signature(r domain.ValidationReport) domain.ErrorSignature {
	if r.Passed {
		return ""
	}
	seen := make(map[string]bool, len(r.Errors))
	parts := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		p := string(e.Code) + ":" + e.Token
		if !seen[p] {
			seen[p] = true
			parts = append(parts, p)
		}
	}
	sort.Strings(parts)
	return domain.ErrorSignature(strings.Join(parts, "|"))
}

// repeatStreak counts how many signatures at the end of history equal the
// last one.
func repeatStreak(history []domain.ErrorSignature) int {
	if len(history) == 0 {
		return 0
	}
	last := history[len(history)-1]
	n := 0
	for i := len(history) - 1; i >= 0 && history[i] == last; i-- {
		n++
	}
	return n
}
