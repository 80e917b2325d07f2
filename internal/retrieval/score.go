package retrieval

import (
	"math"
	"strings"
	"unicode"
)

// tokenize lowercases text into word tokens. Snake-case identifiers yield
// both the whole word and its parts, so "ts_delta" matches "delta".
func tokenize(text string) []string {
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_')
	})
	out := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.ToLower(w)
		out = append(out, w)
		if strings.Contains(w, "_") {
			for _, part := range strings.Split(w, "_") {
				if part != "" {
					out = append(out, part)
				}
			}
		}
	}
	return out
}

// idfIndex scores documents by IDF-weighted overlap with a query.
type idfIndex struct {
	docs []map[string]bool
	df   map[string]int
}

func newIDFIndex(texts []string) *idfIndex {
	ix := &idfIndex{docs: make([]map[string]bool, len(texts)), df: make(map[string]int)}
	for i, text := range texts {
		set := make(map[string]bool)
		for _, tok := range tokenize(text) {
			set[tok] = true
		}
		for tok := range set {
			ix.df[tok]++
		}
		ix.docs[i] = set
	}
	return ix
}

// score returns the overlap score of document i. Each matching query token
// contributes log((N+1)/(df+1)) + 1.
func (ix *idfIndex) score(query []string, i int) float64 {
	doc := ix.docs[i]
	n := float64(len(ix.docs))
	var s float64
	for _, tok := range query {
		if !doc[tok] {
			continue
		}
		s += math.Log((n+1)/float64(ix.df[tok]+1)) + 1
	}
	return s
}

func (ix *idfIndex) scores(query []string) []float64 {
	out := make([]float64, len(ix.docs))
	for i := range ix.docs {
		out[i] = ix.score(query, i)
	}
	return out
}

// normalize min-max scales values into [0,1]. When all values are equal,
// positive values map to 1 and the rest to 0.
func normalize(values []float64) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	for i, v := range values {
		switch {
		case hi <= lo && v > 0:
			out[i] = 1
		case hi <= lo:
			out[i] = 0
		default:
			out[i] = clip01((v - lo) / (hi - lo))
		}
	}
	return out
}

func clip01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
