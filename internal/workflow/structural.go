package workflow

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Structural failure codes. They describe the draft container, never the
// expression grammar.
const (
	StructEmptyOutput       = "empty_output"
	StructJSONDecode        = "json_decode_error"
	StructPayloadNotObject  = "payload_not_object"
	StructMissingExpression = "missing_expression"
)

// StructuralError reports a draft whose container could not be read.
type StructuralError struct {
	Code   string
	Detail string
}

func (e *StructuralError) Error() string {
	if e.Detail == "" {
		return e.Code
	}
	return e.Code + ": " + e.Detail
}

// ParseDraft extracts the FastExpr text from raw generator output. The
// output is expected to be a JSON object carrying the expression under
// "expression", "regular" or "simulation_settings.regular". When the strict
// read fails, a shape-only repair pass is tried and repaired is true.
func ParseDraft(raw string) (expr string, repaired bool, err error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return "", false, &StructuralError{Code: StructEmptyOutput, Detail: "model output is empty"}
	}

	expr, serr := decodeDraft(text)
	if serr == nil {
		return expr, false, nil
	}
	if serr.Code == StructMissingExpression {
		return "", false, serr
	}

	first := serr
	for _, cand := range repairCandidates(text) {
		if e, cerr := decodeDraft(cand); cerr == nil {
			return e, true, nil
		} else if cerr.Code == StructMissingExpression {
			first = cerr
		}
	}

	bare := stripFence(text)
	if bare != "" && !strings.ContainsAny(bare, "{}[]") {
		return bare, true, nil
	}
	return "", false, first
}

func decodeDraft(text string) (string, *StructuralError) {
	var payload any
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return "", &StructuralError{Code: StructJSONDecode, Detail: err.Error()}
	}
	obj, ok := payload.(map[string]any)
	if !ok {
		return "", &StructuralError{Code: StructPayloadNotObject, Detail: "top-level JSON payload must be an object"}
	}
	if s := stringAt(obj, "expression"); s != "" {
		return s, nil
	}
	if s := stringAt(obj, "regular"); s != "" {
		return s, nil
	}
	if sim, ok := obj["simulation_settings"].(map[string]any); ok {
		if s := stringAt(sim, "regular"); s != "" {
			return s, nil
		}
	}
	return "", &StructuralError{Code: StructMissingExpression, Detail: "no expression, regular or simulation_settings.regular string"}
}

func stringAt(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return strings.TrimSpace(s)
}

// repairCandidates lists shape-only rewrites of text, most conservative first.
func repairCandidates(text string) []string {
	var out []string
	seen := map[string]bool{text: true}
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}

	fenced := stripFence(text)
	add(fenced)
	add(jsonFragment(text))
	add(jsonFragment(fenced))

	base := append([]string{text}, out...)
	for _, s := range base {
		add(removeTrailingCommas(s))
	}
	for _, s := range base {
		n := normalizeLiterals(s)
		add(n)
		add(removeTrailingCommas(n))
	}
	return out
}

// stripFence removes a surrounding markdown code fence and its language tag.
func stripFence(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")[1:]
	for len(lines) > 0 && strings.HasPrefix(strings.TrimSpace(lines[len(lines)-1]), "```") {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// jsonFragment returns the first balanced object or array in text, honoring
// string literals and escapes. It returns "" when there is none.
func jsonFragment(text string) string {
	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return ""
	}
	opener := text[start]
	closer := byte('}')
	if opener == '[' {
		closer = ']'
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case opener:
			depth++
		case closer:
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

var (
	trailingComma = regexp.MustCompile(`,\s*([}\]])`)
	pyNone        = regexp.MustCompile(`\bNone\b`)
	pyTrue        = regexp.MustCompile(`\bTrue\b`)
	pyFalse       = regexp.MustCompile(`\bFalse\b`)
)

func removeTrailingCommas(s string) string {
	return trailingComma.ReplaceAllString(s, "$1")
}

func normalizeLiterals(s string) string {
	s = pyNone.ReplaceAllString(s, "null")
	s = pyTrue.ReplaceAllString(s, "true")
	return pyFalse.ReplaceAllString(s, "false")
}
