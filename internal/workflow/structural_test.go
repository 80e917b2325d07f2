package workflow

import (
	"errors"
	"testing"
)

func TestParseDraft(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		want     string
		repaired bool
		code     string
	}{
		{"strict_expression", `{"expression": "rank(close)"}`, "rank(close)", false, ""},
		{"strict_regular", `{"regular": "rank(open)"}`, "rank(open)", false, ""},
		{"nested_regular", `{"simulation_settings": {"type": "REGULAR", "regular": "rank(vwap)"}}`, "rank(vwap)", false, ""},
		{"fenced", "```json\n{\"expression\": \"rank(close)\"}\n```", "rank(close)", true, ""},
		{"prose_around", "Here you go:\n{\"expression\": \"a = close; a\"} hope it helps", "a = close; a", true, ""},
		{"trailing_comma", `{"expression": "rank(close)",}`, "rank(close)", true, ""},
		{"python_literals", `{"expression": "rank(close)", "notes": None, "ok": True,}`, "rank(close)", true, ""},
		{"brace_in_string", `noise {"expression": "rank(close)", "note": "a } b"} tail`, "rank(close)", true, ""},
		{"bare_expression", "x = ts_delta(close, 5);\nrank(x)", "x = ts_delta(close, 5);\nrank(x)", true, ""},
		{"fenced_bare_expression", "```\nrank(close)\n```", "rank(close)", true, ""},
		{"empty", "   \n", "", false, StructEmptyOutput},
		{"missing_expression", `{"alpha": "rank(close)"}`, "", false, StructMissingExpression},
		{"array", `["rank(close)"]`, "", false, StructPayloadNotObject},
		{"broken_json", `{"expression": "rank(close)"`, "", false, StructJSONDecode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, repaired, err := ParseDraft(tt.raw)
			if tt.code != "" {
				var se *StructuralError
				if !errors.As(err, &se) {
					t.Fatalf("ParseDraft error = %v, want StructuralError %s", err, tt.code)
				}
				if se.Code != tt.code {
					t.Fatalf("code = %s, want %s", se.Code, tt.code)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseDraft: %v", err)
			}
			if got != tt.want {
				t.Errorf("expression = %q, want %q", got, tt.want)
			}
			if repaired != tt.repaired {
				t.Errorf("repaired = %v, want %v", repaired, tt.repaired)
			}
		})
	}
}

func TestJSONFragment(t *testing.T) {
	if got := jsonFragment(`x {"a": "}\"{"} y`); got != `{"a": "}\"{"}` {
		t.Errorf("jsonFragment = %q", got)
	}
	if got := jsonFragment(`{"a": 1`); got != "" {
		t.Errorf("unbalanced fragment = %q, want empty", got)
	}
}
