// Package prompt renders the generation request a context pack becomes and
// sizes it. The selector's token ceiling, the ledger reservation and the
// provider call all read the same rendering.
package prompt

import (
	"encoding/json"
	"fmt"

	"github.com/quantforge/alphagate/internal/domain"
)

// System frames every generation call.
const System = "You write WorldQuant-style FastExpr alpha expressions. Reply with one JSON object only."

// charsPerToken is the heuristic used for every estimate.
const charsPerToken = 4

var baseRules = []string{
	"Return JSON only, shaped like output_schema.",
	"Use only operators and field ids listed in the context.",
	"Only REGULAR-scope operators are allowed.",
	"End every assignment with ';' and finish with one bare expression without ';'.",
	"ts_ operators take MATRIX fields; group_ operators need a GROUP argument; VECTOR fields only go inside vec_ operators.",
}

// View is the part of a pack that is serialized into the prompt.
type View struct {
	Query         string                     `json:"query"`
	Subcategories []string                   `json:"selected_subcategories"`
	Datasets      []domain.DatasetCandidate  `json:"candidate_datasets"`
	Fields        []domain.FieldCandidate    `json:"candidate_fields"`
	Operators     []domain.OperatorCandidate `json:"candidate_operators"`
	Lanes         domain.Lanes               `json:"lanes"`
}

// NewView projects p onto its prompt representation.
func NewView(p *domain.ContextPack) View {
	subs := make([]string, len(p.Subcategories))
	for i, s := range p.Subcategories {
		subs[i] = s.ID
	}
	return View{
		Query:         p.Query,
		Subcategories: subs,
		Datasets:      p.Datasets,
		Fields:        p.Fields,
		Operators:     p.Operators,
		Lanes:         p.Lanes,
	}
}

type envelope struct {
	Agent        string                    `json:"agent"`
	Context      View                      `json:"context"`
	Rules        []string                  `json:"rules"`
	OutputSchema map[string]string         `json:"output_schema"`
	Repair       *domain.RepairInstruction `json:"repair,omitempty"`
	FormatError  string                    `json:"format_error,omitempty"`
}

// Render returns the user message for req.
func Render(req domain.GenerationRequest) (string, error) {
	if req.Pack == nil {
		return "", fmt.Errorf("render prompt: no context pack")
	}
	rules := append([]string(nil), baseRules...)
	if req.FormatError != "" {
		rules = append(rules, "The previous reply could not be read ("+req.FormatError+"). Reply with a single JSON object.")
	}
	env := envelope{
		Agent:   "alpha maker",
		Context: NewView(req.Pack),
		Rules:   rules,
		OutputSchema: map[string]string{
			"expression":     "FastExpr string",
			"candidate_lane": "exploit|explore",
		},
		Repair:      req.Repair,
		FormatError: req.FormatError,
	}
	b, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return string(b), nil
}

// Estimate sizes the system and user messages of req at roughly four
// characters per token. The estimate gates selection and reservation; it is
// not used for billing.
func Estimate(req domain.GenerationRequest) domain.TokenEstimate {
	user, err := Render(req)
	if err != nil {
		return domain.TokenEstimate{}
	}
	chars := len(System) + len(user)
	return domain.TokenEstimate{Chars: chars, Tokens: max(1, chars/charsPerToken)}
}
