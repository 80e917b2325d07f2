package generation

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/quantforge/alphagate/internal/domain"
)

// Scripted replays fixed drafts in order and repeats the last one.
// It is safe for concurrent use.
type Scripted struct {
	mu     sync.Mutex
	drafts []string
	calls  int
}

// NewScripted creates a provider for the given drafts.
func NewScripted(drafts ...string) *Scripted {
	return &Scripted{drafts: drafts}
}

// Generate returns the next draft.
func (s *Scripted) Generate(_ context.Context, _ domain.GenerationRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.drafts) == 0 {
		return "", domain.NewEngineError(domain.ErrGenerationUnavailable.Code, "scripted provider has no drafts")
	}
	i := min(s.calls, len(s.drafts)-1)
	s.calls++
	return s.drafts[i], nil
}

// Calls reports how many drafts were requested.
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Synthetic builds a simple draft from the pack itself, for dry runs
// without an LLM: a cross-sectional operator over a time-series operator
// over the first MATRIX field.
type Synthetic struct{}

var (
	crossSectional = []string{"rank", "zscore", "scale"}
	timeSeries     = []string{"ts_delta", "ts_mean", "ts_rank", "ts_std_dev"}
)

// Generate implements the workflow generator contract.
func (Synthetic) Generate(_ context.Context, req domain.GenerationRequest) (string, error) {
	if req.Pack == nil {
		return "", domain.NewEngineError(domain.ErrGenerationUnavailable.Code, "no context pack")
	}
	field := ""
	for _, f := range req.Pack.Fields {
		if f.Type == domain.TypeMatrix {
			field = f.ID
			break
		}
	}
	if field == "" {
		return "", domain.NewEngineError(domain.ErrGenerationUnavailable.Code, "pack has no MATRIX field")
	}

	names := make(map[string]bool, len(req.Pack.Operators))
	for _, o := range req.Pack.Operators {
		names[o.Name] = true
	}
	expr := field
	if ts := firstOf(names, timeSeries); ts != "" {
		expr = ts + "(" + expr + ", 5)"
	}
	if cs := firstOf(names, crossSectional); cs != "" {
		expr = cs + "(" + expr + ")"
	}

	b, err := json.Marshal(map[string]string{"expression": expr, "candidate_lane": string(domain.LaneExploit)})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func firstOf(names map[string]bool, prefs []string) string {
	for _, p := range prefs {
		if names[p] {
			return p
		}
	}
	return ""
}
