package retrieval

import (
	"github.com/quantforge/alphagate/internal/domain"
	"github.com/quantforge/alphagate/internal/prompt"
)

// EstimateTokens estimates the cost of a first generation request for p,
// before any repair payload is attached.
func EstimateTokens(p *domain.ContextPack) domain.TokenEstimate {
	return prompt.Estimate(domain.GenerationRequest{Pack: p})
}
