// Package generation turns context packs into FastExpr drafts through an
// LLM provider.
package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/quantforge/alphagate/internal/domain"
	"github.com/quantforge/alphagate/internal/prompt"
)

// OpenAIConfig configures an OpenAI-compatible chat completions provider.
type OpenAIConfig struct {
	APIKey              string
	BaseURL             string
	Model               string
	Temperature         float32
	MaxCompletionTokens int
	RequestsPerMinute   int
	Timeout             time.Duration
}

// OpenAIProvider generates drafts through the chat completions API. Calls
// are paced by a token-bucket limiter.
type OpenAIProvider struct {
	client  *openai.Client
	cfg     OpenAIConfig
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewOpenAIProvider creates a provider. An empty model defaults to gpt-4o-mini.
func NewOpenAIProvider(cfg OpenAIConfig, logger *zap.Logger) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, domain.NewEngineError(domain.ErrGenerationUnavailable.Code, "no API key configured")
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}

	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.RequestsPerMinute))
	}
	return &OpenAIProvider{
		client:  openai.NewClientWithConfig(oc),
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
	}, nil
}

// Generate implements the workflow generator contract.
func (p *OpenAIProvider) Generate(ctx context.Context, req domain.GenerationRequest) (string, error) {
	user, err := prompt.Render(req)
	if err != nil {
		return "", err
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return "", domain.WrapEngineError(domain.ErrRateLimitExceeded.Code, "wait for rate limiter", err)
	}
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	creq := openai.ChatCompletionRequest{
		Model: p.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt.System},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: p.cfg.Temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}
	if p.cfg.MaxCompletionTokens > 0 {
		creq.MaxCompletionTokens = p.cfg.MaxCompletionTokens
	}

	p.logger.Debug("requesting draft",
		zap.String("run_id", req.RunID),
		zap.String("model", p.cfg.Model),
		zap.Int("prompt_chars", len(user)),
		zap.Bool("repair", req.Repair != nil))

	resp, err := p.client.CreateChatCompletion(ctx, creq)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return "", domain.NewEngineError(domain.ErrGenerationUnavailable.Code,
				fmt.Sprintf("chat completion failed with status %d: %s", apiErr.HTTPStatusCode, apiErr.Message))
		}
		return "", domain.WrapEngineError(domain.ErrGenerationUnavailable.Code, "chat completion failed", err)
	}
	if len(resp.Choices) == 0 {
		return "", domain.NewEngineError(domain.ErrGenerationUnavailable.Code, "chat completion returned no choices")
	}
	p.logger.Debug("draft received",
		zap.String("run_id", req.RunID),
		zap.String("finish_reason", string(resp.Choices[0].FinishReason)),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens))
	return resp.Choices[0].Message.Content, nil
}
