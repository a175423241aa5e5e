// Package advisory implements the language-model classifiers behind the
// soft tier of both guardrails.
package advisory

import (
	"context"
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/supportd/internal/config"
)

var (
	// ErrEmptyResponse is returned when the model produced no content.
	ErrEmptyResponse = errors.New("advisory: empty response")

	// ErrUnparseable is returned when the model output is not the expected JSON.
	ErrUnparseable = errors.New("advisory: unparseable response")
)

// Completer sends one system+user exchange to a chat model.
type Completer interface {
	Complete(ctx context.Context, system, user string, maxTokens int) (string, error)
}

// Config configures the OpenAI-compatible completer.
type Config struct {
	BaseURL   string
	Model     string
	APIKey    string
	RateLimit float64
	Burst     int
}

// FromAppConfig converts the advisory config section.
func FromAppConfig(cfg config.AdvisoryConfig) Config {
	return Config{
		BaseURL:   cfg.BaseURL,
		Model:     cfg.Model,
		APIKey:    cfg.APIKey.Value(),
		RateLimit: cfg.RateLimit,
		Burst:     cfg.Burst,
	}
}

// LLMCompleter is a Completer backed by a langchaingo model.
type LLMCompleter struct {
	model   llms.Model
	limiter *rate.Limiter
}

// NewOpenAI creates a completer for an OpenAI-compatible endpoint.
func NewOpenAI(cfg Config) (*LLMCompleter, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("advisory: api key is required")
	}
	llm, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithModel(cfg.Model),
		openai.WithToken(cfg.APIKey),
	)
	if err != nil {
		return nil, fmt.Errorf("creating OpenAI client: %w", err)
	}
	return NewLLMCompleter(llm, newLimiter(cfg.RateLimit, cfg.Burst)), nil
}

// NewLLMCompleter wraps model. A nil limiter disables rate limiting.
func NewLLMCompleter(model llms.Model, limiter *rate.Limiter) *LLMCompleter {
	return &LLMCompleter{model: model, limiter: limiter}
}

func newLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

// Complete implements Completer. The call waits for a rate limiter token
// and honors ctx for both the wait and the request.
func (c *LLMCompleter) Complete(ctx context.Context, system, user string, maxTokens int) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("advisory rate limit: %w", err)
		}
	}

	msgs := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, user),
	}
	resp, err := c.model.GenerateContent(ctx, msgs,
		llms.WithTemperature(0),
		llms.WithMaxTokens(maxTokens),
	)
	if err != nil {
		return "", fmt.Errorf("advisory completion: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0].Content == "" {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Content, nil
}
