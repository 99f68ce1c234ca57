package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nikhilbhutani/speechmentor/internal/config"
)

type gateway struct {
	providers        map[string]Provider
	defaultProvider  string
	defaultModel     string
	fallbackProvider string
	fallbackModel    string
	maxRetries       int
	backoffUnit      time.Duration
}

func NewGateway(cfg config.LLMConfig) Gateway {
	g := &gateway{
		providers:        make(map[string]Provider),
		defaultProvider:  cfg.DefaultProvider,
		defaultModel:     cfg.DefaultModel,
		fallbackProvider: cfg.FallbackProvider,
		fallbackModel:    cfg.FallbackModel,
		maxRetries:       cfg.MaxRetries,
		backoffUnit:      500 * time.Millisecond,
	}

	if cfg.OpenAIKey != "" {
		g.providers["openai"] = NewOpenAIProvider(cfg.OpenAIKey)
	}
	if cfg.AnthropicKey != "" {
		g.providers["anthropic"] = NewAnthropicProvider(cfg.AnthropicKey)
	}

	return g
}

func (g *gateway) Provider(name string) (Provider, error) {
	p, ok := g.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider %q not configured", name)
	}
	return p, nil
}

func (g *gateway) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	providerName := req.Provider
	if providerName == "" {
		providerName = g.defaultProvider
	}
	if req.Model == "" {
		req.Model = g.defaultModel
	}

	resp, err := g.chatWithRetry(ctx, providerName, req)
	if err != nil && ctx.Err() == nil && g.fallbackProvider != "" && g.fallbackProvider != providerName {
		slog.Warn("primary provider failed, trying fallback",
			"primary", providerName,
			"fallback", g.fallbackProvider,
			"label", req.Label,
			"error", err,
		)
		if g.fallbackModel != "" {
			req.Model = g.fallbackModel
		}
		return g.chatWithRetry(ctx, g.fallbackProvider, req)
	}
	return resp, err
}

func (g *gateway) chatWithRetry(ctx context.Context, providerName string, req ChatRequest) (*ChatResponse, error) {
	p, err := g.Provider(providerName)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt*attempt) * g.backoffUnit
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
			slog.Debug("retrying LLM call", "provider", providerName, "attempt", attempt)
		}

		resp, err := p.ChatCompletion(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("all retries exhausted for %s: %w", providerName, lastErr)
}
