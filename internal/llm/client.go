package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Usage describes one completed model call.
type Usage struct {
	Label        string
	Provider     string
	Model        string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	LatencyMs    int64
}

type UsageRecorder interface {
	RecordUsage(ctx context.Context, u Usage) error
}

// Client adapts a Gateway to the Invoker interface: one request in, the
// response text out.
type Client struct {
	gw    Gateway
	usage UsageRecorder
}

func NewClient(gw Gateway) *Client {
	return &Client{gw: gw}
}

// WithUsageRecorder makes the client report every successful call to r.
// Recording failures are logged and never fail the call.
func (c *Client) WithUsageRecorder(r UsageRecorder) *Client {
	c.usage = r
	return c
}

func (c *Client) Invoke(ctx context.Context, req ChatRequest) (string, error) {
	resp, err := c.gw.Chat(ctx, req)
	if err != nil {
		return "", err
	}

	slog.Info("model call completed",
		"label", req.Label,
		"provider", resp.Provider,
		"model", resp.Model,
		"input_tokens", resp.InputTokens,
		"output_tokens", resp.OutputTokens,
		"cost_usd", resp.CostUSD,
		"latency_ms", resp.LatencyMs,
	)
	if c.usage != nil {
		u := Usage{
			Label:        req.Label,
			Provider:     resp.Provider,
			Model:        resp.Model,
			InputTokens:  resp.InputTokens,
			OutputTokens: resp.OutputTokens,
			CostUSD:      resp.CostUSD,
			LatencyMs:    resp.LatencyMs,
		}
		if err := c.usage.RecordUsage(ctx, u); err != nil {
			slog.Warn("failed to record model usage", "label", req.Label, "error", err)
		}
	}

	if strings.TrimSpace(resp.Content) == "" {
		return "", fmt.Errorf("empty response from %s", resp.Provider)
	}
	return resp.Content, nil
}
