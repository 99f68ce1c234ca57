package llm

import (
	"context"
	"errors"
)

// ErrEmptyCompletion is returned when a provider answers with no text.
var ErrEmptyCompletion = errors.New("empty completion")

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Provider abstracts an LLM provider (Anthropic, OpenAI).
type Provider interface {
	ChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	Name() string
}

// Gateway provides multi-provider routing with fallback and retry.
type Gateway interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	Provider(name string) (Provider, error)
}

// Invoker is the single-call text interface used by the speech workflow.
type Invoker interface {
	Invoke(ctx context.Context, req ChatRequest) (string, error)
}

// Message represents a single chat message.
type Message struct {
	Role    string `json:"role"` // user, assistant
	Content string `json:"content"`
}

// ChatRequest is the input for chat completions. System carries the system
// instruction separately from the conversation turns.
type ChatRequest struct {
	Provider    string    `json:"provider,omitempty"`
	Model       string    `json:"model,omitempty"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`

	// Label names the call in logs and staging keys,
	// e.g. "<execution-id>/talk.mp3-speech_feedback".
	Label string `json:"-"`
}

// ChatResponse is the output from chat completions.
type ChatResponse struct {
	ID           string  `json:"id"`
	Provider     string  `json:"provider"`
	Model        string  `json:"model"`
	Content      string  `json:"content"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	TotalTokens  int     `json:"total_tokens"`
	CostUSD      float64 `json:"cost_usd"`
	LatencyMs    int64   `json:"latency_ms"`
}
