// Package audit keeps the execution history: one event per state
// transition, plus the model calls made on an execution's behalf.
package audit

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nikhilbhutani/speechmentor/internal/llm"
)

const (
	ActionTransition = "transition"
	ActionSucceeded  = "succeeded"
	ActionFailed     = "failed"
)

type Event struct {
	ExecutionID string                 `json:"execution_id"`
	Action      string                 `json:"action"`
	State       string                 `json:"state,omitempty"`
	Details     map[string]interface{} `json:"details,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
}

// Log records events and returns them oldest first.
type Log interface {
	Record(ctx context.Context, e Event) error
	History(ctx context.Context, executionID string) ([]Event, error)
}

// executionFromLabel extracts the execution id from a model call label of
// the form "<execution-id>/<file>-<kind>".
func executionFromLabel(label string) string {
	id, _, ok := strings.Cut(label, "/")
	if !ok {
		return ""
	}
	return id
}

type MemoryLog struct {
	mu     sync.Mutex
	events map[string][]Event
	usage  []llm.Usage
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{events: make(map[string][]Event)}
}

func (m *MemoryLog) Record(_ context.Context, e Event) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[e.ExecutionID] = append(m.events[e.ExecutionID], e)
	return nil
}

func (m *MemoryLog) History(_ context.Context, executionID string) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]Event(nil), m.events[executionID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// RecordUsage keeps model usage and adds a model_call event to the owning
// execution's history.
func (m *MemoryLog) RecordUsage(ctx context.Context, u llm.Usage) error {
	m.mu.Lock()
	m.usage = append(m.usage, u)
	m.mu.Unlock()
	if id := executionFromLabel(u.Label); id != "" {
		return m.Record(ctx, usageEvent(id, u))
	}
	return nil
}

func usageEvent(executionID string, u llm.Usage) Event {
	return Event{
		ExecutionID: executionID,
		Action:      "model_call",
		Details: map[string]interface{}{
			"label":         u.Label,
			"provider":      u.Provider,
			"model":         u.Model,
			"input_tokens":  u.InputTokens,
			"output_tokens": u.OutputTokens,
			"cost_usd":      u.CostUSD,
		},
	}
}
