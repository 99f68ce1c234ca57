// Package guardrails scans transcripts for suspicious content. Checks only
// flag; the transcript is always passed on to the model as data.
package guardrails

import (
	"context"
	"fmt"
	"strings"
)

// Result holds the outcome of a scan.
type Result struct {
	Flags  []string           `json:"flags,omitempty"`
	Scores map[string]float64 `json:"scores,omitempty"`
}

// Guardrail is a single check applied to a transcript.
type Guardrail interface {
	Check(ctx context.Context, text string) (*Result, error)
	Name() string
}

// Pipeline chains multiple guardrails together.
type Pipeline struct {
	guards []Guardrail
}

func NewPipeline(guards ...Guardrail) *Pipeline {
	return &Pipeline{guards: guards}
}

// DefaultPipeline runs every built-in transcript check.
func DefaultPipeline() *Pipeline {
	return NewPipeline(NewPromptInjectionDetector(), NewPIIDetector())
}

// Scan runs all guardrails and merges their flags, deduplicated and in order.
func (p *Pipeline) Scan(ctx context.Context, text string) (*Result, error) {
	combined := &Result{Scores: make(map[string]float64)}
	seen := make(map[string]bool)

	for _, g := range p.guards {
		result, err := g.Check(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("guardrail %s: %w", g.Name(), err)
		}
		for _, f := range result.Flags {
			if !seen[f] {
				seen[f] = true
				combined.Flags = append(combined.Flags, f)
			}
		}
		for k, v := range result.Scores {
			combined.Scores[k] = v
		}
	}

	return combined, nil
}

// PIIDetector flags speech that seems to recite personal data.
type PIIDetector struct{}

func NewPIIDetector() *PIIDetector { return &PIIDetector{} }

func (d *PIIDetector) Name() string { return "pii_detector" }

func (d *PIIDetector) Check(_ context.Context, text string) (*Result, error) {
	var flags []string
	lower := strings.ToLower(text)

	piiPatterns := []struct {
		flag     string
		patterns []string
	}{
		{"ssn_pattern", []string{"social security number", "my ssn"}},
		{"credit_card_pattern", []string{"credit card number", "card number is"}},
		{"password_pattern", []string{"password is", "my password"}},
	}

	for _, p := range piiPatterns {
		for _, pat := range p.patterns {
			if strings.Contains(lower, pat) {
				flags = append(flags, p.flag)
				break
			}
		}
	}

	return &Result{Flags: flags}, nil
}
