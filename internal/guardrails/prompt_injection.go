package guardrails

import (
	"context"
	"strings"
)

// PromptInjectionDetector looks for phrases that try to steer the model.
// In a speech these are often legitimate content, so the detector only
// reports what it saw.
type PromptInjectionDetector struct{}

func NewPromptInjectionDetector() *PromptInjectionDetector {
	return &PromptInjectionDetector{}
}

func (d *PromptInjectionDetector) Name() string { return "prompt_injection" }

var injectionPatterns = []struct {
	pattern string
	weight  float64
	flag    string
}{
	{"ignore previous instructions", 0.9, "override_attempt"},
	{"ignore all previous", 0.9, "override_attempt"},
	{"ignore the above", 0.85, "override_attempt"},
	{"disregard your instructions", 0.9, "override_attempt"},
	{"forget your instructions", 0.85, "override_attempt"},
	{"you are now", 0.7, "role_hijack"},
	{"pretend you are", 0.7, "role_hijack"},
	{"act as if you", 0.6, "role_hijack"},
	{"system prompt", 0.8, "system_leak"},
	{"reveal your system", 0.8, "system_leak"},
	{"show me your prompt", 0.8, "system_leak"},
	{"jailbreak", 0.9, "jailbreak"},
	{"do anything now", 0.85, "jailbreak"},
	{"</speech>", 0.9, "tag_injection"},
	{"<speech>", 0.8, "tag_injection"},
	{"</system>", 0.8, "tag_injection"},
	{"<system>", 0.8, "tag_injection"},
	{"### instruction", 0.6, "format_injection"},
}

func (d *PromptInjectionDetector) Check(_ context.Context, text string) (*Result, error) {
	lower := strings.ToLower(text)
	var flags []string
	score := 0.0

	for _, p := range injectionPatterns {
		if strings.Contains(lower, p.pattern) {
			if p.weight > score {
				score = p.weight
			}
			flags = append(flags, p.flag)
		}
	}

	res := &Result{Flags: flags}
	if score > 0 {
		res.Scores = map[string]float64{"injection_score": score}
	}
	return res, nil
}
