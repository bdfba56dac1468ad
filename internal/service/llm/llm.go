// Package llm provides text completion for ground-truth generation and
// LLM-as-judge evaluation.
//
// Defines a Provider interface with Anthropic and Ollama implementations.
package llm

import "context"

// Provider produces a text completion for a system + user prompt pair.
type Provider interface {
	// Complete returns the model's text response. Implementations should
	// honor ctx cancellation; callers set deadlines per pipeline stage.
	Complete(ctx context.Context, system, user string) (string, error)
}

// NoopProvider returns empty completions. Judge-dependent scoring degrades
// to its non-LLM components when this provider is configured.
type NoopProvider struct{}

// Complete returns an empty string.
func (NoopProvider) Complete(context.Context, string, string) (string, error) {
	return "", nil
}
