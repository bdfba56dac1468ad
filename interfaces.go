package kanshi

import "context"

// EmbeddingProvider maps text to a fixed-dimension vector. External
// implementations replace the built-in Bedrock/Ollama providers via
// WithEmbeddingProvider.
type EmbeddingProvider interface {
	// Embed returns the embedding for one text. The slice length must equal
	// Dimensions() for every call.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions is the fixed width of returned vectors.
	Dimensions() int
}

// LLMProvider produces a text completion for a system + user prompt pair.
// Used for ground-truth generation, SQL judging, and output validation.
type LLMProvider interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// EventHook observes telemetry events after the background pipeline has run
// every stage (drift, evaluation, error classification). Errors are logged
// and ignored; hooks cannot fail the pipeline.
type EventHook interface {
	OnEventProcessed(ctx context.Context, ev TelemetryEvent) error
}
