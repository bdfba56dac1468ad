package kanshi

import (
	"io/fs"
	"log/slog"
)

// Option configures the App during New.
type Option func(*resolvedOptions)

// resolvedOptions collects option values before config.Load applies defaults.
type resolvedOptions struct {
	port        int
	databaseURL string
	logger      *slog.Logger
	version     string

	embeddingProvider EmbeddingProvider
	llmProvider       LLMProvider
	eventHooks        []EventHook
	extraMigrations   []fs.FS
}

// WithPort overrides the HTTP listen port from the environment.
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithDatabaseURL overrides the platform database connection string.
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithLogger sets the structured logger used by every subsystem. Defaults to
// slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the reported build version (normally injected via -ldflags).
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithEmbeddingProvider replaces the built-in embedding providers (Bedrock,
// Ollama) with an external implementation. The provider's dimension must
// agree with stored baselines or drift records dimension_mismatch.
func WithEmbeddingProvider(p EmbeddingProvider) Option {
	return func(o *resolvedOptions) { o.embeddingProvider = p }
}

// WithLLMProvider replaces the built-in LLM providers (Anthropic, Ollama)
// used for ground-truth generation and judge evaluation.
func WithLLMProvider(p LLMProvider) Option {
	return func(o *resolvedOptions) { o.llmProvider = p }
}

// WithEventHook registers a hook invoked after the background pipeline
// finishes all stages for a telemetry event. Hooks run on pipeline workers;
// slow hooks reduce pipeline throughput.
func WithEventHook(hook EventHook) Option {
	return func(o *resolvedOptions) { o.eventHooks = append(o.eventHooks, hook) }
}

// WithExtraMigrations appends migration filesystems applied after the
// embedded ones. Files run in lexical order and are tracked in
// schema_migrations like the built-in set.
func WithExtraMigrations(dir fs.FS) Option {
	return func(o *resolvedOptions) { o.extraMigrations = append(o.extraMigrations, dir) }
}
