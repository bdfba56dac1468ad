// Package config loads and validates application configuration from environment variables.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Platform database. DATABASE_URL wins; otherwise assembled from DB_* parts.
	DatabaseURL string

	// Operator auth (bearer JWT). Disabled when AuthEnabled is false.
	AuthEnabled bool
	JWTSecret   string
	JWTIssuer   string
	JWTAudience string

	// Embedding provider settings.
	EmbeddingProvider  string // "auto", "bedrock", "ollama", or "noop"
	EmbeddingModel     string
	// EmbeddingDimension must match the vector(1024) width of the
	// query_embedding and centroid columns in the migrations. Changing it
	// requires altering those columns and rebuilding stored baselines.
	EmbeddingDimension int
	AWSRegion          string
	OllamaURL          string
	OllamaEmbedModel   string

	// LLM provider settings.
	LLMProvider     string // "anthropic" or "ollama"
	AnthropicAPIKey string
	AnthropicModel  string
	OllamaLLMModel  string

	// Evaluation and drift thresholds.
	EvalThreshold        float64
	DriftHighThreshold   float64
	DriftMediumThreshold float64

	// Scheduler settings.
	PollCycle       time.Duration
	HealthInterval  time.Duration
	TelemetryGap    time.Duration
	SchemaScanEvery time.Duration
	PipelineWorkers int

	// Ground-truth object store. Bucket unset means local filesystem.
	GTBucket    string
	GTEndpoint  string
	GTAccessKey string
	GTSecretKey string
	GTUseSSL    bool
	GTLocalDir  string

	// Alerting (optional). Slack and SES email are independent channels;
	// email activates when both a sender and at least one recipient are set.
	SlackToken           string
	SlackChannel         string
	AlertEmailFrom       string
	AlertEmailRecipients []string

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Rate limiting for ingest.
	RateLimitEnabled bool
	RateLimitRPS     float64
	RateLimitBurst   int

	// Operational settings.
	LogLevel            string
	MaxRequestBodyBytes int64
	CORSAllowedOrigins  string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		Host:                 envStr("API_HOST", "0.0.0.0"),
		Port:                 envInt("API_PORT", 8080),
		ReadTimeout:          envDuration("KANSHI_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:         envDuration("KANSHI_WRITE_TIMEOUT", 60*time.Second),
		DatabaseURL:          envStr("DATABASE_URL", ""),
		AuthEnabled:          envBool("AUTH_ENABLED", false),
		JWTSecret:            envStr("JWT_SECRET", ""),
		JWTIssuer:            envStr("JWT_ISSUER", "kanshi"),
		JWTAudience:          envStr("JWT_AUDIENCE", "kanshi"),
		EmbeddingProvider:    envStr("EMBEDDING_PROVIDER", "auto"),
		EmbeddingModel:       envStr("EMBEDDING_MODEL", "amazon.titan-embed-text-v2:0"),
		EmbeddingDimension:   envInt("EMBEDDING_DIMENSION", 1024),
		AWSRegion:            envStr("AWS_REGION", "us-east-1"),
		OllamaURL:            envStr("OLLAMA_URL", "http://localhost:11434"),
		OllamaEmbedModel:     envStr("OLLAMA_EMBED_MODEL", "mxbai-embed-large"),
		LLMProvider:          envStr("LLM_PROVIDER", "anthropic"),
		AnthropicAPIKey:      envStr("ANTHROPIC_API_KEY", ""),
		AnthropicModel:       envStr("ANTHROPIC_MODEL", "claude-sonnet-4-5"),
		OllamaLLMModel:       envStr("OLLAMA_LLM_MODEL", "llama3.1"),
		EvalThreshold:        envFloat("EVALUATION_THRESHOLD", 0.7),
		DriftHighThreshold:   envFloat("DRIFT_HIGH_THRESHOLD", 0.5),
		DriftMediumThreshold: envFloat("DRIFT_MEDIUM_THRESHOLD", 0.3),
		PollCycle:            envDuration("POLL_CYCLE", 5*time.Second),
		HealthInterval:       envDuration("HEALTH_CHECK_INTERVAL", 30*time.Second),
		TelemetryGap:         envDuration("TELEMETRY_GAP_THRESHOLD", 30*time.Minute),
		SchemaScanEvery:      envDuration("SCHEMA_SCAN_EVERY", 10*time.Hour),
		PipelineWorkers:      envInt("PIPELINE_WORKERS", 8),
		GTBucket:             envStr("GT_BUCKET", ""),
		GTEndpoint:           envStr("GT_ENDPOINT", ""),
		GTAccessKey:          envStr("GT_ACCESS_KEY", ""),
		GTSecretKey:          envStr("GT_SECRET_KEY", ""),
		GTUseSSL:             envBool("GT_USE_SSL", true),
		GTLocalDir:           envStr("GT_LOCAL_DIR", "data/ground_truth"),
		SlackToken:           envStr("SLACK_TOKEN", ""),
		SlackChannel:         envStr("SLACK_CHANNEL", ""),
		AlertEmailFrom:       envStr("ALERT_EMAIL_FROM", ""),
		AlertEmailRecipients: envList("ALERT_EMAIL_RECIPIENTS"),
		OTELEndpoint:         envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:         envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		ServiceName:          envStr("OTEL_SERVICE_NAME", "kanshi"),
		RateLimitEnabled:     envBool("RATE_LIMIT_ENABLED", true),
		RateLimitRPS:         envFloat("RATE_LIMIT_RPS", 50),
		RateLimitBurst:       envInt("RATE_LIMIT_BURST", 100),
		LogLevel:             envStr("KANSHI_LOG_LEVEL", "info"),
		MaxRequestBodyBytes:  int64(envInt("KANSHI_MAX_REQUEST_BODY_BYTES", 1*1024*1024)), // 1 MB default
		CORSAllowedOrigins:   envStr("CORS_ALLOWED_ORIGINS", ""),
	}

	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = databaseURLFromParts()
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// databaseURLFromParts assembles a Postgres URL from the legacy DB_* variables.
func databaseURLFromParts() string {
	host := envStr("DB_HOST", "localhost")
	port := envInt("DB_PORT", 5432)
	name := envStr("DB_NAME", "kanshi")
	user := envStr("DB_USER", "postgres")
	pass := envStr("DB_PASSWORD", "")

	u := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", host, port),
		Path:   "/" + name,
	}
	if pass != "" {
		u.User = url.UserPassword(user, pass)
	} else {
		u.User = url.User(user)
	}
	return u.String()
}

// Validate checks that required configuration is present and consistent.
func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("config: DATABASE_URL or DB_* variables are required")
	}
	if c.EmbeddingDimension <= 0 {
		return fmt.Errorf("config: EMBEDDING_DIMENSION must be positive")
	}
	if c.AuthEnabled && c.JWTSecret == "" {
		return fmt.Errorf("config: JWT_SECRET is required when AUTH_ENABLED=true")
	}
	if c.EvalThreshold <= 0 || c.EvalThreshold > 1 {
		return fmt.Errorf("config: EVALUATION_THRESHOLD must be in (0, 1]")
	}
	if c.DriftMediumThreshold >= c.DriftHighThreshold {
		return fmt.Errorf("config: DRIFT_MEDIUM_THRESHOLD must be below DRIFT_HIGH_THRESHOLD")
	}
	if c.PipelineWorkers <= 0 {
		return fmt.Errorf("config: PIPELINE_WORKERS must be positive")
	}
	if c.MaxRequestBodyBytes <= 0 {
		return fmt.Errorf("config: KANSHI_MAX_REQUEST_BODY_BYTES must be positive")
	}
	if len(c.AlertEmailRecipients) > 0 && c.AlertEmailFrom == "" {
		return fmt.Errorf("config: ALERT_EMAIL_FROM is required when ALERT_EMAIL_RECIPIENTS is set")
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

// envList splits a comma-separated variable, trimming whitespace and
// dropping empty entries.
func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
