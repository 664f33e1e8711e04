// Package config provides the configuration schema, loader, and provider
// registry for the voxdesk complaint service.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// StoreDriver selects the ticket store backend.
type StoreDriver string

const (
	StoreMemory   StoreDriver = "memory"
	StoreSQLite   StoreDriver = "sqlite"
	StorePostgres StoreDriver = "postgres"
)

// IsValid reports whether d is a supported driver.
func (d StoreDriver) IsValid() bool {
	switch d {
	case StoreMemory, StoreSQLite, StorePostgres:
		return true
	}
	return false
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Index      IndexConfig      `yaml:"index"`
	Store      StoreConfig      `yaml:"store"`
	Intake     IntakeConfig     `yaml:"intake"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP API listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	LogLevel LogLevel `yaml:"log_level"`
}

// ProvidersConfig selects the model backends. An empty LLM name disables the
// AI signal; an empty embeddings name disables the similarity index writes.
type ProvidersConfig struct {
	LLM          ProviderEntry   `yaml:"llm"`
	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`

	Embeddings          ProviderEntry   `yaml:"embeddings"`
	EmbeddingsFallbacks []ProviderEntry `yaml:"embeddings_fallbacks"`
}

// ProviderEntry is the common configuration block for a single provider.
type ProviderEntry struct {
	// Name selects the registered factory (e.g., "openai", "ollama").
	Name string `yaml:"name"`

	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`

	// Timeout bounds each HTTP request made by the provider. Zero means no
	// provider-level timeout.
	Timeout time.Duration `yaml:"timeout"`

	// Options carries provider-specific settings.
	Options map[string]any `yaml:"options"`
}

// ClassifierConfig tunes the classification path.
type ClassifierConfig struct {
	// LexiconFile points at a YAML keyword table. Empty uses the built-in
	// lexicon.
	LexiconFile string `yaml:"lexicon_file"`

	AITimeout            time.Duration `yaml:"ai_timeout"`
	MinKeywordConfidence float64       `yaml:"min_keyword_confidence"`
	MaxInputRunes        int           `yaml:"max_input_runes"`

	// AICacheTTL enables the signal cache when positive.
	AICacheTTL time.Duration `yaml:"ai_cache_ttl"`

	// AIRateLimit is the request budget towards the model, per second.
	// Zero means unlimited.
	AIRateLimit float64 `yaml:"ai_rate_limit"`
	AIBurst     int     `yaml:"ai_burst"`

	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig configures the circuit breakers around model backends.
// Zero values fall back to the breaker defaults.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
	HalfOpenMax  int           `yaml:"half_open_max"`
}

// IndexConfig configures the similarity index and its rebuilds.
type IndexConfig struct {
	// Dimensions must match the embeddings provider output.
	Dimensions int `yaml:"dimensions"`

	CompactThreshold int `yaml:"compact_threshold"`
	RebuildChunkSize int `yaml:"rebuild_chunk_size"`
	EmbedBatchSize   int `yaml:"embed_batch_size"`
	EmbedConcurrency int `yaml:"embed_concurrency"`

	// RebuildSchedule is a 5-field cron expression. Empty disables
	// scheduled rebuilds.
	RebuildSchedule string `yaml:"rebuild_schedule"`

	// BuildOnStart triggers an asynchronous build when the server starts.
	BuildOnStart bool `yaml:"build_on_start"`
}

// StoreConfig selects the ticket store.
type StoreConfig struct {
	Driver StoreDriver `yaml:"driver"`

	// DSN is a file path for sqlite and a connection string for postgres.
	DSN string `yaml:"dsn"`
}

// IntakeConfig enables the NATS consumer for finalized tickets. Leaving
// NATSURL empty disables it.
type IntakeConfig struct {
	NATSURL string `yaml:"nats_url"`

	// Subject defaults to "voxdesk.tickets.finalized". Failed events go to
	// the same subject with a ".dlq" suffix.
	Subject string `yaml:"subject"`
}

// TelemetryConfig holds OpenTelemetry resource settings.
type TelemetryConfig struct {
	ServiceName string `yaml:"service_name"`
}
