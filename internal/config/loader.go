package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"embeddings": {"openai", "ollama"},
}

// Defaults applied by [ApplyDefaults] to unset fields.
const (
	DefaultListenAddr    = ":8080"
	DefaultDimensions    = 1536
	DefaultServiceName   = "voxdesk"
	DefaultIntakeSubject = "voxdesk.tickets.finalized"
)

// Default returns a configuration with every default applied and no model
// providers. It classifies with keywords only and keeps tickets in memory.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. An empty document yields [Default].
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields. Fields whose zero value is meaningful
// (rate limit, cache TTL, schedule) are left alone.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Classifier.AITimeout == 0 {
		cfg.Classifier.AITimeout = 8 * time.Second
	}
	if cfg.Classifier.MaxInputRunes == 0 {
		cfg.Classifier.MaxInputRunes = 5000
	}
	if cfg.Index.Dimensions == 0 {
		if cfg.Providers.Embeddings.Name != "" {
			slog.Warn("providers.embeddings is configured but index.dimensions is not set; defaulting", "dimensions", DefaultDimensions)
		}
		cfg.Index.Dimensions = DefaultDimensions
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = StoreMemory
	}
	if cfg.Intake.NATSURL != "" && cfg.Intake.Subject == "" {
		cfg.Intake.Subject = DefaultIntakeSubject
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = DefaultServiceName
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Providers
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)
	for i, fb := range cfg.Providers.LLMFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm_fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName("llm", fb.Name)
	}
	for i, fb := range cfg.Providers.EmbeddingsFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.embeddings_fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName("embeddings", fb.Name)
	}
	if cfg.Providers.LLM.Name == "" {
		if len(cfg.Providers.LLMFallbacks) > 0 {
			errs = append(errs, errors.New("providers.llm_fallbacks requires providers.llm"))
		} else {
			slog.Warn("no LLM provider configured; classification uses keywords only")
		}
	}
	if cfg.Providers.Embeddings.Name == "" {
		if len(cfg.Providers.EmbeddingsFallbacks) > 0 {
			errs = append(errs, errors.New("providers.embeddings_fallbacks requires providers.embeddings"))
		} else {
			slog.Warn("no embeddings provider configured; similarity search will not be available")
		}
	}

	// Classifier
	c := cfg.Classifier
	if c.AITimeout < 0 {
		errs = append(errs, fmt.Errorf("classifier.ai_timeout %s must not be negative", c.AITimeout))
	}
	if c.MinKeywordConfidence < 0 || c.MinKeywordConfidence > 1 {
		errs = append(errs, fmt.Errorf("classifier.min_keyword_confidence %.2f is out of range [0, 1]", c.MinKeywordConfidence))
	}
	if c.MaxInputRunes < 0 {
		errs = append(errs, fmt.Errorf("classifier.max_input_runes %d must not be negative", c.MaxInputRunes))
	}
	if c.AICacheTTL < 0 {
		errs = append(errs, fmt.Errorf("classifier.ai_cache_ttl %s must not be negative", c.AICacheTTL))
	}
	if c.AIRateLimit < 0 {
		errs = append(errs, fmt.Errorf("classifier.ai_rate_limit %.2f must not be negative", c.AIRateLimit))
	}
	if c.AIBurst < 0 {
		errs = append(errs, fmt.Errorf("classifier.ai_burst %d must not be negative", c.AIBurst))
	}
	if c.Breaker.MaxFailures < 0 || c.Breaker.HalfOpenMax < 0 || c.Breaker.ResetTimeout < 0 {
		errs = append(errs, errors.New("classifier.breaker values must not be negative"))
	}
	if c.LexiconFile != "" {
		if _, err := os.Stat(c.LexiconFile); err != nil {
			errs = append(errs, fmt.Errorf("classifier.lexicon_file: %w", err))
		}
	}

	// Index
	ix := cfg.Index
	if ix.Dimensions < 0 {
		errs = append(errs, fmt.Errorf("index.dimensions %d must be positive", ix.Dimensions))
	}
	for name, v := range map[string]int{
		"compact_threshold":  ix.CompactThreshold,
		"rebuild_chunk_size": ix.RebuildChunkSize,
		"embed_batch_size":   ix.EmbedBatchSize,
		"embed_concurrency":  ix.EmbedConcurrency,
	} {
		if v < 0 {
			errs = append(errs, fmt.Errorf("index.%s %d must not be negative", name, v))
		}
	}
	if ix.RebuildSchedule != "" {
		if _, err := cron.ParseStandard(ix.RebuildSchedule); err != nil {
			errs = append(errs, fmt.Errorf("index.rebuild_schedule %q: %w", ix.RebuildSchedule, err))
		}
	}

	// Store
	if cfg.Store.Driver != "" && !cfg.Store.Driver.IsValid() {
		errs = append(errs, fmt.Errorf("store.driver %q is invalid; valid values: memory, sqlite, postgres", cfg.Store.Driver))
	}
	if (cfg.Store.Driver == StoreSQLite || cfg.Store.Driver == StorePostgres) && cfg.Store.DSN == "" {
		errs = append(errs, fmt.Errorf("store.dsn is required for driver %q", cfg.Store.Driver))
	}

	// Intake
	if cfg.Intake.Subject != "" && strings.ContainsAny(cfg.Intake.Subject, " \t*>") {
		errs = append(errs, fmt.Errorf("intake.subject %q must be a literal NATS subject without wildcards", cfg.Intake.Subject))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
