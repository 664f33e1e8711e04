package app

import (
	"errors"
	"fmt"
	"log/slog"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/voxdesk/internal/config"
	"github.com/MrWong99/voxdesk/internal/resilience"
	"github.com/MrWong99/voxdesk/pkg/provider/embeddings"
	ollamaembed "github.com/MrWong99/voxdesk/pkg/provider/embeddings/ollama"
	oaembed "github.com/MrWong99/voxdesk/pkg/provider/embeddings/openai"
	"github.com/MrWong99/voxdesk/pkg/provider/llm"
	"github.com/MrWong99/voxdesk/pkg/provider/llm/anyllm"
)

// Providers holds the model backends. Nil means the provider is not
// configured: a nil LLM disables the AI signal, a nil Embeddings provider
// leaves new tickets pending.
type Providers struct {
	LLM        llm.Provider
	Embeddings embeddings.Provider
}

// RegisterBuiltinProviders wires every built-in provider factory into reg.
func RegisterBuiltinProviders(reg *config.Registry) {
	for _, name := range anyllm.Backends {
		reg.RegisterLLM(name, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			// ollama is a local server and takes no API key.
			if entry.APIKey != "" && name != "ollama" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(name, entry.Model, opts...)
		})
	}

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		if entry.Timeout > 0 {
			opts = append(opts, oaembed.WithTimeout(entry.Timeout))
		}
		if dims := optInt(entry.Options, "dimensions"); dims > 0 {
			opts = append(opts, oaembed.WithDimensions(dims))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []ollamaembed.Option
		if entry.Timeout > 0 {
			opts = append(opts, ollamaembed.WithTimeout(entry.Timeout))
		}
		if dims := optInt(entry.Options, "dimensions"); dims > 0 {
			opts = append(opts, ollamaembed.WithDimensions(dims))
		}
		return ollamaembed.New(entry.BaseURL, entry.Model, opts...)
	})

	slog.Debug("registered providers", "llm", reg.LLMNames(), "embeddings", reg.EmbeddingsNames())
}

// BuildProviders instantiates the providers named in cfg. Configured
// fallbacks are grouped behind the primary with one circuit breaker each.
func BuildProviders(cfg *config.Config, reg *config.Registry) (*Providers, error) {
	ps := &Providers{}
	fbCfg := resilience.FallbackConfig{CircuitBreaker: breakerConfig(cfg.Classifier.Breaker)}

	if entry := cfg.Providers.LLM; entry.Name != "" {
		primary, err := reg.CreateLLM(entry)
		if err != nil {
			return nil, fmt.Errorf("app: create llm provider %q: %w", entry.Name, err)
		}
		ps.LLM = primary
		if len(cfg.Providers.LLMFallbacks) > 0 {
			group := resilience.NewLLMFallback(primary, entryLabel(entry), fbCfg)
			for _, fb := range cfg.Providers.LLMFallbacks {
				p, err := reg.CreateLLM(fb)
				if err != nil {
					return nil, fmt.Errorf("app: create llm fallback %q: %w", fb.Name, err)
				}
				group.AddFallback(entryLabel(fb), p)
			}
			ps.LLM = group
		}
		slog.Info("provider created", "kind", "llm", "name", entry.Name, "model", entry.Model, "fallbacks", len(cfg.Providers.LLMFallbacks))
	}

	if entry := cfg.Providers.Embeddings; entry.Name != "" {
		primary, err := reg.CreateEmbeddings(entry)
		if err != nil {
			return nil, fmt.Errorf("app: create embeddings provider %q: %w", entry.Name, err)
		}
		ps.Embeddings = primary
		if len(cfg.Providers.EmbeddingsFallbacks) > 0 {
			group := resilience.NewEmbeddingsFallback(primary, entryLabel(entry), fbCfg)
			var errs []error
			for _, fb := range cfg.Providers.EmbeddingsFallbacks {
				p, err := reg.CreateEmbeddings(fb)
				if err != nil {
					errs = append(errs, fmt.Errorf("create embeddings fallback %q: %w", fb.Name, err))
					continue
				}
				if err := group.AddFallback(entryLabel(fb), p); err != nil {
					errs = append(errs, err)
				}
			}
			if err := errors.Join(errs...); err != nil {
				return nil, fmt.Errorf("app: %w", err)
			}
			ps.Embeddings = group
		}
		slog.Info("provider created", "kind", "embeddings", "name", entry.Name, "model", entry.Model, "fallbacks", len(cfg.Providers.EmbeddingsFallbacks))
	}

	return ps, nil
}

func breakerConfig(b config.BreakerConfig) resilience.CircuitBreakerConfig {
	return resilience.CircuitBreakerConfig{
		MaxFailures:  b.MaxFailures,
		ResetTimeout: b.ResetTimeout,
		HalfOpenMax:  b.HalfOpenMax,
	}
}

// entryLabel names a provider for logs and breaker state, e.g. "openai/gpt-4o".
func entryLabel(e config.ProviderEntry) string {
	if e.Model == "" {
		return e.Name
	}
	return e.Name + "/" + e.Model
}

// optInt extracts an integer from a provider Options map. YAML numbers decode
// as int; JSON-sourced maps carry float64.
func optInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

// optFloat extracts a float from a provider Options map.
func optFloat(opts map[string]any, key string) (float64, bool) {
	switch v := opts[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}
