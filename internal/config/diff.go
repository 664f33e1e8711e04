package config

import "reflect"

// ConfigDiff describes what changed between two configs. Only settings that
// can be applied without a restart are tracked; everything else needs one.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// ClassifierChanged is true when the AI timeout, the keyword confidence
	// threshold or the input limit changed. These rebuild the classification
	// service; the lexicon file path and model providers are not hot-reloaded.
	ClassifierChanged bool

	ScheduleChanged bool
	NewSchedule     string

	// RestartRequired lists the sections that changed but only take effect
	// after a restart.
	RestartRequired []string
}

// IsZero reports whether nothing changed.
func (d ConfigDiff) IsZero() bool {
	return !d.LogLevelChanged && !d.ClassifierChanged && !d.ScheduleChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	oc, nc := old.Classifier, new.Classifier
	if oc.AITimeout != nc.AITimeout ||
		oc.MinKeywordConfidence != nc.MinKeywordConfidence ||
		oc.MaxInputRunes != nc.MaxInputRunes {
		d.ClassifierChanged = true
	}

	if old.Index.RebuildSchedule != new.Index.RebuildSchedule {
		d.ScheduleChanged = true
		d.NewSchedule = new.Index.RebuildSchedule
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if !sameProviders(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if oc.LexiconFile != nc.LexiconFile || oc.AICacheTTL != nc.AICacheTTL ||
		oc.AIRateLimit != nc.AIRateLimit || oc.AIBurst != nc.AIBurst || oc.Breaker != nc.Breaker {
		d.RestartRequired = append(d.RestartRequired, "classifier")
	}
	oi, ni := old.Index, new.Index
	oi.RebuildSchedule, ni.RebuildSchedule = "", ""
	if oi != ni {
		d.RestartRequired = append(d.RestartRequired, "index")
	}
	if old.Store != new.Store {
		d.RestartRequired = append(d.RestartRequired, "store")
	}
	if old.Intake != new.Intake {
		d.RestartRequired = append(d.RestartRequired, "intake")
	}
	if old.Telemetry != new.Telemetry {
		d.RestartRequired = append(d.RestartRequired, "telemetry")
	}
	return d
}

func sameProviders(a, b ProvidersConfig) bool {
	if !sameEntry(a.LLM, b.LLM) || !sameEntry(a.Embeddings, b.Embeddings) {
		return false
	}
	if len(a.LLMFallbacks) != len(b.LLMFallbacks) || len(a.EmbeddingsFallbacks) != len(b.EmbeddingsFallbacks) {
		return false
	}
	for i := range a.LLMFallbacks {
		if !sameEntry(a.LLMFallbacks[i], b.LLMFallbacks[i]) {
			return false
		}
	}
	for i := range a.EmbeddingsFallbacks {
		if !sameEntry(a.EmbeddingsFallbacks[i], b.EmbeddingsFallbacks[i]) {
			return false
		}
	}
	return true
}

func sameEntry(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL &&
		a.Model == b.Model && a.Timeout == b.Timeout && reflect.DeepEqual(a.Options, b.Options)
}
