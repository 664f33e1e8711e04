package cli

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/voxdesk/internal/config"
)

const redacted = "********"

func newConfigCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration as YAML, secrets redacted",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := e.loadConfig()
				if err != nil {
					return err
				}
				out, err := yaml.Marshal(redact(cfg))
				if err != nil {
					return fmt.Errorf("marshal config: %w", err)
				}
				_, err = cmd.OutOrStdout().Write(out)
				return err
			},
		},
		&cobra.Command{
			Use:   "validate",
			Short: "Check the configuration and exit non-zero on errors",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				if _, err := e.loadConfig(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "configuration ok")
				return nil
			},
		},
	)
	return cmd
}

// redact returns a copy of cfg with API keys, the store DSN and NATS
// credentials masked.
func redact(cfg *config.Config) *config.Config {
	c := *cfg
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return redacted
	}
	maskEntries := func(in []config.ProviderEntry) []config.ProviderEntry {
		if in == nil {
			return nil
		}
		out := make([]config.ProviderEntry, len(in))
		for i, p := range in {
			p.APIKey = mask(p.APIKey)
			out[i] = p
		}
		return out
	}

	c.Providers.LLM.APIKey = mask(c.Providers.LLM.APIKey)
	c.Providers.Embeddings.APIKey = mask(c.Providers.Embeddings.APIKey)
	c.Providers.LLMFallbacks = maskEntries(c.Providers.LLMFallbacks)
	c.Providers.EmbeddingsFallbacks = maskEntries(c.Providers.EmbeddingsFallbacks)
	if c.Store.Driver == config.StorePostgres {
		c.Store.DSN = mask(c.Store.DSN)
	}
	if u, err := url.Parse(c.Intake.NATSURL); err == nil && u.User != nil {
		c.Intake.NATSURL = u.Redacted()
	}
	return &c
}
