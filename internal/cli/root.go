// Package cli implements the voxdesk command line.
//
// Settings come from, highest priority first: command flags, VOXDESK_*
// environment variables, the YAML config file and the built-in defaults.
// Secrets such as API keys are best passed through the environment
// (VOXDESK_LLM_API_KEY, VOXDESK_EMBEDDINGS_API_KEY, VOXDESK_STORE_DSN).
package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MrWong99/voxdesk/internal/app"
	"github.com/MrWong99/voxdesk/internal/config"
)

// Version is the build version, set with -ldflags "-X".
var Version = "dev"

// Viper keys. Flags use the same names; environment variables are the
// upper-cased key with dashes replaced, e.g. VOXDESK_LOG_LEVEL.
const (
	keyConfig           = "config"
	keyLogLevel         = "log-level"
	keyListen           = "listen"
	keyLLMAPIKey        = "llm-api-key"
	keyEmbeddingsAPIKey = "embeddings-api-key"
	keyStoreDSN         = "store-dsn"
)

// env holds the layered settings shared by all subcommands.
type env struct {
	v     *viper.Viper
	level *slog.LevelVar
}

// Execute runs the root command.
func Execute() error {
	return NewRootCommand().Execute()
}

// NewRootCommand builds the command tree. Each call returns an independent
// tree with its own settings, so tests can run commands in parallel.
func NewRootCommand() *cobra.Command {
	e := &env{v: viper.New(), level: new(slog.LevelVar)}

	root := &cobra.Command{
		Use:   "voxdesk",
		Short: "Bengali voice-complaint triage and similar-ticket search",
		Long: `voxdesk turns transcribed Bengali customer complaints into structured
support tickets and finds earlier tickets that describe the same problem.

Configuration hierarchy (highest to lowest priority):
  1. CLI flags
  2. Environment variables (VOXDESK_*)
  3. Config file (--config)
  4. Defaults`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			e.initLogger(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.String(keyConfig, "", "path to the YAML configuration file (default: built-in defaults)")
	pf.String(keyLogLevel, "", "log level: debug, info, warn or error")
	_ = e.v.BindPFlag(keyConfig, pf.Lookup(keyConfig))
	_ = e.v.BindPFlag(keyLogLevel, pf.Lookup(keyLogLevel))

	e.v.SetEnvPrefix("VOXDESK")
	e.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	e.v.AutomaticEnv()
	for _, k := range []string{keyLLMAPIKey, keyEmbeddingsAPIKey, keyStoreDSN} {
		_ = e.v.BindEnv(k)
	}

	root.AddCommand(
		newServeCommand(e),
		newClassifyCommand(e),
		newIndexCommand(e),
		newConfigCommand(e),
		newVersionCommand(),
	)
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "voxdesk %s\n", Version)
		},
	}
}

// initLogger installs a text logger on stderr whose level follows e.level.
func (e *env) initLogger(cmd *cobra.Command) {
	if l := config.LogLevel(e.v.GetString(keyLogLevel)); l.IsValid() {
		e.level.Set(app.SlogLevel(l))
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: e.level})))
}

// configPath returns the config file to load, or "" for defaults.
func (e *env) configPath() string {
	return e.v.GetString(keyConfig)
}

// loadConfig reads the config file, or the defaults when none is given, and
// applies flag and environment overrides.
func (e *env) loadConfig() (*config.Config, error) {
	var cfg *config.Config
	if path := e.configPath(); path != "" {
		c, err := config.Load(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %q not found, copy configs/example.yaml to get started", path)
			}
			return nil, err
		}
		cfg = c
	} else {
		cfg = config.Default()
	}

	e.applyOverrides(cfg)
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	e.level.Set(app.SlogLevel(cfg.Server.LogLevel))
	return cfg, nil
}

// applyOverrides copies flag and environment settings into cfg. It is
// idempotent so reloaded configs can pass through it again.
func (e *env) applyOverrides(cfg *config.Config) {
	if e.v.IsSet(keyLogLevel) {
		cfg.Server.LogLevel = config.LogLevel(e.v.GetString(keyLogLevel))
	}
	if e.v.IsSet(keyListen) {
		cfg.Server.ListenAddr = e.v.GetString(keyListen)
	}
	if key := e.v.GetString(keyLLMAPIKey); key != "" {
		cfg.Providers.LLM.APIKey = key
	}
	if key := e.v.GetString(keyEmbeddingsAPIKey); key != "" {
		cfg.Providers.Embeddings.APIKey = key
	}
	if dsn := e.v.GetString(keyStoreDSN); dsn != "" {
		cfg.Store.DSN = dsn
	}
}
