package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/voxdesk/internal/app"
	"github.com/MrWong99/voxdesk/internal/config"
	"github.com/MrWong99/voxdesk/internal/observe"
)

const shutdownTimeout = 15 * time.Second

func newServeCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Run the classification and similarity API until SIGINT or SIGTERM.

When --config names a file, it is watched and the log level, classifier
thresholds and rebuild schedule are applied without a restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, e)
		},
	}
	cmd.Flags().String(keyListen, "", "HTTP listen address (default: server.listen_addr from config)")
	_ = e.v.BindPFlag(keyListen, cmd.Flags().Lookup(keyListen))
	return cmd
}

func runServe(cmd *cobra.Command, e *env) error {
	cfg, err := e.loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("voxdesk starting",
		"version", Version,
		"config", e.configPath(),
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	lex, err := app.LoadLexicon(cfg.Classifier.LexiconFile)
	if err != nil {
		return fmt.Errorf("load lexicon: %w", err)
	}

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:     cfg.Telemetry.ServiceName,
		ServiceVersion:  Version,
		LexiconVersion:  lex.Version(),
		IndexDimensions: cfg.Index.Dimensions,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(tctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	app.RegisterBuiltinProviders(reg)
	providers, err := app.BuildProviders(cfg, reg)
	if err != nil {
		return err
	}

	printStartupSummary(cmd.OutOrStdout(), cfg)

	application, err := app.New(ctx, cfg, providers, app.WithLexicon(lex), app.WithLogLevel(e.level))
	if err != nil {
		return err
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	if path := e.configPath(); path != "" {
		w, err := config.NewWatcher(path, func(old, new *config.Config) {
			e.applyOverrides(old)
			e.applyOverrides(new)
			application.ApplyConfig(old, new)
		})
		if err != nil {
			slog.Warn("config watcher not started", "path", path, "err", err)
		} else {
			defer w.Stop()
		}
	}

	slog.Info("server ready, press Ctrl+C to shut down")
	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	slog.Info("goodbye")
	return nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(w, "║         voxdesk startup summary       ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	printProvider(w, "LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider(w, "Embeddings", cfg.Providers.Embeddings.Name, cfg.Providers.Embeddings.Model)
	fmt.Fprintf(w, "║  %-12s    : %-19d ║\n", "Fallbacks", len(cfg.Providers.LLMFallbacks)+len(cfg.Providers.EmbeddingsFallbacks))
	fmt.Fprintf(w, "║  %-12s    : %-19s ║\n", "Store", string(cfg.Store.Driver))
	fmt.Fprintf(w, "║  %-12s    : %-19d ║\n", "Dimensions", cfg.Index.Dimensions)
	schedule := cfg.Index.RebuildSchedule
	if schedule == "" {
		schedule = "(manual)"
	}
	fmt.Fprintf(w, "║  %-12s    : %-19s ║\n", "Rebuilds", clip(schedule))
	intake := "disabled"
	if cfg.Intake.NATSURL != "" {
		intake = cfg.Intake.Subject
	}
	fmt.Fprintf(w, "║  %-12s    : %-19s ║\n", "Intake", clip(intake))
	fmt.Fprintf(w, "║  %-12s    : %-19s ║\n", "Listen addr", clip(cfg.Server.ListenAddr))
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

func printProvider(w io.Writer, kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	fmt.Fprintf(w, "║  %-12s    : %-19s ║\n", kind, clip(value))
}

func clip(s string) string {
	if len(s) > 19 {
		return s[:16] + "…"
	}
	return s
}
