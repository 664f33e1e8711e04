package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MrWong99/voxdesk/internal/app"
	"github.com/MrWong99/voxdesk/internal/config"
	"github.com/MrWong99/voxdesk/internal/ticketstore/memory"
)

func newClassifyCommand(e *env) *cobra.Command {
	var (
		keywordsOnly bool
		descOnly     bool
	)
	cmd := &cobra.Command{
		Use:   "classify [text]",
		Short: "Classify one complaint and print the ticket as JSON",
		Long: `Classify one transcribed complaint. The text is taken from the
arguments, or read from stdin when none are given.`,
		Example: `  voxdesk classify "আমার ইন্টারনেট খুব ধীর"
  echo "বিল বেশি এসেছে" | voxdesk classify --keywords-only`,
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			if len(args) == 0 {
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				text = string(b)
			}

			cfg, err := e.loadConfig()
			if err != nil {
				return err
			}
			if keywordsOnly {
				cfg.Providers = config.ProvidersConfig{}
			}
			a, err := newLocalApp(cmd.Context(), cfg, false)
			if err != nil {
				return err
			}
			defer shutdownLocal(a)

			res, err := a.Classify(cmd.Context(), text)
			if err != nil {
				return err
			}
			if descOnly {
				fmt.Fprintln(cmd.OutOrStdout(), res.Description)
				return nil
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().BoolVar(&keywordsOnly, "keywords-only", false, "skip the AI signal even when an LLM is configured")
	cmd.Flags().BoolVar(&descOnly, "description", false, "print only the formatted ticket description")
	return cmd
}

// newLocalApp builds an App for a one-shot command. Without withStore the
// configured ticket store is left alone and an in-memory one is used.
func newLocalApp(ctx context.Context, cfg *config.Config, withStore bool) (*app.App, error) {
	reg := config.NewRegistry()
	app.RegisterBuiltinProviders(reg)
	providers, err := app.BuildProviders(cfg, reg)
	if err != nil {
		return nil, err
	}
	var opts []app.Option
	if !withStore {
		opts = append(opts, app.WithStore(memory.New()))
	}
	return app.New(ctx, cfg, providers, opts...)
}

func shutdownLocal(a *app.App) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = a.Shutdown(ctx)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
