package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/MrWong99/voxdesk/internal/ingest"
	"github.com/MrWong99/voxdesk/internal/lifecycle"
	"github.com/MrWong99/voxdesk/internal/ticketstore/csvimport"
)

func newIndexCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Manage the similar-ticket index",
	}
	cmd.AddCommand(
		newIndexBuildCommand(e),
		newIndexImportCommand(e),
		newIndexSearchCommand(e),
		newIndexStatusCommand(),
	)
	return cmd
}

func newIndexBuildCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "build",
		Short: "Embed every stored ticket that has no vector yet",
		Long: `Load the ticket corpus from the configured store, embed the pending
tickets and write their vectors back. Prints the resulting index status.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := e.loadConfig()
			if err != nil {
				return err
			}
			a, err := newLocalApp(cmd.Context(), cfg, true)
			if err != nil {
				return err
			}
			defer shutdownLocal(a)

			st, err := a.Manager().BuildFromCorpus(cmd.Context())
			if err != nil {
				return fmt.Errorf("build index: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), st)
		},
	}
}

func newIndexImportCommand(e *env) *cobra.Command {
	var (
		csvPath string
		build   bool
	)
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a historical ticket export into the store",
		Long: fmt.Sprintf(`Import a CSV ticket export into the configured store. Rows are stored
as pending and get their vectors on the next build. Required columns:
%q, %q and %q.`, csvimport.ColumnID, csvimport.ColumnSubject, csvimport.ColumnDescription),
		Example: `  voxdesk index import --csv tickets.csv --build`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := e.loadConfig()
			if err != nil {
				return err
			}
			a, err := newLocalApp(cmd.Context(), cfg, true)
			if err != nil {
				return err
			}
			defer shutdownLocal(a)

			rep, err := csvimport.ImportFile(cmd.Context(), csvPath, a.Store())
			if err != nil {
				return err
			}
			out := struct {
				Import csvimport.Report   `json:"import"`
				Index  *lifecycle.Status `json:"index,omitempty"`
			}{Import: rep}

			if build {
				st, err := a.Manager().BuildFromCorpus(cmd.Context())
				if err != nil {
					return fmt.Errorf("build index: %w", err)
				}
				out.Index = &st
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&csvPath, "csv", "", "path to the CSV export")
	cmd.Flags().BoolVar(&build, "build", false, "build the index after importing")
	_ = cmd.MarkFlagRequired("csv")
	return cmd
}

func newIndexSearchCommand(e *env) *cobra.Command {
	var (
		k        int
		minScore float64
	)
	cmd := &cobra.Command{
		Use:   "search <text>",
		Short: "Find stored tickets similar to a complaint",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := e.loadConfig()
			if err != nil {
				return err
			}
			a, err := newLocalApp(cmd.Context(), cfg, true)
			if err != nil {
				return err
			}
			defer shutdownLocal(a)

			if _, err := a.Manager().BuildFromCorpus(cmd.Context()); err != nil {
				return fmt.Errorf("build index: %w", err)
			}
			results, err := a.Tickets().Similar(cmd.Context(), strings.Join(args, " "), k, minScore)
			if errors.Is(err, ingest.ErrEmbeddingUnavailable) {
				return errors.New("similarity search needs an embeddings provider")
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), results)
		},
	}
	cmd.Flags().IntVarP(&k, "k", "k", 5, "maximum number of results")
	cmd.Flags().Float64Var(&minScore, "min-score", ingest.DefaultMinScore, "minimum cosine similarity")
	return cmd
}

func newIndexStatusCommand() *cobra.Command {
	var server string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the index status of a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client := &http.Client{
				Transport: otelhttp.NewTransport(http.DefaultTransport),
				Timeout:   10 * time.Second,
			}
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet,
				strings.TrimRight(server, "/")+"/v1/index/status", nil)
			if err != nil {
				return err
			}
			resp, err := client.Do(req)
			if err != nil {
				return fmt.Errorf("query %s: %w", server, err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("query %s: unexpected status %s", server, resp.Status)
			}

			var st lifecycle.Status
			if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
				return fmt.Errorf("decode status: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), st)
		},
	}
	cmd.Flags().StringVar(&server, "server", "http://localhost:8080", "base URL of the voxdesk server")
	return cmd
}
