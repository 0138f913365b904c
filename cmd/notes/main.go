package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/mark3labs/mcp-go/server"
	"github.com/pbaille/notes/internal/api"
	"github.com/pbaille/notes/internal/config"
	"github.com/pbaille/notes/internal/deps"
	"github.com/pbaille/notes/internal/mcptools"
	"github.com/pbaille/notes/internal/retrieval"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Version is reported by /health and the MCP server
var Version = "0.1.0"

var (
	configPath string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "notes",
		Short: "Answer questions about your NotePlan notes",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(configPath)
			if err != nil {
				return err
			}

			zc := zap.NewProductionConfig()
			if level, err := zapcore.ParseLevel(cfg.Logging.Level); err == nil {
				zc.Level = zap.NewAtomicLevelAt(level)
			}
			if verbose {
				zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
			}
			logger, err = zc.Build()
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(queryCmd())
	rootCmd.AddCommand(searchCmd())
	rootCmd.AddCommand(mcpCmd())
	rootCmd.AddCommand(statusCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

// renderMarkdown renders md for the terminal, falling back to the raw text
func renderMarkdown(md string) string {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return out
}

func getDeps() (*deps.Context, error) {
	return deps.New(cfg, logger)
}

// searcherOrNil keeps a failed retriever from becoming a non-nil interface
func searcherOrNil(ctx context.Context, d *deps.Context) retrieval.Searcher {
	s, err := d.Searcher(ctx)
	if err != nil {
		logger.Warn("semantic search unavailable", zap.Error(err))
		return nil
	}
	return s
}

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := getDeps()
			if err != nil {
				return err
			}
			defer d.Close()

			if addr == "" {
				addr = cfg.Server.Addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			runnerFor := func(ctx context.Context, apiKey string) (api.QueryRunner, error) {
				return d.WithAPIKey(apiKey).Runner(ctx)
			}

			srv := api.New(runnerFor, searcherOrNil(ctx, d), addr, Version, logger)
			return srv.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}

func queryCmd() *cobra.Command {
	var (
		asJSON bool
		plain  bool
	)

	cmd := &cobra.Command{
		Use:   "query [question]",
		Short: "Ask a question about your notes",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := getDeps()
			if err != nil {
				return err
			}
			defer d.Close()

			runner, err := d.Runner(cmd.Context())
			if err != nil {
				return err
			}

			resp, meta := runner.Run(cmd.Context(), strings.Join(args, " "))

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{"response": resp, "metadata": meta})
			}

			if plain {
				fmt.Println(resp.Answer)
			} else {
				fmt.Print(renderMarkdown(resp.Answer))
			}
			if len(resp.RelevantFiles) > 0 {
				fmt.Println("\n" + headerStyle.Render("Relevant files:"))
				for _, f := range resp.RelevantFiles {
					fmt.Printf("  %s (%.3f)\n", f.FilePath, f.SimilarityScore)
				}
			}
			if len(resp.GuardrailsTripped) > 0 {
				fmt.Println("\n" + warnStyle.Render("Guardrails tripped: "+strings.Join(resp.GuardrailsTripped, ", ")))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full response as JSON")
	cmd.Flags().BoolVar(&plain, "plain", false, "print the answer without markdown rendering")
	return cmd
}

func searchCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "List the note files most similar to a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := getDeps()
			if err != nil {
				return err
			}
			defer d.Close()

			s, err := d.Searcher(cmd.Context())
			if err != nil {
				return err
			}

			if limit <= 0 {
				limit = cfg.Retrieval.Limit
			}
			results, err := s.Search(cmd.Context(), strings.Join(args, " "), limit)
			if err != nil {
				return err
			}

			if len(results) == 0 {
				fmt.Println("No matching note files found.")
				return nil
			}
			for _, r := range results {
				fmt.Printf("%.3f  %s\n", r.SimilarityScore, r.FilePath)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "max results (default from config)")
	return cmd
}

func mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the notes tools over MCP (stdio)",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := getDeps()
			if err != nil {
				return err
			}
			defer d.Close()

			runner, err := d.Runner(cmd.Context())
			if err != nil {
				return err
			}

			s := mcptools.NewServer(runner, searcherOrNil(cmd.Context(), d), Version)
			return server.ServeStdio(s)
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the active configuration and index size",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := getDeps()
			if err != nil {
				return err
			}
			defer d.Close()

			variant := "chat_completions"
			if cfg.LLM.UseResponsesAPI {
				variant = "responses"
			}
			fmt.Printf("Proxy:     %s\n", cfg.LLM.ProxyURL)
			fmt.Printf("Model:     %s (%s)\n", cfg.ActiveModel(), variant)
			fmt.Printf("Embedding: %s (%s)\n", cfg.Embedding.Model, cfg.Embedding.Provider)
			fmt.Printf("Backend:   %s\n", cfg.Retrieval.Backend)
			fmt.Printf("Links:     %s\n", cfg.Links.BaseURL)

			if cfg.Retrieval.Backend != config.BackendSQLite {
				return nil
			}
			s, err := d.Store()
			if err != nil {
				return err
			}
			n, err := s.Count(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Indexed:   %d notes (%s)\n", n, cfg.Retrieval.DatabasePath)
			return nil
		},
	}
}
