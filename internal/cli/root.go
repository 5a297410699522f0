// Package cli defines the cobra command tree for the recall CLI.
package cli

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/recall/internal/config"
	"github.com/MikeSquared-Agency/recall/internal/hermes"
	"github.com/MikeSquared-Agency/recall/internal/store"
)

var (
	cfg         config.Config
	logger      *slog.Logger
	logLevel    string
	projectsDir string
)

// rootCmd is the top-level recall command.
var rootCmd = &cobra.Command{
	Use:   "recall",
	Short: "Recall - capture assistant sessions and sub-agent work into the memory store",
	Long: `recall keeps the claude-memory store complete.

It captures the current assistant session through the memory processor,
records the work of every sub-agent together with a deduplicated definition
of the agent that did it, and links old snapshots that were stored without a
session id back to the transcript they came from.

Configuration comes from the environment (DATABASE_URL or the POSTGRES_*
variables, NATS_URL, CLAUDE_MEMORY_PROCESSOR_URL, CLAUDE_PROJECTS_DIR and
friends).`,
	Example: `  # Capture the session of the current project
  recall capture

  # Record sub-agent work found in a project directory
  recall agents scan ~/.claude/projects/-Users-me-code-app

  # Preview, then apply, session links for old snapshots
  recall backfill-sessions
  recall backfill-sessions --execute`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg = config.Load()
		if cmd.Flags().Changed("log-level") {
			cfg.LogLevel = logLevel
		}
		if cmd.Flags().Changed("projects-dir") {
			cfg.ProjectsDir = projectsDir
		}
		logger = newLogger(cmd.ErrOrStderr(), cfg.LogLevel, false)
		slog.SetDefault(logger)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&projectsDir, "projects-dir", "", "assistant projects directory (default ~/.claude/projects)")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newLogger(w io.Writer, level string, asJSON bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	if asJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

var errNoDatabase = errors.New("DATABASE_URL (or CONTEXT_DB_PASSWORD) is required")

// openStore connects to the memory database and makes sure the unique
// indexes the writers rely on exist.
func openStore(ctx context.Context) (*store.Store, error) {
	if cfg.DatabaseURL == "" {
		return nil, errNoDatabase
	}
	s, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := s.EnsureConstraints(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// connectBus connects to NATS when NATS_URL is set. Batch commands run
// without events otherwise; the returned publisher is then nil.
func connectBus(ctx context.Context) (hermes.Publisher, func(), error) {
	if os.Getenv("NATS_URL") == "" {
		return nil, func() {}, nil
	}
	c, err := hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, logger)
	if err != nil {
		return nil, func() {}, err
	}
	return c, c.Close, nil
}
