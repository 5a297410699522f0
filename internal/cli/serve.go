package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/recall/internal/agentwork"
	"github.com/MikeSquared-Agency/recall/internal/api"
	"github.com/MikeSquared-Agency/recall/internal/backfill"
	"github.com/MikeSquared-Agency/recall/internal/hermes"
	"github.com/MikeSquared-Agency/recall/internal/processor"
)

var serveBackfillDir string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the recall service",
	Long: `Serve connects to the memory database and NATS, captures sub-agent work
whenever the processor announces a stored snapshot on recall.snapshot.stored,
and exposes an HTTP API:

  GET /health
  GET /api/v1/recall/status
  GET /api/v1/backfill/proposals?min_confidence=N   (preview only)

HTTP routes under /api/v1 require a bearer token when RECALL_API_TOKEN is set.
Logs are JSON on stdout.`,
	Example: `  DATABASE_URL=postgres://... NATS_URL=nats://localhost:4222 recall serve`,
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger = newLogger(os.Stdout, cfg.LogLevel, true)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		logger.Info("recall starting", "port", cfg.Port)

		db, err := openStore(ctx)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer db.Close()
		logger.Info("database connected")

		bus, err := hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, logger)
		if err != nil {
			return fmt.Errorf("connect to NATS: %w", err)
		}
		defer bus.Close()
		logger.Info("NATS connected", "url", cfg.NatsURL)

		agents := agentwork.NewRunner(agentwork.Config{MinBytes: cfg.MinAgentBytes}, db, bus, logger)
		proc := processor.New(agents, logger, processor.WithSnapshots(db))
		if err := bus.Subscribe(hermes.SubjectSnapshotStored, proc.HandleSnapshotStored); err != nil {
			return err
		}

		deps := api.Deps{Stats: db, Bus: bus, MinConfidence: cfg.MinConfidence}
		backfillDir := resolveBackfillDir(serveBackfillDir)
		if backfillDir != "" {
			deps.Previewer = backfill.NewRunner(backfill.Config{
				Dir:           backfillDir,
				MinAgentBytes: cfg.MinAgentBytes,
			}, db, io.Discard, logger)
		}
		srv := api.NewServer(cfg.Port, cfg.APIToken, deps, logger)

		logger.Info("recall ready", "port", cfg.Port, "backfill_dir", backfillDir)
		err = srv.Start(ctx)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		logger.Info("recall stopped")
		return err
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveBackfillDir, "backfill-dir", "", "transcript directory for backfill previews (relative paths resolve under the projects directory)")
	rootCmd.AddCommand(serveCmd)
}

// resolveBackfillDir lets operators name a project directory by its encoded
// name under the projects root.
func resolveBackfillDir(dir string) string {
	if dir == "" || filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(cfg.ProjectsDir, dir)
}
