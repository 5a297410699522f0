package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/recall/internal/backfill"
	"github.com/MikeSquared-Agency/recall/internal/slack"
	"github.com/MikeSquared-Agency/recall/internal/transcript"
)

var (
	backfillExecute       bool
	backfillMinConfidence int
	backfillDebug         bool
	backfillDir           string
	backfillIncludeAgents bool
)

var backfillCmd = &cobra.Command{
	Use:   "backfill-sessions",
	Short: "Link snapshots stored without a session id to their transcripts",
	Long: `Backfill-sessions scores every snapshot that has no session id against the
transcripts of a project directory and proposes the best match per snapshot.

Scores combine timestamp proximity (40 points), message volume (30 points)
and first-message content (30 points). Only matches at or above
--min-confidence are proposed.

The default is a dry run that changes nothing. With --execute the proposals
are applied in one transaction after an interactive "yes" confirmation.`,
	Example: `  # Preview matches for the current project
  recall backfill-sessions

  # Show the score breakdown of every pairing
  recall backfill-sessions --debug

  # Apply matches of at least 75%
  recall backfill-sessions --execute --min-confidence 75`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		dir := backfillDir
		if dir == "" {
			cwd, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("get working directory: %w", err)
			}
			dir = transcript.ProjectDir(cfg.ProjectsDir, cwd)
		}
		minConfidence := cfg.MinConfidence
		if cmd.Flags().Changed("min-confidence") {
			minConfidence = backfillMinConfidence
		}
		if minConfidence < 0 || minConfidence > 100 {
			return fmt.Errorf("--min-confidence must be between 0 and 100, got %d", minConfidence)
		}

		s, err := openStore(ctx)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer s.Close()

		opts := []backfill.Option{backfill.WithConfirmer(backfill.PromptConfirmer(cmd.InOrStdin(), cmd.OutOrStdout()))}
		if cfg.SlackToken != "" && cfg.SlackChannel != "" {
			opts = append(opts, backfill.WithReviewer(slack.NewPoster(cfg.SlackToken, cfg.SlackChannel, logger)))
		}
		if backfillExecute {
			pub, closeBus, err := connectBus(ctx)
			if err != nil {
				return fmt.Errorf("connect to NATS: %w", err)
			}
			defer closeBus()
			if pub != nil {
				opts = append(opts, backfill.WithPublisher(pub))
			}
		}

		runner := backfill.NewRunner(backfill.Config{
			Dir:           dir,
			MinConfidence: minConfidence,
			Execute:       backfillExecute,
			Debug:         backfillDebug,
			IncludeAgents: backfillIncludeAgents,
			MinAgentBytes: cfg.MinAgentBytes,
		}, s, cmd.OutOrStdout(), logger, opts...)

		_, err = runner.Run(ctx)
		return err
	},
}

func init() {
	backfillCmd.Flags().BoolVar(&backfillExecute, "execute", false, "apply the proposed links (default is a dry run)")
	backfillCmd.Flags().IntVar(&backfillMinConfidence, "min-confidence", 60, "minimum confidence score to propose a match (0-100)")
	backfillCmd.Flags().BoolVar(&backfillDebug, "debug", false, "print the score breakdown of every pairing")
	backfillCmd.Flags().StringVar(&backfillDir, "dir", "", "transcript directory (default: the project directory of the working directory)")
	backfillCmd.Flags().BoolVar(&backfillIncludeAgents, "include-agents", false, "also consider substantive agent-*.jsonl transcripts")
	rootCmd.AddCommand(backfillCmd)
}
