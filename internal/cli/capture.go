package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/recall/internal/agentwork"
	"github.com/MikeSquared-Agency/recall/internal/capture"
)

var (
	captureCWD     string
	captureHook    bool
	captureTimeout time.Duration
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Capture the current assistant session to the memory processor",
	Long: `Capture finds the most recently modified transcript of the project that
contains the working directory, converts it to conversation turns and posts
the first 100 of them to the memory processor, which stores a snapshot.

With --hook the command runs as an assistant hook, reading the hook input
from stdin and writing the hook output JSON to stdout:

  PreCompact    captures the whole conversation before it is compacted, then
                stores the session's sub-agent work under the new snapshot
                (needs the database settings)
  SessionStart  after compaction, captures the transcript that was just
                compacted

Every attempt is appended to ~/.claude/memory-captures.jsonl.`,
	Example: `  # Capture the session of the current project
  recall capture

  # Capture another project
  recall capture --cwd ~/code/app

  # Register as a PreCompact or post-compact SessionStart hook
  recall capture --hook`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		events := capture.NewEventLog(cfg.EventLogPath)
		if captureHook {
			return runCaptureHook(ctx, cmd, events)
		}
		client := capture.NewClient(cfg.ProcessorURL, captureTimeout, logger)

		cwd := captureCWD
		if cwd == "" {
			wd, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("get working directory: %w", err)
			}
			cwd = wd
		}

		w := cmd.OutOrStdout()
		fmt.Fprintln(w, "Detecting current session...")
		sum, err := capture.CaptureCurrent(ctx, client, events, cfg.ProjectsDir, cwd, time.Now())
		writeCaptureReport(w, sum, err)
		if sum.EventLogError != nil {
			logger.Warn("failed to write capture log", "path", events.Path(), "error", sum.EventLogError)
		}
		return err
	},
}

func init() {
	captureCmd.Flags().StringVar(&captureCWD, "cwd", "", "project directory to capture (default: the working directory)")
	captureCmd.Flags().BoolVar(&captureHook, "hook", false, "run as a PreCompact or SessionStart hook")
	captureCmd.Flags().DurationVar(&captureTimeout, "timeout", 30*time.Second, "processor request timeout")
	rootCmd.AddCommand(captureCmd)
}

func runCaptureHook(ctx context.Context, cmd *cobra.Command, events *capture.EventLog) error {
	in, err := capture.ParseHookInput(cmd.InOrStdin())
	if err != nil {
		return err
	}

	var out capture.HookOutput
	switch in.HookEventName {
	case capture.HookPreCompact:
		timeout := captureTimeout
		if !cmd.Flags().Changed("timeout") {
			timeout = capture.PreCompactTimeout
		}
		client := capture.NewClient(cfg.ProcessorURL, timeout, logger)
		linker, closeLinker := preCompactLinker(ctx)
		defer closeLinker()

		out, err = capture.PreCompact(ctx, client, events, linker, in, time.Now())
		if errors.Is(err, capture.ErrNoMessages) {
			logger.Warn("no messages found in transcript", "path", in.TranscriptPath)
			return nil
		}
	default:
		client := capture.NewClient(cfg.ProcessorURL, captureTimeout, logger)
		out, err = capture.PostCompact(ctx, client, events, in, time.Now())
	}
	if err != nil {
		return err
	}
	return json.NewEncoder(cmd.OutOrStdout()).Encode(out)
}

// preCompactLinker wires agent capture for the pre-compact hook. Without a
// database the hook still captures the conversation; agent work is skipped.
func preCompactLinker(ctx context.Context) (*capture.AgentLinker, func()) {
	db, err := openStore(ctx)
	if err != nil {
		if !errors.Is(err, errNoDatabase) {
			logger.Warn("agent capture disabled", "error", err)
		}
		return nil, func() {}
	}
	pub, closeBus, err := connectBus(ctx)
	if err != nil {
		logger.Warn("publishing agent events disabled", "error", err)
		pub, closeBus = nil, func() {}
	}
	runner := agentwork.NewRunner(agentwork.Config{MinBytes: cfg.MinAgentBytes}, db, pub, logger)
	linker := &capture.AgentLinker{Agents: runner, Snapshots: db, Settle: capture.DefaultSettle}
	return linker, func() {
		closeBus()
		db.Close()
	}
}

func writeCaptureReport(w io.Writer, sum capture.Summary, err error) {
	if sum.Session.TranscriptPath != "" {
		fmt.Fprintln(w, "Found active session:")
		fmt.Fprintf(w, "  Session ID: %s\n", sum.Session.SessionID)
		fmt.Fprintf(w, "  Project: %s\n", sum.Session.ProjectPath)
		fmt.Fprintf(w, "  Transcript: %s\n", filepath.Base(sum.Session.TranscriptPath))
		fmt.Fprintf(w, "  File size: %s (modified %s)\n\n",
			humanize.Bytes(uint64(sum.Session.Size)), humanize.Time(sum.Session.ModifiedAt))
	}
	if sum.RawRecords > 0 {
		fmt.Fprintf(w, "Loaded %s raw transcript entries\n", humanize.Comma(int64(sum.RawRecords)))
		fmt.Fprintf(w, "Extracted %d conversation messages\n", sum.Conversation)
		if sum.Limited {
			fmt.Fprintf(w, "Limiting to first %d messages for capture\n", capture.MessageLimit)
		}
		fmt.Fprintln(w)
	}

	if err != nil {
		fmt.Fprintf(w, "Error: %v\n", err)
		var capErr *capture.Error
		switch {
		case errors.As(err, &capErr):
			fmt.Fprintln(w, "\nTroubleshooting:")
			for _, h := range capErr.Hints() {
				fmt.Fprintf(w, "  - %s\n", h)
			}
		case errors.Is(err, capture.ErrNoProject), errors.Is(err, capture.ErrNoTranscripts):
			fmt.Fprintln(w, "\nTroubleshooting:")
			fmt.Fprintln(w, "  - Make sure you're running this from an assistant project directory")
			fmt.Fprintln(w, "  - Verify a session has been created in this project")
			fmt.Fprintln(w, "  - Check: ls ~/.claude/projects/")
		case errors.Is(err, capture.ErrNoMessages):
			fmt.Fprintln(w, "This transcript may only contain system or metadata entries.")
		}
		return
	}

	fmt.Fprintln(w, "Capture summary:")
	if sum.Response != nil {
		if sum.Response.Message != "" {
			fmt.Fprintf(w, "  %s\n", sum.Response.Message)
		}
		if sum.Response.Status != "" {
			fmt.Fprintf(w, "  Status: %s\n", sum.Response.Status)
		}
		if sum.Response.SnapshotID > 0 {
			fmt.Fprintf(w, "  Snapshot: #%d\n", sum.Response.SnapshotID)
		}
	}
	fmt.Fprintf(w, "  Trigger: %s\n", sum.Trigger)
	fmt.Fprintf(w, "  Messages sent: %d\n", sum.Sent)
	fmt.Fprintf(w, "  Total conversation: %d messages\n", sum.Conversation)
	fmt.Fprintln(w, "\nProcessing continues in the background (summary and embeddings).")
}
