package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/recall/internal/agentwork"
	"github.com/MikeSquared-Agency/recall/internal/profile"
	"github.com/MikeSquared-Agency/recall/internal/transcript"
	"github.com/MikeSquared-Agency/recall/internal/work"
)

var (
	scanMinBytes       int64
	scanParentSession  string
	scanParentSnapshot int64
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "Capture and inspect sub-agent work",
}

var agentsScanCmd = &cobra.Command{
	Use:   "scan <dir>",
	Short: "Record the work of every agent transcript in a directory",
	Long: `Scan finds agent-*.jsonl transcripts in a directory, extracts the work each
agent did and stores it together with a deduplicated agent definition.

Transcripts smaller than --min-bytes are treated as abandoned and ignored.
Work already stored under the same parent session is skipped, so repeating a
scan with the same --parent-session stores nothing twice. Without
--parent-session every run uses a fresh scan-<timestamp> parent and stores all
units again under it.

With --parent-session and no --parent-snapshot, the newest snapshot stored for
that session becomes the parent snapshot.`,
	Example: `  recall agents scan ~/.claude/projects/-Users-me-code-app
  recall agents scan . --min-bytes 2048
  recall agents scan . --parent-session 0f1e2d3c-aaaa --parent-snapshot 42`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		minBytes := cfg.MinAgentBytes
		if cmd.Flags().Changed("min-bytes") {
			minBytes = scanMinBytes
		}

		s, err := openStore(ctx)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer s.Close()

		pub, closeBus, err := connectBus(ctx)
		if err != nil {
			return fmt.Errorf("connect to NATS: %w", err)
		}
		defer closeBus()

		parent := work.Parent{SessionID: scanParentSession}
		if parent.SessionID == "" {
			parent.SessionID = agentwork.ScanParent(time.Now())
		}
		if scanParentSnapshot > 0 {
			id := scanParentSnapshot
			parent.SnapshotID = &id
		} else if scanParentSession != "" {
			id, ok, err := s.LatestSnapshotForSession(ctx, scanParentSession)
			if err != nil {
				return err
			}
			if ok {
				parent.SnapshotID = &id
			}
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Scanning for agent transcripts in: %s\n", args[0])
		fmt.Fprintf(w, "Parent session: %s\n\n", parent.SessionID)

		runner := agentwork.NewRunner(agentwork.Config{MinBytes: minBytes}, s, pub, logger)
		tally, err := runner.CaptureDir(ctx, args[0], parent)
		writeScanReport(w, tally)
		if err != nil {
			return fmt.Errorf("scan %s: %w", args[0], err)
		}
		return nil
	},
}

var agentsInspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Print the work record and agent definition extracted from a transcript",
	Long: `Inspect extracts an agent transcript without touching the database and
prints the work record and agent definition (with its fingerprint) as JSON.`,
	Example: `  recall agents inspect ~/.claude/projects/-Users-me-code-app/agent-a1b2c3.jsonl`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		records, _, err := transcript.ReadFile(args[0])
		if err != nil {
			return err
		}
		rec, err := work.Extract(records, args[0])
		if err != nil {
			return fmt.Errorf("extract work: %w", err)
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(newInspectView(rec, profile.FromWork(rec, "")))
	},
}

func init() {
	agentsScanCmd.Flags().Int64Var(&scanMinBytes, "min-bytes", agentwork.DefaultMinBytes, "ignore transcripts smaller than this")
	agentsScanCmd.Flags().StringVar(&scanParentSession, "parent-session", "", "parent session id to store the work under")
	agentsScanCmd.Flags().Int64Var(&scanParentSnapshot, "parent-snapshot", 0, "parent snapshot id to store the work under")
	agentsCmd.AddCommand(agentsScanCmd, agentsInspectCmd)
	rootCmd.AddCommand(agentsCmd)
}

func writeScanReport(w io.Writer, t agentwork.Tally) {
	fmt.Fprintf(w, "Found %d agent transcripts (%s)\n\n", t.Found, humanize.Bytes(uint64(t.Bytes)))
	for _, r := range t.Results {
		name := filepath.Base(r.Path)
		switch r.Outcome {
		case agentwork.Skipped:
			fmt.Fprintf(w, "  skipped (already captured): %s\n", name)
		case agentwork.Errored:
			fmt.Fprintf(w, "  error: %s: %v\n", name, r.Err)
		default:
			def := fmt.Sprintf("%d v%d", r.DefinitionID, r.DefinitionV)
			if r.NewProfile {
				def += ", new"
			}
			fmt.Fprintf(w, "  captured: %s (work %d, definition %s)\n", name, r.WorkID, def)
			tools := "None"
			if caps := r.Work.Capabilities(); len(caps) > 0 {
				tools = strings.Join(caps, ", ")
			}
			fmt.Fprintf(w, "    Tools: %s\n", tools)
			fmt.Fprintf(w, "    Files: %d examined\n", len(r.Work.FilesExamined))
			fmt.Fprintf(w, "    URLs: %d fetched\n", len(r.Work.URLsFetched))
		}
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Summary: %d captured, %d skipped, %d errors\n", t.Captured, t.Skipped, t.Errored)
}

type inspectView struct {
	Work       workView    `json:"work"`
	Definition profileView `json:"definition"`
}

type workView struct {
	AgentID       string            `json:"agent_id"`
	AgentType     string            `json:"agent_type"`
	Request       string            `json:"agent_request"`
	ToolsUsed     map[string]int    `json:"tools_used"`
	FilesExamined []string          `json:"files_examined"`
	URLsFetched   []string          `json:"urls_fetched"`
	ResultSummary *string           `json:"result_summary"`
	StartedAt     *time.Time        `json:"started_at"`
	CompletedAt   *time.Time        `json:"completed_at"`
	Turns         []transcript.Turn `json:"work_context"`
	TranscriptRef string            `json:"transcript_path"`
}

type profileView struct {
	ConfigHash     string      `json:"config_hash"`
	AgentType      string      `json:"agent_type"`
	ModelUsed      string      `json:"model_used"`
	ToolsAvailable []string    `json:"tools_available"`
	SystemMessage  string      `json:"system_message,omitempty"`
	Params         work.Params `json:"configuration_params"`
	Description    string      `json:"description"`
	CreatedBy      string      `json:"created_by"`
}

func newInspectView(w *work.Record, p *profile.Profile) inspectView {
	return inspectView{
		Work: workView{
			AgentID:       w.AgentID,
			AgentType:     w.RoleType,
			Request:       w.Request,
			ToolsUsed:     w.ToolUsage,
			FilesExamined: w.FilesExamined,
			URLsFetched:   w.URLsFetched,
			ResultSummary: w.ResultSummary,
			StartedAt:     w.StartedAt,
			CompletedAt:   w.EndedAt,
			Turns:         w.Turns,
			TranscriptRef: w.SourcePath,
		},
		Definition: profileView{
			ConfigHash:     p.Fingerprint,
			AgentType:      p.RoleType,
			ModelUsed:      p.ModelName,
			ToolsAvailable: p.Capabilities,
			SystemMessage:  p.SystemMessage,
			Params:         p.Params,
			Description:    p.Description,
			CreatedBy:      p.CreatedBy,
		},
	}
}
