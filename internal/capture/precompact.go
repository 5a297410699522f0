package capture

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/MikeSquared-Agency/recall/internal/agentwork"
	"github.com/MikeSquared-Agency/recall/internal/transcript"
	"github.com/MikeSquared-Agency/recall/internal/work"
)

// PreCompactTimeout is the processor timeout for pre-compact captures,
// which send the whole conversation.
const PreCompactTimeout = 5 * time.Minute

// DefaultSettle is how long the processor gets to store a snapshot before
// it is looked up.
const DefaultSettle = time.Second

// AgentCapturer stores the sub-agent work found in a directory;
// *agentwork.Runner satisfies it.
type AgentCapturer interface {
	CaptureDir(ctx context.Context, dir string, parent work.Parent) (agentwork.Tally, error)
}

// SnapshotFinder finds the newest snapshot of a session; *store.Store
// satisfies it.
type SnapshotFinder interface {
	LatestSnapshotForSession(ctx context.Context, sessionID string) (int64, bool, error)
}

// AgentLinker captures the sub-agent transcripts of a session under the
// snapshot a capture just created.
type AgentLinker struct {
	Agents    AgentCapturer
	Snapshots SnapshotFinder
	Settle    time.Duration
}

// PreCompactTrigger names a capture taken right before a compaction.
func PreCompactTrigger(trigger string, now time.Time) string {
	return fmt.Sprintf("auto-compact-%s-%s", trigger, now.Format("2006-01-02-15-04"))
}

// PreCompact captures the whole conversation before it is compacted. When
// the capture succeeds and agents is non-nil, the session's agent work is
// stored with the new snapshot as parent.
func PreCompact(ctx context.Context, c *Client, events *EventLog, agents *AgentLinker, in HookInput, now time.Time) (HookOutput, error) {
	records, _, err := transcript.ReadFile(in.TranscriptPath)
	if err != nil {
		return HookOutput{}, err
	}
	turns := transcript.Turns(records)
	if len(turns) == 0 {
		return HookOutput{}, fmt.Errorf("%w: %s", ErrNoMessages, in.TranscriptPath)
	}

	req := Request{
		ProjectPath:      in.CWD,
		Trigger:          PreCompactTrigger(in.Trigger, now),
		SessionID:        in.SessionID,
		TranscriptPath:   in.TranscriptPath,
		ConversationData: ConversationData{Messages: turns},
		Metadata: &Metadata{
			Tags:           []string{"auto-capture", "pre-compact", in.Trigger},
			FilesMentioned: []string{},
		},
	}

	result := Result{Status: "success"}
	resp, capErr := c.Capture(ctx, req)
	if capErr != nil {
		result = Result{Status: "error", Message: capErr.Error()}
	}

	var agentRes *AgentResult
	if capErr == nil && in.SessionID != "" && agents != nil {
		r := agents.capture(ctx, in, resp)
		agentRes = &r
	}

	if events != nil {
		var size int64
		if fi, err := os.Stat(in.TranscriptPath); err == nil {
			size = fi.Size()
		}
		logErr := events.Append(Event{
			Timestamp:      now,
			Event:          EventPreCompactCapture,
			Trigger:        in.Trigger,
			SessionID:      in.SessionID,
			TranscriptPath: in.TranscriptPath,
			ProjectPath:    in.CWD,
			MessageCount:   len(turns),
			FileSizeBytes:  size,
			Result:         result,
			AgentResult:    agentRes,
		})
		if logErr != nil {
			c.logger.Warn("failed to write capture log", "error", logErr)
		}
	}

	if capErr != nil {
		return HookOutput{
			SystemMessage: "Failed to capture conversation: " + capErr.Error(),
			Specific: map[string]any{
				"hookEventName": HookPreCompact,
				"error":         capErr.Error(),
			},
		}, nil
	}

	msg := fmt.Sprintf("Conversation captured to memory (%d messages) before compact.", len(turns))
	captured := 0
	if agentRes != nil && agentRes.Status == "success" {
		captured = agentRes.Captured
		if captured > 0 {
			msg += fmt.Sprintf(" %d agent(s) also captured.", captured)
		}
	}
	return HookOutput{
		SystemMessage: msg,
		Specific: map[string]any{
			"hookEventName":     HookPreCompact,
			"additionalContext": "Snapshot created. Trigger: " + in.Trigger,
			"agentsCaptured":    captured,
		},
	}, nil
}

// capture resolves the parent snapshot and stores the agent work next to
// the session transcript. A snapshot id returned by the processor is used
// directly; otherwise the newest snapshot of the session is looked up
// after the settle delay.
func (l *AgentLinker) capture(ctx context.Context, in HookInput, resp *Response) AgentResult {
	if l.Agents == nil {
		return AgentResult{Status: "error", Message: "agent capture not configured"}
	}

	var id int64
	if resp != nil && resp.SnapshotID > 0 {
		id = resp.SnapshotID
	} else if l.Snapshots != nil {
		if l.Settle > 0 {
			select {
			case <-time.After(l.Settle):
			case <-ctx.Done():
				return AgentResult{Status: "error", Message: ctx.Err().Error()}
			}
		}
		found, ok, err := l.Snapshots.LatestSnapshotForSession(ctx, in.SessionID)
		if err != nil {
			return AgentResult{Status: "error", Message: err.Error()}
		}
		if ok {
			id = found
		}
	}
	if id == 0 {
		return AgentResult{Status: "error", Message: "Parent snapshot not found"}
	}

	parent := work.Parent{SessionID: in.SessionID, SnapshotID: &id}
	tally, err := l.Agents.CaptureDir(ctx, filepath.Dir(in.TranscriptPath), parent)
	if err != nil {
		return AgentResult{Status: "error", Message: err.Error(), SnapshotID: id}
	}
	return AgentResult{
		Status:     "success",
		SnapshotID: id,
		Found:      tally.Found,
		Captured:   tally.Captured,
		Skipped:    tally.Skipped,
		Errored:    tally.Errored,
	}
}
