package capture

import (
	"context"
	"fmt"
	"time"

	"github.com/MikeSquared-Agency/recall/internal/transcript"
)

// Summary reports an on-demand capture.
type Summary struct {
	Session       Session
	RawRecords    int
	Conversation  int
	Sent          int
	Limited       bool
	Trigger       string
	Response      *Response
	EventLogError error
}

// CaptureCurrent captures the active session of cwd. The attempt is logged
// to events when it is non-nil, whether or not the call succeeds.
func CaptureCurrent(ctx context.Context, c *Client, events *EventLog, projectsRoot, cwd string, now time.Time) (Summary, error) {
	s, err := DetectSession(projectsRoot, cwd)
	if err != nil {
		return Summary{}, err
	}
	sum := Summary{Session: s}

	records, stats, err := transcript.ReadFile(s.TranscriptPath)
	if err != nil {
		return sum, err
	}
	sum.RawRecords = stats.Records

	turns := transcript.Turns(records)
	sum.Conversation = len(turns)
	if len(turns) == 0 {
		return sum, fmt.Errorf("%w: %s", ErrNoMessages, s.TranscriptPath)
	}

	req := BuildRequest(s, turns, now)
	sum.Sent = len(req.ConversationData.Messages)
	sum.Limited = sum.Sent < sum.Conversation
	sum.Trigger = req.Trigger

	resp, capErr := c.Capture(ctx, req)
	sum.Response = resp

	if events != nil {
		result := Result{Status: "success"}
		if capErr != nil {
			result = Result{Status: "error", Message: capErr.Error()}
		}
		sum.EventLogError = events.Append(Event{
			Timestamp:      now,
			Event:          EventManualCapture,
			SessionID:      s.SessionID,
			TranscriptPath: s.TranscriptPath,
			ProjectPath:    s.ProjectPath,
			MessageCount:   sum.Sent,
			FileSizeBytes:  s.Size,
			Result:         result,
		})
	}
	return sum, capErr
}
