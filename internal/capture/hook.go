package capture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/MikeSquared-Agency/recall/internal/transcript"
)

// Hook events recall handles.
const (
	HookSessionStart = "SessionStart"
	HookPreCompact   = "PreCompact"
)

// HookInput is what the assistant passes on stdin to a hook. SessionStart
// hooks carry a source, PreCompact hooks a trigger ("auto" or "manual").
type HookInput struct {
	HookEventName  string `json:"hook_event_name"`
	SessionID      string `json:"session_id"`
	TranscriptPath string `json:"transcript_path"`
	Source         string `json:"source"`
	Trigger        string `json:"trigger"`
	CWD            string `json:"cwd"`
}

// HookOutput is written back on stdout.
type HookOutput struct {
	SystemMessage string         `json:"systemMessage"`
	Specific      map[string]any `json:"hookSpecificOutput"`
}

// ParseHookInput decodes and validates hook input.
func ParseHookInput(r io.Reader) (HookInput, error) {
	var in HookInput
	if err := json.NewDecoder(r).Decode(&in); err != nil {
		return HookInput{}, fmt.Errorf("invalid hook input: %w", err)
	}
	if in.TranscriptPath == "" {
		return HookInput{}, errors.New("hook input has no transcript_path")
	}
	if in.HookEventName == "" {
		in.HookEventName = HookSessionStart
		if in.Trigger != "" {
			in.HookEventName = HookPreCompact
		}
	}
	if in.Source == "" {
		in.Source = "unknown"
	}
	if in.Trigger == "" {
		in.Trigger = "unknown"
	}
	if in.CWD == "" {
		in.CWD = "/unknown"
	}
	return in, nil
}

// PostCompact captures the session that was just compacted. The hook is
// handed the new, nearly empty transcript, so the previous substantive one
// in the same directory is captured instead. Every attempt is logged to
// events when it is non-nil.
func PostCompact(ctx context.Context, c *Client, events *EventLog, in HookInput, now time.Time) (HookOutput, error) {
	path, size, err := ResolveTranscript(in.TranscriptPath, MinTranscriptBytes)
	if err != nil {
		return HookOutput{}, err
	}

	records, _, err := transcript.ReadFile(path)
	if err != nil {
		return HookOutput{}, err
	}
	turns := transcript.Turns(records)
	if len(turns) == 0 {
		return HookOutput{}, fmt.Errorf("%w: %s", ErrNoMessages, path)
	}

	sessionID := transcript.SessionID(path)
	req := Request{
		ProjectPath:      in.CWD,
		Trigger:          PostCompactTrigger(in.Source, now),
		SessionID:        sessionID,
		TranscriptPath:   path,
		ConversationData: ConversationData{Messages: turns},
		Metadata: &Metadata{
			Tags:           []string{"post-compact-capture", in.Source},
			FilesMentioned: []string{},
		},
	}

	result := Result{Status: "success"}
	_, capErr := c.Capture(ctx, req)
	if capErr != nil {
		result = Result{Status: "error", Message: capErr.Error()}
	}

	if events != nil {
		logErr := events.Append(Event{
			Timestamp:             now,
			Event:                 EventPostCompactCapture,
			Source:                in.Source,
			SessionID:             sessionID,
			TranscriptPath:        path,
			CurrentSessionID:      in.SessionID,
			CurrentTranscriptPath: in.TranscriptPath,
			ProjectPath:           in.CWD,
			MessageCount:          len(turns),
			FileSizeBytes:         size,
			Result:                result,
		})
		if logErr != nil {
			c.logger.Warn("failed to write capture log", "error", logErr)
		}
	}

	if capErr != nil {
		return HookOutput{
			SystemMessage: "Failed to capture conversation: " + capErr.Error(),
			Specific: map[string]any{
				"hookEventName": HookSessionStart,
				"error":         capErr.Error(),
			},
		}, nil
	}
	return HookOutput{
		SystemMessage: fmt.Sprintf("Conversation captured to memory (%d messages) after compact.", len(turns)),
		Specific: map[string]any{
			"hookEventName":     "SessionStart",
			"additionalContext": fmt.Sprintf("Post-compact snapshot created. Source: %s, Session: %s", in.Source, sessionID),
		},
	}, nil
}
