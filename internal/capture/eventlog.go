package capture

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultEventLogPath is the capture log shared with the shell hooks.
const DefaultEventLogPath = "~/.claude/memory-captures.jsonl"

// Event is one line of the capture log.
type Event struct {
	Timestamp             time.Time    `json:"timestamp"`
	Event                 string       `json:"event"`
	Source                string       `json:"source,omitempty"`
	Trigger               string       `json:"trigger,omitempty"`
	SessionID             string       `json:"session_id"`
	TranscriptPath        string       `json:"transcript_path"`
	CurrentSessionID      string       `json:"current_session_id,omitempty"`
	CurrentTranscriptPath string       `json:"current_transcript_path,omitempty"`
	ProjectPath           string       `json:"project_path"`
	MessageCount          int          `json:"message_count"`
	FileSizeBytes         int64        `json:"file_size_bytes"`
	Result                Result       `json:"capture_result"`
	AgentResult           *AgentResult `json:"agent_capture_result,omitempty"`
}

// Result is the outcome recorded for an event.
type Result struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// AgentResult is the outcome of capturing sub-agent work after a snapshot.
type AgentResult struct {
	Status     string `json:"status"`
	Message    string `json:"message,omitempty"`
	SnapshotID int64  `json:"parent_snapshot_id,omitempty"`
	Found      int    `json:"agents_found"`
	Captured   int    `json:"agents_captured"`
	Skipped    int    `json:"agents_skipped"`
	Errored    int    `json:"agents_errored"`
}

const (
	EventManualCapture      = "MANUAL_CAPTURE"
	EventPostCompactCapture = "POST_COMPACT_CAPTURE"
	EventPreCompactCapture  = "AUTO_CAPTURE"
)

// EventLog appends capture events as JSON lines.
type EventLog struct {
	path string
}

// NewEventLog opens the log at path; "~/" is expanded. An empty path uses
// DefaultEventLogPath.
func NewEventLog(path string) *EventLog {
	if path == "" {
		path = DefaultEventLogPath
	}
	return &EventLog{path: expandHome(path)}
}

// Path returns the resolved log location.
func (l *EventLog) Path() string { return l.path }

// Append writes one event, creating the log and its directory as needed.
func (l *EventLog) Append(e Event) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open capture log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write capture log: %w", err)
	}
	return nil
}

func expandHome(path string) string {
	if len(path) > 1 && path[0] == '~' && path[1] == '/' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
