package hermes

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// subjectPrefix is the namespace of every recall subject.
const subjectPrefix = "recall."

const (
	// SubjectAgentWorkCaptured is published once per newly stored unit of agent work.
	SubjectAgentWorkCaptured = "recall.agent.work.captured"
	// SubjectSnapshotLinked is published once per snapshot linked to its transcript.
	SubjectSnapshotLinked = "recall.snapshot.linked"
	// SubjectSnapshotStored is consumed: the capture service announces new snapshots on it.
	SubjectSnapshotStored = "recall.snapshot.stored"
)

// Publisher is the publishing half of Client.
type Publisher interface {
	Publish(subject string, data any) error
}

// AgentWorkCaptured describes a stored unit of agent work.
type AgentWorkCaptured struct {
	EventID         string    `json:"event_id"`
	WorkID          int64     `json:"work_id"`
	DefinitionID    int64     `json:"definition_id"`
	DefinitionNew   bool      `json:"definition_new"`
	AgentID         string    `json:"agent_id"`
	AgentType       string    `json:"agent_type"`
	ParentSessionID string    `json:"parent_session_id"`
	ParentSnapshot  *int64    `json:"parent_snapshot_id,omitempty"`
	TranscriptPath  string    `json:"transcript_path"`
	CapturedAt      time.Time `json:"captured_at"`
}

// SnapshotLinked describes a snapshot whose session id was filled in.
type SnapshotLinked struct {
	EventID        string    `json:"event_id"`
	SnapshotID     int64     `json:"snapshot_id"`
	SessionID      string    `json:"session_id"`
	TranscriptPath string    `json:"transcript_path"`
	Confidence     int       `json:"confidence"`
	LinkedAt       time.Time `json:"linked_at"`
}

// SnapshotStored is announced by the capture service after it persists a snapshot.
type SnapshotStored struct {
	SnapshotID     int64  `json:"snapshot_id"`
	SessionID      string `json:"session_id"`
	TranscriptPath string `json:"transcript_path"`
	ProjectPath    string `json:"project_path"`
}

// PublishAgentWorkCaptured publishes evt on SubjectAgentWorkCaptured, filling
// in the event id and capture time when they are unset.
func PublishAgentWorkCaptured(p Publisher, evt AgentWorkCaptured) error {
	if evt.EventID == "" {
		evt.EventID = uuid.New().String()
	}
	if evt.CapturedAt.IsZero() {
		evt.CapturedAt = time.Now().UTC()
	}
	return p.Publish(SubjectAgentWorkCaptured, evt)
}

// PublishSnapshotLinked publishes evt on SubjectSnapshotLinked, filling in
// the event id and link time when they are unset.
func PublishSnapshotLinked(p Publisher, evt SnapshotLinked) error {
	if evt.EventID == "" {
		evt.EventID = uuid.New().String()
	}
	if evt.LinkedAt.IsZero() {
		evt.LinkedAt = time.Now().UTC()
	}
	return p.Publish(SubjectSnapshotLinked, evt)
}

// PublishSnapshotStored announces a stored snapshot. The capture service is
// the usual publisher; recall uses it for replays and tests.
func PublishSnapshotStored(p Publisher, evt SnapshotStored) error {
	if evt.SnapshotID <= 0 {
		return errors.New("snapshot stored event needs a snapshot id")
	}
	return p.Publish(SubjectSnapshotStored, evt)
}

// ParseSnapshotStored decodes a SubjectSnapshotStored payload.
func ParseSnapshotStored(data []byte) (SnapshotStored, error) {
	var evt SnapshotStored
	if err := json.Unmarshal(data, &evt); err != nil {
		return SnapshotStored{}, fmt.Errorf("parse snapshot stored: %w", err)
	}
	return evt, nil
}
