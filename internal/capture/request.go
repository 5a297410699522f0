package capture

import (
	"fmt"
	"time"

	"github.com/MikeSquared-Agency/recall/internal/transcript"
)

// MessageLimit caps how many turns are sent in one capture.
const MessageLimit = 100

// Request is the body of POST /capture.
type Request struct {
	ProjectPath      string           `json:"project_path"`
	Trigger          string           `json:"trigger"`
	SessionID        string           `json:"session_id"`
	TranscriptPath   string           `json:"transcript_path"`
	ConversationData ConversationData `json:"conversation_data"`
	Metadata         *Metadata        `json:"metadata,omitempty"`
}

type ConversationData struct {
	Messages []transcript.Turn `json:"messages"`
}

type Metadata struct {
	Tags           []string `json:"tags"`
	FilesMentioned []string `json:"files_mentioned"`
}

// AutoTrigger names an on-demand capture: auto-capture-<8 chars of id>-<date>.
func AutoTrigger(sessionID string, now time.Time) string {
	short := sessionID
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("auto-capture-%s-%s", short, now.Format("2006-01-02"))
}

// PostCompactTrigger names a capture taken after a compaction.
func PostCompactTrigger(source string, now time.Time) string {
	return fmt.Sprintf("post-compact-%s-%s", source, now.Format("2006-01-02-15-04"))
}

// BuildRequest prepares an on-demand capture of turns, keeping the first
// MessageLimit of them.
func BuildRequest(s Session, turns []transcript.Turn, now time.Time) Request {
	if len(turns) > MessageLimit {
		turns = turns[:MessageLimit]
	}
	if turns == nil {
		turns = []transcript.Turn{}
	}
	return Request{
		ProjectPath:      s.ProjectPath,
		Trigger:          AutoTrigger(s.SessionID, now),
		SessionID:        s.SessionID,
		TranscriptPath:   s.TranscriptPath,
		ConversationData: ConversationData{Messages: turns},
	}
}
