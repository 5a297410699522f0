// Package work derives per-agent work records from sub-agent transcripts.
package work

import (
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/recall/internal/transcript"
)

const (
	// NoRequest stands in for the request when a transcript has no user text.
	NoRequest = "No request captured"

	MaxResultSummary   = 1000
	MaxSelfDescription = 500

	ToolRead     = "Read"
	ToolWebFetch = "WebFetch"
)

// ErrEmptyTranscript is returned when there is nothing to extract.
var ErrEmptyTranscript = errors.New("no records found in transcript")

// Record is one unit of agent work.
type Record struct {
	AgentID       string
	RoleType      string
	Request       string
	Turns         []transcript.Turn
	ToolUsage     map[string]int
	FilesExamined []string
	URLsFetched   []string
	ResultSummary *string
	StartedAt     *time.Time
	EndedAt       *time.Time
	SourcePath    string

	Model           string
	SelfDescription string
	Params          Params
}

// Params are the configuration parameters observed in one run of an agent.
type Params struct {
	ToolsUsedCount    int  `json:"tools_used_count"`
	TotalToolCalls    int  `json:"total_tool_calls"`
	ConversationTurns int  `json:"conversation_turns"`
	HadToolErrors     bool `json:"had_tool_errors"`
}

// Parent identifies what a unit of work is stored under.
type Parent struct {
	SessionID  string
	SnapshotID *int64
}

// RequestID is the stable external id of a unit of work under its parent.
func RequestID(parentSessionID, agentID string) string {
	return parentSessionID + "-" + agentID
}

// Extract builds the work record for a transcript's records. sourcePath is
// the transcript file; its name carries the agent id.
func Extract(records []transcript.Record, sourcePath string) (*Record, error) {
	if len(records) == 0 {
		return nil, ErrEmptyTranscript
	}

	w := &Record{
		AgentID:    transcript.LogID(sourcePath),
		Request:    NoRequest,
		ToolUsage:  make(map[string]int),
		SourcePath: sourcePath,
		Turns:      transcript.Turns(records),
	}

	files := make(map[string]struct{})
	urls := make(map[string]struct{})
	var haveRequest bool

	for _, r := range records {
		if r.Message == nil {
			continue
		}
		c := r.Message.Content

		for _, b := range c.Blocks {
			if res, ok := b.(transcript.ToolResultBlock); ok && res.IsError {
				w.Params.HadToolErrors = true
			}
		}

		switch r.Type {
		case transcript.RoleUser:
			w.Params.ConversationTurns++
			if !haveRequest && c.IsString {
				// the first string message decides; an empty one keeps NoRequest
				if c.Text != "" {
					w.Request = c.Text
				}
				haveRequest = true
			}

		case transcript.RoleAssistant:
			if w.Model == "" {
				w.Model = r.Message.Model
			}
			for _, b := range c.Blocks {
				switch blk := b.(type) {
				case transcript.ToolUseBlock:
					if blk.Name == "" {
						continue
					}
					w.ToolUsage[blk.Name]++
					switch blk.Name {
					case ToolRead:
						if p := blk.InputString("file_path"); p != "" {
							files[p] = struct{}{}
						}
					case ToolWebFetch:
						if u := blk.InputString("url"); u != "" {
							urls[u] = struct{}{}
						}
					}
				case transcript.TextBlock:
					if w.SelfDescription == "" && isSelfDescription(blk.Text) {
						w.SelfDescription = truncate(blk.Text, MaxSelfDescription)
					}
				}
			}
			if texts := c.Texts(); len(texts) > 0 {
				summary := truncate(strings.Join(texts, ""), MaxResultSummary)
				w.ResultSummary = &summary
			}
		}
	}

	w.FilesExamined = sortedKeys(files)
	w.URLsFetched = sortedKeys(urls)
	w.StartedAt, w.EndedAt = timeRange(records)

	w.Params.ToolsUsedCount = len(w.ToolUsage)
	for _, n := range w.ToolUsage {
		w.Params.TotalToolCalls += n
	}

	request := ""
	if w.Request != NoRequest {
		request = w.Request
	}
	w.RoleType = InferRoleType(request, w.SelfDescription)

	return w, nil
}

// Capabilities returns the sorted set of tools the agent used.
func (w *Record) Capabilities() []string {
	caps := make([]string, 0, len(w.ToolUsage))
	for name := range w.ToolUsage {
		caps = append(caps, name)
	}
	sort.Strings(caps)
	return caps
}

// timestampLayouts covers what Claude Code writes and zone-less ISO-8601.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp parses an ISO-8601 timestamp; zone-less values are UTC.
func ParseTimestamp(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func timeRange(records []transcript.Record) (*time.Time, *time.Time) {
	var start, end *time.Time
	for _, r := range records {
		t, ok := ParseTimestamp(r.Timestamp)
		if !ok {
			continue
		}
		if start == nil || t.Before(*start) {
			s := t
			start = &s
		}
		if end == nil || t.After(*end) {
			e := t
			end = &e
		}
	}
	return start, end
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// truncate keeps the first n characters of s.
func truncate(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
