package transcript

import (
	"path/filepath"
	"testing"
)

func TestEncodeProjectPath(t *testing.T) {
	tests := map[string]string{
		"/Users/mike/code/recall":  "-Users-mike-code-recall",
		"/home/me/My Projects/app": "-home-me-My-Projects-app",
		"/tmp/a  b":                "-tmp-a--b",
		"relative/path":            "relative-path",
	}
	for in, want := range tests {
		if got := EncodeProjectPath(in); got != want {
			t.Errorf("EncodeProjectPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestProjectDir(t *testing.T) {
	got := ProjectDir("/root/.claude/projects", "/work/app")
	want := filepath.Join("/root/.claude/projects", "-work-app")
	if got != want {
		t.Errorf("ProjectDir = %q, want %q", got, want)
	}
}

func TestLogID(t *testing.T) {
	tests := map[string]string{
		"/x/agent-a1b2c3.jsonl":                         "a1b2c3",
		"/x/0f1e2d3c-aaaa-bbbb-cccc-111122223333.jsonl": "0f1e2d3c-aaaa-bbbb-cccc-111122223333",
		"/x/agent-.jsonl":                               "",
	}
	for in, want := range tests {
		if got := LogID(in); got != want {
			t.Errorf("LogID(%q) = %q, want %q", in, got, want)
		}
	}
	if got := SessionID("/x/agent-a1.jsonl"); got != "agent-a1" {
		t.Errorf("SessionID kept prefix = %q", got)
	}
}

func TestIsAgentLog(t *testing.T) {
	if !IsAgentLog("/dir/agent-123.jsonl") {
		t.Error("expected agent log")
	}
	if IsAgentLog("/dir/session-agent-123.jsonl") {
		t.Error("prefix must be at start of the file name")
	}
}
