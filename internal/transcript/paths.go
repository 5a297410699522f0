package transcript

import (
	"os"
	"path/filepath"
	"strings"
)

// AgentPrefix marks sub-agent transcripts: agent-<id>.jsonl.
const AgentPrefix = "agent-"

const Ext = ".jsonl"

// EncodeProjectPath converts a working directory into the directory name
// Claude Code uses under ~/.claude/projects: separators and spaces become "-".
func EncodeProjectPath(cwd string) string {
	r := strings.NewReplacer(string(filepath.Separator), "-", "/", "-", " ", "-")
	return r.Replace(cwd)
}

// DefaultProjectsRoot returns ~/.claude/projects.
func DefaultProjectsRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".claude", "projects")
	}
	return filepath.Join(home, ".claude", "projects")
}

// ProjectDir returns the transcript directory for a working directory.
func ProjectDir(projectsRoot, cwd string) string {
	return filepath.Join(projectsRoot, EncodeProjectPath(cwd))
}

// IsAgentLog reports whether a file name is a sub-agent transcript.
func IsAgentLog(name string) bool {
	return strings.HasPrefix(filepath.Base(name), AgentPrefix)
}

// LogID returns the identifier encoded in a transcript file name: the session
// id for main logs, the agent id (prefix stripped) for sub-agent logs.
func LogID(path string) string {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return strings.TrimPrefix(stem, AgentPrefix)
}

// SessionID returns the file stem, unmodified.
func SessionID(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}
