package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"

	"github.com/MikeSquared-Agency/recall/internal/transcript"
)

type Config struct {
	Port         int
	DatabaseURL  string
	NatsURL      string
	NatsToken    string
	LogLevel     string
	APIToken     string
	ProcessorURL string
	ProjectsDir  string
	EventLogPath string
	SlackToken   string
	SlackChannel string

	MinAgentBytes int64
	MinConfidence int
}

func Load() Config {
	return Config{
		Port:          envInt("RECALL_PORT", 8760),
		DatabaseURL:   databaseURL(),
		NatsURL:       envStr("NATS_URL", "nats://hermes:4222"),
		NatsToken:     envStr("NATS_TOKEN", ""),
		LogLevel:      envStr("LOG_LEVEL", "info"),
		APIToken:      envStr("RECALL_API_TOKEN", ""),
		ProcessorURL:  envStr("CLAUDE_MEMORY_PROCESSOR_URL", "http://localhost:3200"),
		ProjectsDir:   envStr("CLAUDE_PROJECTS_DIR", transcript.DefaultProjectsRoot()),
		EventLogPath:  envStr("RECALL_CAPTURE_LOG", "~/.claude/memory-captures.jsonl"),
		SlackToken:    envStr("SLACK_BOT_TOKEN", ""),
		SlackChannel:  envStr("SLACK_REVIEW_CHANNEL", ""),
		MinAgentBytes: int64(envInt("RECALL_MIN_AGENT_BYTES", 512)),
		MinConfidence: envInt("RECALL_MIN_CONFIDENCE", 60),
	}
}

// databaseURL prefers DATABASE_URL and otherwise builds a DSN from the
// POSTGRES_* settings of the memory stack. Without a password there is no
// usable DSN and the result is empty.
func databaseURL() string {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		return v
	}
	password := os.Getenv("CONTEXT_DB_PASSWORD")
	if password == "" {
		return ""
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(envStr("POSTGRES_USER", "memory_admin"), password),
		Host:   fmt.Sprintf("%s:%d", envStr("POSTGRES_HOST", "localhost"), envInt("POSTGRES_HOST_PORT", 5435)),
		Path:   "/" + envStr("POSTGRES_DB", "claude_memory"),
	}
	return u.String()
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
