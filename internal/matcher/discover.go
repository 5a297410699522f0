package matcher

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/MikeSquared-Agency/recall/internal/transcript"
)

const (
	// HeadLines is how many leading lines of a transcript are parsed for
	// content comparison.
	HeadLines = 10

	DefaultMinAgentBytes = 512
)

// DiscoverOptions control which transcript files become candidates.
type DiscoverOptions struct {
	// IncludeAgents admits sub-agent logs of at least MinAgentBytes.
	IncludeAgents bool
	MinAgentBytes int64
	Logger        *slog.Logger
}

// Discover builds candidates from the transcript files directly inside dir,
// in file name order. A file that cannot be read is logged and skipped.
func Discover(dir string, opts DiscoverOptions) ([]Candidate, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read transcript dir: %w", err)
	}

	var out []Candidate
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, transcript.Ext) {
			continue
		}
		path := filepath.Join(dir, name)

		info, err := e.Info()
		if err != nil {
			logger.Warn("stat transcript failed", "path", path, "error", err)
			continue
		}
		if transcript.IsAgentLog(name) {
			if !opts.IncludeAgents || info.Size() < opts.MinAgentBytes {
				continue
			}
		}

		c, err := loadCandidate(path, info)
		if err != nil {
			logger.Warn("read transcript failed", "path", path, "error", err)
			continue
		}
		out = append(out, c)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func loadCandidate(path string, info os.FileInfo) (Candidate, error) {
	head, err := transcript.ReadHead(path, HeadLines)
	if err != nil {
		return Candidate{}, err
	}
	lines, err := transcript.CountLines(path)
	if err != nil {
		return Candidate{}, err
	}
	return Candidate{
		SessionID:  transcript.SessionID(path),
		Path:       path,
		ModifiedAt: info.ModTime(),
		Size:       info.Size(),
		LineCount:  lines,
		Head:       head,
	}, nil
}
