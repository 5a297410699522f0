package agentwork

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/recall/internal/transcript"
)

// DefaultMinBytes skips transcripts too small to hold a real conversation.
const DefaultMinBytes = 512

// File is a sub-agent transcript found on disk.
type File struct {
	Path       string
	Size       int64
	ModifiedAt time.Time
}

// Discover lists agent-*.jsonl files in dir of at least minBytes, newest first.
func Discover(dir string, minBytes int64) ([]File, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read agent dir: %w", err)
	}

	var files []File
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !transcript.IsAgentLog(name) || !strings.HasSuffix(name, transcript.Ext) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.Size() < minBytes {
			continue
		}
		files = append(files, File{
			Path:       filepath.Join(dir, name),
			Size:       info.Size(),
			ModifiedAt: info.ModTime(),
		})
	}

	sort.Slice(files, func(i, j int) bool {
		if !files[i].ModifiedAt.Equal(files[j].ModifiedAt) {
			return files[i].ModifiedAt.After(files[j].ModifiedAt)
		}
		return files[i].Path < files[j].Path
	})
	return files, nil
}

// ScanParent is the parent session id used when agent work is captured
// outside any snapshot.
func ScanParent(now time.Time) string {
	return "scan-" + now.Format("20060102-150405")
}
