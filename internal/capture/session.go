// Package capture sends the current assistant session to the capture
// service, which stores it as a snapshot.
package capture

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/recall/internal/transcript"
)

// MinTranscriptBytes is the size below which a transcript is not considered
// substantive, as with the fresh file written right after a compaction.
const MinTranscriptBytes = 512

var (
	ErrNoProject     = errors.New("no project directory for working directory")
	ErrNoTranscripts = errors.New("no session transcripts found")
	ErrNoMessages    = errors.New("no conversation messages in transcript")
)

// Session identifies a transcript to capture.
type Session struct {
	SessionID      string
	TranscriptPath string
	ProjectPath    string
	Size           int64
	ModifiedAt     time.Time
}

// DetectSession finds the active session for cwd: the most recently
// modified transcript in its project directory under projectsRoot.
func DetectSession(projectsRoot, cwd string) (Session, error) {
	dir := transcript.ProjectDir(projectsRoot, cwd)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return Session{}, fmt.Errorf("%w: %s", ErrNoProject, cwd)
	}

	newest, err := newestTranscript(dir, func(os.FileInfo) bool { return true })
	if err != nil {
		return Session{}, err
	}
	if newest == nil {
		return Session{}, fmt.Errorf("%w in %s", ErrNoTranscripts, dir)
	}

	path := filepath.Join(dir, newest.Name())
	return Session{
		SessionID:      transcript.SessionID(path),
		TranscriptPath: path,
		ProjectPath:    cwd,
		Size:           newest.Size(),
		ModifiedAt:     newest.ModTime(),
	}, nil
}

// ResolveTranscript returns path when it holds at least minBytes. Otherwise
// it returns the most recent transcript in the same directory that is
// substantive and was modified before path, or ErrNoTranscripts.
func ResolveTranscript(path string, minBytes int64) (string, int64, error) {
	cutoff := time.Now()
	if info, err := os.Stat(path); err == nil {
		if info.Size() >= minBytes {
			return path, info.Size(), nil
		}
		cutoff = info.ModTime()
	}

	newest, err := newestTranscript(filepath.Dir(path), func(fi os.FileInfo) bool {
		return fi.ModTime().Before(cutoff) && fi.Size() >= minBytes
	})
	if err != nil {
		return "", 0, err
	}
	if newest == nil {
		return "", 0, fmt.Errorf("%w before %s", ErrNoTranscripts, filepath.Base(path))
	}
	return filepath.Join(filepath.Dir(path), newest.Name()), newest.Size(), nil
}

func newestTranscript(dir string, keep func(os.FileInfo) bool) (os.FileInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read project dir: %w", err)
	}

	var newest os.FileInfo
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), transcript.Ext) {
			continue
		}
		info, err := e.Info()
		if err != nil || !keep(info) {
			continue
		}
		if newest == nil || info.ModTime().After(newest.ModTime()) {
			newest = info
		}
	}
	return newest, nil
}
