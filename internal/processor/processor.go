// Package processor reacts to capture-service events on the bus.
package processor

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/MikeSquared-Agency/recall/internal/agentwork"
	"github.com/MikeSquared-Agency/recall/internal/hermes"
	"github.com/MikeSquared-Agency/recall/internal/work"
)

// defaultTimeout bounds the capture of one snapshot's agent work.
const defaultTimeout = 2 * time.Minute

// Capturer stores the agent work found in a directory.
type Capturer interface {
	CaptureDir(ctx context.Context, dir string, parent work.Parent) (agentwork.Tally, error)
}

// SnapshotLookup resolves the session of a stored snapshot; *store.Store
// satisfies it.
type SnapshotLookup interface {
	SnapshotSession(ctx context.Context, id int64) (sessionID, transcriptPath string, err error)
}

// Processor captures sub-agent work whenever a snapshot is stored.
type Processor struct {
	capturer  Capturer
	snapshots SnapshotLookup
	logger    *slog.Logger
	timeout   time.Duration
}

type Option func(*Processor)

// WithSnapshots fills in the session and transcript of events that carry
// only a snapshot id.
func WithSnapshots(l SnapshotLookup) Option {
	return func(p *Processor) { p.snapshots = l }
}

func New(c Capturer, logger *slog.Logger, opts ...Option) *Processor {
	p := &Processor{
		capturer: c,
		logger:   logger,
		timeout:  defaultTimeout,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// HandleSnapshotStored is the NATS handler for recall.snapshot.stored. The
// agent transcripts of a session live next to its transcript, so that
// directory is captured with the snapshot as parent.
func (p *Processor) HandleSnapshotStored(subject string, data []byte) {
	evt, err := hermes.ParseSnapshotStored(data)
	if err != nil {
		p.logger.Error("failed to parse snapshot event", "subject", subject, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	if (evt.TranscriptPath == "" || evt.SessionID == "") && evt.SnapshotID > 0 && p.snapshots != nil {
		sessionID, path, err := p.snapshots.SnapshotSession(ctx, evt.SnapshotID)
		if err != nil {
			p.logger.Error("failed to look up snapshot", "snapshot_id", evt.SnapshotID, "error", err)
			return
		}
		if evt.SessionID == "" {
			evt.SessionID = sessionID
		}
		if evt.TranscriptPath == "" {
			evt.TranscriptPath = path
		}
	}
	if evt.TranscriptPath == "" || evt.SessionID == "" {
		p.logger.Warn("snapshot event without transcript", "snapshot_id", evt.SnapshotID)
		return
	}

	parent := work.Parent{SessionID: evt.SessionID}
	if evt.SnapshotID > 0 {
		id := evt.SnapshotID
		parent.SnapshotID = &id
	}

	dir := filepath.Dir(evt.TranscriptPath)
	p.logger.Info("capturing agent work for snapshot",
		"snapshot_id", evt.SnapshotID,
		"session_id", evt.SessionID,
		"dir", dir,
	)

	tally, err := p.capturer.CaptureDir(ctx, dir, parent)
	if err != nil {
		p.logger.Error("agent capture failed", "snapshot_id", evt.SnapshotID, "error", err)
		return
	}
	for _, e := range tally.Errors() {
		p.logger.Warn("agent transcript not captured", "snapshot_id", evt.SnapshotID, "error", e)
	}

	p.logger.Info("snapshot processed",
		"snapshot_id", evt.SnapshotID,
		"found", tally.Found,
		"captured", tally.Captured,
		"skipped", tally.Skipped,
		"errored", tally.Errored,
	)
}
