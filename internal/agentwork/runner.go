// Package agentwork captures sub-agent transcripts as agent work records
// linked to deduplicated agent definitions.
package agentwork

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/MikeSquared-Agency/recall/internal/hermes"
	"github.com/MikeSquared-Agency/recall/internal/profile"
	"github.com/MikeSquared-Agency/recall/internal/store"
	"github.com/MikeSquared-Agency/recall/internal/transcript"
	"github.com/MikeSquared-Agency/recall/internal/work"
)

// Store is the persistence the runner needs; *store.Store satisfies it.
type Store interface {
	WorkExists(ctx context.Context, agentID, parentSessionID string) (bool, error)
	FindOrCreateProfile(ctx context.Context, p *profile.Profile) (store.Resolution, error)
	InsertWork(ctx context.Context, w *work.Record, definitionID int64, parent work.Parent) (int64, bool, error)
}

// Config holds the runner settings.
type Config struct {
	MinBytes  int64
	CreatedBy string
}

// Runner captures agent transcripts one file at a time.
type Runner struct {
	cfg       Config
	store     Store
	publisher hermes.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewRunner creates a runner. publisher may be nil.
func NewRunner(cfg Config, s Store, publisher hermes.Publisher, logger *slog.Logger) *Runner {
	if cfg.MinBytes <= 0 {
		cfg.MinBytes = DefaultMinBytes
	}
	if cfg.CreatedBy == "" {
		cfg.CreatedBy = profile.DefaultCreatedBy
	}
	return &Runner{
		cfg:       cfg,
		store:     s,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// Outcome is what happened to one transcript.
type Outcome int

const (
	Captured Outcome = iota
	Skipped
	Errored
)

func (o Outcome) String() string {
	switch o {
	case Captured:
		return "captured"
	case Skipped:
		return "skipped"
	default:
		return "errored"
	}
}

// Result describes one processed transcript.
type Result struct {
	Path         string
	AgentID      string
	Outcome      Outcome
	WorkID       int64
	DefinitionID int64
	DefinitionV  int
	NewProfile   bool
	Work         *work.Record
	Err          error
}

// Tally counts results over a batch.
type Tally struct {
	Found    int
	Bytes    int64
	Captured int
	Skipped  int
	Errored  int
	Results  []Result
}

// Errors returns the per-file errors of the batch.
func (t Tally) Errors() []error {
	var errs []error
	for _, r := range t.Results {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", filepath.Base(r.Path), r.Err))
		}
	}
	return errs
}

func (t *Tally) add(r Result) {
	t.Results = append(t.Results, r)
	switch r.Outcome {
	case Captured:
		t.Captured++
	case Skipped:
		t.Skipped++
	default:
		t.Errored++
	}
}

// CaptureDir captures every qualifying agent transcript in dir under parent.
// A failing file is recorded and the batch continues. An empty
// parent.SessionID gets a scan-<timestamp> id.
func (r *Runner) CaptureDir(ctx context.Context, dir string, parent work.Parent) (Tally, error) {
	files, err := Discover(dir, r.cfg.MinBytes)
	if err != nil {
		return Tally{}, err
	}
	if parent.SessionID == "" {
		parent.SessionID = ScanParent(r.now())
	}

	tally := Tally{Found: len(files)}
	for _, f := range files {
		tally.Bytes += f.Size
	}
	r.logger.Info("agent transcripts discovered", "dir", dir, "count", len(files), "parent", parent.SessionID)

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return tally, err
		}
		tally.add(r.CaptureFile(ctx, f.Path, parent))
	}

	r.logger.Info("agent capture complete",
		"found", tally.Found,
		"captured", tally.Captured,
		"skipped", tally.Skipped,
		"errors", tally.Errored,
	)
	return tally, nil
}

// CaptureFile captures one agent transcript under parent.
func (r *Runner) CaptureFile(ctx context.Context, path string, parent work.Parent) Result {
	res := Result{Path: path, AgentID: transcript.LogID(path)}
	fail := func(err error) Result {
		res.Outcome = Errored
		res.Err = err
		r.logger.Error("agent capture failed", "path", path, "error", err)
		return res
	}

	exists, err := r.store.WorkExists(ctx, res.AgentID, parent.SessionID)
	if err != nil {
		return fail(err)
	}
	if exists {
		res.Outcome = Skipped
		r.logger.Debug("agent work already captured", "agent_id", res.AgentID, "parent", parent.SessionID)
		return res
	}

	records, stats, err := transcript.ReadFile(path)
	if err != nil {
		return fail(err)
	}
	if stats.Malformed > 0 {
		r.logger.Warn("skipped malformed transcript lines", "path", path, "malformed", stats.Malformed)
	}

	w, err := work.Extract(records, path)
	if err != nil {
		return fail(fmt.Errorf("extract work: %w", err))
	}
	res.Work = w

	def, err := r.store.FindOrCreateProfile(ctx, profile.FromWork(w, r.cfg.CreatedBy))
	if err != nil {
		return fail(err)
	}
	res.DefinitionID, res.DefinitionV, res.NewProfile = def.ID, def.Version, def.Created

	workID, created, err := r.store.InsertWork(ctx, w, def.ID, parent)
	if err != nil {
		return fail(err)
	}
	res.WorkID = workID
	if !created {
		res.Outcome = Skipped
		return res
	}
	res.Outcome = Captured

	r.logger.Info("agent work captured",
		"work_id", workID,
		"definition_id", def.ID,
		"definition_version", def.Version,
		"agent_id", w.AgentID,
		"agent_type", w.RoleType,
		"tools", len(w.ToolUsage),
		"files", len(w.FilesExamined),
		"urls", len(w.URLsFetched),
	)
	r.publishCaptured(res, parent)
	return res
}

func (r *Runner) publishCaptured(res Result, parent work.Parent) {
	if r.publisher == nil {
		return
	}
	evt := hermes.AgentWorkCaptured{
		WorkID:          res.WorkID,
		DefinitionID:    res.DefinitionID,
		DefinitionNew:   res.NewProfile,
		AgentID:         res.AgentID,
		AgentType:       res.Work.RoleType,
		ParentSessionID: parent.SessionID,
		ParentSnapshot:  parent.SnapshotID,
		TranscriptPath:  res.Path,
		CapturedAt:      r.now().UTC(),
	}
	if err := hermes.PublishAgentWorkCaptured(r.publisher, evt); err != nil {
		r.logger.Warn("failed to publish agent work event", "agent_id", res.AgentID, "error", err)
	}
}
