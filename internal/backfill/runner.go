// Package backfill links snapshots that were stored without a session id
// to the transcript files they most likely came from.
package backfill

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/MikeSquared-Agency/recall/internal/hermes"
	"github.com/MikeSquared-Agency/recall/internal/matcher"
)

var (
	// ErrNoCandidates means the transcript directory held no usable files.
	ErrNoCandidates = errors.New("no transcript files found")
	// ErrCancelled means the operator declined to apply the proposals.
	ErrCancelled = errors.New("cancelled by user")
)

// SnapshotStore is the persistence the runner needs; *store.Store satisfies it.
type SnapshotStore interface {
	ListUnlinkedSnapshots(ctx context.Context) ([]matcher.Orphan, error)
	ApplyLinks(ctx context.Context, proposals []matcher.Proposal) (int, error)
}

// ReviewPoster sends proposal lists for human review; *slack.Poster satisfies it.
type ReviewPoster interface {
	PostProposals(ctx context.Context, proposals []matcher.Proposal, applied bool) (string, error)
	PostThread(ctx context.Context, threadTS, text string) error
}

// Confirmer asks the operator a yes/no question.
type Confirmer func(question string) (bool, error)

// PromptConfirmer asks on out and accepts only "yes" on in.
func PromptConfirmer(in io.Reader, out io.Writer) Confirmer {
	return func(question string) (bool, error) {
		fmt.Fprintf(out, "%s (yes/no): ", question)
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return false, fmt.Errorf("read confirmation: %w", err)
		}
		return strings.ToLower(strings.TrimSpace(line)) == "yes", nil
	}
}

// Config holds the backfill command configuration.
type Config struct {
	Dir           string
	MinConfidence int
	Execute       bool
	Debug         bool
	IncludeAgents bool
	MinAgentBytes int64
}

// Runner orchestrates one backfill run.
type Runner struct {
	cfg       Config
	store     SnapshotStore
	publisher hermes.Publisher
	reviewer  ReviewPoster
	confirm   Confirmer
	out       io.Writer
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures optional collaborators.
type Option func(*Runner)

// WithPublisher publishes a link event per applied proposal.
func WithPublisher(p hermes.Publisher) Option {
	return func(r *Runner) { r.publisher = p }
}

// WithReviewer posts the proposal list for review.
func WithReviewer(p ReviewPoster) Option {
	return func(r *Runner) { r.reviewer = p }
}

// WithConfirmer replaces the confirmation prompt.
func WithConfirmer(c Confirmer) Option {
	return func(r *Runner) { r.confirm = c }
}

// NewRunner creates a backfill runner writing its report to out.
func NewRunner(cfg Config, s SnapshotStore, out io.Writer, logger *slog.Logger, opts ...Option) *Runner {
	if cfg.MinAgentBytes <= 0 {
		cfg.MinAgentBytes = matcher.DefaultMinAgentBytes
	}
	r := &Runner{
		cfg:    cfg,
		store:  s,
		out:    out,
		logger: logger,
		now:    time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Report summarises a run.
type Report struct {
	Orphans    int
	Candidates int
	Proposals  []matcher.Proposal
	Applied    int
	DryRun     bool
}

// Preview computes proposals at minConfidence without printing or applying.
func (r *Runner) Preview(ctx context.Context, minConfidence int) (Report, error) {
	orphans, candidates, err := r.load(ctx)
	if err != nil {
		return Report{}, err
	}
	rep := Report{Orphans: len(orphans), Candidates: len(candidates), DryRun: true}
	if len(candidates) == 0 {
		return rep, ErrNoCandidates
	}
	rep.Proposals = matcher.Match(orphans, candidates, matcher.Options{MinConfidence: minConfidence})
	matcher.SortByConfidence(rep.Proposals)
	return rep, nil
}

func (r *Runner) load(ctx context.Context) ([]matcher.Orphan, []matcher.Candidate, error) {
	orphans, err := r.store.ListUnlinkedSnapshots(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load snapshots: %w", err)
	}
	candidates, err := matcher.Discover(r.cfg.Dir, matcher.DiscoverOptions{
		IncludeAgents: r.cfg.IncludeAgents,
		MinAgentBytes: r.cfg.MinAgentBytes,
		Logger:        r.logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("discover transcripts: %w", err)
	}
	return orphans, candidates, nil
}

// Run loads, matches, reports and, in execute mode after confirmation,
// applies the proposals, most confident first. A run with nothing to
// propose succeeds.
func (r *Runner) Run(ctx context.Context) (Report, error) {
	rep := Report{DryRun: !r.cfg.Execute}

	fmt.Fprintln(r.out, "Loading snapshots without session_id...")
	orphans, candidates, err := r.load(ctx)
	if err != nil {
		return rep, err
	}
	rep.Orphans = len(orphans)
	rep.Candidates = len(candidates)
	fmt.Fprintf(r.out, "  Found %d snapshots needing backfill\n", len(orphans))
	fmt.Fprintf(r.out, "  Found %d transcript files in %s\n\n", len(candidates), r.cfg.Dir)

	if len(candidates) == 0 {
		fmt.Fprintln(r.out, "Transcripts may have been deleted or the project path encoding is wrong.")
		return rep, ErrNoCandidates
	}

	opts := matcher.Options{MinConfidence: r.cfg.MinConfidence}
	if r.cfg.Debug {
		opts.OnScore = r.printScore
	}
	rep.Proposals = matcher.Match(orphans, candidates, opts)
	matcher.SortByConfidence(rep.Proposals)
	fmt.Fprintf(r.out, "Found %d potential matches (>=%d%% confidence)\n\n", len(rep.Proposals), r.cfg.MinConfidence)

	if len(rep.Proposals) == 0 {
		fmt.Fprintln(r.out, "No confident matches found. Possible reasons:")
		fmt.Fprintln(r.out, "  - transcript files were deleted")
		fmt.Fprintln(r.out, "  - snapshots were test data, not from real transcripts")
		fmt.Fprintln(r.out, "  - timestamps don't align (files modified after capture)")
		return rep, nil
	}

	r.printProposals(rep.Proposals)

	if !r.cfg.Execute {
		fmt.Fprintln(r.out, "DRY RUN: no changes were made. Re-run with --execute to apply.")
		fmt.Fprintf(r.out, "  %d snapshots would be updated\n", len(rep.Proposals))
		fmt.Fprintf(r.out, "  %d snapshots have no confident match\n", len(orphans)-len(rep.Proposals))
		r.review(ctx, rep.Proposals, false)
		return rep, nil
	}

	if r.confirm == nil {
		return rep, fmt.Errorf("execute requested without a confirmer: %w", ErrCancelled)
	}
	ok, err := r.confirm(fmt.Sprintf("About to update %d snapshots. Continue?", len(rep.Proposals)))
	if err != nil {
		return rep, err
	}
	if !ok {
		fmt.Fprintln(r.out, "Cancelled.")
		return rep, ErrCancelled
	}

	rep.Applied, err = r.store.ApplyLinks(ctx, rep.Proposals)
	if err != nil {
		return rep, fmt.Errorf("apply links: %w", err)
	}
	fmt.Fprintf(r.out, "Updated %d snapshots\n", rep.Applied)
	r.logger.Info("session backfill applied", "proposals", len(rep.Proposals), "updated", rep.Applied)

	r.publishLinks(rep.Proposals)
	r.review(ctx, rep.Proposals, true)
	return rep, nil
}

func (r *Runner) printScore(o matcher.Orphan, c matcher.Candidate, b matcher.Breakdown) {
	fmt.Fprintf(r.out, "  Snapshot #%d vs %s: %d%%\n", o.ID, shortID(c.SessionID), b.Total())
	for _, d := range b.Details() {
		fmt.Fprintf(r.out, "      %s\n", d)
	}
}

func (r *Runner) printProposals(ps []matcher.Proposal) {
	fmt.Fprintln(r.out, "Proposed matches:")
	for i, p := range ps {
		fmt.Fprintf(r.out, "%d. Snapshot #%d -> session %s\n", i+1, p.OrphanID, shortID(p.SessionID))
		fmt.Fprintf(r.out, "   Confidence: %d%%\n", p.Confidence)
		fmt.Fprintf(r.out, "   Trigger: %s\n", p.Trigger)
		fmt.Fprintf(r.out, "   Snapshot time: %s (%s)\n", p.OrphanTime.Format(time.RFC3339), humanize.RelTime(p.OrphanTime, r.now(), "ago", "from now"))
		for _, d := range p.Breakdown.Details() {
			fmt.Fprintf(r.out, "      - %s\n", d)
		}
		fmt.Fprintln(r.out)
	}
}

func (r *Runner) publishLinks(ps []matcher.Proposal) {
	if r.publisher == nil {
		return
	}
	for _, p := range ps {
		evt := hermes.SnapshotLinked{
			SnapshotID:     p.OrphanID,
			SessionID:      p.SessionID,
			TranscriptPath: p.TranscriptPath,
			Confidence:     p.Confidence,
			LinkedAt:       r.now().UTC(),
		}
		if err := hermes.PublishSnapshotLinked(r.publisher, evt); err != nil {
			r.logger.Warn("failed to publish link event", "snapshot_id", p.OrphanID, "error", err)
		}
	}
}

func (r *Runner) review(ctx context.Context, ps []matcher.Proposal, applied bool) {
	if r.reviewer == nil {
		return
	}
	ts, err := r.reviewer.PostProposals(ctx, ps, applied)
	if err != nil {
		r.logger.Warn("failed to post proposals for review", "error", err)
		return
	}
	if ts == "" {
		return
	}
	if err := r.reviewer.PostThread(ctx, ts, breakdownText(ps)); err != nil {
		r.logger.Warn("failed to post score breakdown", "error", err)
	}
}

// breakdownText lists the score components of each proposal for the review
// thread.
func breakdownText(ps []matcher.Proposal) string {
	var sb strings.Builder
	sb.WriteString("Score breakdown:\n")
	for _, p := range ps {
		fmt.Fprintf(&sb, "Snapshot #%d (%d%%)\n", p.OrphanID, p.Confidence)
		for _, d := range p.Breakdown.Details() {
			fmt.Fprintf(&sb, "  %s\n", d)
		}
	}
	return sb.String()
}

func shortID(id string) string {
	if len(id) > 16 {
		return id[:16] + "..."
	}
	return id
}
