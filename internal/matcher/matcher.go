// Package matcher proposes links between snapshots that lost their session id
// and the transcript files they were most likely captured from.
//
// Scoring is greedy per snapshot. Two snapshots may propose the same
// transcript; proposals are meant for human review before they are applied.
package matcher

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/recall/internal/transcript"
)

const (
	DefaultMinConfidence = 60

	MaxTimestampPoints = 40
	MaxVolumePoints    = 30
	MaxContentPoints   = 30

	// contentPrefix is how many characters of each message are compared.
	contentPrefix = 100
)

// Orphan is a stored snapshot with no session id.
type Orphan struct {
	ID           int64
	Timestamp    time.Time
	Trigger      string
	ProjectPath  string
	MessageCount int
	FirstMessage string
}

// Candidate is a transcript file that an orphan might belong to.
type Candidate struct {
	SessionID  string
	Path       string
	ModifiedAt time.Time
	Size       int64
	LineCount  int
	Head       []transcript.Record
}

// Breakdown is the per-factor score of one orphan against one candidate,
// together with the inputs that produced it.
type Breakdown struct {
	Timestamp int `json:"timestamp"`
	Volume    int `json:"volume"`
	Content   int `json:"content"`

	MinutesApart    float64 `json:"minutes_apart"`
	MessageCount    int     `json:"message_count"`
	LineCount       int     `json:"line_count"`
	HasFirstMessage bool    `json:"has_first_message"`
}

// Total is the confidence, 0 to 100.
func (b Breakdown) Total() int {
	return b.Timestamp + b.Volume + b.Content
}

// Details renders one report line per factor.
func (b Breakdown) Details() []string {
	content := "no content to compare"
	if b.HasFirstMessage {
		content = "no content match"
		if b.Content > 0 {
			content = "first message matched"
		}
	}
	return []string{
		fmt.Sprintf("Timestamp: %d/%d (%.1f min diff)", b.Timestamp, MaxTimestampPoints, b.MinutesApart),
		fmt.Sprintf("Count: %d/%d (snapshot:%d vs transcript:%d lines)", b.Volume, MaxVolumePoints, b.MessageCount, b.LineCount),
		fmt.Sprintf("Content: %d/%d (%s)", b.Content, MaxContentPoints, content),
	}
}

// Proposal is the best candidate found for one orphan.
type Proposal struct {
	OrphanID       int64     `json:"snapshot_id"`
	Trigger        string    `json:"trigger"`
	OrphanTime     time.Time `json:"snapshot_timestamp"`
	SessionID      string    `json:"session_id"`
	TranscriptPath string    `json:"transcript_path"`
	Confidence     int       `json:"confidence"`
	Breakdown      Breakdown `json:"breakdown"`
}

// Score rates how likely it is that o was captured from c.
func Score(o Orphan, c Candidate) Breakdown {
	b := Breakdown{
		MessageCount: o.MessageCount,
		LineCount:    c.LineCount,
	}

	b.MinutesApart = math.Abs(c.ModifiedAt.Sub(o.Timestamp).Minutes())
	b.Timestamp = timestampPoints(b.MinutesApart)

	if c.LineCount > 0 {
		lo, hi := o.MessageCount, c.LineCount
		if lo > hi {
			lo, hi = hi, lo
		}
		b.Volume = MaxVolumePoints * lo / hi
	}

	if o.FirstMessage != "" {
		b.HasFirstMessage = true
		if contentOverlaps(prefix(o.FirstMessage), c.Head) {
			b.Content = MaxContentPoints
		}
	}
	return b
}

func timestampPoints(minutes float64) int {
	switch {
	case minutes <= 5:
		return 40
	case minutes <= 15:
		return 30
	case minutes <= 30:
		return 20
	case minutes <= 60:
		return 10
	default:
		return 0
	}
}

func contentOverlaps(first string, head []transcript.Record) bool {
	for _, r := range head {
		if r.Message == nil {
			continue
		}
		text := prefix(r.Message.Content.PlainText())
		if text == "" {
			continue
		}
		if strings.Contains(text, first) || strings.Contains(first, text) {
			return true
		}
	}
	return false
}

// prefix returns the first contentPrefix characters of s.
func prefix(s string) string {
	n := 0
	for i := range s {
		if n == contentPrefix {
			return s[:i]
		}
		n++
	}
	return s
}

// Options tune Match.
type Options struct {
	// MinConfidence is the floor below which no proposal is emitted,
	// normally DefaultMinConfidence.
	MinConfidence int

	// OnScore, when set, sees every evaluated pair.
	OnScore func(Orphan, Candidate, Breakdown)
}

// Match proposes at most one candidate per orphan, in orphan order.
//
// The best candidate has the highest score; equal scores go to the smaller
// time difference and then to the lexically smaller session id. A candidate
// scoring zero is never proposed.
func Match(orphans []Orphan, candidates []Candidate, opts Options) []Proposal {
	var out []Proposal

	for _, o := range orphans {
		var (
			best      *Candidate
			bestScore Breakdown
		)
		for i := range candidates {
			c := &candidates[i]
			b := Score(o, *c)
			if opts.OnScore != nil {
				opts.OnScore(o, *c, b)
			}
			if b.Total() == 0 {
				continue
			}
			if best == nil || better(b, c, bestScore, best) {
				best, bestScore = c, b
			}
		}
		if best == nil || bestScore.Total() < opts.MinConfidence {
			continue
		}
		out = append(out, Proposal{
			OrphanID:       o.ID,
			Trigger:        o.Trigger,
			OrphanTime:     o.Timestamp,
			SessionID:      best.SessionID,
			TranscriptPath: best.Path,
			Confidence:     bestScore.Total(),
			Breakdown:      bestScore,
		})
	}
	return out
}

func better(b Breakdown, c *Candidate, bestB Breakdown, best *Candidate) bool {
	if b.Total() != bestB.Total() {
		return b.Total() > bestB.Total()
	}
	if b.MinutesApart != bestB.MinutesApart {
		return b.MinutesApart < bestB.MinutesApart
	}
	return c.SessionID < best.SessionID
}

// SortByConfidence orders proposals from most to least confident, keeping
// orphan order among equals.
func SortByConfidence(ps []Proposal) {
	sort.SliceStable(ps, func(i, j int) bool {
		return ps[i].Confidence > ps[j].Confidence
	})
}
