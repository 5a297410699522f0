package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/MikeSquared-Agency/recall/internal/matcher"
)

// rawContext is the part of context_snapshots.raw_context the matcher reads.
type rawContext struct {
	Messages []json.RawMessage `json:"messages"`
}

type rawMessage struct {
	Content json.RawMessage `json:"content"`
}

// ListUnlinkedSnapshots returns snapshots with no session id, newest first.
func (s *Store) ListUnlinkedSnapshots(ctx context.Context) ([]matcher.Orphan, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, timestamp, trigger_event, raw_context, project_path
		FROM context_snapshots
		WHERE session_id IS NULL
		ORDER BY timestamp DESC`)
	if err != nil {
		return nil, fmt.Errorf("list unlinked snapshots: %w", err)
	}
	defer rows.Close()

	var out []matcher.Orphan
	for rows.Next() {
		var (
			o       matcher.Orphan
			trigger *string
			project *string
			raw     []byte
		)
		if err := rows.Scan(&o.ID, &o.Timestamp, &trigger, &raw, &project); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		if trigger != nil {
			o.Trigger = *trigger
		}
		if project != nil {
			o.ProjectPath = *project
		}
		o.MessageCount, o.FirstMessage = summarizeRawContext(raw)
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return out, nil
}

// summarizeRawContext counts the stored messages and returns the first
// message's content when it is a string. Any other shape counts as empty.
func summarizeRawContext(raw []byte) (int, string) {
	var rc rawContext
	if len(raw) == 0 || json.Unmarshal(raw, &rc) != nil {
		return 0, ""
	}
	if len(rc.Messages) == 0 {
		return 0, ""
	}
	var first rawMessage
	if err := json.Unmarshal(rc.Messages[0], &first); err != nil {
		return len(rc.Messages), ""
	}
	var text string
	if err := json.Unmarshal(first.Content, &text); err != nil {
		return len(rc.Messages), ""
	}
	return len(rc.Messages), text
}

// ApplyLinks writes each proposal's session id and transcript path onto its
// snapshot in one transaction. Snapshots that gained a session id since they
// were listed are left alone. It returns the number of rows updated.
func (s *Store) ApplyLinks(ctx context.Context, proposals []matcher.Proposal) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	updated := 0
	for _, p := range proposals {
		tag, err := tx.Exec(ctx, `
			UPDATE context_snapshots
			SET session_id = $1, transcript_path = $2
			WHERE id = $3 AND session_id IS NULL`,
			p.SessionID, p.TranscriptPath, p.OrphanID,
		)
		if err != nil {
			return 0, fmt.Errorf("link snapshot %d: %w", p.OrphanID, err)
		}
		updated += int(tag.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return updated, nil
}

// SnapshotSession returns the session id and transcript path of a snapshot.
// Either may be empty.
func (s *Store) SnapshotSession(ctx context.Context, id int64) (sessionID, transcriptPath string, err error) {
	var sid, path *string
	err = s.pool.QueryRow(ctx, `
		SELECT session_id, transcript_path FROM context_snapshots WHERE id = $1`, id,
	).Scan(&sid, &path)
	if err != nil {
		return "", "", fmt.Errorf("get snapshot %d: %w", id, err)
	}
	if sid != nil {
		sessionID = *sid
	}
	if path != nil {
		transcriptPath = *path
	}
	return sessionID, transcriptPath, nil
}

// LatestSnapshotForSession returns the newest snapshot stored for a session.
// ok is false when the session has none.
func (s *Store) LatestSnapshotForSession(ctx context.Context, sessionID string) (id int64, ok bool, err error) {
	err = s.pool.QueryRow(ctx, `
		SELECT id FROM context_snapshots
		WHERE session_id = $1
		ORDER BY timestamp DESC, id DESC
		LIMIT 1`, sessionID,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("latest snapshot for %s: %w", sessionID, err)
	}
	return id, true, nil
}
