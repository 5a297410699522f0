package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/MikeSquared-Agency/recall/internal/transcript"
	"github.com/MikeSquared-Agency/recall/internal/work"
)

// WorkExists reports whether agentID has been stored under parentSessionID.
func (s *Store) WorkExists(ctx context.Context, agentID, parentSessionID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM agent_work WHERE agent_id = $1 AND parent_session_id = $2)`,
		agentID, parentSessionID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check agent work: %w", err)
	}
	return exists, nil
}

// InsertWork stores w under parent linked to definitionID. Storing the same
// (agent id, parent session) again is a no-op that returns the existing id
// with created false.
func (s *Store) InsertWork(ctx context.Context, w *work.Record, definitionID int64, parent work.Parent) (int64, bool, error) {
	turns := w.Turns
	if turns == nil {
		turns = []transcript.Turn{}
	}
	workContext, err := json.Marshal(turns)
	if err != nil {
		return 0, false, fmt.Errorf("marshal work context: %w", err)
	}
	toolsUsed, err := json.Marshal(w.ToolUsage)
	if err != nil {
		return 0, false, fmt.Errorf("marshal tools used: %w", err)
	}

	var id int64
	err = s.pool.QueryRow(ctx, `
		INSERT INTO agent_work (
			request_id, parent_snapshot_id, parent_session_id, agent_definition_id,
			agent_id, agent_type, agent_request, agent_transcript_path,
			work_context, tools_used, files_examined, urls_fetched,
			result_summary, timestamp_start, timestamp_end)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (agent_id, parent_session_id) DO NOTHING
		RETURNING id`,
		work.RequestID(parent.SessionID, w.AgentID), parent.SnapshotID, parent.SessionID, definitionID,
		w.AgentID, w.RoleType, w.Request, w.SourcePath,
		workContext, toolsUsed, w.FilesExamined, w.URLsFetched,
		w.ResultSummary, w.StartedAt, w.EndedAt,
	).Scan(&id)

	if err == nil {
		return id, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, false, fmt.Errorf("insert agent work: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		SELECT id FROM agent_work WHERE agent_id = $1 AND parent_session_id = $2`,
		w.AgentID, parent.SessionID,
	).Scan(&id)
	if err != nil {
		return 0, false, fmt.Errorf("read back agent work: %w", err)
	}
	return id, false, nil
}
