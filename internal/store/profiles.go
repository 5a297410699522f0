package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/MikeSquared-Agency/recall/internal/profile"
)

// Resolution is the outcome of FindOrCreateProfile.
type Resolution struct {
	ID      int64
	Version int
	Created bool
}

// FindOrCreateProfile returns the stored definition with p's fingerprint,
// inserting it first when absent. New definitions get the next version for
// their role type. Concurrent callers with the same fingerprint all receive
// the same id.
func (s *Store) FindOrCreateProfile(ctx context.Context, p *profile.Profile) (Resolution, error) {
	params, err := json.Marshal(p.Params)
	if err != nil {
		return Resolution{}, fmt.Errorf("marshal params: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Resolution{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Serialises version assignment per role type.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "agent_definitions:"+p.RoleType); err != nil {
		return Resolution{}, fmt.Errorf("lock role type: %w", err)
	}

	res := Resolution{Created: true}
	err = tx.QueryRow(ctx, `
		INSERT INTO agent_definitions (
			agent_type, agent_name, system_message, configuration_params, tools_available,
			model_used, version, description, created_by, config_hash)
		SELECT $1, NULL, $2, $3, $4, $5, COALESCE(MAX(version), 0) + 1, $6, $7, $8
		FROM agent_definitions
		WHERE agent_type = $1
		ON CONFLICT (config_hash) DO NOTHING
		RETURNING id, version`,
		p.RoleType, nullIfEmpty(p.SystemMessage), params, p.Capabilities,
		p.ModelName, p.Description, p.CreatedBy, p.Fingerprint,
	).Scan(&res.ID, &res.Version)

	if errors.Is(err, pgx.ErrNoRows) {
		res.Created = false
		err = tx.QueryRow(ctx, `
			SELECT id, version FROM agent_definitions WHERE config_hash = $1`,
			p.Fingerprint,
		).Scan(&res.ID, &res.Version)
	}
	if err != nil {
		return Resolution{}, fmt.Errorf("find or create definition: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Resolution{}, fmt.Errorf("commit: %w", err)
	}
	return res, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
