package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the Postgres-backed persistence for profiles, agent work and
// snapshots. One Store, and so one pool, is shared by a whole run.
type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// constraintDDL lists the unique indexes the find-or-insert paths rely on.
var constraintDDL = []string{
	`CREATE UNIQUE INDEX IF NOT EXISTS agent_definitions_config_hash_key
		ON agent_definitions (config_hash)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS agent_work_agent_parent_key
		ON agent_work (agent_id, parent_session_id)`,
}

// EnsureConstraints creates the unique indexes used for deduplication when
// they are missing. The tables themselves must already exist.
func (s *Store) EnsureConstraints(ctx context.Context) error {
	for _, ddl := range constraintDDL {
		if _, err := s.pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("ensure constraints: %w", err)
		}
	}
	return nil
}

// Counts summarises table sizes for the status endpoint.
type Counts struct {
	Definitions      int64 `json:"agent_definitions"`
	Work             int64 `json:"agent_work"`
	Snapshots        int64 `json:"snapshots"`
	UnlinkedSnapshot int64 `json:"unlinked_snapshots"`
}

func (s *Store) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	err := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT count(*) FROM agent_definitions),
			(SELECT count(*) FROM agent_work),
			(SELECT count(*) FROM context_snapshots),
			(SELECT count(*) FROM context_snapshots WHERE session_id IS NULL)`,
	).Scan(&c.Definitions, &c.Work, &c.Snapshots, &c.UnlinkedSnapshot)
	if err != nil {
		return Counts{}, fmt.Errorf("count rows: %w", err)
	}
	return c, nil
}
