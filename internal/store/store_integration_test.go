//go:build integration

package store

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/recall/internal/matcher"
	"github.com/MikeSquared-Agency/recall/internal/profile"
	"github.com/MikeSquared-Agency/recall/internal/work"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, dbURL)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	if err := s.EnsureConstraints(ctx); err != nil {
		t.Fatalf("EnsureConstraints failed: %v", err)
	}

	t.Cleanup(func() {
		s.Close()
	})
	return s
}

func TestIntegration_FindOrCreateProfileDedup(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	role := "it-" + uuid.New().String()[:8]

	p := &profile.Profile{
		Fingerprint:  profile.Fingerprint(role, "test-model", []string{"Read", "Grep"}),
		RoleType:     role,
		ModelName:    "test-model",
		Capabilities: []string{"Grep", "Read"},
		CreatedBy:    profile.DefaultCreatedBy,
		Description:  profile.AutoDescription,
	}

	first, err := s.FindOrCreateProfile(ctx, p)
	if err != nil {
		t.Fatalf("FindOrCreateProfile failed: %v", err)
	}
	if !first.Created || first.Version != 1 {
		t.Errorf("first resolution = %+v, want created version 1", first)
	}

	second, err := s.FindOrCreateProfile(ctx, p)
	if err != nil {
		t.Fatalf("FindOrCreateProfile (repeat) failed: %v", err)
	}
	if second.Created || second.ID != first.ID || second.Version != first.Version {
		t.Errorf("repeat resolution = %+v, want existing %+v", second, first)
	}

	// A different configuration of the same role gets the next version.
	other := *p
	other.Capabilities = []string{"Read"}
	other.Fingerprint = profile.Fingerprint(role, "test-model", other.Capabilities)
	third, err := s.FindOrCreateProfile(ctx, &other)
	if err != nil {
		t.Fatalf("FindOrCreateProfile (other) failed: %v", err)
	}
	if !third.Created || third.Version != 2 {
		t.Errorf("other resolution = %+v, want created version 2", third)
	}

	var hash, agentType string
	err = s.pool.QueryRow(ctx, `SELECT config_hash, agent_type FROM agent_definitions WHERE id = $1`, first.ID).
		Scan(&hash, &agentType)
	if err != nil {
		t.Fatalf("load definition failed: %v", err)
	}
	if hash != p.Fingerprint || agentType != role {
		t.Errorf("stored definition = %s %s", hash, agentType)
	}
}

func TestIntegration_FindOrCreateProfileConcurrent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	role := "it-" + uuid.New().String()[:8]
	p := &profile.Profile{
		Fingerprint:  profile.Fingerprint(role, "m", nil),
		RoleType:     role,
		ModelName:    "m",
		Capabilities: []string{},
		CreatedBy:    profile.DefaultCreatedBy,
	}

	const workers = 8
	ids := make(chan int64, workers)
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		go func() {
			res, err := s.FindOrCreateProfile(ctx, p)
			if err != nil {
				errs <- err
				return
			}
			ids <- res.ID
		}()
	}

	seen := make(map[int64]bool)
	for i := 0; i < workers; i++ {
		select {
		case err := <-errs:
			t.Fatalf("concurrent FindOrCreateProfile failed: %v", err)
		case id := <-ids:
			seen[id] = true
		}
	}
	if len(seen) != 1 {
		t.Errorf("expected one definition id, got %v", seen)
	}
}

func TestIntegration_InsertWorkIdempotent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	role := "it-" + uuid.New().String()[:8]
	def, err := s.FindOrCreateProfile(ctx, &profile.Profile{
		Fingerprint:  profile.Fingerprint(role, "m", []string{"Read"}),
		RoleType:     role,
		ModelName:    "m",
		Capabilities: []string{"Read"},
		CreatedBy:    profile.DefaultCreatedBy,
	})
	if err != nil {
		t.Fatalf("FindOrCreateProfile failed: %v", err)
	}

	summary := "done"
	start := time.Now().UTC().Add(-time.Minute)
	end := time.Now().UTC()
	w := &work.Record{
		AgentID:       uuid.New().String()[:8],
		RoleType:      role,
		Request:       "fix bug",
		ToolUsage:     map[string]int{"Read": 1},
		FilesExamined: []string{"/a.py"},
		URLsFetched:   []string{},
		ResultSummary: &summary,
		StartedAt:     &start,
		EndedAt:       &end,
		SourcePath:    "/tmp/agent-x.jsonl",
	}
	parent := work.Parent{SessionID: "scan-" + uuid.New().String()[:8]}

	exists, err := s.WorkExists(ctx, w.AgentID, parent.SessionID)
	if err != nil || exists {
		t.Fatalf("WorkExists before insert = %v, %v", exists, err)
	}

	id, created, err := s.InsertWork(ctx, w, def.ID, parent)
	if err != nil {
		t.Fatalf("InsertWork failed: %v", err)
	}
	if !created {
		t.Error("expected first insert to create a row")
	}

	again, created, err := s.InsertWork(ctx, w, def.ID, parent)
	if err != nil {
		t.Fatalf("InsertWork (repeat) failed: %v", err)
	}
	if created || again != id {
		t.Errorf("repeat insert = %d created=%v, want %d created=false", again, created, id)
	}

	exists, err = s.WorkExists(ctx, w.AgentID, parent.SessionID)
	if err != nil || !exists {
		t.Fatalf("WorkExists after insert = %v, %v", exists, err)
	}
}

func TestIntegration_ApplyLinksRoundTrip(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	msg, _ := json.Marshal(map[string]string{"role": "user", "content": "integration " + uuid.New().String()})
	id := insertSnapshot(t, s, time.Now(), []json.RawMessage{msg})

	orphans, err := s.ListUnlinkedSnapshots(ctx)
	if err != nil {
		t.Fatalf("ListUnlinkedSnapshots failed: %v", err)
	}
	if !containsOrphan(orphans, id) {
		t.Fatalf("new snapshot %d not listed as unlinked", id)
	}

	sessionID := uuid.New().String()
	n, err := s.ApplyLinks(ctx, []matcher.Proposal{{OrphanID: id, SessionID: sessionID, TranscriptPath: "/tmp/" + sessionID + ".jsonl"}})
	if err != nil {
		t.Fatalf("ApplyLinks failed: %v", err)
	}
	if n != 1 {
		t.Errorf("ApplyLinks updated %d rows, want 1", n)
	}

	gotSession, gotPath, err := s.SnapshotSession(ctx, id)
	if err != nil {
		t.Fatalf("SnapshotSession failed: %v", err)
	}
	if gotSession != sessionID || gotPath != "/tmp/"+sessionID+".jsonl" {
		t.Errorf("snapshot session = %q %q", gotSession, gotPath)
	}

	latest, ok, err := s.LatestSnapshotForSession(ctx, sessionID)
	if err != nil || !ok || latest != id {
		t.Errorf("LatestSnapshotForSession = %d, %v, %v; want %d", latest, ok, err, id)
	}
	if _, ok, err := s.LatestSnapshotForSession(ctx, "no-such-"+sessionID); err != nil || ok {
		t.Errorf("LatestSnapshotForSession (unknown) = %v, %v", ok, err)
	}

	orphans, err = s.ListUnlinkedSnapshots(ctx)
	if err != nil {
		t.Fatalf("ListUnlinkedSnapshots failed: %v", err)
	}
	if containsOrphan(orphans, id) {
		t.Error("linked snapshot still listed as unlinked")
	}

	// a second application must not overwrite the link
	n, err = s.ApplyLinks(ctx, []matcher.Proposal{{OrphanID: id, SessionID: "other", TranscriptPath: "/tmp/other.jsonl"}})
	if err != nil {
		t.Fatalf("ApplyLinks (repeat) failed: %v", err)
	}
	if n != 0 {
		t.Errorf("repeat ApplyLinks updated %d rows, want 0", n)
	}
}

// insertSnapshot stores an unlinked snapshot the way the capture service
// does before a session id is known.
func insertSnapshot(t *testing.T, s *Store, ts time.Time, messages []json.RawMessage) int64 {
	t.Helper()
	raw, err := json.Marshal(rawContext{Messages: messages})
	if err != nil {
		t.Fatal(err)
	}
	var id int64
	err = s.pool.QueryRow(context.Background(), `
		INSERT INTO context_snapshots (timestamp, trigger_event, raw_context, project_path)
		VALUES ($1, 'integration-test', $2, '/tmp/project')
		RETURNING id`, ts, raw,
	).Scan(&id)
	if err != nil {
		t.Fatalf("insert snapshot failed: %v", err)
	}
	return id
}

func containsOrphan(orphans []matcher.Orphan, id int64) bool {
	for _, o := range orphans {
		if o.ID == id {
			return true
		}
	}
	return false
}
