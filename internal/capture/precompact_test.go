package capture

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MikeSquared-Agency/recall/internal/agentwork"
	"github.com/MikeSquared-Agency/recall/internal/work"
)

type fakeAgents struct {
	calls  int
	dir    string
	parent work.Parent
	tally  agentwork.Tally
}

func (f *fakeAgents) CaptureDir(_ context.Context, dir string, parent work.Parent) (agentwork.Tally, error) {
	f.calls++
	f.dir = dir
	f.parent = parent
	return f.tally, nil
}

type fakeFinder struct {
	calls   int
	session string
	id      int64
	ok      bool
}

func (f *fakeFinder) LatestSnapshotForSession(_ context.Context, sessionID string) (int64, bool, error) {
	f.calls++
	f.session = sessionID
	return f.id, f.ok, nil
}

// activeSession writes a session transcript about to be compacted.
func activeSession(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sess-1.jsonl")
	var b strings.Builder
	for i := 0; i < 3; i++ {
		b.WriteString(`{"type":"user","message":{"role":"user","content":"keep going"}}` + "\n")
		b.WriteString(`{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"done"}]}}` + "\n")
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func processorServer(t *testing.T, body string, got *Request) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(got)
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestParseHookInput_PreCompact(t *testing.T) {
	in, err := ParseHookInput(strings.NewReader(`{"session_id":"s","transcript_path":"/p/s.jsonl","trigger":"auto"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if in.HookEventName != HookPreCompact || in.Trigger != "auto" {
		t.Errorf("input = %+v", in)
	}

	in, err = ParseHookInput(strings.NewReader(`{"hook_event_name":"PreCompact","transcript_path":"/p/s.jsonl"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if in.HookEventName != HookPreCompact || in.Trigger != "unknown" {
		t.Errorf("input = %+v", in)
	}

	in, err = ParseHookInput(strings.NewReader(`{"transcript_path":"/p/s.jsonl","source":"compact"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if in.HookEventName != HookSessionStart {
		t.Errorf("hook event = %q", in.HookEventName)
	}
}

func TestPreCompact(t *testing.T) {
	path := activeSession(t)
	var got Request
	srv := processorServer(t, `{"status":"success","snapshot_id":42}`, &got)

	agents := &fakeAgents{tally: agentwork.Tally{Found: 3, Captured: 2, Skipped: 1}}
	finder := &fakeFinder{}
	events := NewEventLog(filepath.Join(t.TempDir(), "log.jsonl"))
	c := NewClient(srv.URL, time.Second, discardLogger())
	now := time.Date(2026, 2, 11, 14, 7, 0, 0, time.UTC)
	in := HookInput{HookEventName: HookPreCompact, SessionID: "sess-1", TranscriptPath: path, Trigger: "auto", CWD: "/work"}

	out, err := PreCompact(context.Background(), c, events, &AgentLinker{Agents: agents, Snapshots: finder}, in, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.SystemMessage != "Conversation captured to memory (6 messages) before compact. 2 agent(s) also captured." {
		t.Errorf("system message = %q", out.SystemMessage)
	}
	if out.Specific["hookEventName"] != HookPreCompact || out.Specific["agentsCaptured"] != 2 {
		t.Errorf("hook output = %+v", out.Specific)
	}

	if got.Trigger != "auto-compact-auto-2026-02-11-14-07" || got.SessionID != "sess-1" {
		t.Errorf("request = %+v", got)
	}
	if got.Metadata == nil || strings.Join(got.Metadata.Tags, ",") != "auto-capture,pre-compact,auto" {
		t.Errorf("metadata = %+v", got.Metadata)
	}

	// the processor reported the snapshot, no lookup needed
	if finder.calls != 0 {
		t.Errorf("snapshot lookups = %d", finder.calls)
	}
	if agents.calls != 1 || agents.dir != filepath.Dir(path) {
		t.Fatalf("agent capture calls = %d dir = %q", agents.calls, agents.dir)
	}
	if agents.parent.SessionID != "sess-1" || agents.parent.SnapshotID == nil || *agents.parent.SnapshotID != 42 {
		t.Errorf("parent = %+v", agents.parent)
	}

	logged := readEvents(t, events.Path())
	if len(logged) != 1 {
		t.Fatalf("expected 1 logged event, got %d", len(logged))
	}
	e := logged[0]
	if e.Event != EventPreCompactCapture || e.Trigger != "auto" || e.MessageCount != 6 {
		t.Errorf("event = %+v", e)
	}
	if e.AgentResult == nil || e.AgentResult.Captured != 2 || e.AgentResult.SnapshotID != 42 {
		t.Errorf("agent result = %+v", e.AgentResult)
	}
}

func TestPreCompact_LooksUpSnapshot(t *testing.T) {
	path := activeSession(t)
	var got Request
	srv := processorServer(t, `{"status":"queued"}`, &got)

	agents := &fakeAgents{}
	finder := &fakeFinder{id: 11, ok: true}
	c := NewClient(srv.URL, time.Second, discardLogger())
	in := HookInput{SessionID: "sess-1", TranscriptPath: path, Trigger: "manual", CWD: "/work"}

	if _, err := PreCompact(context.Background(), c, nil, &AgentLinker{Agents: agents, Snapshots: finder}, in, time.Now()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if finder.calls != 1 || finder.session != "sess-1" {
		t.Errorf("lookups = %d session = %q", finder.calls, finder.session)
	}
	if agents.parent.SnapshotID == nil || *agents.parent.SnapshotID != 11 {
		t.Errorf("parent = %+v", agents.parent)
	}
}

func TestPreCompact_ParentSnapshotNotFound(t *testing.T) {
	path := activeSession(t)
	var got Request
	srv := processorServer(t, `{"status":"queued"}`, &got)

	agents := &fakeAgents{}
	events := NewEventLog(filepath.Join(t.TempDir(), "log.jsonl"))
	c := NewClient(srv.URL, time.Second, discardLogger())
	in := HookInput{SessionID: "sess-1", TranscriptPath: path, Trigger: "auto", CWD: "/work"}

	out, err := PreCompact(context.Background(), c, events, &AgentLinker{Agents: agents, Snapshots: &fakeFinder{}}, in, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if agents.calls != 0 {
		t.Errorf("agent work captured without a parent snapshot")
	}
	if out.Specific["agentsCaptured"] != 0 || strings.Contains(out.SystemMessage, "agent(s)") {
		t.Errorf("hook output = %q %+v", out.SystemMessage, out.Specific)
	}
	logged := readEvents(t, events.Path())
	if len(logged) != 1 || logged[0].AgentResult == nil || logged[0].AgentResult.Message != "Parent snapshot not found" {
		t.Errorf("logged = %+v", logged)
	}
}

func TestPreCompact_CaptureFailureSkipsAgents(t *testing.T) {
	path := activeSession(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	agents := &fakeAgents{}
	c := NewClient(srv.URL, time.Second, discardLogger())
	in := HookInput{SessionID: "sess-1", TranscriptPath: path, Trigger: "auto", CWD: "/work"}

	out, err := PreCompact(context.Background(), c, nil, &AgentLinker{Agents: agents, Snapshots: &fakeFinder{id: 1, ok: true}}, in, time.Now())
	if err != nil {
		t.Fatalf("capture failures should be reported in the output, got %v", err)
	}
	if agents.calls != 0 {
		t.Error("agents should not be captured after a failed capture")
	}
	if out.Specific["hookEventName"] != HookPreCompact || out.Specific["error"] == nil {
		t.Errorf("hook output = %+v", out.Specific)
	}
}

func TestPreCompact_NoMessages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.jsonl")
	if err := os.WriteFile(path, []byte(`{"type":"summary"}`+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	c := NewClient("http://127.0.0.1:1", time.Second, discardLogger())
	_, err := PreCompact(context.Background(), c, nil, nil, HookInput{TranscriptPath: path, Trigger: "auto"}, time.Now())
	if !errors.Is(err, ErrNoMessages) {
		t.Fatalf("expected ErrNoMessages, got %v", err)
	}
}
