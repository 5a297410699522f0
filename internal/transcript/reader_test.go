package transcript

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestReadFile_BasicConversation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.jsonl")
	writeLines(t, path, []string{
		`{"type":"user","uuid":"aaa","parentUuid":null,"sessionId":"s1","timestamp":"2026-02-11T10:00:00Z","message":{"role":"user","content":"Hello, deploy the service"}}`,
		`{"type":"assistant","uuid":"bbb","parentUuid":"aaa","sessionId":"s1","timestamp":"2026-02-11T10:00:05Z","message":{"role":"assistant","model":"claude-sonnet-4-20250514","content":[{"type":"text","text":"I'll deploy the service now."}]}}`,
	})

	records, stats, err := ReadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 2 || stats.Records != 2 || stats.Malformed != 0 {
		t.Fatalf("expected 2 records and no malformed lines, got %d (%+v)", len(records), stats)
	}
	if records[0].Type != "user" || !records[0].Message.Content.IsString {
		t.Errorf("record[0] = %+v, want user with string content", records[0])
	}
	if records[1].ParentUUID == nil || *records[1].ParentUUID != "aaa" {
		t.Errorf("record[1] parent = %v, want aaa", records[1].ParentUUID)
	}
	if records[1].Message.Model != "claude-sonnet-4-20250514" {
		t.Errorf("record[1] model = %q", records[1].Message.Model)
	}
	if records[1].Timestamp != "2026-02-11T10:00:05Z" {
		t.Errorf("record[1] timestamp = %q", records[1].Timestamp)
	}
}

func TestReadFile_SkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.jsonl")
	writeLines(t, path, []string{
		`{"type":"user","message":{"role":"user","content":"first"}}`,
		`not json at all`,
		``,
		`[1,2,3]`,
		`{"type":"user","message":{"role":"user","content":"second"}}`,
		`{"type":"assistant","message":{"role":"assist`, // partial write
	})

	records, stats, err := ReadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if stats.Malformed != 3 {
		t.Errorf("expected 3 malformed lines, got %d", stats.Malformed)
	}
	if stats.Lines != 5 {
		t.Errorf("expected 5 non-blank lines, got %d", stats.Lines)
	}
	if records[1].Message.Content.Text != "second" {
		t.Errorf("emission order changed: %+v", records)
	}
}

func TestReadFile_TolerantMessageShapes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.jsonl")
	writeLines(t, path, []string{
		`{"type":"user","message":"just a string"}`,
		`{"type":"assistant","message":{"role":"assistant","content":42}}`,
		`{"type":"assistant","message":{"role":"assistant","content":["loose", {"type":"image"}, {"type":"text","text":"ok"}]}}`,
		`{"type":"summary","timestamp":12345}`,
	})

	records, stats, err := ReadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Malformed != 0 || len(records) != 4 {
		t.Fatalf("expected 4 records and 0 malformed, got %d (%+v)", len(records), stats)
	}
	if records[0].Message != nil {
		t.Errorf("non-object message should decode as nil, got %+v", records[0].Message)
	}
	if records[1].Message == nil || records[1].Message.Content.IsString || len(records[1].Message.Content.Blocks) != 0 {
		t.Errorf("numeric content should be neither string nor blocks: %+v", records[1].Message)
	}

	blocks := records[2].Message.Content.Blocks
	if len(blocks) != 3 {
		t.Fatalf("expected 3 blocks, got %d", len(blocks))
	}
	if blocks[0].Kind() != KindUnknown || blocks[1].Kind() != KindUnknown {
		t.Errorf("expected two unknown blocks, got %s and %s", blocks[0].Kind(), blocks[1].Kind())
	}
	if u, ok := blocks[1].(UnknownBlock); !ok || u.Type != "image" {
		t.Errorf("expected unknown image block, got %+v", blocks[1])
	}
	if tb, ok := blocks[2].(TextBlock); !ok || tb.Text != "ok" {
		t.Errorf("expected text block, got %+v", blocks[2])
	}
	if records[3].Timestamp != "" {
		t.Errorf("numeric timestamp should be dropped, got %q", records[3].Timestamp)
	}
}

func TestContent_BlockVariants(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.jsonl")
	writeLines(t, path, []string{
		`{"type":"assistant","message":{"role":"assistant","content":[` +
			`{"type":"thinking","thinking":"hmm"},` +
			`{"type":"tool_use","id":"toolu_1","name":"Read","input":{"file_path":"/a.py","limit":10}},` +
			`{"type":"tool_result","tool_use_id":"toolu_1","is_error":true,"content":"boom"}]}}`,
	})

	records, _, err := ReadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	blocks := records[0].Message.Content.Blocks
	if _, ok := blocks[0].(ThinkingBlock); !ok {
		t.Errorf("block[0] = %T, want ThinkingBlock", blocks[0])
	}
	use, ok := blocks[1].(ToolUseBlock)
	if !ok {
		t.Fatalf("block[1] = %T, want ToolUseBlock", blocks[1])
	}
	if use.Name != "Read" || use.InputString("file_path") != "/a.py" {
		t.Errorf("tool use = %+v", use)
	}
	if use.InputString("limit") != "" || use.InputString("missing") != "" {
		t.Error("non-string and missing inputs should be empty")
	}
	res, ok := blocks[2].(ToolResultBlock)
	if !ok || !res.IsError || res.ToolUseID != "toolu_1" {
		t.Errorf("block[2] = %+v, want failed tool result", blocks[2])
	}
}

func TestScan_Restartable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.jsonl")
	writeLines(t, path, []string{
		`{"type":"user","message":{"role":"user","content":"a"}}`,
		`{"type":"user","message":{"role":"user","content":"b"}}`,
	})

	for pass := 0; pass < 2; pass++ {
		var got []string
		if _, err := Scan(path, func(r Record) error {
			got = append(got, r.Message.Content.Text)
			return nil
		}); err != nil {
			t.Fatalf("pass %d: %v", pass, err)
		}
		if strings.Join(got, ",") != "a,b" {
			t.Errorf("pass %d: got %v", pass, got)
		}
	}
}

func TestScan_StopEarly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.jsonl")
	writeLines(t, path, []string{
		`{"type":"user"}`,
		`{"type":"assistant"}`,
		`{"type":"user"}`,
	})

	seen := 0
	_, err := Scan(path, func(Record) error {
		seen++
		if seen == 2 {
			return ErrStop
		}
		return nil
	})
	if err != nil {
		t.Fatalf("ErrStop should not surface: %v", err)
	}
	if seen != 2 {
		t.Errorf("expected 2 callbacks, got %d", seen)
	}
}

func TestScan_NotFound(t *testing.T) {
	_, err := Scan("/nonexistent/file.jsonl", func(Record) error { return nil })
	if err == nil {
		t.Fatal("expected error for nonexistent file")
	}
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected fs.ErrNotExist, got %v", err)
	}
}

func TestScan_EmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.jsonl")
	os.WriteFile(path, []byte(""), 0o644)

	records, stats, err := ReadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 0 || stats.Lines != 0 {
		t.Errorf("expected nothing, got %d records (%+v)", len(records), stats)
	}
}

func TestScan_LongLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "long.jsonl")
	big := strings.Repeat("x", 12*1024*1024)
	writeLines(t, path, []string{
		`{"type":"user","message":{"role":"user","content":"` + big + `"}}`,
		`{"type":"user","message":{"role":"user","content":"after"}}`,
	})

	records, _, err := ReadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 2 || records[1].Message.Content.Text != "after" {
		t.Fatalf("expected both records, got %d", len(records))
	}
}

func TestReadHead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "head.jsonl")
	var lines []string
	for i := 0; i < 15; i++ {
		lines = append(lines, `{"type":"user","message":{"role":"user","content":"m"}}`)
	}
	lines[2] = `garbage`
	writeLines(t, path, lines)

	head, err := ReadHead(path, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(head) != 9 {
		t.Errorf("expected 9 parsed records from the first 10 lines, got %d", len(head))
	}
}

func TestCountLines(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		content string
		want    int
	}{
		{"empty", "", 0},
		{"trailing newline", "a\nb\n", 2},
		{"no trailing newline", "a\nb", 2},
		{"blank lines count", "a\n\n\nb\n", 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".jsonl")
			os.WriteFile(path, []byte(tt.content), 0o644)
			got, err := CountLines(path)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("CountLines = %d, want %d", got, tt.want)
			}
		})
	}
}

func writeLines(t *testing.T, path string, lines []string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	for _, line := range lines {
		f.WriteString(line + "\n")
	}
}
