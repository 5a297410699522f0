package store

import "testing"

func TestSummarizeRawContext(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantCount int
		wantFirst string
	}{
		{"messages", `{"messages":[{"role":"user","content":"fix bug"},{"role":"assistant","content":"ok"}]}`, 2, "fix bug"},
		{"block content", `{"messages":[{"role":"user","content":[{"type":"text","text":"x"}]}]}`, 1, ""},
		{"no messages", `{"messages":[]}`, 0, ""},
		{"missing key", `{"other":1}`, 0, ""},
		{"not an object", `[1,2,3]`, 0, ""},
		{"message not an object", `{"messages":["hi"]}`, 1, ""},
		{"empty", ``, 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, first := summarizeRawContext([]byte(tt.raw))
			if n != tt.wantCount || first != tt.wantFirst {
				t.Errorf("got (%d, %q), want (%d, %q)", n, first, tt.wantCount, tt.wantFirst)
			}
		})
	}
}
