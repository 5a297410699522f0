// Package transcript reads Claude Code JSONL transcripts and normalizes them
// into conversation turns.
package transcript

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
)

// Record is a single line from a JSONL transcript.
type Record struct {
	Type       string
	UUID       string
	ParentUUID *string
	SessionID  string
	AgentID    string
	Timestamp  string
	// Message is nil when the line has no message or it is not an object.
	Message *Message
}

// Message is the API message carried by user and assistant records.
type Message struct {
	Role    string  `json:"role"`
	Model   string  `json:"model,omitempty"`
	Content Content `json:"content"`
}

type recordLine struct {
	Type       string          `json:"type"`
	UUID       string          `json:"uuid"`
	ParentUUID *string         `json:"parentUuid"`
	SessionID  string          `json:"sessionId"`
	AgentID    string          `json:"agentId"`
	Timestamp  json.RawMessage `json:"timestamp"`
	Message    json.RawMessage `json:"message"`
}

var errNotObject = errors.New("record is not a JSON object")

func (r *Record) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return errNotObject
	}
	var line recordLine
	if err := json.Unmarshal(data, &line); err != nil {
		return err
	}
	*r = Record{
		Type:       line.Type,
		UUID:       line.UUID,
		ParentUUID: line.ParentUUID,
		SessionID:  line.SessionID,
		AgentID:    line.AgentID,
	}
	// A non-string timestamp is treated as absent.
	var ts string
	if json.Unmarshal(line.Timestamp, &ts) == nil {
		r.Timestamp = ts
	}
	if len(line.Message) > 0 && line.Message[0] == '{' {
		var m Message
		if json.Unmarshal(line.Message, &m) == nil {
			r.Message = &m
		}
	}
	return nil
}

// Stats counts what a pass over a transcript saw.
type Stats struct {
	Lines     int // non-blank lines
	Records   int
	Malformed int
}

// ErrStop can be returned from a Scan callback to end the pass early without error.
var ErrStop = errors.New("stop scan")

// ScanReader decodes one record per line from r and calls fn for each, in
// file order. Lines that are not valid JSON objects are skipped and counted;
// the last line may be partial when the file is still being written.
func ScanReader(r io.Reader, fn func(Record) error) (Stats, error) {
	var stats Stats
	br := bufio.NewReaderSize(r, 64*1024)
	for {
		line, readErr := br.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			stats.Lines++
			var rec Record
			if err := json.Unmarshal(line, &rec); err != nil {
				stats.Malformed++
			} else {
				stats.Records++
				if err := fn(rec); err != nil {
					if errors.Is(err, ErrStop) {
						return stats, nil
					}
					return stats, err
				}
			}
		}
		if readErr == io.EOF {
			return stats, nil
		}
		if readErr != nil {
			return stats, fmt.Errorf("read line: %w", readErr)
		}
	}
}

// Scan opens path and streams its records to fn. Every call re-reads the file
// from the start.
func Scan(path string, fn func(Record) error) (Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return Stats{}, fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()

	stats, err := ScanReader(f, fn)
	if err != nil {
		return stats, fmt.Errorf("scan %s: %w", path, err)
	}
	return stats, nil
}

// ReadFile returns every decodable record of the transcript at path.
func ReadFile(path string) ([]Record, Stats, error) {
	var records []Record
	stats, err := Scan(path, func(r Record) error {
		records = append(records, r)
		return nil
	})
	if err != nil {
		return nil, stats, err
	}
	return records, stats, nil
}

// ReadHead parses only the first n physical lines of the transcript,
// blank and malformed lines included in the count.
func ReadHead(path string, n int) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()

	var records []Record
	br := bufio.NewReader(f)
	for i := 0; i < n; i++ {
		line, readErr := br.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			var rec Record
			if json.Unmarshal(line, &rec) == nil {
				records = append(records, rec)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return nil, fmt.Errorf("read %s: %w", path, readErr)
		}
	}
	return records, nil
}

// CountLines returns the number of physical lines in the file. A trailing
// line without a newline counts as a line.
func CountLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()

	buf := make([]byte, 32*1024)
	count := 0
	var last byte = '\n'
	for {
		n, err := f.Read(buf)
		if n > 0 {
			count += bytes.Count(buf[:n], []byte{'\n'})
			last = buf[n-1]
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("read %s: %w", path, err)
		}
	}
	if last != '\n' {
		count++
	}
	return count, nil
}
