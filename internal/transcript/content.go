package transcript

import (
	"bytes"
	"encoding/json"
	"strings"
)

// BlockKind is the "type" tag of a content block.
type BlockKind string

const (
	KindText       BlockKind = "text"
	KindToolUse    BlockKind = "tool_use"
	KindToolResult BlockKind = "tool_result"
	KindThinking   BlockKind = "thinking"
	KindUnknown    BlockKind = "unknown"
)

// Block is one element of a block-array message content. The set of
// implementations is closed: TextBlock, ToolUseBlock, ToolResultBlock,
// ThinkingBlock and UnknownBlock.
type Block interface {
	Kind() BlockKind
	isBlock()
}

type TextBlock struct {
	Text string
}

type ToolUseBlock struct {
	ID    string
	Name  string
	Input json.RawMessage
}

type ToolResultBlock struct {
	ToolUseID string
	IsError   bool
	Content   json.RawMessage
}

type ThinkingBlock struct {
	Thinking string
}

// UnknownBlock keeps any block whose tag is not recognised, including list
// elements that are not JSON objects.
type UnknownBlock struct {
	Type string
	Raw  json.RawMessage
}

func (TextBlock) Kind() BlockKind       { return KindText }
func (ToolUseBlock) Kind() BlockKind    { return KindToolUse }
func (ToolResultBlock) Kind() BlockKind { return KindToolResult }
func (ThinkingBlock) Kind() BlockKind   { return KindThinking }
func (UnknownBlock) Kind() BlockKind    { return KindUnknown }

func (TextBlock) isBlock()       {}
func (ToolUseBlock) isBlock()    {}
func (ToolResultBlock) isBlock() {}
func (ThinkingBlock) isBlock()   {}
func (UnknownBlock) isBlock()    {}

// InputString returns the string value of key in the tool input, or "" when
// the input is not an object or the value is not a string.
func (b ToolUseBlock) InputString(key string) string {
	var input map[string]json.RawMessage
	if err := json.Unmarshal(b.Input, &input); err != nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(input[key], &s); err != nil {
		return ""
	}
	return s
}

// Content is a message body: either a plain string or a list of blocks.
// Any other JSON shape is kept in Raw and treated as neither.
type Content struct {
	Text     string
	IsString bool
	Blocks   []Block
	Raw      json.RawMessage
}

// UnmarshalJSON never fails on well-formed JSON, so one odd message does not
// cost the whole line.
func (c *Content) UnmarshalJSON(data []byte) error {
	*c = Content{}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}

	switch trimmed[0] {
	case '"':
		if err := json.Unmarshal(trimmed, &c.Text); err != nil {
			return err
		}
		c.IsString = true
		return nil
	case '[':
		var elems []json.RawMessage
		if err := json.Unmarshal(trimmed, &elems); err != nil {
			return err
		}
		c.Blocks = make([]Block, 0, len(elems))
		for _, e := range elems {
			c.Blocks = append(c.Blocks, decodeBlock(e))
		}
		return nil
	}

	c.Raw = append(json.RawMessage(nil), trimmed...)
	return nil
}

// blockFields is the union of the fields of every known block kind.
type blockFields struct {
	Type      string          `json:"type"`
	Text      string          `json:"text"`
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input"`
	ToolUseID string          `json:"tool_use_id"`
	IsError   bool            `json:"is_error"`
	Content   json.RawMessage `json:"content"`
	Thinking  string          `json:"thinking"`
}

func decodeBlock(raw json.RawMessage) Block {
	var f blockFields
	if err := json.Unmarshal(raw, &f); err != nil {
		return UnknownBlock{Raw: raw}
	}

	switch BlockKind(f.Type) {
	case KindText:
		return TextBlock{Text: f.Text}
	case KindToolUse:
		return ToolUseBlock{ID: f.ID, Name: f.Name, Input: f.Input}
	case KindToolResult:
		return ToolResultBlock{ToolUseID: f.ToolUseID, IsError: f.IsError, Content: f.Content}
	case KindThinking:
		return ThinkingBlock{Thinking: f.Thinking}
	default:
		return UnknownBlock{Type: f.Type, Raw: raw}
	}
}

// Texts returns the text of every text block in order.
func (c Content) Texts() []string {
	var out []string
	for _, b := range c.Blocks {
		if t, ok := b.(TextBlock); ok {
			out = append(out, t.Text)
		}
	}
	return out
}

// PlainText is the string content, or the text blocks joined by blank lines.
func (c Content) PlainText() string {
	if c.IsString {
		return c.Text
	}
	return strings.Join(c.Texts(), "\n\n")
}
