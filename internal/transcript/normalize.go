package transcript

import "strings"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one normalized conversation message.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Normalize maps a record to a turn. User records yield a turn only for plain
// string content; assistant records only when they carry at least one text
// block. Tool calls, tool results and thinking are never part of a turn.
func Normalize(r Record) (Turn, bool) {
	if r.Message == nil {
		return Turn{}, false
	}

	var text string
	switch r.Type {
	case RoleUser:
		if !r.Message.Content.IsString {
			return Turn{}, false
		}
		text = r.Message.Content.Text
	case RoleAssistant:
		texts := r.Message.Content.Texts()
		if len(texts) == 0 {
			return Turn{}, false
		}
		text = strings.Join(texts, "\n\n")
	default:
		return Turn{}, false
	}

	if text == "" {
		return Turn{}, false
	}
	return Turn{Role: r.Type, Content: text}, true
}

// Turns normalizes a record sequence, dropping records that yield no turn.
func Turns(records []Record) []Turn {
	var turns []Turn
	for _, r := range records {
		if t, ok := Normalize(r); ok {
			turns = append(turns, t)
		}
	}
	return turns
}
