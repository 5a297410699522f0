// Package profile fingerprints agent configurations so that identical
// configurations resolve to one stored definition.
package profile

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/MikeSquared-Agency/recall/internal/work"
)

const (
	// UnknownModel is stored when a transcript never names its model.
	UnknownModel = "unknown"

	DefaultCreatedBy = "system"
	AutoDescription  = "Auto-detected from agent transcript"
)

// Profile is one agent configuration as persisted in agent_definitions.
type Profile struct {
	ID           int64
	Fingerprint  string
	RoleType     string
	ModelName    string
	Capabilities []string
	Version      int
	CreatedBy    string

	SystemMessage string
	Params        work.Params
	Description   string
}

// Fingerprint returns the SHA-256 hex digest of the canonical encoding of
// role type, model and the capability set. Capability order and duplicates
// do not affect the result.
func Fingerprint(roleType, model string, capabilities []string) string {
	if model == "" {
		model = UnknownModel
	}
	doc := fmt.Sprintf(`{"agent_type": %s, "model_used": %s, "tools_available": %s}`,
		quote(roleType), quote(model), quoteList(normalizeCapabilities(capabilities)))
	sum := sha256.Sum256([]byte(doc))
	return hex.EncodeToString(sum[:])
}

// FromWork builds the profile candidate for a unit of work.
func FromWork(w *work.Record, createdBy string) *Profile {
	model := w.Model
	if model == "" {
		model = UnknownModel
	}
	if createdBy == "" {
		createdBy = DefaultCreatedBy
	}
	caps := normalizeCapabilities(w.Capabilities())
	return &Profile{
		Fingerprint:   Fingerprint(w.RoleType, model, caps),
		RoleType:      w.RoleType,
		ModelName:     model,
		Capabilities:  caps,
		CreatedBy:     createdBy,
		SystemMessage: w.SelfDescription,
		Params:        w.Params,
		Description:   AutoDescription,
	}
}

func normalizeCapabilities(caps []string) []string {
	seen := make(map[string]struct{}, len(caps))
	out := make([]string, 0, len(caps))
	for _, c := range caps {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func quoteList(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = quote(s)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

// quote encodes s as an ASCII-only JSON string. Anything outside printable
// ASCII is written as \uXXXX, with surrogate pairs above the BMP.
func quote(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		default:
			switch {
			case r >= 0x20 && r < 0x7f:
				b.WriteRune(r)
			case r > 0xffff:
				r -= 0x10000
				fmt.Fprintf(&b, `\u%04x\u%04x`, 0xd800+(r>>10), 0xdc00+(r&0x3ff))
			default:
				fmt.Fprintf(&b, `\u%04x`, r)
			}
		}
	}
	b.WriteByte('"')
	return b.String()
}
