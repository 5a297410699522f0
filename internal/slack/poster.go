package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/recall/internal/matcher"
)

const defaultPostMessageURL = "https://slack.com/api/chat.postMessage"

// maxListed caps how many proposals go into one review message.
const maxListed = 25

type Poster struct {
	token   string
	channel string
	client  *http.Client
	logger  *slog.Logger
	apiURL  string
}

func NewPoster(token, channel string, logger *slog.Logger) *Poster {
	return &Poster{
		token:   token,
		channel: channel,
		client:  &http.Client{Timeout: 10 * time.Second},
		apiURL:  defaultPostMessageURL,
		logger:  logger,
	}
}

// PostProposals posts a link proposal list for human review and returns the
// message timestamp.
func (p *Poster) PostProposals(ctx context.Context, proposals []matcher.Proposal, applied bool) (string, error) {
	text := FormatProposals(proposals, applied)
	return p.post(ctx, map[string]any{
		"channel": p.channel,
		"text":    text,
		"blocks": []map[string]any{
			{
				"type": "section",
				"text": map[string]any{
					"type": "mrkdwn",
					"text": text,
				},
			},
		},
	})
}

// PostThread posts a threaded reply to a message. An empty threadTS posts a
// standalone message.
func (p *Poster) PostThread(ctx context.Context, threadTS, text string) error {
	payload := map[string]any{
		"channel": p.channel,
		"text":    text,
	}
	if threadTS != "" {
		payload["thread_ts"] = threadTS
	}
	_, err := p.post(ctx, payload)
	return err
}

func (p *Poster) post(ctx context.Context, payload map[string]any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("slack post: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var slackResp struct {
		OK    bool   `json:"ok"`
		TS    string `json:"ts"`
		Error string `json:"error,omitempty"`
	}
	if err := json.Unmarshal(respBody, &slackResp); err != nil {
		return "", fmt.Errorf("parse slack response: %w", err)
	}
	if !slackResp.OK {
		return "", fmt.Errorf("slack error: %s", slackResp.Error)
	}

	p.logger.Info("posted to slack", "ts", slackResp.TS, "channel", p.channel)
	return slackResp.TS, nil
}

// FormatProposals renders proposals as a Slack mrkdwn message.
func FormatProposals(proposals []matcher.Proposal, applied bool) string {
	var sb strings.Builder

	if applied {
		fmt.Fprintf(&sb, "*Session backfill applied: %d snapshots linked*\n", len(proposals))
	} else {
		fmt.Fprintf(&sb, "*Session backfill proposals: %d for review*\n", len(proposals))
	}

	if len(proposals) == 0 {
		sb.WriteString("_No confident matches found._")
		return sb.String()
	}

	sb.WriteString("\n")
	for i, pr := range proposals {
		if i == maxListed {
			fmt.Fprintf(&sb, "_…and %d more_\n", len(proposals)-maxListed)
			break
		}
		fmt.Fprintf(&sb, "%d. Snapshot #%d → `%s` (%d%%)\n", i+1, pr.OrphanID, shortID(pr.SessionID), pr.Confidence)
		fmt.Fprintf(&sb, "   %s | %s\n", pr.Trigger, filepath.Base(pr.TranscriptPath))
	}

	if !applied {
		sb.WriteString("\nRun `recall backfill-sessions --execute` to apply.")
	}
	return sb.String()
}

func shortID(id string) string {
	if len(id) > 16 {
		return id[:16]
	}
	return id
}
