package capture

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 30 * time.Second

// ErrorKind classifies a failed capture call.
type ErrorKind string

const (
	KindConnection ErrorKind = "connection"
	KindTimeout    ErrorKind = "timeout"
	KindHTTP       ErrorKind = "http"
)

// Error is returned for every failed capture call.
type Error struct {
	Kind       ErrorKind
	StatusCode int
	Body       string
	BaseURL    string
	Err        error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindHTTP:
		return fmt.Sprintf("capture service returned %d: %s", e.StatusCode, e.Body)
	case KindTimeout:
		return fmt.Sprintf("capture request timed out: %v", e.Err)
	default:
		return fmt.Sprintf("cannot connect to capture service at %s: %v", e.BaseURL, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Hints are remediation steps for the operator.
func (e *Error) Hints() []string {
	switch e.Kind {
	case KindConnection:
		return []string{
			"Is the processor running? docker compose ps",
			"Check health: curl " + e.BaseURL + "/health",
			"Start processor: docker compose up -d",
		}
	case KindTimeout:
		return []string{
			"Large conversations may take longer to process",
			"Check processor logs: docker compose logs context-processor",
			"The capture may still complete in the background",
		}
	default:
		return []string{
			"Check processor logs: docker compose logs context-processor --tail=50",
		}
	}
}

// Response is the capture service reply. Fields the service omits stay empty.
type Response struct {
	Status      string `json:"status"`
	Message     string `json:"message"`
	ProjectPath string `json:"project_path"`
	Trigger     string `json:"trigger"`
	SnapshotID  int64  `json:"snapshot_id,omitempty"`
}

// Client talks to the capture service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a client. A zero timeout means 30 seconds.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Capture posts req once. Any 2xx reply is success.
func (c *Client) Capture(ctx context.Context, req Request) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal capture request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/capture", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, c.classify(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.classify(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{Kind: KindHTTP, StatusCode: resp.StatusCode, Body: truncateBody(respBody), BaseURL: c.baseURL}
	}

	var out Response
	if len(bytes.TrimSpace(respBody)) > 0 {
		if err := json.Unmarshal(respBody, &out); err != nil {
			c.logger.Warn("capture response is not JSON", "error", err)
		}
	}

	c.logger.Info("capture sent",
		"trigger", req.Trigger,
		"session_id", req.SessionID,
		"messages", len(req.ConversationData.Messages),
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return &out, nil
}

func (c *Client) classify(err error) *Error {
	kind := KindConnection
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		kind = KindTimeout
	}
	return &Error{Kind: kind, BaseURL: c.baseURL, Err: err}
}

func truncateBody(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		return s[:200]
	}
	return s
}
