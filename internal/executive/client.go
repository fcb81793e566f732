// Package executive talks to the LLM-backed executive service. Event ingest
// is fire-and-forget with its own short timeout so a slow or down executive
// can never stall frame processing.
package executive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/haldvik/lookout/internal/logx"
	"github.com/haldvik/lookout/internal/protocol"
)

// Config locates the executive service.
type Config struct {
	BaseURL        string
	IngestTimeout  time.Duration
	RespondTimeout time.Duration
}

// EventBatch is one ingest payload: named events derived from a frame or clip.
type EventBatch struct {
	Source  string           `json:"source"`
	TSMS    int64            `json:"ts_ms"`
	FrameID string           `json:"frame_id,omitempty"`
	ClipID  string           `json:"clip_id,omitempty"`
	Events  []protocol.Event `json:"events"`
}

// RespondRequest is a producer chat request forwarded to the executive.
type RespondRequest struct {
	RequestID string `json:"request_id"`
	SessionID string `json:"session_id,omitempty"`
	Text      string `json:"text"`
}

// RespondResponse is the executive's text reply.
type RespondResponse struct {
	Text string         `json:"text"`
	Meta map[string]any `json:"meta,omitempty"`
}

// Client posts to the executive's HTTP endpoints. A zero BaseURL disables it.
type Client struct {
	cfg  Config
	http *http.Client
	warn *logx.Limiter
}

// New creates a client.
func New(cfg Config, warn *logx.Limiter) *Client {
	if cfg.IngestTimeout <= 0 {
		cfg.IngestTimeout = 1500 * time.Millisecond
	}
	if cfg.RespondTimeout <= 0 {
		cfg.RespondTimeout = 30 * time.Second
	}
	return &Client{cfg: cfg, http: &http.Client{}, warn: warn}
}

// Enabled reports whether an executive endpoint is configured.
func (c *Client) Enabled() bool { return c.cfg.BaseURL != "" }

// IngestEvents posts a batch to /events in the background and returns
// immediately. Failures are logged at most once per warning window.
func (c *Client) IngestEvents(batch EventBatch) {
	if !c.Enabled() || len(batch.Events) == 0 {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.IngestTimeout)
		defer cancel()
		if err := c.post(ctx, "/events", batch, nil); err != nil {
			if c.warn.Allow("executive_ingest") {
				logx.Log.Warn().Err(err).Msg("executive event ingest failed")
			}
		}
	}()
}

// Respond forwards a chat request to /respond and returns the reply.
func (c *Client) Respond(ctx context.Context, req RespondRequest) (RespondResponse, error) {
	if !c.Enabled() {
		return RespondResponse{}, fmt.Errorf("executive not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RespondTimeout)
	defer cancel()
	var res RespondResponse
	if err := c.post(ctx, "/respond", req, &res); err != nil {
		return RespondResponse{}, err
	}
	return res, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("executive %s: status %d: %s", path, resp.StatusCode, msg)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
