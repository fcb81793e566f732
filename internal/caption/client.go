package caption

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Result is the captioning service's reply.
type Result struct {
	Text      string `json:"text"`
	LatencyMS int64  `json:"latency_ms"`
	Model     string `json:"model"`
}

// Captioner produces a caption for a raw JPEG frame.
type Captioner interface {
	Caption(ctx context.Context, jpeg []byte) (Result, error)
}

// Client calls the captioning service over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a captioning client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{baseURL: baseURL, http: &http.Client{}}
}

// Caption posts the raw JPEG body to /caption. The deadline comes from ctx;
// the scheduler bounds every call.
func (c *Client) Caption(ctx context.Context, jpeg []byte) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/caption", bytes.NewReader(jpeg))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "image/jpeg")
	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Result{}, fmt.Errorf("caption service: status %d: %s", resp.StatusCode, body)
	}
	var res Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return Result{}, err
	}
	return res, nil
}
