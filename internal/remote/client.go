// Package remote implements the Agent side of the C2 contract: an HTTP
// client that posts a models.Action to the Daemon's /computer-use endpoint.
package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/kestrelrun/cua-agent/pkg/models"
)

// Client calls a Daemon's computer-use endpoint over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client targeting baseURL (e.g. "http://daemon:9990").
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{baseURL: baseURL, httpClient: &http.Client{Timeout: timeout}}
}

// Response mirrors daemon.computerUseResponse's wire shape.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
}

// Err returns the daemon-reported error as a Go error, or nil on success.
func (r Response) Err() error {
	if r.Success {
		return nil
	}
	return fmt.Errorf("daemon: %s", r.Error)
}

// Screenshot extracts the base64-decoded screenshot from a screenshot
// action's result.
func (r Response) Screenshot() ([]byte, error) {
	var payload struct {
		Screenshot string `json:"screenshot"`
	}
	if err := json.Unmarshal(r.Result, &payload); err != nil {
		return nil, fmt.Errorf("remote: decode screenshot result: %w", err)
	}
	return base64.StdEncoding.DecodeString(payload.Screenshot)
}

// FileData extracts the base64-decoded payload from a read_file result.
func (r Response) FileData() ([]byte, error) {
	var payload struct {
		Data string `json:"data"`
	}
	if err := json.Unmarshal(r.Result, &payload); err != nil {
		return nil, fmt.Errorf("remote: decode read_file result: %w", err)
	}
	return base64.StdEncoding.DecodeString(payload.Data)
}

// Execute validates action locally (same rules the daemon re-checks) and
// posts it to the daemon's /computer-use endpoint.
func (c *Client) Execute(ctx context.Context, action models.Action) (Response, error) {
	if err := action.Validate(); err != nil {
		return Response{}, fmt.Errorf("remote: invalid action: %w", err)
	}

	body, err := json.Marshal(action)
	if err != nil {
		return Response{}, fmt.Errorf("remote: marshal action: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/computer-use", bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("remote: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("remote: request failed: %w", err)
	}
	defer resp.Body.Close()

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Response{}, fmt.Errorf("remote: decode response: %w", err)
	}
	return out, nil
}
