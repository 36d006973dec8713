// Package client is the Go client for the desup HTTP API, used by the CLI
// and usable as a library.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mescon/desup/internal/domain"
)

// APIError is a non-2xx response from the service.
type APIError struct {
	StatusCode  int
	Message     string   `json:"error"`
	FailedPaths []string `json:"failedPaths,omitempty"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("server returned %d", e.StatusCode)
}

// Client talks to a desup server on behalf of one user. The bearer token is
// sent as-is; the server validates it.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func New(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

// ListScans returns the caller's scans. A first call for a new user starts a
// scan server-side, so the result is never empty on success.
func (c *Client) ListScans(ctx context.Context) ([]domain.Scan, error) {
	var scans []domain.Scan
	if err := c.call(ctx, http.MethodGet, "/api/scans", nil, &scans); err != nil {
		return nil, err
	}
	return scans, nil
}

// StartScan requests a new scan.
func (c *Client) StartScan(ctx context.Context) (*domain.Scan, error) {
	var scan domain.Scan
	if err := c.call(ctx, http.MethodPost, "/api/scans", nil, &scan); err != nil {
		return nil, err
	}
	return &scan, nil
}

// ResolveDuplicate deletes the superseded copies of one duplicate group,
// keeping fileToKeep.
func (c *Client) ResolveDuplicate(ctx context.Context, scanID, fileName, fileToKeep string) error {
	body := map[string]string{
		"fileName":   fileName,
		"fileToKeep": fileToKeep,
	}
	return c.call(ctx, http.MethodDelete, "/api/files/"+scanID, body, nil)
}

// Health fetches the server health document.
func (c *Client) Health(ctx context.Context) (map[string]interface{}, error) {
	var health map[string]interface{}
	if err := c.call(ctx, http.MethodGet, "/api/health", nil, &health); err != nil {
		return nil, err
	}
	return health, nil
}

func (c *Client) call(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = json.Unmarshal(data, apiErr)
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
