package integration

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mescon/desup/internal/logger"
)

// GraphDriveClient deletes file copies in the user's drive through the
// storage provider's API using a delegated credential. Safe for concurrent use.
type GraphDriveClient struct {
	baseURL    string
	httpClient *http.Client
}

var _ Drive = (*GraphDriveClient)(nil)

// NewGraphDriveClient creates a drive client against the given API base,
// e.g. https://graph.microsoft.com.
func NewGraphDriveClient(baseURL string, timeout time.Duration) *GraphDriveClient {
	return &GraphDriveClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// DeleteItem deletes the drive item with the given id. A 404 means the item
// is already gone and counts as success, which keeps retried reconciliations
// idempotent.
func (c *GraphDriveClient) DeleteItem(ctx context.Context, credential, itemID string) error {
	endpoint := fmt.Sprintf("%s/v1.0/me/drive/items/%s", c.baseURL, url.PathEscape(itemID))

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to build delete request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+credential)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("drive delete failed for item %s: %w", itemID, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		logger.Debugf("Drive item %s already deleted", itemID)
		return nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	default:
		return fmt.Errorf("drive delete for item %s returned status %d", itemID, resp.StatusCode)
	}
}
