package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/mescon/desup/internal/logger"
)

const (
	// scanInitiatedEventType tags scan-request events on the bus.
	scanInitiatedEventType = "duplicateScanInitiated"
	// scanSubject identifies the feature area in the event envelope.
	scanSubject = "/desup/filescan"
	// scanDataVersion is the payload schema version.
	scanDataVersion = "1.0"
	// sasKeyHeader authenticates against the topic endpoint.
	sasKeyHeader = "aeg-sas-key"
)

// ScanInitiated is the data carried by a scan-request event. Token is a live
// delegated credential scoped to the storage provider; the topic endpoint must
// be a trusted first-party recipient over TLS.
type ScanInitiated struct {
	User   string `json:"user"`
	Tenant string `json:"tenant"`
	ScanID string `json:"scanId"`
	Token  string `json:"token"`
}

// eventEnvelope is the bus wire format. Events are posted as a single-element
// array per the topic contract.
type eventEnvelope struct {
	ID          string        `json:"id"`
	EventType   string        `json:"eventType"`
	Subject     string        `json:"subject"`
	EventTime   string        `json:"eventTime"`
	Data        ScanInitiated `json:"data"`
	DataVersion string        `json:"dataVersion"`
}

// PublishReceipt acknowledges that the bus transport accepted the event.
// It says nothing about worker-side processing.
type PublishReceipt struct {
	EventID    string
	StatusCode int
}

// PublishError is returned when the bus is unreachable or rejects the event.
type PublishError struct {
	StatusCode int
	Err        error
}

func (e *PublishError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("event publish failed: %v", e.Err)
	}
	return fmt.Sprintf("event bus rejected publish with status %d", e.StatusCode)
}

func (e *PublishError) Unwrap() error { return e.Err }

// GridPublisher posts scan-initiated events to an Event Grid style topic.
// Safe for concurrent use.
type GridPublisher struct {
	endpoint   string
	key        string
	httpClient *http.Client
}

var _ BusPublisher = (*GridPublisher)(nil)

// NewGridPublisher creates a publisher for the given topic endpoint and key.
func NewGridPublisher(endpoint, key string, timeout time.Duration) *GridPublisher {
	return &GridPublisher{
		endpoint: endpoint,
		key:      key,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// PublishScanInitiated publishes one scan-request event. Delivery downstream
// of the topic is at-least-once; the same event id is reused if the bus
// redelivers, never by us re-posting.
func (p *GridPublisher) PublishScanInitiated(ctx context.Context, ev ScanInitiated) (PublishReceipt, error) {
	envelope := []eventEnvelope{{
		ID:          uuid.NewString(),
		EventType:   scanInitiatedEventType,
		Subject:     scanSubject,
		EventTime:   time.Now().UTC().Format(time.RFC3339),
		Data:        ev,
		DataVersion: scanDataVersion,
	}}

	payload, err := json.Marshal(envelope)
	if err != nil {
		return PublishReceipt{}, &PublishError{Err: fmt.Errorf("failed to marshal event: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
	if err != nil {
		return PublishReceipt{}, &PublishError{Err: err}
	}
	req.Header.Set(sasKeyHeader, p.key)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return PublishReceipt{}, &PublishError{Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return PublishReceipt{}, &PublishError{StatusCode: resp.StatusCode}
	}

	logger.Debugf("Published %s event for scan %s", scanInitiatedEventType, ev.ScanID)
	return PublishReceipt{EventID: envelope[0].ID, StatusCode: resp.StatusCode}, nil
}
