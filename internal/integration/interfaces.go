// Package integration contains the HTTP clients for the external
// collaborators: the identity provider (on-behalf-of exchange), the event bus
// topic the scan worker listens on, and the storage provider's drive API.
package integration

import "context"

// Delegator exchanges an inbound user assertion for a downstream-scoped
// credential. Implementations must not cache tokens across requests: the
// assertion is short-lived and bound to one inbound request.
type Delegator interface {
	// ExchangeOnBehalfOf performs the assertion exchange for the given scope.
	// The assertion is typically single-use; on failure callers must re-derive
	// it from a fresh inbound request rather than retry the same assertion.
	ExchangeOnBehalfOf(ctx context.Context, assertion, scope string) (string, error)
}

// BusPublisher publishes scan-initiated events to the external event bus.
// Delivery is at-least-once; the worker must tolerate duplicate events.
type BusPublisher interface {
	PublishScanInitiated(ctx context.Context, ev ScanInitiated) (PublishReceipt, error)
}

// Drive is the storage-provider surface the reconciler needs.
type Drive interface {
	// DeleteItem deletes a drive item using the given delegated credential.
	// A "not found" response is success: the item is already gone.
	DeleteItem(ctx context.Context, credential, itemID string) error
}
