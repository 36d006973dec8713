// Package services contains the scan lifecycle services: the workflow
// controller that creates scans and notifies the external worker, the
// reconciler that deletes superseded file copies, and the retention
// maintenance job.
package services

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/mescon/desup/internal/auth"
	"github.com/mescon/desup/internal/clock"
	"github.com/mescon/desup/internal/db"
	"github.com/mescon/desup/internal/domain"
	"github.com/mescon/desup/internal/eventbus"
	"github.com/mescon/desup/internal/integration"
	"github.com/mescon/desup/internal/logger"
)

// ErrActiveScanExists is surfaced when a user requests a new scan while one
// is already running.
var ErrActiveScanExists = db.ErrActiveScanExists

// WorkflowService enforces the scan lifecycle: at most one active scan per
// user, and the worker hand-off with its soft-failure semantics.
type WorkflowService struct {
	store     db.ScanStore
	delegator integration.Delegator
	bus       integration.BusPublisher
	events    eventbus.Publisher
	clock     clock.Clock
	scope     string
}

// NewWorkflowService wires the workflow controller. scope is the downstream
// credential scope requested for the worker, e.g. the storage provider's
// .default scope.
func NewWorkflowService(store db.ScanStore, delegator integration.Delegator, bus integration.BusPublisher, events eventbus.Publisher, clk clock.Clock, scope string) *WorkflowService {
	return &WorkflowService{
		store:     store,
		delegator: delegator,
		bus:       bus,
		events:    events,
		clock:     clk,
		scope:     scope,
	}
}

// ListOrCreate returns the user's scans, most recent first. A user with no
// prior scans gets exactly one fresh active scan, started as a side effect.
func (s *WorkflowService) ListOrCreate(ctx context.Context, identity auth.Identity) ([]domain.Scan, error) {
	scans, err := s.store.ListByUser(identity.UserID)
	if err != nil {
		return nil, err
	}
	if len(scans) > 0 {
		return scans, nil
	}

	if _, err := s.StartScan(ctx, identity); err != nil {
		// A concurrent request created the scan first; fall through to the
		// re-read and return that record instead.
		if !errors.Is(err, ErrActiveScanExists) {
			return nil, err
		}
	}

	return s.store.ListByUser(identity.UserID)
}

// StartScan creates a new active scan record and notifies the external
// worker. When the worker cannot be notified (credential exchange or publish
// failure) the record is kept and marked failed: a soft, user-visible
// failure, not a rollback.
func (s *WorkflowService) StartScan(ctx context.Context, identity auth.Identity) (*domain.Scan, error) {
	scan := &domain.Scan{
		ID:         uuid.NewString(),
		User:       identity.UserID,
		Tenant:     identity.TenantID,
		Status:     domain.ScanActive,
		ScanDate:   s.clock.Now().UTC(),
		Duplicates: []domain.Duplicate{},
	}

	if err := s.store.Create(scan); err != nil {
		return nil, err
	}

	s.notifyWorker(ctx, scan, identity.Assertion)
	return scan, nil
}

// notifyWorker exchanges the inbound assertion for a worker credential and
// publishes the scan-initiated event. Failures mark the scan failed so the
// record never sits active with no worker running.
func (s *WorkflowService) notifyWorker(ctx context.Context, scan *domain.Scan, assertion string) {
	credential, err := s.delegator.ExchangeOnBehalfOf(ctx, assertion, s.scope)
	if err != nil {
		logger.Errorf("Scan %s: credential exchange failed: %v", scan.ID, err)
		s.markStartFailed(scan, "delegation")
		return
	}

	receipt, err := s.bus.PublishScanInitiated(ctx, integration.ScanInitiated{
		User:   scan.User,
		Tenant: scan.Tenant,
		ScanID: scan.ID,
		Token:  credential,
	})
	if err != nil {
		logger.Errorf("Scan %s: event publish failed: %v", scan.ID, err)
		s.markStartFailed(scan, "publish")
		return
	}

	logger.Infof("Scan %s requested for user %s (event %s)", scan.ID, scan.User, receipt.EventID)
	s.publishEvent(domain.Event{
		AggregateID: scan.ID,
		EventType:   domain.ScanRequested,
		EventData:   map[string]interface{}{"event_id": receipt.EventID},
		UserID:      scan.User,
	})
}

// markStartFailed transitions the record to failed and records why.
func (s *WorkflowService) markStartFailed(scan *domain.Scan, reason string) {
	if err := s.store.MarkFailed(scan.ID); err != nil {
		logger.Errorf("Scan %s: failed to mark record failed: %v", scan.ID, err)
	} else {
		scan.Status = domain.ScanFailed
	}
	s.publishEvent(domain.Event{
		AggregateID: scan.ID,
		EventType:   domain.ScanStartFailed,
		EventData:   map[string]interface{}{"reason": reason},
		UserID:      scan.User,
	})
}

func (s *WorkflowService) publishEvent(event domain.Event) {
	if err := s.events.Publish(event); err != nil {
		logger.Errorf("Failed to publish %s event for %s: %v", event.EventType, event.AggregateID, err)
	}
}
