package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/mescon/desup/internal/auth"
	"github.com/mescon/desup/internal/db"
	"github.com/mescon/desup/internal/domain"
	"github.com/mescon/desup/internal/eventbus"
	"github.com/mescon/desup/internal/integration"
	"github.com/mescon/desup/internal/logger"
)

// ErrDuplicateNotFound is returned when the scan has no duplicate group with
// the requested file name.
var ErrDuplicateNotFound = errors.New("duplicate not found in scan")

// ErrInvalidSelection is returned when the requested file-to-keep does not
// identify exactly one location of the duplicate group.
var ErrInvalidSelection = errors.New("invalid file selection")

// PartialDeleteError reports that some superseded copies could not be
// deleted. The duplicate stays in the scan with per-location status, so the
// operation is safe to retry.
type PartialDeleteError struct {
	FailedPaths []string
}

func (e *PartialDeleteError) Error() string {
	return fmt.Sprintf("failed to delete %d file copies: %s", len(e.FailedPaths), strings.Join(e.FailedPaths, ", "))
}

// ResolveRequest identifies one duplicate group and the copy to retain.
type ResolveRequest struct {
	ScanID     string
	FileName   string
	FileToKeep string
}

// Reconciler deletes superseded file copies through a freshly delegated
// credential and reconciles the persisted scan record.
type Reconciler struct {
	store     db.ScanStore
	delegator integration.Delegator
	drive     integration.Drive
	events    eventbus.Publisher
	scope     string
}

// NewReconciler wires the deletion reconciler. scope matches the workflow
// service's downstream credential scope.
func NewReconciler(store db.ScanStore, delegator integration.Delegator, drive integration.Drive, events eventbus.Publisher, scope string) *Reconciler {
	return &Reconciler{
		store:     store,
		delegator: delegator,
		drive:     drive,
		events:    events,
		scope:     scope,
	}
}

// Resolve deletes every location of the named duplicate except the kept one.
// The duplicate is removed from the scan only when all non-kept locations are
// confirmed deleted; otherwise it is retained with per-location status and a
// PartialDeleteError is returned. Already-deleted locations are skipped, so
// retrying after a partial failure only touches what is still pending.
func (r *Reconciler) Resolve(ctx context.Context, identity auth.Identity, req ResolveRequest) error {
	scan, err := r.store.Get(req.ScanID)
	if err != nil {
		return err
	}

	i := scan.FindDuplicate(domain.ByName(req.FileName))
	if i < 0 {
		return ErrDuplicateNotFound
	}
	dup := scan.Duplicates[i]

	if err := dup.ValidateFileToKeep(req.FileToKeep); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSelection, err)
	}

	credential, err := r.delegator.ExchangeOnBehalfOf(ctx, identity.Assertion, r.scope)
	if err != nil {
		return err
	}

	// Delete the superseded copies, tracking each location's outcome.
	statuses := make(map[string]domain.LocationStatus, len(dup.Locations))
	var failed []string
	for _, loc := range dup.Locations {
		switch {
		case loc.Path == req.FileToKeep:
			continue
		case loc.Status == domain.LocationDeleted:
			// Confirmed in an earlier attempt
			statuses[loc.ID] = domain.LocationDeleted
			continue
		}

		if err := r.drive.DeleteItem(ctx, credential, loc.ID); err != nil {
			logger.Errorf("Scan %s: delete failed for %s: %v", scan.ID, loc.Path, err)
			statuses[loc.ID] = domain.LocationFailed
			failed = append(failed, loc.Path)
		} else {
			statuses[loc.ID] = domain.LocationDeleted
		}
	}

	if err := r.reconcileRecord(ctx, req, statuses, len(failed) == 0); err != nil {
		return err
	}

	if len(failed) > 0 {
		r.publishEvent(domain.Event{
			AggregateID: req.ScanID,
			EventType:   domain.DeletionFailed,
			EventData:   map[string]interface{}{"file_name": req.FileName, "failed_count": len(failed)},
			UserID:      identity.UserID,
		})
		return &PartialDeleteError{FailedPaths: failed}
	}

	r.publishEvent(domain.Event{
		AggregateID: req.ScanID,
		EventType:   domain.DuplicateResolved,
		EventData:   map[string]interface{}{"file_name": req.FileName, "file_kept": req.FileToKeep},
		UserID:      identity.UserID,
	})
	return nil
}

// reconcileRecord rewrites the scan record: the duplicate is dropped when all
// non-kept copies are gone, otherwise retained with the attempt's statuses.
// The replace is conditional on the record version and retried on conflict
// with a concurrent reconciliation.
func (r *Reconciler) reconcileRecord(ctx context.Context, req ResolveRequest, statuses map[string]domain.LocationStatus, resolved bool) error {
	backoff := retry.WithMaxRetries(4, retry.NewExponential(50*time.Millisecond))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		scan, err := r.store.Get(req.ScanID)
		if err != nil {
			return err
		}

		i := scan.FindDuplicate(domain.ByName(req.FileName))
		if i < 0 {
			// A concurrent reconciliation already removed it
			return nil
		}

		if resolved {
			scan.RemoveDuplicate(domain.ByName(req.FileName))
		} else {
			dup := &scan.Duplicates[i]
			dup.FileToKeep = req.FileToKeep
			for j, loc := range dup.Locations {
				if st, ok := statuses[loc.ID]; ok {
					dup.Locations[j].Status = st
				}
			}
		}

		if err := r.store.Replace(scan); err != nil {
			if errors.Is(err, db.ErrVersionConflict) {
				return retry.RetryableError(err)
			}
			return err
		}
		return nil
	})
}

func (r *Reconciler) publishEvent(event domain.Event) {
	if err := r.events.Publish(event); err != nil {
		logger.Errorf("Failed to publish %s event for %s: %v", event.EventType, event.AggregateID, err)
	}
}
