package services

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/mescon/desup/internal/db"
	"github.com/mescon/desup/internal/domain"
	"github.com/mescon/desup/internal/testutil"
)

func newReconcilerFixture(t *testing.T) (*Reconciler, db.ScanStore, *fakeDelegator, *fakeDrive, *capturingPublisher) {
	t.Helper()

	database, err := testutil.NewTestDB()
	if err != nil {
		t.Fatalf("test db: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })

	store := db.NewScanStore(database)
	fixture := testutil.CompleteScanFixture("scan-1", "user-1")
	if err := testutil.InsertScan(database, fixture); err != nil {
		t.Fatalf("seed: %v", err)
	}

	delegator := &fakeDelegator{token: "fresh-credential"}
	drive := &fakeDrive{}
	events := &capturingPublisher{}

	rec := NewReconciler(store, delegator, drive, events, testScope)
	return rec, store, delegator, drive, events
}

func TestResolve_DeletesAllButKept(t *testing.T) {
	rec, store, _, drive, events := newReconcilerFixture(t)

	err := rec.Resolve(context.Background(), testIdentity(), ResolveRequest{
		ScanID:     "scan-1",
		FileName:   "deck.pptx",
		FileToKeep: "/Shared/deck.pptx",
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	sort.Strings(drive.deleted)
	if len(drive.deleted) != 2 || drive.deleted[0] != "f3" || drive.deleted[1] != "f5" {
		t.Errorf("deleted = %v, want [f3 f5]", drive.deleted)
	}
	if drive.lastCred != "fresh-credential" {
		t.Errorf("credential = %q", drive.lastCred)
	}

	scan, err := store.Get("scan-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if scan.FindDuplicate(domain.ByName("deck.pptx")) >= 0 {
		t.Error("resolved duplicate still present in scan")
	}
	if scan.FindDuplicate(domain.ByName("report.docx")) < 0 {
		t.Error("unrelated duplicate was removed")
	}

	if got := events.byType(domain.DuplicateResolved); len(got) != 1 {
		t.Errorf("DuplicateResolved events = %d, want 1", len(got))
	}
}

func TestResolve_PartialFailureKeepsDuplicate(t *testing.T) {
	rec, store, _, drive, events := newReconcilerFixture(t)
	drive.failIDs = map[string]error{"f5": errors.New("423 Locked")}

	err := rec.Resolve(context.Background(), testIdentity(), ResolveRequest{
		ScanID:     "scan-1",
		FileName:   "deck.pptx",
		FileToKeep: "/Shared/deck.pptx",
	})

	var pde *PartialDeleteError
	if !errors.As(err, &pde) {
		t.Fatalf("error = %v, want PartialDeleteError", err)
	}
	if len(pde.FailedPaths) != 1 || pde.FailedPaths[0] != "/Backup/deck.pptx" {
		t.Errorf("FailedPaths = %v", pde.FailedPaths)
	}

	scan, err := store.Get("scan-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	i := scan.FindDuplicate(domain.ByName("deck.pptx"))
	if i < 0 {
		t.Fatal("duplicate removed despite a failed delete")
	}
	dup := scan.Duplicates[i]
	if dup.FileToKeep != "/Shared/deck.pptx" {
		t.Errorf("FileToKeep = %q", dup.FileToKeep)
	}

	statuses := map[string]domain.LocationStatus{}
	for _, loc := range dup.Locations {
		statuses[loc.ID] = loc.Status
	}
	if statuses["f3"] != domain.LocationDeleted {
		t.Errorf("f3 status = %s, want deleted", statuses["f3"])
	}
	if statuses["f5"] != domain.LocationFailed {
		t.Errorf("f5 status = %s, want failed", statuses["f5"])
	}

	if got := events.byType(domain.DeletionFailed); len(got) != 1 {
		t.Errorf("DeletionFailed events = %d, want 1", len(got))
	}
	if got := events.byType(domain.DuplicateResolved); len(got) != 0 {
		t.Errorf("DuplicateResolved events = %d, want 0", len(got))
	}
}

func TestResolve_RetrySkipsConfirmedDeletes(t *testing.T) {
	rec, store, _, drive, _ := newReconcilerFixture(t)
	drive.failIDs = map[string]error{"f5": errors.New("423 Locked")}

	req := ResolveRequest{
		ScanID:     "scan-1",
		FileName:   "deck.pptx",
		FileToKeep: "/Shared/deck.pptx",
	}
	if err := rec.Resolve(context.Background(), testIdentity(), req); err == nil {
		t.Fatal("first Resolve succeeded, want partial failure")
	}

	// The file is no longer locked; retrying only touches the failed copy
	drive.failIDs = nil
	drive.deleted = nil
	if err := rec.Resolve(context.Background(), testIdentity(), req); err != nil {
		t.Fatalf("second Resolve: %v", err)
	}

	if len(drive.deleted) != 1 || drive.deleted[0] != "f5" {
		t.Errorf("retry deleted = %v, want [f5]", drive.deleted)
	}

	scan, err := store.Get("scan-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if scan.FindDuplicate(domain.ByName("deck.pptx")) >= 0 {
		t.Error("duplicate still present after successful retry")
	}
}

func TestResolve_UnknownDuplicate(t *testing.T) {
	rec, _, delegator, _, _ := newReconcilerFixture(t)

	err := rec.Resolve(context.Background(), testIdentity(), ResolveRequest{
		ScanID:     "scan-1",
		FileName:   "nope.txt",
		FileToKeep: "/Documents/nope.txt",
	})
	if !errors.Is(err, ErrDuplicateNotFound) {
		t.Errorf("error = %v, want ErrDuplicateNotFound", err)
	}
	if delegator.calls != 0 {
		t.Errorf("delegator called %d times, want 0", delegator.calls)
	}
}

func TestResolve_UnknownScan(t *testing.T) {
	rec, _, _, _, _ := newReconcilerFixture(t)

	err := rec.Resolve(context.Background(), testIdentity(), ResolveRequest{
		ScanID:     "missing",
		FileName:   "deck.pptx",
		FileToKeep: "/Shared/deck.pptx",
	})
	if !errors.Is(err, db.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestResolve_InvalidFileToKeep(t *testing.T) {
	tests := []struct {
		name       string
		fileToKeep string
	}{
		{"empty selection", ""},
		{"path not in group", "/Elsewhere/deck.pptx"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _, delegator, drive, _ := newReconcilerFixture(t)

			err := rec.Resolve(context.Background(), testIdentity(), ResolveRequest{
				ScanID:     "scan-1",
				FileName:   "deck.pptx",
				FileToKeep: tt.fileToKeep,
			})
			if err == nil {
				t.Fatal("Resolve succeeded, want validation error")
			}
			if delegator.calls != 0 {
				t.Errorf("delegator called before validation passed")
			}
			if len(drive.deleted) != 0 {
				t.Errorf("deleted %v before validation passed", drive.deleted)
			}
		})
	}
}

// conflictStore forces version conflicts on the first n Replace calls to
// exercise the reconciler's retry loop.
type conflictStore struct {
	db.ScanStore
	conflicts int
	replaces  int
}

func (c *conflictStore) Replace(scan *domain.Scan) error {
	c.replaces++
	if c.conflicts > 0 {
		c.conflicts--
		return db.ErrVersionConflict
	}
	return c.ScanStore.Replace(scan)
}

func TestResolve_RetriesVersionConflict(t *testing.T) {
	rec, store, _, _, _ := newReconcilerFixture(t)
	cs := &conflictStore{ScanStore: store, conflicts: 2}
	rec.store = cs

	err := rec.Resolve(context.Background(), testIdentity(), ResolveRequest{
		ScanID:     "scan-1",
		FileName:   "report.docx",
		FileToKeep: "/Documents/report.docx",
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cs.replaces != 3 {
		t.Errorf("Replace called %d times, want 3", cs.replaces)
	}

	scan, err := store.Get("scan-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if scan.FindDuplicate(domain.ByName("report.docx")) >= 0 {
		t.Error("duplicate still present after retried replace")
	}
}
