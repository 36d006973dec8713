package db

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/mescon/desup/internal/domain"
)

func newFileRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := NewRepository(filepath.Join(t.TempDir(), "desup.db"))
	if err != nil {
		t.Fatalf("NewRepository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestNewRepository_AppliesMigrations(t *testing.T) {
	repo := newFileRepo(t)

	for _, table := range []string{"scans", "events", "schema_migrations"} {
		var name string
		err := repo.DB.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name = ?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing after migrations: %v", table, err)
		}
	}

	version, err := repo.getCurrentMigrationVersion()
	if err != nil {
		t.Fatalf("getCurrentMigrationVersion: %v", err)
	}
	if version < 1 {
		t.Errorf("migration version = %d, want >= 1", version)
	}
}

func TestNewRepository_MigrationsIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "desup.db")

	repo, err := NewRepository(dbPath)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	repo.Close()

	// Reopening must not re-apply migrations
	repo, err = NewRepository(dbPath)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	repo.Close()
}

func TestRunMaintenance_PrunesOldResolvedScans(t *testing.T) {
	repo := newFileRepo(t)
	store := NewScanStore(repo.DB)

	old := time.Now().AddDate(0, 0, -120).UTC()
	recent := time.Now().AddDate(0, 0, -5).UTC()

	scans := []*domain.Scan{
		{ID: "old-complete", User: "u1", Tenant: "t1", Status: domain.ScanComplete, ScanDate: old, Duplicates: []domain.Duplicate{}},
		{ID: "old-active", User: "u1", Tenant: "t1", Status: domain.ScanActive, ScanDate: old, Duplicates: []domain.Duplicate{}},
		{ID: "recent-complete", User: "u2", Tenant: "t1", Status: domain.ScanComplete, ScanDate: recent, Duplicates: []domain.Duplicate{}},
	}
	for _, s := range scans {
		if err := store.Create(s); err != nil {
			t.Fatalf("Create %s: %v", s.ID, err)
		}
	}

	result, err := repo.RunMaintenance(90)
	if err != nil {
		t.Fatalf("RunMaintenance: %v", err)
	}
	if result.ScansPruned != 1 {
		t.Errorf("ScansPruned = %d, want 1", result.ScansPruned)
	}

	// Active scans are never pruned regardless of age
	if _, err := store.Get("old-active"); err != nil {
		t.Errorf("old active scan was pruned: %v", err)
	}
	if _, err := store.Get("recent-complete"); err != nil {
		t.Errorf("recent scan was pruned: %v", err)
	}
	if _, err := store.Get("old-complete"); err == nil {
		t.Error("old complete scan survived pruning")
	}
}

func TestRunMaintenance_RetentionDisabled(t *testing.T) {
	repo := newFileRepo(t)
	store := NewScanStore(repo.DB)

	s := &domain.Scan{
		ID: "ancient", User: "u1", Tenant: "t1", Status: domain.ScanComplete,
		ScanDate: time.Now().AddDate(-1, 0, 0).UTC(), Duplicates: []domain.Duplicate{},
	}
	if err := store.Create(s); err != nil {
		t.Fatalf("Create: %v", err)
	}

	result, err := repo.RunMaintenance(0)
	if err != nil {
		t.Fatalf("RunMaintenance: %v", err)
	}
	if result.ScansPruned != 0 {
		t.Errorf("ScansPruned = %d, want 0 with retention disabled", result.ScansPruned)
	}
	if _, err := store.Get("ancient"); err != nil {
		t.Errorf("scan pruned with retention disabled: %v", err)
	}
}

func TestIsBusyError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil", nil, false},
		{"busy", errBusy{"SQLITE_BUSY: database is busy"}, true},
		{"locked", errBusy{"database is locked (5)"}, true},
		{"other", errBusy{"no such table: scans"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isBusyError(tt.err); got != tt.expected {
				t.Errorf("isBusyError = %v, want %v", got, tt.expected)
			}
		})
	}
}

type errBusy struct{ msg string }

func (e errBusy) Error() string { return e.msg }
