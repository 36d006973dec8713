// Package testutil provides shared helpers for tests that need a database.
package testutil

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mescon/desup/internal/domain"
)

// NewTestDB creates an in-memory SQLite database with the desup schema.
// Returns a database handle that should be closed by the caller.
func NewTestDB() (*sql.DB, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory database: %w", err)
	}
	// Single connection avoids separate in-memory databases per connection
	db.SetMaxOpenConns(1)

	if err := initializeSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// initializeSchema creates all required tables for testing.
func initializeSchema(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	_, err := db.Exec(`
		CREATE TABLE scans (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			tenant_id TEXT NOT NULL,
			status TEXT NOT NULL CHECK (status IN ('active', 'complete', 'failed')),
			scan_date TIMESTAMP NOT NULL,
			duplicates JSON NOT NULL DEFAULT '[]',
			version INTEGER NOT NULL DEFAULT 1
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create scans table: %w", err)
	}

	_, err = db.Exec(`
		CREATE UNIQUE INDEX idx_scans_one_active_per_user
		ON scans(user_id) WHERE status = 'active'
	`)
	if err != nil {
		return fmt.Errorf("failed to create active-scan index: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			aggregate_type TEXT NOT NULL,
			aggregate_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			event_data JSON NOT NULL,
			event_version INTEGER NOT NULL DEFAULT 1,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			user_id TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create events table: %w", err)
	}

	return nil
}

// InsertScan writes a scan record directly, bypassing the store. Useful for
// seeding test fixtures.
func InsertScan(db *sql.DB, scan domain.Scan) error {
	duplicatesJSON, err := json.Marshal(scan.Duplicates)
	if err != nil {
		return fmt.Errorf("failed to marshal duplicates: %w", err)
	}
	version := scan.Version
	if version == 0 {
		version = 1
	}
	_, err = db.Exec(`
		INSERT INTO scans (id, user_id, tenant_id, status, scan_date, duplicates, version)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, scan.ID, scan.User, scan.Tenant, string(scan.Status), scan.ScanDate.UTC(), string(duplicatesJSON), version)
	return err
}

// CompleteScanFixture returns a complete scan with two duplicate groups, the
// shape the external worker writes back.
func CompleteScanFixture(id, userID string) domain.Scan {
	return domain.Scan{
		ID:       id,
		User:     userID,
		Tenant:   "tenant-1",
		Status:   domain.ScanComplete,
		ScanDate: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Duplicates: []domain.Duplicate{
			{
				FileName: "report.docx",
				FileExt:  ".docx",
				Size:     1024,
				Locations: []domain.FileLocation{
					{ID: "f1", Path: "/Documents/report.docx"},
					{ID: "f2", Path: "/Archive/report.docx"},
				},
			},
			{
				FileName: "deck.pptx",
				FileExt:  ".pptx",
				Size:     2048,
				Locations: []domain.FileLocation{
					{ID: "f3", Path: "/Documents/deck.pptx"},
					{ID: "f4", Path: "/Shared/deck.pptx"},
					{ID: "f5", Path: "/Backup/deck.pptx"},
				},
			},
		},
		Version: 1,
	}
}
