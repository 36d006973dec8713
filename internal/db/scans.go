package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mescon/desup/internal/domain"
)

var (
	// ErrNotFound is returned when no scan record matches the given id.
	ErrNotFound = errors.New("scan not found")

	// ErrVersionConflict is returned when a conditional replace loses to a
	// concurrent writer. Callers should re-read the record and retry.
	ErrVersionConflict = errors.New("scan record version conflict")

	// ErrActiveScanExists is returned when creating an active scan for a user
	// who already has one.
	ErrActiveScanExists = errors.New("user already has an active scan")
)

// ScanStore is the durable keyed storage for scan records consumed by the
// workflow and reconciliation services.
type ScanStore interface {
	// ListByUser returns all scans owned by userID, most recent first.
	ListByUser(userID string) ([]domain.Scan, error)
	// Get returns the scan with the given id, or ErrNotFound.
	Get(id string) (*domain.Scan, error)
	// Create persists a new scan record. Creating an active scan for a user
	// who already has one fails with ErrActiveScanExists.
	Create(scan *domain.Scan) error
	// Replace rewrites status and duplicates conditionally on scan.Version.
	// On success the scan's version is bumped; a concurrent update surfaces
	// as ErrVersionConflict.
	Replace(scan *domain.Scan) error
	// MarkFailed transitions a scan to the failed status. Used when the
	// downstream worker could not be notified after the record was created.
	MarkFailed(id string) error
}

// SQLiteScanStore implements ScanStore on the application database.
type SQLiteScanStore struct {
	db *sql.DB
}

var _ ScanStore = (*SQLiteScanStore)(nil)

// NewScanStore creates a ScanStore backed by the given database handle.
func NewScanStore(db *sql.DB) *SQLiteScanStore {
	return &SQLiteScanStore{db: db}
}

func (s *SQLiteScanStore) ListByUser(userID string) ([]domain.Scan, error) {
	rows, err := QueryWithRetry(s.db, `
		SELECT id, user_id, tenant_id, status, scan_date, duplicates, version
		FROM scans WHERE user_id = ? ORDER BY scan_date DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query scans: %w", err)
	}
	defer rows.Close()

	scans := make([]domain.Scan, 0)
	for rows.Next() {
		scan, err := scanRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		scans = append(scans, *scan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate scans: %w", err)
	}

	return scans, nil
}

func (s *SQLiteScanStore) Get(id string) (*domain.Scan, error) {
	row := s.db.QueryRow(`
		SELECT id, user_id, tenant_id, status, scan_date, duplicates, version
		FROM scans WHERE id = ?
	`, id)

	scan, err := scanRow(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return scan, nil
}

func (s *SQLiteScanStore) Create(scan *domain.Scan) error {
	duplicatesJSON, err := json.Marshal(scan.Duplicates)
	if err != nil {
		return fmt.Errorf("failed to marshal duplicates: %w", err)
	}

	_, err = ExecWithRetry(s.db, `
		INSERT INTO scans (id, user_id, tenant_id, status, scan_date, duplicates, version)
		VALUES (?, ?, ?, ?, ?, ?, 1)
	`, scan.ID, scan.User, scan.Tenant, string(scan.Status), scan.ScanDate.UTC(), string(duplicatesJSON))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrActiveScanExists
		}
		return fmt.Errorf("failed to create scan: %w", err)
	}

	scan.Version = 1
	return nil
}

func (s *SQLiteScanStore) Replace(scan *domain.Scan) error {
	duplicatesJSON, err := json.Marshal(scan.Duplicates)
	if err != nil {
		return fmt.Errorf("failed to marshal duplicates: %w", err)
	}

	res, err := ExecWithRetry(s.db, `
		UPDATE scans SET status = ?, duplicates = ?, version = version + 1
		WHERE id = ? AND version = ?
	`, string(scan.Status), string(duplicatesJSON), scan.ID, scan.Version)
	if err != nil {
		return fmt.Errorf("failed to replace scan: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read replace result: %w", err)
	}
	if affected == 0 {
		// Distinguish a lost race from a missing record
		if _, err := s.Get(scan.ID); errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return ErrVersionConflict
	}

	scan.Version++
	return nil
}

func (s *SQLiteScanStore) MarkFailed(id string) error {
	res, err := ExecWithRetry(s.db, `
		UPDATE scans SET status = ?, version = version + 1 WHERE id = ?
	`, string(domain.ScanFailed), id)
	if err != nil {
		return fmt.Errorf("failed to mark scan failed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// scanRow reads one scans row via the given Scan function.
func scanRow(scanFn func(dest ...interface{}) error) (*domain.Scan, error) {
	var scan domain.Scan
	var status, duplicatesJSON string

	if err := scanFn(&scan.ID, &scan.User, &scan.Tenant, &status, &scan.ScanDate, &duplicatesJSON, &scan.Version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan row: %w", err)
	}

	scan.Status = domain.ScanStatus(status)
	if err := json.Unmarshal([]byte(duplicatesJSON), &scan.Duplicates); err != nil {
		return nil, fmt.Errorf("failed to unmarshal duplicates for scan %s: %w", scan.ID, err)
	}

	return &scan, nil
}

// isUniqueViolation reports whether err is a unique-constraint failure.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
