// Package domain holds the core records of the duplicate-file scan lifecycle
// and the events emitted as records move through it.
package domain

import (
	"fmt"
	"time"
)

// ScanStatus is the lifecycle state of a scan record.
type ScanStatus string

const (
	// ScanActive means the scan has been requested and the external worker
	// has not yet written results back.
	ScanActive ScanStatus = "active"
	// ScanComplete means the external worker finished and populated duplicates.
	ScanComplete ScanStatus = "complete"
	// ScanFailed means the scan record was created but the worker was never
	// notified (credential exchange or event publish failed).
	ScanFailed ScanStatus = "failed"
)

// LocationStatus tracks the reconciliation state of a single file location.
type LocationStatus string

const (
	// LocationPending means the location has not been deleted yet.
	LocationPending LocationStatus = "pending"
	// LocationDeleted means the storage provider confirmed the delete
	// (a "not found" response counts as deleted).
	LocationDeleted LocationStatus = "deleted"
	// LocationFailed means the last delete attempt failed; the location is
	// safe to retry.
	LocationFailed LocationStatus = "failed"
)

// FileLocation is a single storage-provider location of a file copy.
// Locations are owned by their Duplicate and never shared across duplicates.
type FileLocation struct {
	ID     string         `json:"id"`
	Path   string         `json:"path"`
	Status LocationStatus `json:"status,omitempty"`
}

// Duplicate is a group of file locations considered identical, pending a
// choice of which copy to retain. FileToKeep is empty until the user picks.
type Duplicate struct {
	FileName   string         `json:"fileName"`
	FileExt    string         `json:"fileExt"`
	Size       int64          `json:"size"`
	Locations  []FileLocation `json:"locations"`
	FileToKeep string         `json:"fileToKeep"`
}

// ValidateFileToKeep checks that the chosen path matches exactly one of the
// duplicate's locations. An empty choice is always invalid.
func (d *Duplicate) ValidateFileToKeep(path string) error {
	if path == "" {
		return fmt.Errorf("no file selected to keep")
	}
	matches := 0
	for _, loc := range d.Locations {
		if loc.Path == path {
			matches++
		}
	}
	if matches != 1 {
		return fmt.Errorf("fileToKeep %q matches %d locations, want exactly 1", path, matches)
	}
	return nil
}

// Scan is one duplicate-detection run for a user. Duplicates are populated by
// the external worker and only ever shrink here as resolutions occur.
type Scan struct {
	ID         string      `json:"id"`
	User       string      `json:"user"`
	Tenant     string      `json:"tenant"`
	Status     ScanStatus  `json:"status"`
	ScanDate   time.Time   `json:"scanDate"`
	Duplicates []Duplicate `json:"duplicates"`

	// Version is the optimistic concurrency token of the persisted record.
	// Incremented by the store on every replace.
	Version int64 `json:"-"`
}

// FindDuplicate returns the index of the first duplicate matching the
// predicate, or -1 if none matches.
func (s *Scan) FindDuplicate(match func(Duplicate) bool) int {
	for i, d := range s.Duplicates {
		if match(d) {
			return i
		}
	}
	return -1
}

// RemoveDuplicate removes the first duplicate matching the predicate and
// reports whether one was removed. The reconciler is the single owner of
// this mutation.
func (s *Scan) RemoveDuplicate(match func(Duplicate) bool) bool {
	i := s.FindDuplicate(match)
	if i < 0 {
		return false
	}
	s.Duplicates = append(s.Duplicates[:i], s.Duplicates[i+1:]...)
	return true
}

// ByName returns a predicate matching duplicates by file name. The original
// record keys duplicate groups by name within a scan.
func ByName(fileName string) func(Duplicate) bool {
	return func(d Duplicate) bool { return d.FileName == fileName }
}
