// Package resolution models the client-side duplicate-resolution flow: a
// session walks the duplicate groups of one scan, one at a time, and gates
// each save on an explicit selection. The session holds no I/O; the driver
// (the CLI, or any other frontend) performs the actual resolve call and
// reports its outcome back.
package resolution

import (
	"errors"

	"github.com/mescon/desup/internal/domain"
)

// Phase is the session's current position in the resolution flow.
type Phase int

const (
	// PhaseIdle means there is nothing left to present.
	PhaseIdle Phase = iota
	// PhasePresenting means a duplicate group is shown and awaiting a choice.
	PhasePresenting
	// PhaseSaving means a resolve is in flight; input is rejected until the
	// driver reports the outcome.
	PhaseSaving
)

var (
	// ErrNoSelection rejects a confirm with no copy chosen to keep.
	ErrNoSelection = errors.New("no file selected to keep")
	// ErrSaveInProgress rejects input while a resolve is in flight.
	ErrSaveInProgress = errors.New("resolution save already in progress")
	// ErrSessionIdle rejects input when nothing is being presented.
	ErrSessionIdle = errors.New("no duplicate is being presented")
)

// Resolution is the driver's work order produced by a confirmed choice.
type Resolution struct {
	FileName   string
	FileToKeep string
}

// Session is the state of one walk through a scan's duplicate groups.
// It is not safe for concurrent use; a session belongs to one driver.
type Session struct {
	duplicates []domain.Duplicate
	phase      Phase
	index      int
	fileToKeep string
}

// NewSession starts a session over the given duplicate groups. An empty scan
// starts idle.
func NewSession(duplicates []domain.Duplicate) *Session {
	s := &Session{duplicates: duplicates}
	if len(duplicates) > 0 {
		s.phase = PhasePresenting
	}
	return s
}

// Phase returns the session's current phase.
func (s *Session) Phase() Phase {
	return s.phase
}

// Current returns the duplicate group being presented, if any.
func (s *Session) Current() (domain.Duplicate, bool) {
	if s.phase == PhaseIdle {
		return domain.Duplicate{}, false
	}
	return s.duplicates[s.index], true
}

// FileToKeep returns the currently selected copy, empty if none is selected.
func (s *Session) FileToKeep() string {
	return s.fileToKeep
}

// SelectKeep records the copy to retain for the presented group. The path
// must match one of the group's locations.
func (s *Session) SelectKeep(path string) error {
	switch s.phase {
	case PhaseSaving:
		return ErrSaveInProgress
	case PhaseIdle:
		return ErrSessionIdle
	}
	dup := s.duplicates[s.index]
	if err := dup.ValidateFileToKeep(path); err != nil {
		return err
	}
	s.fileToKeep = path
	return nil
}

// Skip leaves the presented group unresolved and moves to the next one.
func (s *Session) Skip() error {
	switch s.phase {
	case PhaseSaving:
		return ErrSaveInProgress
	case PhaseIdle:
		return ErrSessionIdle
	}
	s.advance()
	return nil
}

// Confirm turns the current selection into a work order and enters the saving
// phase. A second confirm while saving is rejected, so a double-submit cannot
// trigger two deletes.
func (s *Session) Confirm() (Resolution, error) {
	switch s.phase {
	case PhaseSaving:
		return Resolution{}, ErrSaveInProgress
	case PhaseIdle:
		return Resolution{}, ErrSessionIdle
	}
	if s.fileToKeep == "" {
		return Resolution{}, ErrNoSelection
	}
	s.phase = PhaseSaving
	return Resolution{
		FileName:   s.duplicates[s.index].FileName,
		FileToKeep: s.fileToKeep,
	}, nil
}

// SaveSucceeded reports a completed resolve and moves to the next group.
func (s *Session) SaveSucceeded() error {
	if s.phase != PhaseSaving {
		return ErrSessionIdle
	}
	s.advance()
	return nil
}

// SaveFailed reports a failed resolve. The same group is presented again with
// the selection cleared, so the user re-confirms deliberately.
func (s *Session) SaveFailed() error {
	if s.phase != PhaseSaving {
		return ErrSessionIdle
	}
	s.phase = PhasePresenting
	s.fileToKeep = ""
	return nil
}

// advance moves to the next duplicate group, or idles out past the last one.
// The selection never carries over between groups.
func (s *Session) advance() {
	s.fileToKeep = ""
	s.index++
	if s.index >= len(s.duplicates) {
		s.phase = PhaseIdle
		return
	}
	s.phase = PhasePresenting
}
