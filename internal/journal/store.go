// Package journal records performed renames so a run can be undone.
package journal

import (
	"time"
)

// RenameStatus represents the state of a journaled rename
type RenameStatus string

const (
	StatusRenamed RenameStatus = "renamed"
	StatusUndone  RenameStatus = "undone"
)

// Run identifies one invocation of the renamer
type Run struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`
	Roots     []string  `json:"roots"`
}

// RenameRecord represents a rename in the journal
type RenameRecord struct {
	RunID     string       `json:"run_id"`
	Source    string       `json:"source"`
	Target    string       `json:"target"`
	Payload   string       `json:"payload"`
	Status    RenameStatus `json:"status"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Store defines the interface for journal persistence
type Store interface {
	// Run operations
	BeginRun(run *Run) error
	LastRun() (*Run, error)

	// Rename operations
	SaveRename(record *RenameRecord) error
	ListRenames(runID string) ([]*RenameRecord, error)
	MarkUndone(runID, source string) error

	// Cleanup
	Close() error
}
