package storage

import (
	"context"
	"errors"
	"time"
)

// Status represents the lifecycle state of a submission.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

var (
	// ErrNotFound is returned when no submission has the requested ID.
	ErrNotFound = errors.New("submission not found")

	// ErrNotTransitioned is returned when a status write matched no row in a
	// state that allows the transition (already terminal, or unknown ID).
	ErrNotTransitioned = errors.New("submission status not transitioned")
)

// Terminal reports whether no further transitions are allowed from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusError:
		return true
	}
	return false
}

// CanTransition reports whether a submission in state from may be moved to
// state to. Re-marking a running submission as running is allowed so that a
// redelivered job can proceed.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusRunning || to.Terminal()
	case StatusRunning:
		return to == StatusRunning || to.Terminal()
	}
	return false
}

// Submission is one code execution request and its lifecycle record.
type Submission struct {
	ID           string     `json:"id" db:"id"`
	Language     string     `json:"language" db:"language"`
	SourceKey    string     `json:"source_key" db:"code_path"`
	Status       Status     `json:"status" db:"status"`
	OutputKey    *string    `json:"output_key,omitempty" db:"output_path"`
	ErrorMessage *string    `json:"error_message,omitempty" db:"error_message"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// Outcome is the terminal write applied to a submission.
type Outcome struct {
	Status       Status
	OutputKey    *string
	ErrorMessage *string
}

// ListOptions controls filtering and pagination for List.
type ListOptions struct {
	Status Status
	Limit  int
	Offset int
}

// Store is the persistence interface for submission metadata.
// Implementations must be safe for concurrent use.
type Store interface {
	// Create inserts a new pending submission. ID must be set by the caller.
	Create(ctx context.Context, s *Submission) error

	// Get returns a submission by ID.
	Get(ctx context.Context, id string) (*Submission, error)

	// List returns submissions ordered by created_at descending.
	List(ctx context.Context, opts ListOptions) ([]Submission, error)

	// MarkRunning sets status to running if the submission is pending or
	// running. Only the status column is written.
	MarkRunning(ctx context.Context, id string) error

	// Finish writes the terminal status, output key, error message and
	// completion time in a single statement, only while the submission is
	// not yet terminal.
	Finish(ctx context.Context, id string, out Outcome) error

	// Close releases resources.
	Close() error
}
