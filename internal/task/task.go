// Package task defines the task domain the assistant manages on behalf
// of users. Every store operation is scoped by the owning user id; there
// is no cross-user read or write path.
package task

import (
	"context"
	"errors"
	"time"
)

// Status of a task. Closed set.
type Status string

const (
	StatusPending Status = "pending"
	StatusDone    Status = "done"
)

// Valid reports whether the status is a permitted value.
func (s Status) Valid() bool {
	return s == StatusPending || s == StatusDone
}

// Sentinel errors returned by Store implementations.
var (
	// ErrTaskNotFound covers both a missing task and a task owned by a
	// different user; existence is never disclosed across users.
	ErrTaskNotFound = errors.New("task not found")

	// ErrInvalidTask is returned when a task fails validation.
	ErrInvalidTask = errors.New("invalid task")
)

// Task is one item on a user's task list.
type Task struct {
	ID        int64
	UserID    string
	Title     string
	Notes     string
	Status    Status
	DueDate   *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate checks the fields a caller controls.
func (t *Task) Validate() error {
	if t.UserID == "" {
		return errors.New("user id is required")
	}
	if t.Title == "" {
		return errors.New("title is required")
	}
	if t.Status != "" && !t.Status.Valid() {
		return errors.New("status must be \"pending\" or \"done\"")
	}
	return nil
}

// Filter narrows a listing. Zero value lists everything.
type Filter struct {
	Status Status
}

// Patch holds optional field updates; nil fields are left unchanged.
type Patch struct {
	Title   *string
	Notes   *string
	Status  *Status
	DueDate *time.Time
}

// Store is durable task persistence, always scoped by user.
type Store interface {
	// Create persists a new task and fills ID and timestamps. Status
	// defaults to pending.
	Create(ctx context.Context, t *Task) error

	// Get returns the task only if it is owned by userID.
	Get(ctx context.Context, id int64, userID string) (*Task, error)

	// List returns the user's tasks matching the filter, newest first.
	List(ctx context.Context, userID string, f Filter) ([]*Task, error)

	// Update applies the patch and returns the updated task.
	Update(ctx context.Context, id int64, userID string, p Patch) (*Task, error)

	// Delete removes the task.
	Delete(ctx context.Context, id int64, userID string) error
}
