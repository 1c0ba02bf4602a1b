package domain

import (
	"errors"
	"fmt"
)

// Common domain errors.
var (
	// ErrNotFound is returned when a resource is not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConfigNotFound is returned when the tool configuration file is missing.
	ErrConfigNotFound = errors.New("tool configuration not found")

	// ErrStageFailed is returned when an external tool invocation exits non-zero.
	ErrStageFailed = errors.New("stage failed")

	// ErrStageTimeout is returned when a stage exceeds its time limit.
	ErrStageTimeout = errors.New("stage timed out")

	// ErrDuplicateOutcome is returned when a unit is recorded twice in one batch.
	ErrDuplicateOutcome = errors.New("unit outcome already recorded")
)

// NotFoundError wraps ErrNotFound with additional context.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e NotFoundError) Error() string {
	return e.Resource + " not found: " + e.ID
}

func (e NotFoundError) Unwrap() error {
	return ErrNotFound
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resource, id string) NotFoundError {
	return NotFoundError{Resource: resource, ID: id}
}

// ConfigNotFoundError wraps ErrConfigNotFound with the missing path and a hint.
type ConfigNotFoundError struct {
	Path    string
	Example string
}

func (e ConfigNotFoundError) Error() string {
	msg := "config file not found: " + e.Path
	if e.Example != "" {
		msg += " (copy " + e.Example + " to " + e.Path + " and edit it)"
	}
	return msg
}

func (e ConfigNotFoundError) Unwrap() error {
	return ErrConfigNotFound
}

// StageError describes a failed stage. It wraps ErrStageFailed or ErrStageTimeout.
type StageError struct {
	Stage    StageKind
	ExitCode int
	Excerpt  string
	TimedOut bool
}

func (e *StageError) Error() string {
	if e.TimedOut {
		return fmt.Sprintf("%s stage timed out: %s", e.Stage, e.Excerpt)
	}
	return fmt.Sprintf("%s stage exited with code %d: %s", e.Stage, e.ExitCode, e.Excerpt)
}

func (e *StageError) Unwrap() error {
	if e.TimedOut {
		return ErrStageTimeout
	}
	return ErrStageFailed
}
