// Package errors provides consolidated error definitions for the entire
// project.
//
// It defines:
// - Sentinel errors for all error conditions
// - Error category checking functions
// - Error wrapping utilities
// - A collector for multi-field validation failures
package errors

import (
	"errors"
	"fmt"
)

// ============================================================================
// Sentinel errors for common conditions
// ============================================================================

var (
	// Validation errors
	ErrValidation       = errors.New("validation failed")
	ErrMissingField     = errors.New("missing required field")
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrOutOfRange       = errors.New("value out of range")
	ErrInvalidVector    = errors.New("invalid embedding vector")
	ErrInvalidTimeRange = errors.New("invalid time range")

	// Pool errors
	ErrPoolExhausted = errors.New("connection pool exhausted")
	ErrPoolClosed    = errors.New("connection pool closed")

	// Storage errors
	ErrStorage       = errors.New("storage engine error")
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrClosed        = errors.New("closed")

	// Retention errors
	ErrRetentionConfig     = errors.New("retention horizon outside valid range")
	ErrRetentionRunning    = errors.New("retention cycle already running")
	ErrArchiveVerification = errors.New("archive verification failed")

	// Ingestion errors
	ErrQueueFull = errors.New("ingest queue full")

	// Generic errors
	ErrTimeout  = errors.New("timeout")
	ErrInternal = errors.New("internal error")
)

// ============================================================================
// Helper functions for error checking
// ============================================================================

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// Join is a convenience wrapper for errors.Join
var Join = errors.Join

// New is a convenience wrapper for errors.New
var New = errors.New

// IsValidation returns true if err is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrMissingField) ||
		errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrOutOfRange) ||
		errors.Is(err, ErrInvalidVector) ||
		errors.Is(err, ErrInvalidTimeRange)
}

// IsNotFound returns true if err is a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsRetention returns true if err belongs to the retention path.
func IsRetention(err error) bool {
	return errors.Is(err, ErrRetentionConfig) ||
		errors.Is(err, ErrRetentionRunning) ||
		errors.Is(err, ErrArchiveVerification)
}

// IsRetriable returns true if the error is potentially retriable.
// Pool exhaustion and queue saturation clear on their own once load
// drops; a running retention cycle finishes.
func IsRetriable(err error) bool {
	return errors.Is(err, ErrPoolExhausted) ||
		errors.Is(err, ErrQueueFull) ||
		errors.Is(err, ErrRetentionRunning) ||
		errors.Is(err, ErrTimeout)
}

// ============================================================================
// Error wrapping utilities
// ============================================================================

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// ============================================================================
// Error constructors with context
// ============================================================================

// NewNotFound creates a not-found error with context.
func NewNotFound(entityType, identifier string) error {
	return fmt.Errorf("%s '%s': %w", entityType, identifier, ErrNotFound)
}

// NewAlreadyExists creates an already-exists error with context.
func NewAlreadyExists(entityType, identifier string) error {
	return fmt.Errorf("%s '%s': %w", entityType, identifier, ErrAlreadyExists)
}

// NewValidation creates a validation error with context.
func NewValidation(field, reason string) error {
	return fmt.Errorf("invalid %s: %s: %w", field, reason, ErrValidation)
}

// NewMissingField creates a missing field error.
func NewMissingField(field string) error {
	return fmt.Errorf("%s: %w", field, ErrMissingField)
}

// NewInvalidValue creates an invalid value error.
func NewInvalidValue(field string, value interface{}, reason string) error {
	return fmt.Errorf("invalid %s '%v': %s: %w", field, value, reason, ErrValidation)
}

// NewOutOfRange creates an out-of-range error naming the allowed bounds.
func NewOutOfRange(field string, value, min, max interface{}) error {
	return fmt.Errorf("%s '%v' outside [%v, %v]: %w", field, value, min, max, ErrOutOfRange)
}

// ============================================================================
// Validation Errors Collection
// ============================================================================

// ValidationErrors collects multiple validation errors.
type ValidationErrors struct {
	Errors []error
}

// NewValidationErrors creates a new ValidationErrors collector.
func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{}
}

// Add adds an error to the collection.
func (v *ValidationErrors) Add(err error) {
	if err != nil {
		v.Errors = append(v.Errors, err)
	}
}

// AddField adds a field validation error.
func (v *ValidationErrors) AddField(field, reason string) {
	v.Errors = append(v.Errors, NewValidation(field, reason))
}

// AddMissing adds a missing field error.
func (v *ValidationErrors) AddMissing(field string) {
	v.Errors = append(v.Errors, NewMissingField(field))
}

// HasErrors returns true if there are any errors.
func (v *ValidationErrors) HasErrors() bool {
	return len(v.Errors) > 0
}

// Error implements the error interface.
func (v *ValidationErrors) Error() string {
	if len(v.Errors) == 0 {
		return ""
	}
	if len(v.Errors) == 1 {
		return v.Errors[0].Error()
	}

	msg := fmt.Sprintf("validation failed with %d errors:", len(v.Errors))
	for _, err := range v.Errors {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Err returns nil if no errors, otherwise returns the ValidationErrors.
func (v *ValidationErrors) Err() error {
	if len(v.Errors) == 0 {
		return nil
	}
	return v
}

// Unwrap returns the first error for errors.Is/As support.
func (v *ValidationErrors) Unwrap() error {
	if len(v.Errors) == 0 {
		return nil
	}
	return v.Errors[0]
}
