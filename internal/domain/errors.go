package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions.
var (
	// ErrNotFound indicates that a requested entity was not found.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates that an entity already exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidInput indicates that the input data is invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrEmbedding indicates that a name could not be embedded. It ends the
	// batch: matching without embeddings would silently break guarantees.
	ErrEmbedding = errors.New("embedding failed")

	// ErrPromptAborted indicates that the human-interaction backend could not
	// deliver an answer (closed input, interrupted dialog).
	ErrPromptAborted = errors.New("prompt aborted")

	// ErrServiceUnavailable indicates that an external service is unavailable.
	ErrServiceUnavailable = errors.New("service unavailable")
)

// ValidationError represents a validation error for a specific field.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// NotFoundError provides details about a not found entity.
type NotFoundError struct {
	Entity string
	ID     string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// AlreadyExistsError provides details about a duplicate entity.
type AlreadyExistsError struct {
	Entity string
	ID     string
}

// Error implements the error interface.
func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("%s already exists: %s", e.Entity, e.ID)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *AlreadyExistsError) Unwrap() error {
	return ErrAlreadyExists
}

// EmbeddingError wraps a failure from the embedding backend.
type EmbeddingError struct {
	Provider string
	Text     string
	Cause    error
}

// Error implements the error interface.
func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("%s: embedding %q failed: %v", e.Provider, e.Text, e.Cause)
}

// Is reports ErrEmbedding so callers can test with errors.Is.
func (e *EmbeddingError) Is(target error) bool {
	return target == ErrEmbedding
}

// Unwrap returns the underlying cause error.
func (e *EmbeddingError) Unwrap() error {
	return e.Cause
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(entity, id string) *NotFoundError {
	return &NotFoundError{
		Entity: entity,
		ID:     id,
	}
}

// NewAlreadyExistsError creates a new AlreadyExistsError.
func NewAlreadyExistsError(entity, id string) *AlreadyExistsError {
	return &AlreadyExistsError{
		Entity: entity,
		ID:     id,
	}
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// NewEmbeddingError creates a new EmbeddingError.
func NewEmbeddingError(provider, text string, cause error) *EmbeddingError {
	return &EmbeddingError{
		Provider: provider,
		Text:     text,
		Cause:    cause,
	}
}
