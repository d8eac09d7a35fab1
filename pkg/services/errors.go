// Package services implements the flow backend: storage, activation rules and
// lifecycle notifications behind the HTTP API.
package services

import (
	"errors"
	"fmt"

	"github.com/dukex/leadflow/pkg/persistence"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest   = errors.New("invalid request")
	ErrInvalidSortField = errors.New("invalid sort field")
	ErrInvalidSortOrder = errors.New("invalid sort order")
	ErrFlowNameRequired = errors.New("flow name is required")
	ErrInvalidFlowData  = errors.New("invalid flow data")

	// ErrFlowNotFound is returned when a flow does not exist (404 Not Found).
	ErrFlowNotFound = persistence.ErrFlowNotFound

	// ErrActivationRejected wraps the graph.StructuralError listing why a flow
	// cannot run (422 Unprocessable Entity).
	ErrActivationRejected = errors.New("flow activation rejected")
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidSortField) ||
		errors.Is(err, ErrInvalidSortOrder) ||
		errors.Is(err, ErrFlowNameRequired) ||
		errors.Is(err, ErrInvalidFlowData)
}

// IsActivationRejected checks if an error should return HTTP 422.
func IsActivationRejected(err error) bool {
	return errors.Is(err, ErrActivationRejected)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
