package client

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/dukex/leadflow/pkg/graph"
)

var (
	ErrNotFound       = errors.New("flow not found")
	ErrSessionExpired = errors.New("session expired")
)

// TransportError reports a failure to reach the backend or a server-side
// failure. It is safe to retry the request that produced it.
type TransportError struct {
	Op         string
	StatusCode int // Zero when no response was received
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: server responded %d: %v", e.Op, e.StatusCode, e.Err)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failed request may be sent again.
func (e *TransportError) Retryable() bool {
	return true
}

// AuthError reports that the request could not be authenticated, even after a
// token refresh.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// ActivationRejectedError carries the violations the backend found when it
// refused to activate a flow.
type ActivationRejectedError struct {
	Violations []graph.Violation
}

func (e *ActivationRejectedError) Error() string {
	return fmt.Sprintf("activation rejected with %d violation(s)", len(e.Violations))
}

// Unwrap exposes the violations as a *graph.StructuralError.
func (e *ActivationRejectedError) Unwrap() error {
	return &graph.StructuralError{Violations: e.Violations}
}

// RequestError is any other 4xx response, such as a malformed flow.
type RequestError struct {
	StatusCode int
	Title      string
	Detail     string
}

func (e *RequestError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%d %s: %s", e.StatusCode, e.Title, e.Detail)
	}

	return fmt.Sprintf("%d %s", e.StatusCode, e.Title)
}

// IsRetryable reports whether err comes from a request that may be retried.
func IsRetryable(err error) bool {
	var transport *TransportError

	return errors.As(err, &transport) && transport.Retryable()
}

// problem mirrors the RFC 7807 body returned by the API.
type problem struct {
	Type       string            `json:"type"`
	Title      string            `json:"title"`
	Status     int               `json:"status"`
	Detail     string            `json:"detail"`
	Violations []graph.Violation `json:"violations,omitempty"`
}

func statusError(op string, status int, body problem) error {
	if body.Title == "" {
		body.Title = http.StatusText(status)
	}

	switch {
	case status == http.StatusNotFound:
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &AuthError{Err: fmt.Errorf("%s: %s", op, body.Title)}
	case status == http.StatusUnprocessableEntity && len(body.Violations) > 0:
		return &ActivationRejectedError{Violations: body.Violations}
	case status >= http.StatusInternalServerError:
		return &TransportError{Op: op, StatusCode: status, Err: errors.New(body.Title)}
	default:
		return &RequestError{StatusCode: status, Title: body.Title, Detail: body.Detail}
	}
}
