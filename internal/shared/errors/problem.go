// Package errors provides RFC 7807 Problem Details for HTTP APIs.
package errors

import (
	"fmt"
	"net/http"
	"time"
)

// ProblemDetail represents an RFC 7807 Problem Details response.
// See: https://www.rfc-editor.org/rfc/rfc7807
type ProblemDetail struct {
	// Type is a URI reference that identifies the problem type.
	Type string `json:"type"`
	// Title is a short, human-readable summary of the problem type.
	Title string `json:"title"`
	// Status is the HTTP status code for this occurrence.
	Status int `json:"status"`
	// Detail is a human-readable explanation specific to this occurrence.
	Detail string `json:"detail,omitempty"`
	// Instance is a URI reference that identifies the specific occurrence.
	Instance string `json:"instance,omitempty"`
	// Extensions holds additional problem-specific properties.
	Extensions map[string]any `json:"extensions,omitempty"`
}

// Error implements the error interface.
func (p ProblemDetail) Error() string {
	if p.Detail != "" {
		return fmt.Sprintf("%s: %s", p.Title, p.Detail)
	}
	return p.Title
}

// WithDetail returns a copy with the given detail message.
func (p ProblemDetail) WithDetail(detail string) ProblemDetail {
	p.Detail = detail
	return p
}

// WithInstance returns a copy with the given instance URI.
func (p ProblemDetail) WithInstance(instance string) ProblemDetail {
	p.Instance = instance
	return p
}

// WithExtension returns a copy with an additional extension property.
func (p ProblemDetail) WithExtension(key string, value any) ProblemDetail {
	if p.Extensions == nil {
		p.Extensions = make(map[string]any)
	}
	p.Extensions[key] = value
	return p
}

// Common problem types as URI references.
const (
	TypeValidation  = "/problems/validation-error"
	TypeNotFound    = "/problems/not-found"
	TypeBadRequest  = "/problems/bad-request"
	TypeInternal    = "/problems/internal-error"
	TypeUnavailable = "/problems/subject-unavailable"
	TypeTimeout     = "/problems/resolve-timeout"
)

// Pre-defined problem templates for common scenarios.
var (
	// ErrNotFound indicates the requested resource was not found.
	ErrNotFound = ProblemDetail{
		Type:   TypeNotFound,
		Title:  "Resource Not Found",
		Status: http.StatusNotFound,
	}

	// ErrValidation indicates the request failed validation.
	ErrValidation = ProblemDetail{
		Type:   TypeValidation,
		Title:  "Validation Error",
		Status: http.StatusBadRequest,
	}

	// ErrBadRequest indicates the request was malformed.
	ErrBadRequest = ProblemDetail{
		Type:   TypeBadRequest,
		Title:  "Bad Request",
		Status: http.StatusBadRequest,
	}

	// ErrInternal indicates an unexpected server error.
	ErrInternal = ProblemDetail{
		Type:   TypeInternal,
		Title:  "Internal Server Error",
		Status: http.StatusInternalServerError,
	}

	// ErrUnavailable indicates a subject whose remote data could not be
	// fetched after repeated attempts.
	ErrUnavailable = ProblemDetail{
		Type:   TypeUnavailable,
		Title:  "Subject Unavailable",
		Status: http.StatusServiceUnavailable,
	}

	// ErrTimeout indicates a blocking resolve that ran out of request
	// time before the subject finished loading.
	ErrTimeout = ProblemDetail{
		Type:   TypeTimeout,
		Title:  "Resolve Timed Out",
		Status: http.StatusGatewayTimeout,
	}
)

// NewValidationProblem creates a validation error with field-level details.
func NewValidationProblem(fieldErrors map[string]string) ProblemDetail {
	return ErrValidation.WithExtension("fields", fieldErrors)
}

// NewUnavailableProblem creates a 503 for a subject parked after
// exhausting its retries. A non-zero cooldownUntil is exposed so clients
// know when discovery will try the subject again on its own.
func NewUnavailableProblem(handle string, cooldownUntil time.Time) ProblemDetail {
	problem := ErrUnavailable.
		WithDetail(fmt.Sprintf("annotation for %q is unavailable after repeated failures", handle)).
		WithExtension("handle", handle)
	if !cooldownUntil.IsZero() {
		problem = problem.WithExtension("cooldownUntil", cooldownUntil.UTC().Format(time.RFC3339))
	}
	return problem
}

// NewTimeoutProblem creates a 504 for a blocking resolve abandoned when
// the request context expired. The subject keeps loading in the
// background, so clients can poll its status instead of retrying.
func NewTimeoutProblem(handle string) ProblemDetail {
	return ErrTimeout.
		WithDetail(fmt.Sprintf("resolving %q did not finish in time, check its status later", handle)).
		WithExtension("handle", handle)
}
