package embedding

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError represents an error returned by an embedding API.
type APIError struct {
	// Provider is the name of the embedding provider.
	Provider string
	// StatusCode is the HTTP status code returned by the API. Zero means no
	// HTTP response was received.
	StatusCode int
	// Message is the error message from the API.
	Message string
	// Type is the error type classification from the API.
	Type string
	// Code is the provider-specific error code (if available).
	Code string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("%s: API error (status %d, type %s): %s", e.Provider, e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("%s: API error (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

// IsTransient returns true if the request may succeed on retry: rate
// limiting (429), server errors (5xx), and network errors (status 0).
func (e *APIError) IsTransient() bool {
	return e.StatusCode == 0 ||
		e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode >= 500
}

// errorType returns a low-cardinality label for metrics.
func (e *APIError) errorType() string {
	switch {
	case e.StatusCode == 0:
		return "network"
	case e.StatusCode == http.StatusTooManyRequests:
		return "rate_limit"
	case e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden:
		return "auth"
	case e.StatusCode >= 500:
		return "server"
	default:
		return "client"
	}
}

// isTransientError reports whether err wraps a transient APIError.
func isTransientError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.IsTransient()
	}
	return false
}

// errorTypeOf returns the metrics label for err.
func errorTypeOf(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.errorType()
	}
	return "other"
}
