package types

import (
	"context"
	"fmt"
	"net/http"
)

// Request error codes reported by HTTPClient implementations.
const (
	// CodeHTTPStatus marks a response whose status code is 400 or above.
	CodeHTTPStatus = "http-status"
	// CodeRequestFailed marks a generic transport failure (connection refused, reset, DNS ...).
	CodeRequestFailed = "request-failed"
	// CodeTimeout marks a request that exceeded its deadline.
	CodeTimeout = "timeout"
	// CodeHostnameMismatch marks a TLS certificate that is not valid for the requested host.
	CodeHostnameMismatch = "tls-hostname-mismatch"
	// CodeHostDisabled marks a request that was never sent because its host is disabled.
	CodeHostDisabled = "host-disabled"
	// CodeBodyTooLarge marks a response whose body exceeds the client's size limit.
	CodeBodyTooLarge = "body-too-large"
)

// RequestOptions configures a single GET request.
type RequestOptions struct {
	Headers map[string]string
	// IgnoreErrorStatus returns responses with a status code of 400 or above
	// instead of failing with a RequestError.
	IgnoreErrorStatus bool
}

// HTTPResponse is a fully read HTTP response.
type HTTPResponse struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// HTTPClient performs GET requests against registries and token services.
type HTTPClient interface {
	Get(ctx context.Context, url string, opts RequestOptions) (*HTTPResponse, error)
}

// RequestError describes a failed request at the HTTP-call boundary.
type RequestError struct {
	StatusCode int    // HTTP status, zero when no response was received.
	Code       string // One of the Code* constants.
	Host       string // Host the request was sent to.
	URL        string
	Err        error
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("GET %s: %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
	}

	if e.Err != nil {
		return fmt.Sprintf("GET %s: %s: %v", e.URL, e.Code, e.Err)
	}

	return fmt.Sprintf("GET %s: %s", e.URL, e.Code)
}

// Unwrap returns the underlying transport error, if any.
func (e *RequestError) Unwrap() error {
	return e.Err
}
