// Package errors provides the error taxonomy for page fetches and site scans.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// ErrorType categorizes fetch failures.
type ErrorType int

const (
	// Unknown is an uncategorized error.
	Unknown ErrorType = iota
	// Network represents network-related errors (DNS, connection).
	Network
	// Timeout represents timeout errors.
	Timeout
	// RateLimit represents 429 responses.
	RateLimit
	// Auth represents 401 and 403 responses.
	Auth
	// NotFound represents 404 responses.
	NotFound
	// ServerError represents 5xx responses.
	ServerError
	// ClientError represents other 4xx responses.
	ClientError
	// Status represents any other non-2xx response (1xx, 3xx left unfollowed).
	Status
	// Parse represents body decoding or HTML parsing errors.
	Parse
	// Cancelled represents context cancellation.
	Cancelled
)

// String returns the string representation of ErrorType.
func (t ErrorType) String() string {
	switch t {
	case Network:
		return "network"
	case Timeout:
		return "timeout"
	case RateLimit:
		return "rate_limit"
	case Auth:
		return "auth"
	case NotFound:
		return "not_found"
	case ServerError:
		return "server_error"
	case ClientError:
		return "client_error"
	case Status:
		return "status"
	case Parse:
		return "parse"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// FetchError is a categorized failure to fetch or read one page.
type FetchError struct {
	Type       ErrorType
	URL        string
	Operation  string
	Message    string
	Cause      error
	StatusCode int
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s error during %s on %s: %s (caused by: %v)",
			e.Type.String(), e.Operation, e.URL, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s error during %s on %s: %s",
		e.Type.String(), e.Operation, e.URL, e.Message)
}

// Unwrap returns the underlying error.
func (e *FetchError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a FetchError of the same type.
func (e *FetchError) Is(target error) bool {
	t, ok := target.(*FetchError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// NewFetchError creates a new FetchError.
func NewFetchError(errType ErrorType, url, operation, message string, cause error) *FetchError {
	return &FetchError{
		Type:      errType,
		URL:       url,
		Operation: operation,
		Message:   message,
		Cause:     cause,
	}
}

// NewNetworkError creates a network error.
func NewNetworkError(url, operation string, cause error) *FetchError {
	return NewFetchError(Network, url, operation, "network failure", cause)
}

// NewTimeoutError creates a timeout error.
func NewTimeoutError(url, operation string, cause error) *FetchError {
	return NewFetchError(Timeout, url, operation, "request timed out", cause)
}

// NewParseError creates a parse error.
func NewParseError(url, operation string, cause error) *FetchError {
	return NewFetchError(Parse, url, operation, "parsing failed", cause)
}

// NewCancelledError creates a cancelled error.
func NewCancelledError(url, operation string, cause error) *FetchError {
	return NewFetchError(Cancelled, url, operation, "operation cancelled", cause)
}

// NewStatusError creates an error for a response with the given code.
func NewStatusError(errType ErrorType, url string, statusCode int, message string) *FetchError {
	err := NewFetchError(errType, url, "request", message, nil)
	err.StatusCode = statusCode
	return err
}

// Categorize determines the error type from a generic error.
func Categorize(err error, url string) *FetchError {
	if err == nil {
		return nil
	}

	var fetchErr *FetchError
	if errors.As(err, &fetchErr) {
		return fetchErr
	}

	if errors.Is(err, context.Canceled) {
		return NewCancelledError(url, "request", err)
	}

	if isTimeout(err) {
		return NewTimeoutError(url, "request", err)
	}

	if isNetworkError(err) {
		return NewNetworkError(url, "request", err)
	}

	return NewFetchError(Unknown, url, "request", err.Error(), err)
}

// CategorizeHTTPStatus returns an error for every non-2xx status code, nil otherwise.
func CategorizeHTTPStatus(statusCode int, url string) *FetchError {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return nil
	case statusCode == 401:
		return NewStatusError(Auth, url, statusCode, "unauthorized")
	case statusCode == 403:
		return NewStatusError(Auth, url, statusCode, "forbidden")
	case statusCode == 404:
		return NewStatusError(NotFound, url, statusCode, "page not found")
	case statusCode == 429:
		return NewStatusError(RateLimit, url, statusCode, "rate limited")
	case statusCode >= 500:
		return NewStatusError(ServerError, url, statusCode, fmt.Sprintf("server returned %d", statusCode))
	case statusCode >= 400:
		return NewStatusError(ClientError, url, statusCode, fmt.Sprintf("client error %d", statusCode))
	default:
		return NewStatusError(Status, url, statusCode, fmt.Sprintf("unexpected status %d", statusCode))
	}
}

// isTimeout checks if an error is a timeout.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	errStr := err.Error()
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded")
}

// isNetworkError checks if an error is network-related.
func isNetworkError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) {
		return true
	}

	errStr := err.Error()
	return strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "dial tcp")
}

// GetStatusCode extracts the status code from an error.
func GetStatusCode(err error) int {
	var fetchErr *FetchError
	if errors.As(err, &fetchErr) {
		return fetchErr.StatusCode
	}
	return 0
}

// GetErrorType extracts the error type from an error.
func GetErrorType(err error) ErrorType {
	var fetchErr *FetchError
	if errors.As(err, &fetchErr) {
		return fetchErr.Type
	}
	return Unknown
}

// SiteError is a failure that aborts the scan of one seed URL.
type SiteError struct {
	URL   string
	Cause error
}

// NewSiteError wraps cause as the failure of the scan of url.
func NewSiteError(url string, cause error) *SiteError {
	return &SiteError{URL: url, Cause: cause}
}

// Error implements the error interface.
func (e *SiteError) Error() string {
	if e.Cause == nil {
		return "site scan failed"
	}
	return e.Cause.Error()
}

// Unwrap returns the underlying error.
func (e *SiteError) Unwrap() error {
	return e.Cause
}
