package energygrid

import (
	"errors"
	"fmt"
	"time"
)

// Error type tags carried by ClientError.Type.
const (
	ErrorTypeNetwork    = "Network"
	ErrorTypeServer     = "Server"
	ErrorTypeClient     = "Client"
	ErrorTypeAuth       = "Auth"
	ErrorTypeValidation = "Validation"
	ErrorTypeDecode     = "Decode"
	ErrorTypeRateLimit  = "RateLimit"
	ErrorTypeTimeout    = "Timeout"
)

// Sentinel errors for common failure scenarios
var (
	// ErrRateLimited is returned when a request is denied due to rate limiting
	ErrRateLimited = errors.New("energygrid: rate limited")

	// ErrInvalidToken is returned when a bearer token fails structural validation
	ErrInvalidToken = errors.New("energygrid: invalid token")

	// ErrMissingTokens is returned when an auth response lacks the access or refresh token
	ErrMissingTokens = errors.New("energygrid: auth response missing tokens")

	// ErrNoSession is returned when an operation requires a stored credential and none exists
	ErrNoSession = errors.New("energygrid: no session")
)

// IsTransient determines if an error represents a transient failure that might succeed on retry.
// Returns true for network errors, timeouts and 5xx server responses. Returns false for 4xx
// client errors, auth failures and configuration errors.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrRateLimited) {
		return true
	}

	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		switch clientErr.Type {
		case ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeServer:
			return true
		default:
			return false
		}
	}

	return false
}

// ClientError is the rich error type surfaced by the client. Message is always
// human-readable; callers rendering UI state should use Message (or Fields when
// the server supplied a field-keyed validation map), never the raw error chain.
type ClientError struct {
	Type       string
	Message    string
	Cause      error
	RequestID  string
	Method     string
	URL        string
	Endpoint   string
	StatusCode int
	Attempt    int
	MaxRetries int
	Timestamp  time.Time
	Duration   time.Duration

	// Fields holds a field-keyed validation error map when the server provides
	// one (4xx envelope with an errors object). Nil otherwise.
	Fields map[string]string
}

// Error implements error interface.
func (e *ClientError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Cause != nil {
		msg = fmt.Sprintf("%s (%v)", msg, e.Cause)
	}
	if e.RequestID != "" {
		msg = fmt.Sprintf("[%s] %s", e.RequestID, msg)
	}
	if e.Attempt > 0 {
		msg = fmt.Sprintf("%s (attempt %d/%d)", msg, e.Attempt, e.MaxRetries)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *ClientError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is compares error types for errors.Is.
func (e *ClientError) Is(target error) bool {
	if e == nil {
		return false
	}
	if targetErr, ok := target.(*ClientError); ok {
		return e.Type == targetErr.Type
	}
	return false
}

// DebugInfo renders a multi-line string with diagnostic context.
func (e *ClientError) DebugInfo() string {
	if e == nil {
		return "Error: <nil>"
	}
	info := fmt.Sprintf("Error Type: %s\n", e.Type)
	info += fmt.Sprintf("Message: %s\n", e.Message)
	if e.RequestID != "" {
		info += fmt.Sprintf("Request ID: %s\n", e.RequestID)
	}
	if e.Method != "" {
		info += fmt.Sprintf("Method: %s\n", e.Method)
	}
	if e.URL != "" {
		info += fmt.Sprintf("URL: %s\n", e.URL)
	}
	if e.Endpoint != "" {
		info += fmt.Sprintf("Endpoint: %s\n", e.Endpoint)
	}
	if e.StatusCode > 0 {
		info += fmt.Sprintf("Status Code: %d\n", e.StatusCode)
	}
	if e.Attempt > 0 {
		info += fmt.Sprintf("Attempt: %d/%d\n", e.Attempt, e.MaxRetries)
	}
	if !e.Timestamp.IsZero() {
		info += fmt.Sprintf("Timestamp: %s\n", e.Timestamp.Format(time.RFC3339))
	}
	if e.Duration > 0 {
		info += fmt.Sprintf("Duration: %v\n", e.Duration)
	}
	for field, msg := range e.Fields {
		info += fmt.Sprintf("Field %s: %s\n", field, msg)
	}
	if e.Cause != nil {
		info += fmt.Sprintf("Cause: %v\n", e.Cause)
	}
	return info
}

// errorMessage extracts the human-readable message for UI state publication.
// Always returns a non-empty string for a non-nil error.
func errorMessage(err error) string {
	if err == nil {
		return ""
	}
	var clientErr *ClientError
	if errors.As(err, &clientErr) && clientErr.Message != "" {
		return clientErr.Message
	}
	return err.Error()
}
