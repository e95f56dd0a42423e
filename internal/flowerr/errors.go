// Package flowerr defines the error taxonomy shared by the flow client.
// Every type is a pointer error meant to be inspected with errors.As.
package flowerr

import (
	"errors"
	"fmt"
	"net/http"
)

// ValidationError reports a malformed payload, criteria or task field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

// ConfigurationError reports a reference that could not be resolved, such as
// an SSH key or project name.
type ConfigurationError struct {
	Msg string
	Err error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration error: %s: %v", e.Msg, e.Err)
	}
	return "configuration error: " + e.Msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

type NoMatchingAuctionError struct {
	ProjectID  string
	Criteria   string
	Considered int
}

func (e *NoMatchingAuctionError) Error() string {
	return fmt.Sprintf("no matching auctions in project %s for %s (%d considered)", e.ProjectID, e.Criteria, e.Considered)
}

type AuthenticationError struct {
	Msg string
	Err error
}

func (e *AuthenticationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed: %s: %v", e.Msg, e.Err)
	}
	return "authentication failed: " + e.Msg
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

type TimeoutError struct {
	Op  string
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout during %s: %v", e.Op, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// APIError is a non-2xx response, or a request that could not complete after
// the transport gave up retrying. StatusCode is 0 when no response arrived.
type APIError struct {
	StatusCode int
	Message    string
	Body       string
	Err        error
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" && e.StatusCode != 0 {
		msg = http.StatusText(e.StatusCode)
	}
	s := "api error"
	if e.StatusCode != 0 {
		s = fmt.Sprintf("api error [%d]", e.StatusCode)
	}
	if msg != "" {
		s += ": " + msg
	}
	if e.Body != "" {
		s += ": " + e.Body
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *APIError) Unwrap() error { return e.Err }

// OpError attaches operation context (project, order name) to a failure
// without hiding the underlying typed error.
type OpError struct {
	Op        string
	ProjectID string
	OrderName string
	Err       error
}

func (e *OpError) Error() string {
	s := e.Op
	if e.ProjectID != "" {
		s += " project=" + e.ProjectID
	}
	if e.OrderName != "" {
		s += " order=" + e.OrderName
	}
	return s + ": " + e.Err.Error()
}

func (e *OpError) Unwrap() error { return e.Err }

// IsNotFound reports whether err carries a 404 APIError.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// IsRetryable reports whether err is a transient transport failure.
func IsRetryable(err error) bool {
	var netErr *NetworkError
	var toErr *TimeoutError
	return errors.As(err, &netErr) || errors.As(err, &toErr)
}
