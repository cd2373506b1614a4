package upstream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
)

// AuthError means the backend rejected the caller's credentials and the
// session cannot be recovered: a 401 that survived the single refresh-and-retry
// cycle, or a failed token refresh. Callers must force logout.
type AuthError struct {
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	if e.Message != "" {
		return "upstream: " + e.Message
	}
	return "upstream: authentication failed"
}

func (e *AuthError) Unwrap() error { return e.Err }

// APIError carries a non-2xx backend response. Message is surfaced to the user
// verbatim; Fields preserves per-field validation errors when the backend
// returns them.
type APIError struct {
	Status  int
	Message string
	Fields  map[string][]string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("upstream: backend returned %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("upstream: backend returned %d", e.Status)
}

// FieldMessage flattens per-field errors into a single user-facing string,
// matching how registration errors are presented.
func (e *APIError) FieldMessage() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, k+": "+strings.Join(e.Fields[k], ", "))
	}
	return strings.Join(lines, "\n")
}

// ValidationError is a local pre-submit field check failure. It is raised
// before any network call and shown inline next to the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return "validation: " + e.Field + ": " + e.Message
	}
	return "validation: " + e.Message
}

// NewValidation builds a field-level validation error.
func NewValidation(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// IsValidation reports whether err is a local validation failure.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsRetryable reports whether err is a transient transport failure (timeout,
// cancelled request, connection refused). Retryable errors are shown as a
// "try again later" state, never as a fatal error.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 502 && apiErr.Status <= 504
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// IsAuth reports whether err is an irrecoverable authentication failure.
func IsAuth(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}
