package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrorCategory classifies model-call failures. The category surfaces as a
// bracketed prefix on the error string so wrapped errors and log lines keep
// the classification.
type ErrorCategory string

const (
	CategorySchemaParse ErrorCategory = "schema_parse_error"
	CategorySemantic    ErrorCategory = "semantic_violation"
	CategoryTimeout     ErrorCategory = "timeout"
	CategoryRateLimit   ErrorCategory = "rate_limit"
	CategoryAuth        ErrorCategory = "auth_error"
	CategoryNetwork     ErrorCategory = "network"
	CategoryUnknown     ErrorCategory = "unknown"
)

// Error is a classified model-call failure.
type Error struct {
	Category ErrorCategory
	Message  string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Category, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Category, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a classified error.
func NewError(category ErrorCategory, message string) *Error {
	return &Error{Category: category, Message: message}
}

// WrapError builds a classified error around a cause.
func WrapError(category ErrorCategory, message string, err error) *Error {
	return &Error{Category: category, Message: message, Err: err}
}

// CategoryOf extracts the category from a classified error, or unknown when
// the error carries no classification.
func CategoryOf(err error) ErrorCategory {
	var le *Error
	if errors.As(err, &le) {
		return le.Category
	}
	return CategoryUnknown
}

// Repairable reports whether a failed call is worth a corrective re-prompt.
// Only malformed or semantically invalid responses are; transport and auth
// failures would just fail again.
func Repairable(err error) bool {
	switch CategoryOf(err) {
	case CategorySchemaParse, CategorySemantic:
		return true
	default:
		return false
	}
}

// classifyTransport maps transport-level errors shared by both provider
// SDKs. The second return is false when err is not a transport failure.
func classifyTransport(err error) (ErrorCategory, bool) {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return CategoryTimeout, true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		if ne.Timeout() {
			return CategoryTimeout, true
		}
		return CategoryNetwork, true
	}
	return CategoryUnknown, false
}

// classifyStatus maps a provider HTTP status to a category.
func classifyStatus(status int) ErrorCategory {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return CategoryAuth
	case status == http.StatusTooManyRequests:
		return CategoryRateLimit
	case status == http.StatusRequestTimeout:
		return CategoryTimeout
	case status >= 500:
		return CategoryNetwork
	default:
		return CategoryUnknown
	}
}

// snippet shortens raw model output for error messages.
func snippet(s string) string {
	const max = 160
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
