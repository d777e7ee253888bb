package store

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when the scheduling service has no record of
// the requested entity.
var ErrNotFound = errors.New("entity not found")

// TransientError marks a store failure that is worth retrying within the
// same cycle: connection failures, timeouts, and 5xx responses.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient store error during %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// FatalError marks a store failure that will not succeed on retry:
// validation rejections and other non-recoverable 4xx responses.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal store error during %s: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a retryable store failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
