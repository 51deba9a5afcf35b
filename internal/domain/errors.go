package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidStatus  = errors.New("invalid event status")
	ErrInvalidEvent   = errors.New("invalid event")
	ErrRetryable      = errors.New("retryable")
	ErrSessionUnknown = errors.New("session has no events")
	ErrSessionEnded   = errors.New("session already reached a terminal state")
)

// RetryableError marks a transient failure (store throttling, network blips,
// a gateway that asked to be called again). Callers own the retry decision.
type RetryableError struct {
	Op  string
	Err error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("%s: %v (retryable)", e.Op, e.Err)
}

func (e *RetryableError) Unwrap() []error {
	return []error{ErrRetryable, e.Err}
}

// Retryable wraps err so that IsRetryable reports true. A nil err stays nil.
func Retryable(op string, err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Op: op, Err: err}
}

// IsRetryable reports whether err is transient.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRetryable)
}

func invalidEvent(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidEvent, fmt.Sprintf(format, args...))
}
