// Package retry runs an operation under a bounded exponential backoff.
// Only errors marked retryable by the domain are retried; anything else is
// returned after the first attempt.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go-relay/internal/config"
	"go-relay/internal/domain"
	"go-relay/internal/infrastructure/metrics"

	"github.com/cenkalti/backoff/v5"
)

// Policy bounds the retries of one operation.
type Policy struct {
	Attempts uint
	Initial  time.Duration
	Max      time.Duration

	// OnRetry, when set, is called before each wait.
	OnRetry func(op string, err error, wait time.Duration)
}

func FromConfig(cfg config.RetryConfig) Policy {
	return Policy{
		Attempts: cfg.Attempts,
		Initial:  cfg.InitialBackoff,
		Max:      cfg.MaxBackoff,
	}
}

// ExhaustedError is returned when every attempt failed with a retryable error.
type ExhaustedError struct {
	Op       string
	Attempts uint
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: gave up after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// IsExhausted reports whether err came from a policy that ran out of attempts.
func IsExhausted(err error) bool {
	var ex *ExhaustedError
	return errors.As(err, &ex)
}

func (p Policy) attempts() uint {
	if p.Attempts == 0 {
		return 1
	}
	return p.Attempts
}

func (p Policy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.Initial > 0 {
		b.InitialInterval = p.Initial
	}
	if p.Max > 0 {
		b.MaxInterval = p.Max
	}
	b.Multiplier = 2
	b.RandomizationFactor = 0.2
	return b
}

// Do runs fn until it succeeds, fails permanently or the policy is spent.
func Do[T any](ctx context.Context, p Policy, op string, fn func(context.Context) (T, error)) (T, error) {
	var tries uint
	opts := []backoff.RetryOption{
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(p.attempts()),
	}
	if p.OnRetry != nil {
		opts = append(opts, backoff.WithNotify(func(err error, wait time.Duration) {
			p.OnRetry(op, err, wait)
		}))
	}

	res, err := backoff.Retry(ctx, func() (T, error) {
		tries++
		v, err := fn(ctx)
		if err != nil && !domain.IsRetryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, opts...)

	if err != nil && domain.IsRetryable(err) && tries >= p.attempts() {
		metrics.IncRetryExhausted(op)
		return res, &ExhaustedError{Op: op, Attempts: tries, Err: err}
	}
	return res, err
}
