// Package retry wraps remote calls in a bounded retry loop with exponential
// backoff and support for server-supplied retry delays.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	defaultMaxAttempts     = 5
	defaultInitialInterval = time.Second
	defaultMaxInterval     = 20 * time.Second
)

// Operation is a single attempt of a retried call.
type Operation func(ctx context.Context) error

// Policy describes how an Operation is retried. Rate-limit and transient
// failures share the same attempt counter.
type Policy struct {
	// MaxAttempts caps the number of attempts, including the first one.
	MaxAttempts int
	// NewBackOff builds the delay sequence for one call.
	NewBackOff func() backoff.BackOff
	// Retryable reports whether an attempt error may be retried.
	Retryable func(err error) bool
	// Sleep blocks for d or until ctx is done.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry is called before sleeping between attempts.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// Hinter is implemented by errors that carry a server-supplied retry delay,
// e.g. from a Retry-After header.
type Hinter interface {
	RetryAfter() time.Duration
}

// ExhaustedError is returned when every allowed attempt failed.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("giving up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Exponential returns a backoff factory with the given bounds and no jitter.
func Exponential(initial, maxInterval time.Duration) func() backoff.BackOff {
	return func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = initial
		b.MaxInterval = maxInterval
		b.Multiplier = 2
		b.RandomizationFactor = 0

		return b
	}
}

// Default returns the policy used for API and media calls: 5 attempts,
// exponential backoff between 1s and 20s, retrying whatever retryable says.
func Default(retryable func(error) bool) Policy {
	return Policy{
		MaxAttempts: defaultMaxAttempts,
		NewBackOff:  Exponential(defaultInitialInterval, defaultMaxInterval),
		Retryable:   retryable,
	}
}

// After returns the server-supplied delay carried by err, if any.
func After(err error) (time.Duration, bool) {
	var h Hinter
	if errors.As(err, &h) {
		if d := h.RetryAfter(); d > 0 {
			return d, true
		}
	}

	return 0, false
}

// Do runs op until it succeeds, returns a non-retryable error, the context is
// done or the attempt cap is reached.
func Do(ctx context.Context, p Policy, op Operation) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var b backoff.BackOff = &backoff.ZeroBackOff{}
	if p.NewBackOff != nil {
		b = p.NewBackOff()
	}

	b.Reset()

	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}

		if ctx.Err() != nil || p.Retryable == nil || !p.Retryable(err) {
			return err
		}

		if attempt >= maxAttempts {
			return &ExhaustedError{Attempts: attempt, Err: err}
		}

		delay := b.NextBackOff()
		if delay == backoff.Stop {
			return &ExhaustedError{Attempts: attempt, Err: err}
		}

		if hint, ok := After(err); ok {
			delay = hint
		}

		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, err)
		}

		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
