// Package remote wraps calls made by clients of the host with a per-attempt
// timeout and exponential backoff.
//
// The host itself never retries. It reports the outcome of every call it has
// started, so an attempt that timed out before running is the only kind
// retried, and re-sending an ordinal overwrites the previous copy.
package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy controls how Call retries.
type Policy struct {
	// Attempts is the total number of tries, including the first.
	// Values below 1 are treated as 1.
	Attempts int

	// Timeout bounds each attempt. Zero means no per-attempt limit.
	Timeout time.Duration

	// InitialInterval is the first backoff delay.
	InitialInterval time.Duration

	// MaxInterval caps the backoff delay. Zero uses the backoff default.
	MaxInterval time.Duration

	// Retryable reports whether an error is worth retrying.
	// Nil retries every error except those marked Permanent.
	Retryable func(error) bool
}

// DefaultPolicy returns the policy used when configuration says nothing.
func DefaultPolicy() Policy {
	return Policy{
		Attempts:        5,
		Timeout:         10 * time.Second,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     5 * time.Second,
	}
}

// Permanent marks err as not retryable.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Call runs op until it succeeds, returns a permanent error, exhausts
// p.Attempts, or ctx is done. Each attempt gets its own context bounded by
// p.Timeout.
func Call[T any](ctx context.Context, p Policy, name string, op func(context.Context) (T, error)) (T, error) {
	attempts := max(p.Attempts, 1)

	opts := []backoff.ExponentialBackOffOpts{backoff.WithMaxElapsedTime(0)}
	if p.InitialInterval > 0 {
		opts = append(opts, backoff.WithInitialInterval(p.InitialInterval))
	}
	if p.MaxInterval > 0 {
		opts = append(opts, backoff.WithMaxInterval(p.MaxInterval))
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(opts...), uint64(attempts-1)),
		ctx,
	)

	tries := 0
	attempt := func() (T, error) {
		tries++
		attemptCtx := ctx
		if p.Timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, p.Timeout)
			defer cancel()
		}

		result, err := op(attemptCtx)
		if err == nil {
			return result, nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return result, backoff.Permanent(err)
		}
		return result, err
	}

	result, err := backoff.RetryNotifyWithData(attempt, policy, func(err error, next time.Duration) {
		slog.Debug("retrying call", "call", name, "attempt", tries, "error", err, "backoff", next)
	})
	if err != nil {
		var zero T
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			err = fmt.Errorf("%w (last error: %v)", ctxErr, err)
		}
		return zero, fmt.Errorf("%s failed after %d attempt(s): %w", name, tries, err)
	}
	return result, nil
}

// Do is Call for operations with no result.
func Do(ctx context.Context, p Policy, name string, op func(context.Context) error) error {
	_, err := Call(ctx, p, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}
