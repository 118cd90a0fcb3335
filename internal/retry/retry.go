// Package retry implements the exponential-backoff retry combinator
// used by every upstream I/O call in the engine: graph store queries,
// source-DB reads, and embedding/LLM HTTP calls.
package retry

import (
	"context"
	"math"
	"time"
)

// Policy configures the retry combinator. Backoff follows
// base^attempt * factor, clamped to [Min, Max].
type Policy struct {
	MaxAttempts int
	Base        float64
	Factor      time.Duration
	Min         time.Duration
	Max         time.Duration
}

// DefaultPolicy matches the design's "base 2, factor 1, cap 10s" rule
// with a default of 2 attempts beyond the first try.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		Base:        2,
		Factor:      time.Second,
		Min:         2 * time.Second,
		Max:         10 * time.Second,
	}
}

// Backoff returns the sleep duration before the given zero-indexed
// retry attempt (0 = first retry, after the initial try failed).
func (p Policy) Backoff(attempt int) time.Duration {
	d := time.Duration(math.Pow(p.Base, float64(attempt))) * p.Factor
	if d < p.Min {
		d = p.Min
	}
	if d > p.Max {
		d = p.Max
	}
	return d
}

// Do runs op up to policy.MaxAttempts times, sleeping with exponential
// backoff between attempts, and returns the last error if every
// attempt fails. retryable decides whether a given error should be
// retried at all; a nil retryable retries every error. Cancellation
// from ctx propagates into the sleeping backoff and halts further
// attempts.
func Do(ctx context.Context, p Policy, retryable func(error) bool, op func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < max(1, p.MaxAttempts); attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if retryable != nil && !retryable(lastErr) {
			return lastErr
		}
		if attempt == p.MaxAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.Backoff(attempt)):
		}
	}
	return lastErr
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
