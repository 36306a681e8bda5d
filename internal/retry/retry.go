// Package retry runs an operation under a bounded attempt policy.
//
// Call sites differ only in configuration (attempt count, delay curve and
// which errors are worth retrying); the loop itself lives here and is driven
// by github.com/cenkalti/backoff/v4.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy describes how an operation is retried.
type Policy struct {
	// MaxAttempts is the total number of tries, including the first. Values
	// below 1 are treated as 1.
	MaxAttempts int
	// Backoff returns the delay to sleep after the given failed attempt
	// (1-based). Nil means no delay.
	Backoff func(attempt int) time.Duration
	// Retryable decides whether an error deserves another attempt. Nil means
	// every error is retried.
	Retryable func(error) bool
	// OnRetry is called before sleeping; useful for logging.
	OnRetry func(attempt int, err error, next time.Duration)
}

// Linear grows the delay by step per attempt: base, base+step, base+2*step...
func Linear(base, step time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		return base + time.Duration(attempt-1)*step
	}
}

// Exponential doubles the delay per attempt: base, 2*base, 4*base...
func Exponential(base time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		d := base
		for i := 1; i < attempt; i++ {
			d *= 2
		}
		return d
	}
}

// Constant always waits d.
func Constant(d time.Duration) func(int) time.Duration {
	return func(int) time.Duration { return d }
}

// schedule adapts a Policy to backoff.BackOff.
type schedule struct {
	p       Policy
	attempt int
}

func (s *schedule) NextBackOff() time.Duration {
	s.attempt++
	if s.attempt >= s.p.attempts() {
		return backoff.Stop
	}
	if s.p.Backoff == nil {
		return 0
	}
	return s.p.Backoff(s.attempt)
}

func (s *schedule) Reset() { s.attempt = 0 }

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Do runs op until it succeeds, returns a non-retryable error, the attempts
// are exhausted or ctx is done. op receives the 1-based attempt number. The
// last error from op is returned unchanged; a cancelled context yields
// ctx.Err().
func (p Policy) Do(ctx context.Context, op func(attempt int) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s := &schedule{p: p}
	attempt := 0
	operation := func() error {
		attempt++
		err := op(attempt)
		if err != nil && p.Retryable != nil && !p.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	var notify backoff.Notify
	if p.OnRetry != nil {
		notify = func(err error, next time.Duration) { p.OnRetry(attempt, err, next) }
	}
	return backoff.RetryNotify(operation, backoff.WithContext(s, ctx), notify)
}
