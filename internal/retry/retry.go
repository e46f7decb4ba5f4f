// Package retry runs an operation under a bounded, randomized exponential
// backoff policy.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// Policy describes when and how long to wait before retrying an operation.
// The zero value is not usable, start from Default.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// MinBackoff and MaxBackoff bound every wait.
	MinBackoff time.Duration
	MaxBackoff time.Duration

	// Retryable reports whether err should be retried. Errors it rejects are
	// returned straight away.
	Retryable func(err error) bool

	// BeforeSleep is called before each wait. Optional.
	BeforeSleep func(attempt int, wait time.Duration, err error)

	// Sleep and Rand are replaced in tests. Rand returns a value in [0, 1).
	Sleep func(ctx context.Context, d time.Duration) error
	Rand  func() float64
}

// ExhaustedError is returned once MaxAttempts attempts have failed with
// retryable errors.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("giving up after %d attempts: %s", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Default returns a policy of 6 attempts waiting between 1s and 60s, which
// retries every error matching target.
func Default(target error) *Policy {
	return &Policy{
		MaxAttempts: 6,
		MinBackoff:  time.Second,
		MaxBackoff:  time.Minute,
		Retryable: func(err error) bool {
			return errors.Is(err, target)
		},
	}
}

// Backoff returns the wait before attempt+1, given that attempt (1-based)
// just failed. The upper bound doubles with every attempt starting at
// MinBackoff and is capped at MaxBackoff, the wait is drawn uniformly from
// [MinBackoff, upper).
func (p *Policy) Backoff(attempt int) time.Duration {
	upper := p.MaxBackoff
	if attempt-1 < 32 {
		if exp := p.MinBackoff << (attempt - 1); exp > 0 && exp < upper {
			upper = exp
		}
	}
	if upper <= p.MinBackoff {
		return p.MinBackoff
	}

	r := rand.Float64
	if p.Rand != nil {
		r = p.Rand
	}
	return p.MinBackoff + time.Duration(r()*float64(upper-p.MinBackoff))
}

// Do calls fn until it succeeds, returns a non-retryable error, or the attempt
// budget is spent. A cancelled ctx stops waiting and returns ctx.Err().
func (p *Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if p.Retryable == nil || !p.Retryable(err) {
			return err
		}
		if attempt >= p.MaxAttempts {
			return &ExhaustedError{Attempts: attempt, Err: err}
		}

		wait := p.Backoff(attempt)
		if p.BeforeSleep != nil {
			p.BeforeSleep(attempt, wait, err)
		}
		if serr := sleep(ctx, wait); serr != nil {
			return serr
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
