// Package retry implements the pluggable retry policy used around
// object-store operations: a classifier that sorts errors into retryable
// vs terminal, wrapped around capped exponential backoff with jitter
// (base * factor^retries, capped at max, randomized by jitter).
package retry

import (
	"context"
	"math/rand"
	"time"
)

// Backoff returns a delay with exponential backoff based on the number of
// retries already attempted, using the same algorithm as gRPC's default
// backoff strategy.
func Backoff(base, maxNS, jitter, factor float64, retries int) time.Duration {
	if retries == 0 {
		return time.Duration(base)
	}
	backoff, max := base, maxNS
	for backoff < max && retries > 0 {
		backoff *= factor
		retries--
	}
	if backoff > max {
		backoff = max
	}
	backoff *= 1 + jitter*(rand.Float64()*2-1)
	if backoff < 0 {
		backoff = 0
	}
	return time.Duration(backoff)
}

// DefaultBackoff returns Backoff with gRPC's default jitter (0.2) and
// factor (1.6).
func DefaultBackoff(base, maxNS float64, retries int) time.Duration {
	return Backoff(base, maxNS, 0.2, 1.6, retries)
}

// Classifier decides whether an error returned by the object store is worth
// retrying.
type Classifier func(err error) bool

// Policy wraps a single object-store call with capped exponential backoff,
// retrying while the classifier says the error is transient.
type Policy struct {
	BaseNS    float64
	MaxNS     float64
	Jitter    float64
	Factor    float64
	MaxRetry  int
	Classify  Classifier
}

// Default returns a Policy using gRPC-style defaults and a classifier that
// retries nothing (callers should supply a Classifier appropriate to their
// object store; conditional-commit races are handled by the table core, not
// by this policy, since a race is a correctness signal, not a transient
// fault).
func Default() Policy {
	return Policy{
		BaseNS:   float64(10 * time.Millisecond),
		MaxNS:    float64(5 * time.Second),
		Jitter:   0.2,
		Factor:   1.6,
		MaxRetry: 5,
		Classify: func(error) bool { return false },
	}
}

// Do runs fn, retrying on transient errors (per Classify) with capped
// exponential backoff, up to MaxRetry retries after the first attempt
// (MaxRetry+1 calls of fn in all). It returns the last error if
// every attempt fails, or nil on first success. ctx cancellation aborts the
// wait between attempts.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt <= p.MaxRetry; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if p.Classify == nil || !p.Classify(err) || attempt == p.MaxRetry {
			return err
		}
		delay := Backoff(p.BaseNS, p.MaxNS, p.Jitter, p.Factor, attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}
