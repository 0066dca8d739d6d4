// Package retry provides an explicit retry policy object composed around
// operations, so backoff behavior is visible in the call graph instead of
// hidden behind decorators.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/containerd/log"
)

// Policy describes an exponential backoff schedule with jitter.
type Policy struct {
	// MaxAttempts caps the total number of tries, including the first one.
	MaxAttempts int
	// Base is the initial backoff interval.
	Base time.Duration
	// Factor multiplies the interval after every attempt.
	Factor float64
	// JitterPct randomizes each interval by ±JitterPct percent.
	JitterPct int
	// Max caps the interval between attempts.
	Max time.Duration
	// Retryable decides whether an error is worth another attempt. A nil
	// Retryable retries everything.
	Retryable func(error) bool
}

// DefaultPolicy matches the configured defaults for external collaborators:
// 5 attempts, 200ms base, factor 2, ±25% jitter, 10s cap.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 5,
		Base:        200 * time.Millisecond,
		Factor:      2,
		JitterPct:   25,
		Max:         10 * time.Second,
	}
}

// WithRetryable returns a copy of p using fn to classify retryable errors.
func (p Policy) WithRetryable(fn func(error) bool) Policy {
	p.Retryable = fn
	return p
}

func (p Policy) newBackOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.Base
	eb.Multiplier = p.Factor
	eb.RandomizationFactor = float64(p.JitterPct) / 100
	eb.MaxInterval = p.Max
	eb.MaxElapsedTime = 0 // attempts, not wall clock, bound the loop
	eb.Reset()

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(attempts-1)), ctx)
}

// Run invokes op until it succeeds, exhausts the attempt budget, hits a
// non-retryable error, or ctx is done. The last error is returned.
func (p Policy) Run(ctx context.Context, name string, op func(ctx context.Context) error) error {
	attempt := 0
	wrapped := func() error {
		attempt++
		err := op(ctx)
		if err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return backoff.Permanent(err)
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		log.G(ctx).WithFields(log.Fields{
			"op":      name,
			"attempt": attempt,
			"error":   err,
		}).Debug("retrying after transient failure")
		return err
	}
	err := backoff.Retry(wrapped, p.newBackOff(ctx))
	if perm, ok := err.(*backoff.PermanentError); ok {
		return perm.Err
	}
	return err
}
