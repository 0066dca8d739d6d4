package vision

import (
	"context"
	"time"

	"github.com/containerd/log"
	"github.com/pkg/errors"
	"github.com/sony/gobreaker"

	"github.com/parklens/parklens/errdefs"
	"github.com/parklens/parklens/pkg/retry"
)

const (
	// breakerFailureThreshold trips the breaker after this many consecutive
	// failed annotate calls.
	breakerFailureThreshold = 5

	// breakerOpenDuration is how long the breaker stays open before
	// admitting a single probe.
	breakerOpenDuration = 60 * time.Second
)

// GuardOptions tunes a Guard.
type GuardOptions struct {
	// Retry is the per-call retry policy. Zero value selects the default.
	Retry retry.Policy
	// FailureThreshold overrides breakerFailureThreshold when positive.
	FailureThreshold uint32
	// OpenDuration overrides breakerOpenDuration when positive.
	OpenDuration time.Duration
}

// Guard decorates a Client with retries and a circuit breaker. A call that
// still fails after retries counts as one breaker failure; once the breaker
// opens, calls fail fast as unavailable until a half-open probe succeeds.
type Guard struct {
	inner  Client
	cb     *gobreaker.CircuitBreaker
	policy retry.Policy
	open   time.Duration
}

// NewGuard wraps inner.
func NewGuard(inner Client, opts GuardOptions) *Guard {
	threshold := opts.FailureThreshold
	if threshold == 0 {
		threshold = breakerFailureThreshold
	}
	openFor := opts.OpenDuration
	if openFor <= 0 {
		openFor = breakerOpenDuration
	}
	policy := opts.Retry
	if policy.MaxAttempts == 0 {
		policy = retry.DefaultPolicy()
	}
	policy = policy.WithRetryable(retryableVision)

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "vision",
		MaxRequests: 1,
		Timeout:     openFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.L.WithFields(log.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("vision breaker state change")
		},
	})
	return &Guard{inner: inner, cb: cb, policy: policy, open: openFor}
}

func retryableVision(err error) bool {
	if errdefs.IsValidation(err) {
		return false
	}
	if errdefs.IsVisionService(err) && !errdefs.IsTransient(err) {
		return false
	}
	return true
}

// Annotate calls the wrapped client through the breaker and retry policy.
func (g *Guard) Annotate(ctx context.Context, imageData []byte, features []Feature) (*Bundle, error) {
	res, err := g.cb.Execute(func() (interface{}, error) {
		var bundle *Bundle
		err := g.policy.Run(ctx, "vision annotate", func(ctx context.Context) error {
			var err error
			bundle, err = g.inner.Annotate(ctx, imageData, features)
			return err
		})
		return bundle, err
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, errdefs.Unavailable(errors.New("vision service circuit open"), int(g.open/time.Second))
		}
		if errdefs.IsVisionService(err) || errdefs.IsValidation(err) {
			return nil, err
		}
		return nil, errdefs.VisionService(err, true)
	}
	return res.(*Bundle), nil
}

// Available reports whether the breaker currently admits calls.
func (g *Guard) Available() bool {
	return g.cb.State() != gobreaker.StateOpen
}
