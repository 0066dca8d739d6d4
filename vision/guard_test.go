package vision

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"gotest.tools/v3/assert"
	"gotest.tools/v3/assert/cmp"

	"github.com/parklens/parklens/api/types"
	"github.com/parklens/parklens/errdefs"
	"github.com/parklens/parklens/pkg/retry"
)

func fastPolicy(attempts int) retry.Policy {
	p := retry.DefaultPolicy()
	p.MaxAttempts = attempts
	p.Base = time.Millisecond
	p.Max = 5 * time.Millisecond
	return p
}

func TestGuardPassesThroughSuccess(t *testing.T) {
	fake := NewFakeClient().Respond(&Bundle{
		Labels: []types.Label{{Name: "tree", Confidence: 0.9}},
	})
	g := NewGuard(fake, GuardOptions{Retry: fastPolicy(3)})

	bundle, err := g.Annotate(context.Background(), []byte("img"), []Feature{FeatureLabels})
	assert.NilError(t, err)
	assert.Assert(t, cmp.Len(bundle.Labels, 1))
	assert.Check(t, cmp.Equal(fake.Calls(), 1))
	assert.Check(t, g.Available())
}

func TestGuardRetriesTransientFailures(t *testing.T) {
	fake := NewFakeClient().
		Fail(errdefs.VisionService(errors.New("flaky"), true)).
		Respond(&Bundle{})
	g := NewGuard(fake, GuardOptions{Retry: fastPolicy(3)})

	_, err := g.Annotate(context.Background(), []byte("img"), []Feature{FeatureLabels})
	assert.NilError(t, err)
	assert.Check(t, cmp.Equal(fake.Calls(), 2))
}

func TestGuardDoesNotRetryPermanentFailures(t *testing.T) {
	fake := NewFakeClient().Fail(errdefs.Validation(errors.New("bad image")))
	g := NewGuard(fake, GuardOptions{Retry: fastPolicy(5)})

	_, err := g.Annotate(context.Background(), []byte("img"), []Feature{FeatureLabels})
	assert.Check(t, errdefs.IsValidation(err))
	assert.Check(t, cmp.Equal(fake.Calls(), 1))
}

func TestGuardOpensAfterConsecutiveFailures(t *testing.T) {
	fake := NewFakeClient().Fail(errdefs.VisionService(errors.New("down"), true))
	g := NewGuard(fake, GuardOptions{
		Retry:            fastPolicy(1),
		FailureThreshold: 3,
		OpenDuration:     time.Minute,
	})

	for i := 0; i < 3; i++ {
		_, err := g.Annotate(context.Background(), []byte("img"), []Feature{FeatureLabels})
		assert.Check(t, errdefs.IsVisionService(err))
	}
	assert.Check(t, !g.Available())

	calls := fake.Calls()
	_, err := g.Annotate(context.Background(), []byte("img"), []Feature{FeatureLabels})
	assert.Check(t, errdefs.IsUnavailable(err))
	assert.Check(t, cmp.Equal(errdefs.RetryAfter(err), 60))
	// fail-fast: the provider was not called
	assert.Check(t, cmp.Equal(fake.Calls(), calls))
}

func TestGuardHalfOpenProbeRecovers(t *testing.T) {
	fake := NewFakeClient().
		Fail(errdefs.VisionService(errors.New("down"), true)).
		Fail(errdefs.VisionService(errors.New("down"), true)).
		Respond(&Bundle{})
	g := NewGuard(fake, GuardOptions{
		Retry:            fastPolicy(1),
		FailureThreshold: 2,
		OpenDuration:     30 * time.Millisecond,
	})

	for i := 0; i < 2; i++ {
		_, err := g.Annotate(context.Background(), []byte("img"), []Feature{FeatureLabels})
		assert.Check(t, err != nil)
	}
	assert.Check(t, !g.Available())

	time.Sleep(50 * time.Millisecond)

	_, err := g.Annotate(context.Background(), []byte("img"), []Feature{FeatureLabels})
	assert.NilError(t, err)
	assert.Check(t, g.Available())

	_, err = g.Annotate(context.Background(), []byte("img"), []Feature{FeatureLabels})
	assert.NilError(t, err)
}
