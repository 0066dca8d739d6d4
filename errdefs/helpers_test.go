package errdefs

import (
	"context"
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"gotest.tools/v3/assert"
	"gotest.tools/v3/assert/cmp"
)

func TestClassifiers(t *testing.T) {
	base := fmt.Errorf("boom")

	for _, tc := range []struct {
		name  string
		err   error
		check func(error) bool
		code  string
	}{
		{"validation", Validation(base), IsValidation, CodeValidation},
		{"notFound", NotFound(base), IsNotFound, CodeNotFound},
		{"imageNotFound", ImageNotFound(base), IsNotFound, CodeImageNotFound},
		{"rateLimit", RateLimit(base, 30), IsRateLimit, CodeRateLimit},
		{"vision", VisionService(base, true), IsVisionService, CodeVisionService},
		{"storage", Storage(base, false), IsStorage, CodeStorage},
		{"unavailable", Unavailable(base, 60), IsUnavailable, CodeUnavailable},
		{"timeout", Timeout(base), IsTimeout, CodeTimeout},
		{"cache", Cache(base), IsCache, CodeCache},
		{"processing", Processing(base, "decode"), IsProcessing, CodeProcessing},
	} {
		t.Run(tc.name, func(t *testing.T) {
			assert.Check(t, tc.check(tc.err))
			assert.Check(t, cmp.Equal(Code(tc.err), tc.code))
			assert.Check(t, cmp.ErrorContains(tc.err, "boom"))
		})
	}
}

func TestClassifierSurvivesWrapping(t *testing.T) {
	err := errors.Wrap(NotFound(fmt.Errorf("no such image")), "lookup")
	assert.Check(t, IsNotFound(err))
	assert.Check(t, !IsValidation(err))
	assert.Check(t, cmp.Equal(Code(err), CodeNotFound))
}

func TestTransient(t *testing.T) {
	assert.Check(t, IsTransient(VisionService(fmt.Errorf("502"), true)))
	assert.Check(t, !IsTransient(VisionService(fmt.Errorf("bad request"), false)))
	assert.Check(t, IsTransient(Unavailable(fmt.Errorf("circuit open"), 60)))
	assert.Check(t, IsTransient(Timeout(fmt.Errorf("deadline"))))
	assert.Check(t, !IsTransient(Validation(fmt.Errorf("bad"))))
}

func TestContextDeadlineIsTimeout(t *testing.T) {
	assert.Check(t, IsTimeout(context.DeadlineExceeded))
	assert.Check(t, IsTimeout(errors.Wrap(context.DeadlineExceeded, "call")))
	assert.Check(t, cmp.Equal(Code(context.DeadlineExceeded), CodeTimeout))
	assert.Check(t, cmp.Equal(Code(errors.Wrap(context.DeadlineExceeded, "call")), CodeTimeout))
}

func TestRetryAfter(t *testing.T) {
	assert.Check(t, cmp.Equal(RetryAfter(Unavailable(fmt.Errorf("open"), 60)), 60))
	assert.Check(t, cmp.Equal(RetryAfter(Validation(fmt.Errorf("bad"))), 0))
}

func TestNilPassthrough(t *testing.T) {
	assert.Check(t, Validation(nil) == nil)
	assert.Check(t, NotFound(nil) == nil)
	assert.Check(t, cmp.Equal(Code(nil), ""))
}

func TestDoubleWrapKeepsKind(t *testing.T) {
	err := NotFound(NotFound(fmt.Errorf("x")))
	assert.Check(t, IsNotFound(err))
	assert.Check(t, cmp.Equal(Code(err), CodeNotFound))
}
