package vision

import (
	"context"
	"sync"
)

// FakeClient is a scripted Client for tests. Each Annotate call consumes
// the next scripted step; once the script runs out the last step repeats.
type FakeClient struct {
	mu    sync.Mutex
	steps []fakeStep
	calls int
}

type fakeStep struct {
	bundle *Bundle
	err    error
}

// NewFakeClient returns an empty fake. A fake with no script answers every
// call with an empty bundle.
func NewFakeClient() *FakeClient {
	return &FakeClient{}
}

// Respond appends a successful step returning bundle.
func (f *FakeClient) Respond(bundle *Bundle) *FakeClient {
	f.mu.Lock()
	f.steps = append(f.steps, fakeStep{bundle: bundle})
	f.mu.Unlock()
	return f
}

// Fail appends a failing step returning err.
func (f *FakeClient) Fail(err error) *FakeClient {
	f.mu.Lock()
	f.steps = append(f.steps, fakeStep{err: err})
	f.mu.Unlock()
	return f
}

// Calls reports how many times Annotate ran.
func (f *FakeClient) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *FakeClient) Annotate(ctx context.Context, imageData []byte, features []Feature) (*Bundle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	step := fakeStep{bundle: &Bundle{}}
	if len(f.steps) > 0 {
		i := f.calls
		if i >= len(f.steps) {
			i = len(f.steps) - 1
		}
		step = f.steps[i]
	}
	f.calls++
	f.mu.Unlock()
	if step.err != nil {
		return nil, step.err
	}
	return step.bundle, nil
}
