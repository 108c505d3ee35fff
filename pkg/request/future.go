package request

import "context"

// Future is the pending result of a request started with Go. It resolves exactly once.
type Future struct {
	done  chan struct{}
	value any
	err   error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(value any, err error) {
	f.value, f.err = value, err
	close(f.done)
}

// Done is closed once the request has resolved.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the request resolves.
func (f *Future) Wait() (any, error) {
	<-f.done
	return f.value, f.err
}

// Await is Wait bounded by ctx. Giving up on the future does not abort the request;
// use an AbortSignal for that.
func (f *Future) Await(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
