package request

import (
	"context"
	"sync/atomic"
)

// AbortController triggers an AbortSignal. The zero value is not usable; call NewAbortController.
type AbortController struct {
	signal *AbortSignal
}

// AbortSignal is the cancellation token handed to requests through Options.Abort.
type AbortSignal struct {
	ctx    context.Context
	cancel context.CancelFunc
	fired  atomic.Bool
}

// NewAbortController returns a controller with a fresh, untriggered signal.
func NewAbortController() *AbortController {
	ctx, cancel := context.WithCancel(context.Background())
	return &AbortController{signal: &AbortSignal{ctx: ctx, cancel: cancel}}
}

// Signal returns the controller's signal.
func (a *AbortController) Signal() *AbortSignal {
	return a.signal
}

// Abort triggers the signal. It reports false if the signal had already fired.
func (a *AbortController) Abort() bool {
	if !a.signal.fired.CompareAndSwap(false, true) {
		return false
	}
	a.signal.cancel()
	return true
}

// Aborted reports whether the signal has fired.
func (s *AbortSignal) Aborted() bool {
	return s != nil && s.fired.Load()
}

// Done is closed once the signal fires.
func (s *AbortSignal) Done() <-chan struct{} {
	return s.ctx.Done()
}

// bind derives a context from parent that is cancelled when s fires. The returned
// release func detaches the listener and must be called when the request finishes.
func (s *AbortSignal) bind(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	guard := &abortGuard{abort: cancel}

	if s.Aborted() {
		guard.fire()
		return ctx, cancel
	}

	stop := context.AfterFunc(s.ctx, func() { guard.fire() })
	return ctx, func() {
		stop()
		cancel()
	}
}

// abortGuard makes sure an in-flight request is aborted at most once.
type abortGuard struct {
	fired atomic.Bool
	abort func()
}

func (g *abortGuard) fire() bool {
	if !g.fired.CompareAndSwap(false, true) {
		return false
	}
	g.abort()
	return true
}
