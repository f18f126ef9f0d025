package downloader

import (
	"sync"
	"sync/atomic"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// errCancelled is delivered to a request's Token when it is cancelled
// before or during execution (spec §4.5.4, §5 "Cancellation").
var errCancelled = status.Error(codes.Canceled, "downloader: request cancelled")

// Callback is invoked once a Fetch/Prefetch request completes, whether
// it succeeds, fails or is cancelled.
type Callback func(err error)

// Token is returned by Fetch/Prefetch (spec §6.4). It can be cancelled,
// waited on synchronously, or have a callback attached for asynchronous
// delivery.
type Token struct {
	cancelled atomic.Bool
	done      chan struct{}
	dispatch  func(func())

	mu       sync.Mutex
	err      error
	finished bool
	cb       Callback
	onMain   bool
}

// newToken constructs a Token whose callbacks requesting main-thread
// delivery are routed through dispatch (the downloader's
// MainThreadDispatcher, or an inline call if none was configured).
func newToken(dispatch func(func())) *Token {
	return &Token{done: make(chan struct{}), dispatch: dispatch}
}

// Cancel marks the token cancelled; it does not remove the request from
// the queue itself. A request that has not yet begun execution is
// delivered a Cancelled callback when the worker reaches it, or at once
// under BlockingCancelAll; an in-flight HTTP range already paying its
// connection cost still completes and still has its bytes committed if
// valid (spec §4.5.4).
func (t *Token) Cancel() {
	t.cancelled.Store(true)
}

func (t *Token) isCancelled() bool {
	return t.cancelled.Load()
}

// Wait blocks until the request completes (successfully, with an
// error, or as cancelled) and returns its terminal error, if any.
func (t *Token) Wait() error {
	<-t.done
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Done reports whether the request has completed.
func (t *Token) Done() <-chan struct{} {
	return t.done
}

// OnComplete registers a callback to run on completion. If the request
// has already completed, the callback runs (subject to dispatch)
// immediately. onMainThread requests delivery through the downloader's
// MainThreadDispatcher, mirroring the engine's job-system hop (spec §5).
func (t *Token) OnComplete(cb Callback, onMainThread bool) {
	t.mu.Lock()
	if t.finished {
		err := t.err
		t.mu.Unlock()
		deliver(cb, err, onMainThread, t.dispatch)
		return
	}
	t.cb = cb
	t.onMain = onMainThread
	t.mu.Unlock()
}

func (t *Token) complete(err error) {
	t.mu.Lock()
	if t.finished {
		t.mu.Unlock()
		return
	}
	t.finished = true
	t.err = err
	cb := t.cb
	onMain := t.onMain
	t.mu.Unlock()
	close(t.done)
	if cb != nil {
		deliver(cb, err, onMain, t.dispatch)
	}
}

func deliver(cb Callback, err error, onMainThread bool, dispatch func(func())) {
	if onMainThread && dispatch != nil {
		dispatch(func() { cb(err) })
		return
	}
	cb(err)
}
