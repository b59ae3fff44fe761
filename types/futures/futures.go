// Package futures implements Future, a one-shot completion signal carrying an
// error, used to await the commit phase of checkpoint writes.
//
// A Future works like a latch: once resolved it never changes state, and any
// number of goroutines may await it. The write path of the storage layer
// returns two distinct futures per write -- one for the data-copy phase, one
// for the durability-finalizing commit -- so callers can pipeline copies and
// await commits in a batch at the end.
package futures

import (
	"context"
	"sync"
)

// Future is a one-shot, error-carrying completion signal.
//
// The zero value is not usable, create it with New or Resolved.
type Future struct {
	once sync.Once
	done chan struct{}
	err  error
}

// New returns an unresolved Future.
func New() *Future {
	return &Future{done: make(chan struct{})}
}

// Resolved returns a Future already resolved with err (which may be nil).
func Resolved(err error) *Future {
	f := New()
	f.Resolve(err)
	return f
}

// Resolve completes the future with err (nil for success). Only the first call
// has any effect.
func (f *Future) Resolve(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

// Done returns a channel that is closed when the future resolves. Useful in
// select statements.
func (f *Future) Done() <-chan struct{} { return f.done }

// Await blocks until the future resolves or ctx is cancelled, and returns the
// future's error (or the context's). Abandoning an Await doesn't undo the
// operation the future tracks.
func (f *Future) Await(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AwaitAll awaits every future and returns the first error found -- but only
// after all of them resolved, so no write is left in flight.
func AwaitAll(ctx context.Context, futures ...*Future) error {
	var firstErr error
	for _, f := range futures {
		if err := f.Await(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
