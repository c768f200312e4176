// Package stoppipe implements the cancellable wakeup primitive shared across
// every blocking operation a Session performs (session-request connect,
// Ctrl/Senkusha reads, the StreamConnection loops). It is the Go translation
// of a cross-platform "stop pipe" (a pipe/eventfd on Unix, a manual-reset
// event on Windows): once poked, any concurrent connect/recv is made to
// return promptly instead of blocking indefinitely.
package stoppipe

import (
	"context"
	"sync"
	"time"
)

// StopPipe is a one-shot, broadcast cancellation signal. Poke is idempotent:
// the first call closes the channel returned by Done and all subsequent
// calls are no-ops, matching the spec's "stop() pokes it exactly once;
// subsequent pokes are harmless".
type StopPipe struct {
	once sync.Once
	done chan struct{}
}

// New creates an unpoked StopPipe.
func New() *StopPipe {
	return &StopPipe{done: make(chan struct{})}
}

// Poke cancels the pipe. Safe to call from any goroutine, any number of times.
func (s *StopPipe) Poke() {
	s.once.Do(func() { close(s.done) })
}

// Done returns a channel that is closed once Poke has been called. Select on
// it alongside I/O-result channels to build cancelable blocking operations.
func (s *StopPipe) Done() <-chan struct{} {
	return s.done
}

// Stopped reports whether Poke has already been called.
func (s *StopPipe) Stopped() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Context returns a context.Context that is canceled when the pipe is poked.
// The returned cancel func must be called once the caller is done with it to
// release the internal goroutine, same as any context.WithCancel.
func (s *StopPipe) Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-s.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// WaitOrDeadline blocks until either the pipe is poked or budget elapses,
// whichever comes first. It returns true if the pipe was poked.
func (s *StopPipe) WaitOrDeadline(budget time.Duration) bool {
	if s.Stopped() {
		return true
	}
	timer := time.NewTimer(budget)
	defer timer.Stop()
	select {
	case <-s.done:
		return true
	case <-timer.C:
		return false
	}
}
