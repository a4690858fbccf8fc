// Package scope ties goroutines, timers and cleanups to the lifetime of
// one view so they are released together.
package scope

import (
	"context"
	"sync"
)

// Scope owns a context, the goroutines started on it and a stack of
// cleanup functions. Close cancels the context, runs the cleanups in
// reverse order and waits for the goroutines.
type Scope struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	cleanups []func()
	closed   bool
}

// New creates a scope whose context is derived from parent.
func New(parent context.Context) *Scope {
	ctx, cancel := context.WithCancel(parent)
	return &Scope{ctx: ctx, cancel: cancel}
}

// Context is cancelled when the scope closes.
func (s *Scope) Context() context.Context { return s.ctx }

// Go runs fn on a new goroutine. Close waits for it to return. Calling Go
// on a closed scope does nothing.
func (s *Scope) Go(fn func(ctx context.Context)) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		fn(s.ctx)
	}()
}

// Defer pushes fn onto the cleanup stack. On a closed scope fn runs
// immediately.
func (s *Scope) Defer(fn func()) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		fn()
		return
	}
	s.cleanups = append(s.cleanups, fn)
	s.mu.Unlock()
}

// Close tears the scope down. It is idempotent; only the first call runs
// cleanups, every call waits for the goroutines.
func (s *Scope) Close() {
	s.mu.Lock()
	first := !s.closed
	s.closed = true
	cleanups := s.cleanups
	s.cleanups = nil
	s.mu.Unlock()

	s.cancel()
	if first {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}
	s.wg.Wait()
}

// Closed reports whether Close has been called.
func (s *Scope) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
