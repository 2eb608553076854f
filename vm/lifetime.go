package vm

import "sync"

// ---------------------------------------------------------------------------
// Lifetime: end-of-life notification for objects
// ---------------------------------------------------------------------------

// Lifetime tracks whether its owner is still alive.
//
// Callbacks registered with OnEnded run exactly once, synchronously, on the
// goroutine that ends the lifetime. Registering after the end runs the
// callback immediately.
type Lifetime struct {
	mu        sync.Mutex
	ended     bool
	done      chan struct{}
	observers []func()
}

// NewLifetime creates a live lifetime.
func NewLifetime() *Lifetime {
	return &Lifetime{done: make(chan struct{})}
}

// Ended returns a channel that is closed when the lifetime ends.
func (l *Lifetime) Ended() <-chan struct{} {
	return l.done
}

// IsEnded returns true once the lifetime has ended.
func (l *Lifetime) IsEnded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ended
}

// OnEnded registers fn to run when the lifetime ends.
func (l *Lifetime) OnEnded(fn func()) {
	l.mu.Lock()
	if l.ended {
		l.mu.Unlock()
		fn()
		return
	}
	l.observers = append(l.observers, fn)
	l.mu.Unlock()
}

// end ends the lifetime. Observers run outside the lock, in registration
// order.
func (l *Lifetime) end() {
	l.mu.Lock()
	if l.ended {
		l.mu.Unlock()
		return
	}
	l.ended = true
	observers := l.observers
	l.observers = nil
	close(l.done)
	l.mu.Unlock()

	for _, fn := range observers {
		fn()
	}
}
