// Package stream provides a broadcast signal: values sent on it are
// delivered synchronously to every current observer, and it ends with a
// single completion.
package stream

import (
	"sync"

	"github.com/google/uuid"
)

// Disposable ends an observation. Dispose is idempotent.
type Disposable interface {
	Dispose()
}

// Signal is a hot broadcast stream of T.
//
// Send delivers on the caller's goroutine, in observer registration order,
// without holding the signal's lock, so observers may send, observe or
// dispose re-entrantly. After Complete every further Send is ignored.
type Signal[T any] struct {
	id uuid.UUID

	mu        sync.Mutex
	observers []*observer[T]
	completed bool
}

type observer[T any] struct {
	value     func(T)
	completed func()

	mu       sync.Mutex
	disposed bool
	// inflight counts value callbacks running now. A completion arriving
	// while one runs is handed to the last of them.
	inflight int
	pending  bool
}

// New creates an open signal.
func New[T any]() *Signal[T] {
	return &Signal[T]{id: uuid.New()}
}

// ID returns the signal's identity.
func (s *Signal[T]) ID() uuid.UUID {
	return s.id
}

// Observe registers callbacks for values and for completion. Either may be
// nil. Observing a completed signal calls completed immediately.
func (s *Signal[T]) Observe(value func(T), completed func()) Disposable {
	o := &observer[T]{value: value, completed: completed}

	s.mu.Lock()
	if s.completed {
		s.mu.Unlock()
		if completed != nil {
			completed()
		}
		o.disposed = true
		return o
	}
	s.observers = append(s.observers, o)
	s.mu.Unlock()

	return &subscription[T]{signal: s, observer: o}
}

// Send delivers v to every observer. It is a no-op once completed.
func (s *Signal[T]) Send(v T) {
	s.mu.Lock()
	if s.completed {
		s.mu.Unlock()
		return
	}
	observers := s.observers
	s.mu.Unlock()

	for _, o := range observers {
		o.send(v)
	}
}

// Complete ends the signal. Observers are notified exactly once; later
// calls do nothing. An observer whose value callback is running on another
// goroutine is notified when that callback returns.
func (s *Signal[T]) Complete() {
	s.mu.Lock()
	if s.completed {
		s.mu.Unlock()
		return
	}
	s.completed = true
	observers := s.observers
	s.observers = nil
	s.mu.Unlock()

	for _, o := range observers {
		o.complete()
	}
}

// IsCompleted returns true once Complete has been called.
func (s *Signal[T]) IsCompleted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed
}

// NumObservers returns the number of live observers.
func (s *Signal[T]) NumObservers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.observers)
}

func (s *Signal[T]) remove(o *observer[T]) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, cur := range s.observers {
		if cur == o {
			// Copy so an in-flight Send keeps its snapshot intact.
			next := make([]*observer[T], 0, len(s.observers)-1)
			next = append(next, s.observers[:i]...)
			s.observers = append(next, s.observers[i+1:]...)
			return
		}
	}
}

// ---------------------------------------------------------------------------
// Observer
// ---------------------------------------------------------------------------

func (o *observer[T]) send(v T) {
	if o.value == nil {
		return
	}
	o.mu.Lock()
	if o.disposed {
		o.mu.Unlock()
		return
	}
	o.inflight++
	o.mu.Unlock()

	o.value(v)

	o.mu.Lock()
	o.inflight--
	run := o.pending && o.inflight == 0
	if run {
		o.pending = false
	}
	o.mu.Unlock()
	if run {
		o.completed()
	}
}

// complete runs the completion callback once no value callback is running,
// so no value is delivered after it.
func (o *observer[T]) complete() {
	o.mu.Lock()
	if o.disposed {
		o.mu.Unlock()
		return
	}
	o.disposed = true
	if o.inflight > 0 && o.completed != nil {
		o.pending = true
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()
	if o.completed != nil {
		o.completed()
	}
}

func (o *observer[T]) Dispose() {
	o.mu.Lock()
	o.disposed = true
	o.mu.Unlock()
}

type subscription[T any] struct {
	signal   *Signal[T]
	observer *observer[T]
	once     sync.Once
}

func (d *subscription[T]) Dispose() {
	d.once.Do(func() {
		d.observer.Dispose()
		d.signal.remove(d.observer)
	})
}
