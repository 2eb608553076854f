package stream

import (
	"context"
	"sync"

	"github.com/eapache/queue"
)

// Values adapts the signal to a channel. Values are buffered without bound
// so a slow reader never blocks Send. The channel is closed after the
// signal completes and the buffer drains, or when ctx is done.
func (s *Signal[T]) Values(ctx context.Context) <-chan T {
	out := make(chan T)
	b := &buffer{q: queue.New()}
	b.cond = sync.NewCond(&b.mu)

	sub := s.Observe(func(v T) { b.push(v) }, b.close)

	stop := context.AfterFunc(ctx, b.close)
	go func() {
		defer close(out)
		defer stop()
		defer sub.Dispose()

		for {
			v, ok := b.pop()
			if !ok {
				return
			}
			select {
			case out <- v.(T):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

type buffer struct {
	mu     sync.Mutex
	cond   *sync.Cond
	q      *queue.Queue
	closed bool
}

func (b *buffer) push(v any) {
	b.mu.Lock()
	if !b.closed {
		b.q.Add(v)
	}
	b.mu.Unlock()
	b.cond.Signal()
}

func (b *buffer) close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.cond.Broadcast()
}

// pop blocks until a value is available. It returns false once the buffer
// is closed and empty.
func (b *buffer) pop() (any, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for b.q.Length() == 0 && !b.closed {
		b.cond.Wait()
	}
	if b.q.Length() == 0 {
		return nil, false
	}
	return b.q.Remove(), true
}
