package intercept

import (
	"sync"
	"sync/atomic"

	"github.com/chazu/msgtap/stream"
	"github.com/chazu/msgtap/vm"
)

// Event is published once per intercepted invocation, after the original
// behavior has run.
type Event struct {
	Target   *vm.Object
	Selector vm.Selector
	// Seq numbers the events of one stream from 1.
	Seq uint64
	// Args holds the arguments after the receiver and selector. It is nil
	// until the argument stream has been requested.
	Args []vm.Value
}

// state is the interception of one selector on one object.
//
// It starts publishing bare events, switches to argument capture the first
// time the argument stream is requested and never switches back, and
// completes once when the object's lifetime ends.
type state struct {
	target    *vm.Object
	sel       vm.Selector
	signal    *stream.Signal[Event]
	wantsArgs atomic.Bool
	completed atomic.Bool
	seq       atomic.Uint64
}

func newState(target *vm.Object, sel vm.Selector) *state {
	return &state{target: target, sel: sel, signal: stream.New[Event]()}
}

func (s *state) requestArguments() {
	s.wantsArgs.Store(true)
}

// notify publishes inv. It is deferred by every route that performs an
// intercepted call, so layered patches reaching the same call publish it
// only once.
func (s *state) notify(inv *vm.Invocation, capture template) {
	if s.completed.Load() || !inv.MarkOnce(s) {
		return
	}

	ev := Event{Target: s.target, Selector: s.sel, Seq: s.seq.Add(1)}
	if s.wantsArgs.Load() {
		ev.Args = capture(inv)
	}
	s.signal.Send(ev)
}

func (s *state) complete() {
	if s.completed.CompareAndSwap(false, true) {
		s.signal.Complete()
	}
}

// ---------------------------------------------------------------------------
// Per-object state table
// ---------------------------------------------------------------------------

type instanceTable struct {
	mu     sync.Mutex
	states map[vm.Selector]*state
	ended  bool
}

// instances returns obj's state table, creating it and tying it to obj's
// lifetime on first use. An ended table stays behind so later requests on
// the disposed object keep answering with the same completed signals.
func (e *Engine) instances(obj *vm.Object) *instanceTable {
	if t, ok := e.objects.Load(obj); ok {
		return t.(*instanceTable)
	}

	t, loaded := e.objects.LoadOrStore(obj, &instanceTable{states: make(map[vm.Selector]*state)})
	tbl := t.(*instanceTable)
	if !loaded {
		obj.Lifetime().OnEnded(tbl.end)
	}
	return tbl
}

func (t *instanceTable) end() {
	t.mu.Lock()
	t.ended = true
	states := make([]*state, 0, len(t.states))
	for _, st := range t.states {
		states = append(states, st)
	}
	t.mu.Unlock()

	for _, st := range states {
		st.complete()
	}
}

func (e *Engine) lookupState(obj *vm.Object, sel vm.Selector) *state {
	if obj == nil {
		return nil
	}
	t, ok := e.objects.Load(obj)
	if !ok {
		return nil
	}
	tbl := t.(*instanceTable)
	tbl.mu.Lock()
	defer tbl.mu.Unlock()
	return tbl.states[sel]
}
