package intercept

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/chazu/msgtap/stream"
	"github.com/chazu/msgtap/vm"
)

// account is a small class with a balance slot and a counter of how often
// deposit: really ran.
type account struct {
	rt       *vm.Runtime
	class    *vm.Class
	deposits atomic.Int64

	deposit  vm.Selector
	balance  vm.Selector
	transfer vm.Selector
}

func newAccount(t *testing.T) *account {
	t.Helper()

	a := &account{rt: vm.NewRuntime()}
	a.class = a.rt.DefineClass("Account", nil, "balance")
	a.class.Define("deposit:", "v@:q", func(inv *vm.Invocation) {
		a.deposits.Add(1)
		self := inv.Target()
		self.SetSlot(0, vm.FromInt64(self.GetSlot(0).Int64()+inv.Int(2)))
	})
	a.class.Define("balance", "q@:", func(inv *vm.Invocation) {
		inv.SetReturn(inv.Target().GetSlot(0).Int64())
	})
	a.class.Define("transfer:to:", "B@:d@", func(inv *vm.Invocation) {
		inv.SetReturn(inv.Object(3) != nil && inv.Float(2) > 0)
	})

	a.deposit = a.rt.Intern("deposit:")
	a.balance = a.rt.Intern("balance")
	a.transfer = a.rt.Intern("transfer:to:")
	return a
}

func (a *account) newInstance() *vm.Object {
	obj := a.class.NewInstance()
	obj.SetSlot(0, vm.FromInt64(0))
	return obj
}

// recorder collects the events of a signal.
type recorder struct {
	mu          sync.Mutex
	events      []Event
	completions int
	late        int // events delivered after completion
}

func watch(sig *stream.Signal[Event]) *recorder {
	r := &recorder{}
	sig.Observe(func(ev Event) {
		r.mu.Lock()
		if r.completions > 0 {
			r.late++
		}
		r.events = append(r.events, ev)
		r.mu.Unlock()
	}, func() {
		r.mu.Lock()
		r.completions++
		r.mu.Unlock()
	})
	return r
}

func (r *recorder) snapshot() ([]Event, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...), r.completions
}

// both runs fn against an engine with trampolines and one that forwards
// every call.
func both(t *testing.T, fn func(t *testing.T, e *Engine)) {
	t.Run("trampolines", func(t *testing.T) { fn(t, New(Options{Trampolines: true})) })
	t.Run("forwarding", func(t *testing.T) { fn(t, New(Options{Trampolines: false})) })
}

func TestEngine_SameStreamTwice(t *testing.T) {
	both(t, func(t *testing.T, e *Engine) {
		a := newAccount(t)
		obj := a.newInstance()

		first := e.TriggerStream(obj, a.deposit)
		second := e.TriggerStream(obj, a.deposit)
		upgraded := e.ArgumentStream(obj, a.deposit)

		assert.Same(t, first, second)
		assert.Same(t, first, upgraded)
		assert.True(t, e.IsIntercepted(obj, a.deposit))
		assert.False(t, e.IsIntercepted(obj, a.balance))
	})
}

func TestEngine_EventsInCallOrder(t *testing.T) {
	both(t, func(t *testing.T, e *Engine) {
		a := newAccount(t)
		obj := a.newInstance()
		r := watch(e.ArgumentStream(obj, a.deposit))

		for i := 1; i <= 5; i++ {
			obj.Send("deposit:", i)
		}

		events, _ := r.snapshot()
		require.Len(t, events, 5)
		for i, ev := range events {
			assert.Equal(t, uint64(i+1), ev.Seq)
			assert.Same(t, obj, ev.Target)
			assert.Equal(t, a.deposit, ev.Selector)
			require.Len(t, ev.Args, 1)
			assert.Equal(t, int64(i+1), ev.Args[0].Int64())
		}

		assert.Equal(t, int64(5), a.deposits.Load(), "original ran once per call")
		assert.Equal(t, int64(15), obj.Send("balance").ReturnInt())
	})
}

func TestEngine_UpgradeMidLifetime(t *testing.T) {
	both(t, func(t *testing.T, e *Engine) {
		a := newAccount(t)
		obj := a.newInstance()
		r := watch(e.TriggerStream(obj, a.deposit))

		obj.Send("deposit:", 10)
		e.ArgumentStream(obj, a.deposit)
		obj.Send("deposit:", 20)
		e.TriggerStream(obj, a.deposit) // never downgrades
		obj.Send("deposit:", 30)

		events, _ := r.snapshot()
		require.Len(t, events, 3)
		assert.Nil(t, events[0].Args)
		require.Len(t, events[1].Args, 1)
		assert.Equal(t, int64(20), events[1].Args[0].Int64())
		require.Len(t, events[2].Args, 1)
		assert.Equal(t, int64(30), events[2].Args[0].Int64())
	})
}

func TestEngine_DisposeCompletesOnce(t *testing.T) {
	both(t, func(t *testing.T, e *Engine) {
		a := newAccount(t)
		obj := a.newInstance()
		deposits := watch(e.TriggerStream(obj, a.deposit))
		balances := watch(e.TriggerStream(obj, a.balance))

		obj.Send("deposit:", 1)
		obj.Dispose()
		obj.Dispose()
		obj.Send("deposit:", 2)

		events, completions := deposits.snapshot()
		assert.Len(t, events, 1)
		assert.Equal(t, 1, completions)

		_, completions = balances.snapshot()
		assert.Equal(t, 1, completions)

		assert.Equal(t, int64(2), a.deposits.Load(), "calls after dispose still run")
		assert.False(t, e.IsIntercepted(obj, a.deposit))
	})
}

func TestEngine_RequestsAfterDispose(t *testing.T) {
	a := newAccount(t)
	e := New(DefaultOptions())
	obj := a.newInstance()
	obj.Dispose()

	first := e.TriggerStream(obj, a.deposit)
	second := e.ArgumentStream(obj, a.deposit)
	assert.Same(t, first, second)
	assert.True(t, first.IsCompleted())

	assert.Same(t, a.class, obj.RuntimeClass(), "a disposed object is not retargeted")
	assert.Nil(t, e.lookupRecord(a.class))

	live := a.newInstance()
	sig := e.TriggerStream(live, a.deposit)
	live.Dispose()
	assert.Same(t, sig, e.TriggerStream(live, a.deposit))
}

func TestEngine_DisposeRacesCalls(t *testing.T) {
	a := newAccount(t)
	e := New(DefaultOptions())
	obj := a.newInstance()
	r := watch(e.TriggerStream(obj, a.deposit))

	var g errgroup.Group
	for i := 0; i < 4; i++ {
		g.Go(func() error {
			for j := 0; j < 200; j++ {
				obj.Send("deposit:", 1)
			}
			return nil
		})
	}
	g.Go(func() error {
		obj.Dispose()
		return nil
	})
	require.NoError(t, g.Wait())

	events, completions := r.snapshot()
	assert.Equal(t, 1, completions)
	assert.LessOrEqual(t, len(events), 800)
	r.mu.Lock()
	assert.Zero(t, r.late, "no event is delivered after completion")
	r.mu.Unlock()

	obj.Send("deposit:", 1)
	after, _ := r.snapshot()
	assert.Equal(t, len(events), len(after), "no events after completion")
}

func TestEngine_ConcurrentCalls(t *testing.T) {
	both(t, func(t *testing.T, e *Engine) {
		a := newAccount(t)
		obj := a.newInstance()
		r := watch(e.ArgumentStream(obj, a.deposit))

		var g errgroup.Group
		for i := 0; i < 8; i++ {
			g.Go(func() error {
				for j := 0; j < 100; j++ {
					obj.Send("deposit:", 0)
				}
				return nil
			})
		}
		require.NoError(t, g.Wait())

		events, _ := r.snapshot()
		require.Len(t, events, 800)
		seen := make(map[uint64]bool, len(events))
		for _, ev := range events {
			seen[ev.Seq] = true
		}
		assert.Len(t, seen, 800, "sequence numbers are unique")
		assert.Equal(t, int64(800), a.deposits.Load())
	})
}

func TestEngine_ConcurrentSetup(t *testing.T) {
	a := newAccount(t)
	e := New(DefaultOptions())
	objs := make([]*vm.Object, 16)
	for i := range objs {
		objs[i] = a.newInstance()
	}

	var g errgroup.Group
	for _, obj := range objs {
		g.Go(func() error {
			e.TriggerStream(obj, a.deposit)
			e.ArgumentStream(obj, a.balance)
			return nil
		})
	}
	require.NoError(t, g.Wait())

	sub := objs[0].RuntimeClass()
	for _, obj := range objs {
		assert.Same(t, sub, obj.RuntimeClass(), "one subclass per class")
	}
	assert.ElementsMatch(t, []vm.Selector{a.deposit, a.balance}, e.InterceptedSelectors(sub))
}

func TestEngine_OtherInstancesUnaffected(t *testing.T) {
	a := newAccount(t)
	e := New(DefaultOptions())
	watched, plain := a.newInstance(), a.newInstance()
	r := watch(e.TriggerStream(watched, a.deposit))

	plain.Send("deposit:", 5)

	events, _ := r.snapshot()
	assert.Empty(t, events)
	assert.Same(t, a.class, plain.RuntimeClass())
	assert.Equal(t, int64(5), plain.Send("balance").ReturnInt())
}

func TestEngine_HidesSubclass(t *testing.T) {
	a := newAccount(t)
	e := New(DefaultOptions())
	obj := a.newInstance()
	e.TriggerStream(obj, a.deposit)

	assert.Same(t, a.class, obj.Class())
	assert.Equal(t, "Account", obj.ClassName())
	assert.Equal(t, "Account_Intercepting", obj.RuntimeClass().Name)
	assert.Same(t, obj.RuntimeClass(), a.rt.Classes.Lookup("Account_Intercepting"))
}

func TestEngine_UninterceptedSelectorsStillWork(t *testing.T) {
	both(t, func(t *testing.T, e *Engine) {
		a := newAccount(t)
		obj := a.newInstance()
		other := a.newInstance()
		e.TriggerStream(obj, a.deposit)

		obj.Send("deposit:", 7)
		assert.Equal(t, int64(7), obj.Send("balance").ReturnInt())
		assert.True(t, obj.Send("transfer:to:", 2.5, other).ReturnBool())

		assert.Panics(t, func() { obj.Send("withdraw:") })
	})
}

func TestEngine_ForwardedReturnValues(t *testing.T) {
	both(t, func(t *testing.T, e *Engine) {
		a := newAccount(t)
		obj, other := a.newInstance(), a.newInstance()
		obj.Send("deposit:", 3)

		balances := watch(e.TriggerStream(obj, a.balance))
		transfers := watch(e.ArgumentStream(obj, a.transfer))

		assert.Equal(t, int64(3), obj.Send("balance").ReturnInt())
		assert.True(t, obj.Send("transfer:to:", 1.5, other).ReturnBool())
		assert.False(t, obj.Send("transfer:to:", -1.0, nil).ReturnBool())

		b, _ := balances.snapshot()
		assert.Len(t, b, 1)

		tr, _ := transfers.snapshot()
		require.Len(t, tr, 2)
		assert.Equal(t, 1.5, tr[0].Args[0].Float64())
		assert.Same(t, other, tr[0].Args[1].Object())
		assert.True(t, tr[1].Args[1].IsNil())
	})
}

func TestEngine_NamedAndDefault(t *testing.T) {
	a := newAccount(t)
	obj := a.newInstance()

	named := Default().TriggerStreamNamed(obj, "deposit:")
	assert.Same(t, named, TriggerStream(obj, a.deposit))
	assert.Same(t, named, ArgumentStream(obj, a.deposit))
	assert.Same(t, named, Default().ArgumentStreamNamed(obj, "deposit:"))
}

func TestEngine_LayeredEngines(t *testing.T) {
	a := newAccount(t)
	obj := a.newInstance()
	inner, outer := New(DefaultOptions()), New(Options{})

	ri := watch(inner.TriggerStream(obj, a.deposit))
	ro := watch(outer.TriggerStream(obj, a.deposit))

	obj.Send("deposit:", 1)
	obj.Send("deposit:", 1)

	ei, _ := ri.snapshot()
	eo, _ := ro.snapshot()
	assert.Len(t, ei, 2)
	assert.Len(t, eo, 2)
	assert.Equal(t, int64(2), a.deposits.Load())
}
