package intercept

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/tliron/commonlog"

	"github.com/chazu/msgtap/stream"
	"github.com/chazu/msgtap/vm"
)

var log = commonlog.GetLogger("msgtap.intercept")

// Options configures an Engine.
type Options struct {
	// Trampolines installs specialized methods for call shapes with a
	// template instead of routing every call through forwarding.
	Trampolines bool
}

// DefaultOptions returns the options used by the package-level functions.
func DefaultOptions() Options {
	return Options{Trampolines: true}
}

// Engine owns the patch records of the classes it patched and the
// interception state of the objects it observes. Engines are independent:
// two engines intercepting the same object layer their patches.
type Engine struct {
	opts   Options
	prefix string

	records    sync.Map // *vm.Class -> *patchRecord
	subclasses sync.Map // perceived *vm.Class -> engine subclass
	subclassMu sync.Mutex
	objects    sync.Map // *vm.Object -> *instanceTable
}

var engineCount atomic.Int64

// New creates an engine.
func New(opts Options) *Engine {
	return &Engine{
		opts:   opts,
		prefix: fmt.Sprintf("msgtap%d", engineCount.Add(1)),
	}
}

var defaultEngine = sync.OnceValue(func() *Engine {
	return New(DefaultOptions())
})

// Default returns the engine behind the package-level functions.
func Default() *Engine {
	return defaultEngine()
}

// TriggerStream returns the stream of invocations of sel on obj. Events
// carry no arguments unless ArgumentStream is requested for the same pair.
// Requesting it again returns the same signal.
//
// It panics with *SetupError if obj's class has no signature for sel or the
// signature cannot be marshaled.
func (e *Engine) TriggerStream(obj *vm.Object, sel vm.Selector) *stream.Signal[Event] {
	return e.intercept(obj, sel, false)
}

// ArgumentStream is TriggerStream with argument capture. If the trigger
// stream already exists it is upgraded in place: its observers receive
// arguments from the next invocation on.
func (e *Engine) ArgumentStream(obj *vm.Object, sel vm.Selector) *stream.Signal[Event] {
	return e.intercept(obj, sel, true)
}

// TriggerStreamNamed is TriggerStream with a selector name.
func (e *Engine) TriggerStreamNamed(obj *vm.Object, name string) *stream.Signal[Event] {
	return e.intercept(obj, internFor(obj, name), false)
}

// ArgumentStreamNamed is ArgumentStream with a selector name.
func (e *Engine) ArgumentStreamNamed(obj *vm.Object, name string) *stream.Signal[Event] {
	return e.intercept(obj, internFor(obj, name), true)
}

// IsIntercepted returns true if the engine holds live interception state
// for sel on obj.
func (e *Engine) IsIntercepted(obj *vm.Object, sel vm.Selector) bool {
	st := e.lookupState(obj, sel)
	return st != nil && !st.completed.Load()
}

// InterceptedSelectors returns the selectors the engine reroutes on class.
func (e *Engine) InterceptedSelectors(class *vm.Class) []vm.Selector {
	if rec := e.lookupRecord(class); rec != nil {
		return rec.aliases.selectors()
	}
	return nil
}

func (e *Engine) intercept(obj *vm.Object, sel vm.Selector, wantsArgs bool) *stream.Signal[Event] {
	tbl := e.instances(obj)
	tbl.mu.Lock()
	defer tbl.mu.Unlock()

	if st, ok := tbl.states[sel]; ok {
		if wantsArgs {
			st.requestArguments()
		}
		return st.signal
	}

	// Validate against the class the object reports before touching
	// anything, so a bad request leaves no trace.
	perceived := obj.Class()
	if obj.RuntimeClass().Runtime() == nil {
		panic(setupFailure(perceived.Name, "?", "class belongs to no runtime"))
	}
	sig, ok := perceived.SignatureFor(sel)
	if !ok {
		panic(setupFailure(perceived.Name, selectorName(obj, sel), "selector not found"))
	}
	if err := checkSignature(sig); err != nil {
		panic(setupFailure(perceived.Name, selectorName(obj, sel), "%v", err))
	}

	// A disposed object sends nothing, so its class is left alone.
	if !tbl.ended {
		rec := e.swizzleClass(obj)
		e.ensureIntercepted(rec, sel, sig)
	}

	st := newState(obj, sel)
	if wantsArgs {
		st.requestArguments()
	}
	tbl.states[sel] = st
	if tbl.ended {
		st.complete()
		return st.signal
	}
	log.Debugf("intercepting %s#%s on object %d", perceived, selectorName(obj, sel), obj.ID())
	return st.signal
}

func internFor(obj *vm.Object, name string) vm.Selector {
	rt := obj.RuntimeClass().Runtime()
	if rt == nil {
		panic(setupFailure(obj.ClassName(), name, "class belongs to no runtime"))
	}
	return rt.Intern(name)
}

func selectorName(obj *vm.Object, sel vm.Selector) string {
	if rt := obj.RuntimeClass().Runtime(); rt != nil {
		if name := rt.Selectors.Name(sel); name != "" {
			return name
		}
	}
	return "?"
}

// ---------------------------------------------------------------------------
// Default engine
// ---------------------------------------------------------------------------

// TriggerStream calls TriggerStream on the default engine.
func TriggerStream(obj *vm.Object, sel vm.Selector) *stream.Signal[Event] {
	return Default().TriggerStream(obj, sel)
}

// ArgumentStream calls ArgumentStream on the default engine.
func ArgumentStream(obj *vm.Object, sel vm.Selector) *stream.Signal[Event] {
	return Default().ArgumentStream(obj, sel)
}
