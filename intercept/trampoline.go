package intercept

import "github.com/chazu/msgtap/vm"

// A template specializes argument capture for one call shape.
type template func(inv *vm.Invocation) []vm.Value

func noArguments(*vm.Invocation) []vm.Value { return []vm.Value{} }

// templates covers the shapes that show up most: setters, actions and
// zero-argument getters. Keys are vm.Signature shapes.
var templates = map[string]template{
	"v@:": noArguments,
	"@@:": noArguments,
	"q@:": noArguments,
	"B@:": noArguments,
	"d@:": noArguments,
	"v@:@": func(inv *vm.Invocation) []vm.Value {
		return []vm.Value{vm.FromObject(inv.Object(2))}
	},
	"v@:q": func(inv *vm.Invocation) []vm.Value {
		return []vm.Value{vm.FromInt64(inv.Int(2))}
	},
	"v@:Q": func(inv *vm.Invocation) []vm.Value {
		return []vm.Value{vm.FromUint64(inv.Uint(2))}
	},
	"v@:i": func(inv *vm.Invocation) []vm.Value {
		return []vm.Value{vm.FromInt(int32(inv.Int(2)))}
	},
	"v@:d": func(inv *vm.Invocation) []vm.Value {
		return []vm.Value{vm.FromFloat64(inv.Float(2))}
	},
	"v@:B": func(inv *vm.Invocation) []vm.Value {
		return []vm.Value{vm.FromBool(inv.Bool(2))}
	},
	"v@:@@": func(inv *vm.Invocation) []vm.Value {
		return []vm.Value{vm.FromObject(inv.Object(2)), vm.FromObject(inv.Object(3))}
	},
}

func templateFor(sig *vm.Signature) (template, bool) {
	t, ok := templates[sig.Shape()]
	return t, ok
}

// trampoline is the method installed directly on a patched class for an
// intercepted selector whose shape has a template. It does the forwarding
// handler's work without going through forwarding.
type trampoline struct {
	engine  *Engine
	record  *patchRecord
	sel     vm.Selector
	capture template
}

func (t *trampoline) Invoke(inv *vm.Invocation) {
	incoming := inv.Selector()
	inv.SetSelector(t.sel)
	defer inv.SetSelector(incoming)

	if st := t.engine.lookupState(inv.Target(), t.sel); st != nil {
		defer st.notify(inv, t.capture)
	}
	t.record.perform(inv, t.sel)
}

func (t *trampoline) Name() string {
	return "<msgtap trampoline " + t.record.class.Name + ">"
}

// owns returns true for trampolines installed by e. Another engine's
// trampolines are foreign implementations like any other.
func (e *Engine) owns(m vm.Method) bool {
	t, ok := m.(*trampoline)
	return ok && t.engine == e
}
