package intercept

import "github.com/chazu/msgtap/vm"

// forwarder is the forwarding handler installed on a patched class. It is
// reached for every selector the class marks with vm.Forward, and for any
// message the class cannot otherwise handle.
func (e *Engine) forwarder(rec *patchRecord) vm.ForwardFunc {
	return func(inv *vm.Invocation) {
		sel := inv.Selector()
		if !rec.intercepts(sel) {
			rec.forwardUp(inv)
			return
		}

		if st := e.lookupState(inv.Target(), sel); st != nil {
			defer st.notify(inv, marshalArguments)
		}
		rec.perform(inv, sel)
	}
}

// perform runs the behavior sel had before interception, exactly once.
//
// In order of preference: an implementation preserved from another agent,
// the perceived class's current implementation reached through the alias
// selector, and finally the forwarding handler above the patched class.
func (rec *patchRecord) perform(inv *vm.Invocation, sel vm.Selector) {
	a, _ := rec.aliases.load(sel)

	// The preserved implementation expects to be reached as sel itself, not
	// through another layer of forwarding. Invoking it directly keeps the
	// swap local to this call; the shared table is never touched.
	if interop := inv.Target().RuntimeClass().VTable.Lookup(a.interop); interop != nil {
		inv.InvokeUsing(interop)
		return
	}

	impl := rec.perceived.VTable.Lookup(sel)
	if impl != nil && !vm.IsForward(impl) {
		sig, _ := rec.signatures.load(sel)
		rec.bindAlias(a.alias, impl, sig)

		// The selector stays sel so the implementation can reach its own
		// superclass with InvokeAs.
		inv.InvokeUsing(rec.class.VTable.Lookup(a.alias))
		return
	}

	rec.forwardUp(inv)
}

// forwardUp hands inv to whoever would have handled it had the class not
// been patched.
func (rec *patchRecord) forwardUp(inv *vm.Invocation) {
	if rec.prevForwarder != nil {
		rec.prevForwarder(inv)
		return
	}
	if super := rec.class.Superclass; super != nil {
		super.Forward(inv)
		return
	}
	vm.DoesNotUnderstand(inv)
}
