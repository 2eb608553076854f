package intercept

import (
	"sync"
	"sync/atomic"

	"github.com/chazu/msgtap/vm"
)

// patchRecord is the engine's bookkeeping for one patched runtime class.
type patchRecord struct {
	// class is the runtime class whose table the engine rewrites.
	class *vm.Class
	// perceived is the class instances of class report to be. Its
	// implementations are the original behavior.
	perceived *vm.Class

	mu          sync.Mutex // class-scoped: patching and cache writes
	patched     atomic.Bool
	signatures  sigCache
	aliases     aliasTable
	trampolines map[vm.Selector]*trampoline

	// Hooks found on class itself when it was patched.
	prevForwarder vm.ForwardFunc
	prevSigHook   vm.SignatureFunc
}

func (e *Engine) record(class, perceived *vm.Class) *patchRecord {
	if r, ok := e.records.Load(class); ok {
		return r.(*patchRecord)
	}
	r, _ := e.records.LoadOrStore(class, &patchRecord{
		class:       class,
		perceived:   perceived,
		trampolines: make(map[vm.Selector]*trampoline),
	})
	return r.(*patchRecord)
}

func (e *Engine) lookupRecord(class *vm.Class) *patchRecord {
	if r, ok := e.records.Load(class); ok {
		return r.(*patchRecord)
	}
	return nil
}

// ensurePatched makes rec.class interception capable. It installs the
// engine's forwarding handler and a signature hook that answers from the
// signature cache first. Safe to call concurrently; the work happens once.
func (e *Engine) ensurePatched(rec *patchRecord) {
	if rec.patched.Load() {
		return
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.patched.Load() {
		return
	}

	rec.prevForwarder = rec.class.LocalForwarder()
	rec.prevSigHook = rec.class.LocalSignatureHook()

	rec.class.SetSignatureHook(func(sel vm.Selector) (*vm.Signature, bool) {
		if sig, ok := rec.signatures.load(sel); ok {
			return sig, true
		}
		if rec.prevSigHook != nil {
			return rec.prevSigHook(sel)
		}
		return nil, false
	})
	rec.class.SetForwarder(e.forwarder(rec))

	rec.patched.Store(true)
	log.Debugf("patched class %s (reports %s)", rec.class, rec.perceived)
}

// ensureIntercepted reroutes sel on rec.class through the engine. sig has
// already been checked by the caller.
func (e *Engine) ensureIntercepted(rec *patchRecord, sel vm.Selector, sig *vm.Signature) {
	rec.mu.Lock()
	defer rec.mu.Unlock()

	rt := rec.class.Runtime()
	sig = rec.signatures.storeIfAbsent(sel, sig)
	rerouted := rec.intercepts(sel)
	a := rec.aliases.intern(rt, e.prefix, sel)
	table := rec.class.VTable
	local := table.LookupLocal(sel)

	// Keep an implementation someone else installed on this very class
	// reachable. Only the first one found is kept. A selector another agent
	// routes through its own forwarding handler keeps reaching that handler.
	if keep := e.foreignImplementation(rec, local, rerouted); keep != nil && table.Lookup(a.interop) == nil {
		if !table.AddMethod(a.interop, keep, sig) {
			panic(setupFailure(rec.class.Name, rt.Selectors.Name(sel),
				"an implementation is already preserved under %s", rt.Selectors.Name(a.interop)))
		}
		log.Infof("preserved %s#%s installed by another agent", rec.class, rt.Selectors.Name(sel))
	}

	var install vm.Method = vm.Forward
	if e.opts.Trampolines {
		if capture, ok := templateFor(sig); ok {
			t := rec.trampolines[sel]
			if t == nil {
				t = &trampoline{engine: e, record: rec, sel: sel, capture: capture}
				rec.trampolines[sel] = t
			}
			install = t
		}
	}

	if local != install {
		table.ReplaceMethod(sel, install, sig)
		log.Debugf("intercepting %s#%s via %s", rec.class, rt.Selectors.Name(sel), vm.MethodName(install))
	}
}

// foreignImplementation returns the method to preserve for a local slot
// holding local, or nil if there is nothing to preserve. A forwarding marker
// in a slot the engine already rerouted is the engine's own.
func (e *Engine) foreignImplementation(rec *patchRecord, local vm.Method, rerouted bool) vm.Method {
	switch {
	case local == nil || e.owns(local):
		return nil
	case vm.IsForward(local):
		if rerouted || rec.prevForwarder == nil {
			return nil
		}
		return &forwardingMethod{fn: rec.prevForwarder}
	}
	return local
}

// forwardingMethod reaches a forwarding handler as if it were a method.
type forwardingMethod struct {
	fn vm.ForwardFunc
}

func (m *forwardingMethod) Invoke(inv *vm.Invocation) { m.fn(inv) }

func (m *forwardingMethod) Name() string { return "<preserved forwarding>" }

// intercepts returns true if sel is routed through the engine on rec.class.
func (rec *patchRecord) intercepts(sel vm.Selector) bool {
	_, ok := rec.aliases.load(sel)
	return ok
}

// bindAlias points alias at impl on rec.class, touching the table only when
// the implementation changed.
func (rec *patchRecord) bindAlias(alias vm.Selector, impl vm.Method, sig *vm.Signature) {
	if rec.class.VTable.LookupLocal(alias) == impl {
		return
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.class.VTable.LookupLocal(alias) != impl {
		rec.class.VTable.ReplaceMethod(alias, impl, sig)
	}
}
