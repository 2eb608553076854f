package intercept

import "github.com/chazu/msgtap/vm"

const subclassSuffix = "_Intercepting"

// swizzleClass returns the patch record for the class obj must run as.
//
// An object that reports its real class is moved onto the engine's
// subclass of that class. An object whose class already lies about itself
// (an engine subclass, or another agent's runtime subclass) keeps its class,
// which is patched in place.
func (e *Engine) swizzleClass(obj *vm.Object) *patchRecord {
	actual := obj.RuntimeClass()
	perceived := obj.Class()

	if rec := e.lookupRecord(actual); rec != nil {
		e.ensurePatched(rec)
		return rec
	}

	if perceived != actual {
		rec := e.record(actual, perceived)
		e.ensurePatched(rec)
		return rec
	}

	sub := e.subclassOf(actual)
	rec := e.record(sub, actual)
	e.ensurePatched(rec)
	obj.SetClass(sub)
	return rec
}

// subclassOf returns the engine's runtime subclass of class, creating and
// registering it on first use.
func (e *Engine) subclassOf(class *vm.Class) *vm.Class {
	if sub, ok := e.subclasses.Load(class); ok {
		return sub.(*vm.Class)
	}

	e.subclassMu.Lock()
	defer e.subclassMu.Unlock()
	if sub, ok := e.subclasses.Load(class); ok {
		return sub.(*vm.Class)
	}

	sub := vm.NewClass(class.Name+subclassSuffix, class)
	sub.Namespace = class.Namespace
	sub.SetDecoy(class)
	if rt := class.Runtime(); rt != nil {
		// Another engine may have registered the plain name already.
		if rt.Classes.Lookup(sub.FullName()) != nil {
			sub.Name += "_" + e.prefix
		}
		rt.Classes.Register(sub)
	}
	e.subclasses.Store(class, sub)
	log.Debugf("created runtime subclass %s", sub)
	return sub
}
