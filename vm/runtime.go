package vm

// Runtime owns the selector table and the class registry shared by a
// family of classes. Every class created from a runtime's root (directly
// or through subclasses) belongs to that runtime.
type Runtime struct {
	Selectors *SelectorTable
	Classes   *ClassTable

	// ObjectClass is the root of the class hierarchy.
	ObjectClass *Class
}

// NewRuntime creates a runtime with an empty root class named "Object".
func NewRuntime() *Runtime {
	rt := &Runtime{
		Selectors: NewSelectorTable(),
		Classes:   NewClassTable(),
	}
	rt.ObjectClass = NewClass("Object", nil)
	rt.ObjectClass.runtime = rt
	rt.Classes.Register(rt.ObjectClass)
	return rt
}

// DefineClass creates and registers a class. A nil superclass means the
// root class.
func (rt *Runtime) DefineClass(name string, superclass *Class, instVars ...string) *Class {
	if superclass == nil {
		superclass = rt.ObjectClass
	}
	c := NewClassWithInstVars(name, superclass, instVars)
	c.runtime = rt
	rt.Classes.Register(c)
	return c
}

// Intern returns the selector for name.
func (rt *Runtime) Intern(name string) Selector {
	return rt.Selectors.Intern(name)
}

// Send sends the message name with args to obj and returns the completed
// invocation, from which the return value can be read.
func (rt *Runtime) Send(obj *Object, name string, args ...any) *Invocation {
	return rt.Perform(obj, rt.Selectors.Intern(name), args...)
}

// Perform is Send with an interned selector.
//
// The call shape comes from the receiver's class (signature hooks first,
// then method metadata). A selector with no known shape cannot be encoded
// and fails the same way an unimplemented one does.
func (rt *Runtime) Perform(obj *Object, sel Selector, args ...any) *Invocation {
	class := obj.RuntimeClass()
	sig, ok := class.SignatureFor(sel)
	if !ok {
		panic(&DoesNotUnderstandError{Class: obj.ClassName(), Selector: rt.Selectors.Name(sel)})
	}
	if want := sig.NumArguments() - 2; want != len(args) {
		panic(&ArgumentCountError{Selector: rt.Selectors.Name(sel), Want: want, Got: len(args)})
	}

	inv := NewInvocation(sig)
	inv.SetTarget(obj)
	inv.SetSelector(sel)
	for i, arg := range args {
		if err := inv.SetArgument(i+2, arg); err != nil {
			panic(err)
		}
	}
	inv.Invoke()
	return inv
}
