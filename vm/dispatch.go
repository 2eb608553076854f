package vm

import "fmt"

// ---------------------------------------------------------------------------
// Message dispatch
// ---------------------------------------------------------------------------
//
// Dispatch looks the selector up in the receiver's runtime class. A direct
// implementation is invoked as is. A missing implementation, or a slot
// holding the forwarding marker, routes the invocation to the closest
// forwarding handler in the class chain. The root class's handler raises
// DoesNotUnderstandError, the runtime's standard unhandled-call failure.

// DoesNotUnderstandError is raised (as a panic value) when a message
// reaches no implementation and no forwarding handler accepts it.
type DoesNotUnderstandError struct {
	Class    string
	Selector string
}

func (e *DoesNotUnderstandError) Error() string {
	return fmt.Sprintf("%s does not understand #%s", e.Class, e.Selector)
}

// ArgumentCountError is raised when Send is given the wrong number of
// arguments for the selector's signature.
type ArgumentCountError struct {
	Selector string
	Want     int
	Got      int
}

func (e *ArgumentCountError) Error() string {
	return fmt.Sprintf("#%s takes %d arguments, got %d", e.Selector, e.Want, e.Got)
}

// DoesNotUnderstand raises DoesNotUnderstandError for inv. It is the
// runtime's default answer to a message nobody handles.
func DoesNotUnderstand(inv *Invocation) {
	target := inv.Target()
	name := fmt.Sprintf("#%d", inv.Selector())
	if target != nil {
		if rt := target.RuntimeClass().Runtime(); rt != nil {
			name = rt.Selectors.Name(inv.Selector())
		}
	}
	panic(&DoesNotUnderstandError{Class: target.ClassName(), Selector: name})
}

// Invoke dispatches the invocation on its target's runtime class.
// Messages to nil do nothing.
func (inv *Invocation) Invoke() {
	target := inv.Target()
	if target == nil {
		return
	}
	inv.InvokeAs(target.RuntimeClass())
}

// InvokeAs dispatches the invocation as if the target were an instance of
// class. It is how implementations reach their superclass.
func (inv *Invocation) InvokeAs(class *Class) {
	m := class.VTable.Lookup(inv.Selector())
	if m == nil || IsForward(m) {
		class.Forward(inv)
		return
	}
	m.Invoke(inv)
}

// InvokeUsing invokes m directly, bypassing lookup. The forwarding marker
// routes to the target's forwarding handler.
func (inv *Invocation) InvokeUsing(m Method) {
	if m == nil || IsForward(m) {
		if target := inv.Target(); target != nil {
			target.RuntimeClass().Forward(inv)
		}
		return
	}
	m.Invoke(inv)
}
