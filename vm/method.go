package vm

// Method is an implementation reachable through a vtable slot.
//
// Methods are compared by identity: implementations must be pointer types
// so two slots can be checked for "same implementation" with ==.
type Method interface {
	Invoke(inv *Invocation)
}

// MethodFunc is a Go function that implements a method. It reads its
// arguments from the invocation and writes its result back into it.
type MethodFunc func(inv *Invocation)

// Primitive wraps a MethodFunc as a Method.
type Primitive struct {
	name string
	fn   MethodFunc
}

func (m *Primitive) Invoke(inv *Invocation) { m.fn(inv) }

func (m *Primitive) Name() string { return m.name }

// NewPrimitive creates a new primitive method.
func NewPrimitive(name string, fn MethodFunc) *Primitive {
	return &Primitive{name: name, fn: fn}
}

// ---------------------------------------------------------------------------
// Forwarding marker
// ---------------------------------------------------------------------------

type forwardMarker struct{}

func (*forwardMarker) Invoke(inv *Invocation) {
	inv.Target().RuntimeClass().Forward(inv)
}

func (*forwardMarker) Name() string { return "<forward>" }

// Forward is the forwarding marker. A slot holding Forward has no direct
// implementation: every call is routed to the class's forwarding handler.
var Forward Method = &forwardMarker{}

// IsForward reports whether m is the forwarding marker.
func IsForward(m Method) bool {
	return m == Forward
}

// ---------------------------------------------------------------------------
// Method metadata interface (optional)
// ---------------------------------------------------------------------------

// NamedMethod is implemented by methods that have a name.
type NamedMethod interface {
	Method
	Name() string
}

// MethodName returns the name of a method if it implements NamedMethod.
func MethodName(m Method) string {
	if nm, ok := m.(NamedMethod); ok {
		return nm.Name()
	}
	return "<anonymous>"
}
