package vm

import "sync/atomic"

// Object represents a heap-allocated runtime object.
//
// Objects use a hybrid slot layout optimized for common cases:
//   - 4 inline slots for objects with ≤4 instance variables (most objects)
//   - Overflow slice for objects with >4 instance variables
//
// The class pointer is atomic: interception retargets live objects to a
// runtime subclass while other goroutines may be sending to them.
type Object struct {
	class    atomic.Pointer[Class]
	id       uint64
	lifetime *Lifetime

	// Inline slots for the first 4 instance variables.
	slot0 Value
	slot1 Value
	slot2 Value
	slot3 Value

	// Overflow for objects with >4 instance variables.
	// Only allocated when needed.
	overflow []Value
}

// NumInlineSlots is the number of slots stored directly in the Object struct.
const NumInlineSlots = 4

var objectIDs atomic.Uint64

// ---------------------------------------------------------------------------
// Object creation
// ---------------------------------------------------------------------------

// NewObject creates a new Object of the given class and slot count.
// All slots are initialized to Nil.
func NewObject(c *Class, numSlots int) *Object {
	obj := &Object{id: objectIDs.Add(1), lifetime: NewLifetime()}
	obj.class.Store(c)

	if numSlots > NumInlineSlots {
		obj.overflow = make([]Value, numSlots-NumInlineSlots)
	}
	return obj
}

// NewObjectWithSlots creates a new Object and initializes its slots.
func NewObjectWithSlots(c *Class, slots []Value) *Object {
	obj := NewObject(c, len(slots))
	for i, v := range slots {
		obj.SetSlot(i, v)
	}
	return obj
}

// ---------------------------------------------------------------------------
// Slot access
// ---------------------------------------------------------------------------

// GetSlot returns the value at the given slot index.
// Panics if index is out of range.
func (obj *Object) GetSlot(index int) Value {
	switch index {
	case 0:
		return obj.slot0
	case 1:
		return obj.slot1
	case 2:
		return obj.slot2
	case 3:
		return obj.slot3
	default:
		overflowIdx := index - NumInlineSlots
		if overflowIdx < 0 || overflowIdx >= len(obj.overflow) {
			panic("Object.GetSlot: index out of range")
		}
		return obj.overflow[overflowIdx]
	}
}

// SetSlot sets the value at the given slot index.
// Panics if index is out of range.
func (obj *Object) SetSlot(index int, value Value) {
	switch index {
	case 0:
		obj.slot0 = value
	case 1:
		obj.slot1 = value
	case 2:
		obj.slot2 = value
	case 3:
		obj.slot3 = value
	default:
		overflowIdx := index - NumInlineSlots
		if overflowIdx < 0 || overflowIdx >= len(obj.overflow) {
			panic("Object.SetSlot: index out of range")
		}
		obj.overflow[overflowIdx] = value
	}
}

// NumSlots returns the total number of slots in this object.
func (obj *Object) NumSlots() int {
	return NumInlineSlots + len(obj.overflow)
}

// ForEachSlot calls fn for each slot in the object.
func (obj *Object) ForEachSlot(fn func(index int, value Value)) {
	fn(0, obj.slot0)
	fn(1, obj.slot1)
	fn(2, obj.slot2)
	fn(3, obj.slot3)
	for i, v := range obj.overflow {
		fn(NumInlineSlots+i, v)
	}
}

// ---------------------------------------------------------------------------
// Class access
// ---------------------------------------------------------------------------

// RuntimeClass returns the class dispatch actually uses for obj.
func (obj *Object) RuntimeClass() *Class {
	return obj.class.Load()
}

// SetClass retargets obj to another class (used during class change
// operations such as interception).
func (obj *Object) SetClass(c *Class) {
	obj.class.Store(c)
}

// Class returns the class obj reports. Runtime subclasses installed by
// interception or other agents are hidden behind their decoy.
func (obj *Object) Class() *Class {
	c := obj.RuntimeClass()
	if c == nil {
		return nil
	}
	if d := c.Decoy(); d != nil {
		return d
	}
	return c
}

// ID returns a process-unique identifier for obj.
func (obj *Object) ID() uint64 {
	return obj.id
}

// ClassName returns the name of the object's class, or "?" if it has none.
func (obj *Object) ClassName() string {
	if obj == nil {
		return "nil"
	}
	c := obj.Class()
	if c == nil {
		return "?"
	}
	return c.Name
}

// ---------------------------------------------------------------------------
// Lifetime
// ---------------------------------------------------------------------------

// Lifetime returns the object's lifetime.
func (obj *Object) Lifetime() *Lifetime {
	return obj.lifetime
}

// Dispose destroys the object: its lifetime ends and every OnEnded
// callback runs exactly once. Later calls do nothing.
func (obj *Object) Dispose() {
	obj.lifetime.end()
}

// IsDisposed returns true once Dispose has been called.
func (obj *Object) IsDisposed() bool {
	return obj.lifetime.IsEnded()
}

// ---------------------------------------------------------------------------
// Messaging
// ---------------------------------------------------------------------------

// Send sends the message name with args to obj through its runtime.
func (obj *Object) Send(name string, args ...any) *Invocation {
	return obj.RuntimeClass().runtime.Send(obj, name, args...)
}
