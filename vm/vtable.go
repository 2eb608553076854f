package vm

import (
	"sync"
	"sync/atomic"
)

// VTable holds the method dispatch table for a class.
//
// Methods are stored in an array indexed by selector ID, allowing O(1)
// lookup. Inheritance is handled by walking the parent chain when a method
// is not found locally.
//
// Readers never lock: the slot array is replaced wholesale on every write,
// so a concurrent Lookup sees either the old or the new table.
type VTable struct {
	class  *Class
	parent *VTable

	mu    sync.Mutex // serializes writers
	slots atomic.Pointer[[]Slot]
}

// Slot is one vtable entry: an implementation and its call signature.
type Slot struct {
	Method    Method
	Signature *Signature
}

// Empty returns true if the slot holds no method.
func (s Slot) Empty() bool { return s.Method == nil }

func (vt *VTable) load() []Slot {
	if p := vt.slots.Load(); p != nil {
		return *p
	}
	return nil
}

// LookupSlot finds a slot by selector, walking the inheritance chain.
func (vt *VTable) LookupSlot(selector Selector) (Slot, bool) {
	for v := vt; v != nil; v = v.parent {
		if s, ok := v.LocalSlot(selector); ok {
			return s, true
		}
	}
	return Slot{}, false
}

// Lookup finds a method by selector, walking the inheritance chain.
// Returns nil if no method is found.
func (vt *VTable) Lookup(selector Selector) Method {
	s, _ := vt.LookupSlot(selector)
	return s.Method
}

// LocalSlot finds a slot in this vtable only.
func (vt *VTable) LocalSlot(selector Selector) (Slot, bool) {
	slots := vt.load()
	if selector >= 0 && int(selector) < len(slots) && !slots[selector].Empty() {
		return slots[selector], true
	}
	return Slot{}, false
}

// LookupLocal finds a method by selector in this vtable only.
// Does not check parent vtables.
func (vt *VTable) LookupLocal(selector Selector) Method {
	s, _ := vt.LocalSlot(selector)
	return s.Method
}

// Implementation returns the method dispatch would reach for selector, or
// the forwarding marker when nothing in the chain implements it.
func (vt *VTable) Implementation(selector Selector) Method {
	if m := vt.Lookup(selector); m != nil {
		return m
	}
	return Forward
}

// AddMethod adds a method at the given selector unless this vtable already
// defines one. Returns false if a local method exists.
func (vt *VTable) AddMethod(selector Selector, method Method, sig *Signature) bool {
	vt.mu.Lock()
	defer vt.mu.Unlock()

	if _, ok := vt.LocalSlot(selector); ok {
		return false
	}
	vt.store(selector, Slot{Method: method, Signature: sig})
	return true
}

// ReplaceMethod installs method at selector and returns the previous local
// method, if any. A nil sig keeps the signature already in the slot.
func (vt *VTable) ReplaceMethod(selector Selector, method Method, sig *Signature) Method {
	vt.mu.Lock()
	defer vt.mu.Unlock()

	prev, _ := vt.LocalSlot(selector)
	if sig == nil {
		sig = prev.Signature
	}
	vt.store(selector, Slot{Method: method, Signature: sig})
	return prev.Method
}

// RemoveMethod removes a method at the given selector ID.
func (vt *VTable) RemoveMethod(selector Selector) {
	vt.mu.Lock()
	defer vt.mu.Unlock()

	if _, ok := vt.LocalSlot(selector); ok {
		vt.store(selector, Slot{})
	}
}

// store copies the slot array with one slot changed. Caller holds vt.mu.
func (vt *VTable) store(selector Selector, slot Slot) {
	old := vt.load()
	n := len(old)
	if int(selector) >= n {
		n = int(selector) + 1
	}
	slots := make([]Slot, n)
	copy(slots, old)
	slots[selector] = slot
	vt.slots.Store(&slots)
}

// HasMethod returns true if this vtable (not parents) has a method for selector.
func (vt *VTable) HasMethod(selector Selector) bool {
	return vt.LookupLocal(selector) != nil
}

// Parent returns the parent vtable (for inheritance).
func (vt *VTable) Parent() *VTable {
	return vt.parent
}

// Class returns the class this vtable belongs to.
func (vt *VTable) Class() *Class {
	return vt.class
}

// MethodCount returns the number of method slots (including empty slots).
func (vt *VTable) MethodCount() int {
	return len(vt.load())
}

// LocalMethods returns all non-empty slots defined in this vtable.
func (vt *VTable) LocalMethods() map[Selector]Slot {
	result := make(map[Selector]Slot)
	for i, s := range vt.load() {
		if !s.Empty() {
			result[Selector(i)] = s
		}
	}
	return result
}

// NewVTable creates a new vtable for a class.
func NewVTable(class *Class, parent *VTable) *VTable {
	return &VTable{
		class:  class,
		parent: parent,
	}
}
