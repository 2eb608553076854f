package vm

import (
	"sync"
	"sync/atomic"
)

// ---------------------------------------------------------------------------
// Class: runtime class representation
// ---------------------------------------------------------------------------

// Class represents a runtime class.
//
// Besides its vtable a class carries three hooks that other parties may
// install at runtime:
//   - a decoy: the class its instances claim to be (Object.Class)
//   - a forwarding handler: reached when dispatch finds no direct
//     implementation or the forwarding marker
//   - a signature hook: consulted before method metadata when the runtime
//     needs the call shape of a selector
type Class struct {
	Name       string   // Class name
	Namespace  string   // Namespace (empty for default)
	Superclass *Class   // Parent class (nil for the root)
	VTable     *VTable  // Method dispatch table
	InstVars   []string // Instance variable names
	NumSlots   int      // Total number of slots needed

	runtime   *Runtime
	decoy     atomic.Pointer[Class]
	forwarder atomic.Pointer[ForwardFunc]
	sigHook   atomic.Pointer[SignatureFunc]
}

// ForwardFunc handles an invocation that has no direct implementation.
type ForwardFunc func(inv *Invocation)

// SignatureFunc answers the call shape of a selector. Returning false
// defers to the next answer in the chain.
type SignatureFunc func(sel Selector) (*Signature, bool)

// InstVarIndex returns the slot index for an instance variable by name.
// Returns -1 if the variable is not found.
func (c *Class) InstVarIndex(name string) int {
	for i, n := range c.InstVars {
		if n == name {
			return c.instVarOffset() + i
		}
	}
	if c.Superclass != nil {
		return c.Superclass.InstVarIndex(name)
	}
	return -1
}

// instVarOffset returns the starting slot index for this class's instance variables.
// This accounts for inherited instance variables.
func (c *Class) instVarOffset() int {
	if c.Superclass == nil {
		return 0
	}
	return c.Superclass.NumSlots
}

// IsSubclassOf returns true if c is a subclass of other (or is the same class).
func (c *Class) IsSubclassOf(other *Class) bool {
	for current := c; current != nil; current = current.Superclass {
		if current == other {
			return true
		}
	}
	return false
}

// Runtime returns the runtime the class belongs to.
func (c *Class) Runtime() *Runtime {
	return c.runtime
}

// NewInstance creates a new instance of this class.
func (c *Class) NewInstance() *Object {
	return NewObject(c, c.NumSlots)
}

// ---------------------------------------------------------------------------
// Method registration on Class
// ---------------------------------------------------------------------------

// Define registers a Go function as the method for name with the given type
// encoding, replacing any local definition. It panics if types is malformed.
func (c *Class) Define(name, types string, fn MethodFunc) *Primitive {
	m := NewPrimitive(name, fn)
	c.VTable.ReplaceMethod(c.runtime.Selectors.Intern(name), m, MustSignature(types))
	return m
}

// DefineMethod registers an arbitrary Method under name.
func (c *Class) DefineMethod(name string, sig *Signature, m Method) {
	c.VTable.ReplaceMethod(c.runtime.Selectors.Intern(name), m, sig)
}

// LookupMethod looks up a method by selector name.
func (c *Class) LookupMethod(name string) Method {
	selectorID := c.runtime.Selectors.Lookup(name)
	if selectorID < 0 {
		return nil
	}
	return c.VTable.Lookup(selectorID)
}

// HasMethod returns true if this class (not superclasses) defines a method.
func (c *Class) HasMethod(name string) bool {
	selectorID := c.runtime.Selectors.Lookup(name)
	if selectorID < 0 {
		return false
	}
	return c.VTable.HasMethod(selectorID)
}

// RespondsTo returns true if instances of c reach a direct implementation
// for sel.
func (c *Class) RespondsTo(sel Selector) bool {
	return !IsForward(c.VTable.Implementation(sel))
}

// ---------------------------------------------------------------------------
// Runtime hooks
// ---------------------------------------------------------------------------

// Decoy returns the class instances of c report, or nil.
func (c *Class) Decoy() *Class {
	return c.decoy.Load()
}

// SetDecoy makes instances of c report decoy from Object.Class.
func (c *Class) SetDecoy(decoy *Class) {
	c.decoy.Store(decoy)
}

// SetForwarder installs the forwarding handler for c and its subclasses.
func (c *Class) SetForwarder(fn ForwardFunc) {
	if fn == nil {
		c.forwarder.Store(nil)
		return
	}
	c.forwarder.Store(&fn)
}

// LocalForwarder returns the forwarding handler installed on c itself, or
// nil.
func (c *Class) LocalForwarder() ForwardFunc {
	if fn := c.forwarder.Load(); fn != nil {
		return *fn
	}
	return nil
}

// ForwardingHandler returns the closest forwarding handler in c's ancestry.
func (c *Class) ForwardingHandler() ForwardFunc {
	for current := c; current != nil; current = current.Superclass {
		if fn := current.forwarder.Load(); fn != nil {
			return *fn
		}
	}
	return nil
}

// Forward routes inv to the closest forwarding handler, or raises
// DoesNotUnderstandError when there is none.
func (c *Class) Forward(inv *Invocation) {
	if fn := c.ForwardingHandler(); fn != nil {
		fn(inv)
		return
	}
	DoesNotUnderstand(inv)
}

// SetSignatureHook installs a hook consulted by SignatureFor.
func (c *Class) SetSignatureHook(fn SignatureFunc) {
	if fn == nil {
		c.sigHook.Store(nil)
		return
	}
	c.sigHook.Store(&fn)
}

// LocalSignatureHook returns the signature hook installed on c itself, or
// nil.
func (c *Class) LocalSignatureHook() SignatureFunc {
	if fn := c.sigHook.Load(); fn != nil {
		return *fn
	}
	return nil
}

// SignatureFor returns the call shape of sel for instances of c. Signature
// hooks in the ancestry are asked first, then method metadata.
func (c *Class) SignatureFor(sel Selector) (*Signature, bool) {
	for current := c; current != nil; current = current.Superclass {
		if hook := current.sigHook.Load(); hook != nil {
			if sig, ok := (*hook)(sel); ok {
				return sig, true
			}
		}
	}
	if slot, ok := c.VTable.LookupSlot(sel); ok && slot.Signature != nil {
		return slot.Signature, true
	}
	return nil, false
}

// ---------------------------------------------------------------------------
// ClassTable: class registry
// ---------------------------------------------------------------------------

// ClassTable manages registered classes by name.
// It's thread-safe for concurrent access.
type ClassTable struct {
	mu      sync.RWMutex
	classes map[string]*Class
}

// NewClassTable creates a new empty class table.
func NewClassTable() *ClassTable {
	return &ClassTable{
		classes: make(map[string]*Class),
	}
}

// Register adds a class to the table.
// Returns the previous class with this name, or nil.
func (ct *ClassTable) Register(c *Class) *Class {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	key := c.FullName()
	old := ct.classes[key]
	ct.classes[key] = c
	return old
}

// Lookup finds a class by name.
func (ct *ClassTable) Lookup(name string) *Class {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.classes[name]
}

// Has returns true if a class with this name is registered.
func (ct *ClassTable) Has(name string) bool {
	return ct.Lookup(name) != nil
}

// All returns all registered classes.
func (ct *ClassTable) All() []*Class {
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	result := make([]*Class, 0, len(ct.classes))
	for _, c := range ct.classes {
		result = append(result, c)
	}
	return result
}

// Len returns the number of registered classes.
func (ct *ClassTable) Len() int {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return len(ct.classes)
}

// ---------------------------------------------------------------------------
// Class creation helpers
// ---------------------------------------------------------------------------

// NewClass creates a new class with the given name and superclass.
// The VTable is created and linked to the superclass's vtable. The class
// belongs to the superclass's runtime.
func NewClass(name string, superclass *Class) *Class {
	var parentVT *VTable
	var numSlots int
	var rt *Runtime
	if superclass != nil {
		parentVT = superclass.VTable
		numSlots = superclass.NumSlots
		rt = superclass.runtime
	}

	c := &Class{
		Name:       name,
		Superclass: superclass,
		NumSlots:   numSlots,
		runtime:    rt,
	}
	c.VTable = NewVTable(c, parentVT)
	return c
}

// NewClassWithInstVars creates a new class with instance variables.
func NewClassWithInstVars(name string, superclass *Class, instVars []string) *Class {
	c := NewClass(name, superclass)
	c.InstVars = instVars
	c.NumSlots += len(instVars)
	return c
}

// ---------------------------------------------------------------------------
// Full qualified name helpers
// ---------------------------------------------------------------------------

// FullName returns the fully qualified class name (namespace::name or just name).
func (c *Class) FullName() string {
	if c.Namespace == "" {
		return c.Name
	}
	return c.Namespace + "::" + c.Name
}

// String implements the Stringer interface.
func (c *Class) String() string {
	return c.FullName()
}
