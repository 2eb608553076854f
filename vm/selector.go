package vm

import (
	"sync"
	"sync/atomic"
)

// Selector is an interned method name ("balance", "move:by:"). Selectors
// are dense small integers so method tables can index slots by them.
type Selector int32

// NoSelector is returned by lookups that find nothing.
const NoSelector Selector = -1

// SelectorTable interns selector names. Names are never removed.
//
// Dispatch and event publication resolve names on every call, so Name and
// Lookup read a published snapshot without locking. Intern takes the
// writer lock only for names it has not seen.
type SelectorTable struct {
	mu    sync.Mutex
	names atomic.Pointer[[]string]
	ids   sync.Map // string -> Selector
}

// NewSelectorTable creates an empty selector table.
func NewSelectorTable() *SelectorTable {
	st := &SelectorTable{}
	names := make([]string, 0, 256)
	st.names.Store(&names)
	return st
}

// Intern returns the selector for name, allocating the next id on first use.
func (st *SelectorTable) Intern(name string) Selector {
	if id, ok := st.ids.Load(name); ok {
		return id.(Selector)
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if id, ok := st.ids.Load(name); ok {
		return id.(Selector)
	}

	// Readers only index below the length of the snapshot they loaded, so
	// appending in place past it is safe; a full array is copied instead.
	names := *st.names.Load()
	id := Selector(len(names))
	names = append(names, name)
	st.names.Store(&names)
	st.ids.Store(name, id)
	return id
}

// Lookup returns the selector for name without interning it, or NoSelector.
func (st *SelectorTable) Lookup(name string) Selector {
	if id, ok := st.ids.Load(name); ok {
		return id.(Selector)
	}
	return NoSelector
}

// Name returns the name of sel, or "" for an id the table never issued.
func (st *SelectorTable) Name(sel Selector) string {
	names := *st.names.Load()
	if sel < 0 || int(sel) >= len(names) {
		return ""
	}
	return names[sel]
}

// Len returns the number of interned selectors.
func (st *SelectorTable) Len() int {
	return len(*st.names.Load())
}
