package intercept

import (
	"sync/atomic"

	"github.com/chazu/msgtap/vm"
)

// Alias selectors are named <engine prefix>_alias_<selector> and
// <engine prefix>_interop_<selector>. The engine prefix keeps the aliases
// of two engines patching the same class apart.
const (
	aliasInfix   = "_alias_"
	interopInfix = "_interop_"
)

// aliases are the selectors synthesized for one intercepted selector.
type aliases struct {
	// alias reaches the perceived class's current implementation.
	alias vm.Selector
	// interop reaches an implementation another agent had installed on the
	// patched class before it was intercepted.
	interop vm.Selector
}

// aliasTable records which selectors a class intercepts, with their
// aliases. Copy-on-write like sigCache.
type aliasTable struct {
	m atomic.Pointer[map[vm.Selector]aliases]
}

func (t *aliasTable) load(sel vm.Selector) (aliases, bool) {
	p := t.m.Load()
	if p == nil {
		return aliases{}, false
	}
	a, ok := (*p)[sel]
	return a, ok
}

// intern returns the aliases of sel, creating them on first use. Caller
// holds the record lock.
func (t *aliasTable) intern(rt *vm.Runtime, prefix string, sel vm.Selector) aliases {
	if a, ok := t.load(sel); ok {
		return a
	}

	name := rt.Selectors.Name(sel)
	a := aliases{
		alias:   rt.Intern(prefix + aliasInfix + name),
		interop: rt.Intern(prefix + interopInfix + name),
	}

	next := make(map[vm.Selector]aliases)
	if p := t.m.Load(); p != nil {
		for k, v := range *p {
			next[k] = v
		}
	}
	next[sel] = a
	t.m.Store(&next)
	return a
}

func (t *aliasTable) selectors() []vm.Selector {
	p := t.m.Load()
	if p == nil {
		return nil
	}
	out := make([]vm.Selector, 0, len(*p))
	for sel := range *p {
		out = append(out, sel)
	}
	return out
}
