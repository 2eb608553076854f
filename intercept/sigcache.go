package intercept

import (
	"sync/atomic"

	"github.com/chazu/msgtap/vm"
)

// sigCache maps selectors to call signatures for one patched class.
//
// Readers load the current map without locking. Writers hold the owning
// record's lock and publish a fresh copy, so a reader never observes a
// partially built map. Entries are never replaced once stored.
type sigCache struct {
	m atomic.Pointer[map[vm.Selector]*vm.Signature]
}

func (c *sigCache) load(sel vm.Selector) (*vm.Signature, bool) {
	p := c.m.Load()
	if p == nil {
		return nil, false
	}
	sig, ok := (*p)[sel]
	return sig, ok
}

// storeIfAbsent caches sig for sel unless a signature is already cached, and
// returns the cached one. Caller holds the record lock.
func (c *sigCache) storeIfAbsent(sel vm.Selector, sig *vm.Signature) *vm.Signature {
	if cached, ok := c.load(sel); ok {
		return cached
	}

	var next map[vm.Selector]*vm.Signature
	if p := c.m.Load(); p != nil {
		next = make(map[vm.Selector]*vm.Signature, len(*p)+1)
		for k, v := range *p {
			next[k] = v
		}
	} else {
		next = make(map[vm.Selector]*vm.Signature, 1)
	}
	next[sel] = sig
	c.m.Store(&next)
	return sig
}

func (c *sigCache) len() int {
	if p := c.m.Load(); p != nil {
		return len(*p)
	}
	return 0
}
