// Package orderchain implements the Shop's pending-order structure: an
// append-only singly-linked concurrent map from Ticket to Order. It is
// the one piece of shared mutable state in the Shop (spec §5); every
// other component's state is per-task.
package orderchain

import "sync"

// Ref is a caller's held reference to a chain entry. It must be
// released once the caller is done examining the Order, so that
// Advance can reclaim the segment once no Ref is outstanding.
type Ref struct {
	seg *segment
}

// Order returns the referenced Order.
func (r *Ref) Order() *Order { return r.seg.order }

// Release drops this reference. Safe to call at most once; calling it
// twice double-decrements the refcount and must be avoided by callers
// (defer Release() immediately after a successful Get call).
func (r *Ref) Release() {
	r.seg.refs.Add(-1)
}

// Chain is a process-wide, append-only concurrent map of Ticket ->
// Order for one Shop.
type Chain struct {
	mu   sync.RWMutex
	head *segment
}

// New returns an empty Chain.
func New() *Chain {
	return &Chain{}
}

// Insert adds a new Pending Order under key. It fails with
// *KeyAlreadyExistsError if any still-reachable segment in the chain —
// head, tail, or interior — already carries that key.
func (c *Chain) Insert(key string, order *Order) error {
	seg := newSegment(key, order)

	c.mu.RLock()
	head := c.head
	c.mu.RUnlock()

	if head != nil {
		return head.attach(seg)
	}

	// Chain was empty at the snapshot; acquire the write lock and
	// recheck, since another inserter may have raced us to install
	// the very first head.
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.head == nil {
		c.head = seg
		return nil
	}
	return c.head.attach(seg)
}

// Get performs an O(n) scan from head looking for key, returning a Ref
// the caller must Release when done. The scan cost is acceptable: the
// chain is short-lived and bounded by max_tickets.
func (c *Chain) Get(key string) (*Ref, bool) {
	c.mu.RLock()
	head := c.head
	c.mu.RUnlock()

	for cur := head; cur != nil; cur = cur.next.Load() {
		if cur.key == key {
			cur.refs.Add(1)
			return &Ref{seg: cur}, true
		}
	}
	return nil, false
}

// Len reports the current chain length (O(n)).
func (c *Chain) Len() int {
	c.mu.RLock()
	head := c.head
	c.mu.RUnlock()

	n := 0
	for cur := head; cur != nil; cur = cur.next.Load() {
		n++
	}
	return n
}

// IsEmpty reports whether the chain currently has no entries.
func (c *Chain) IsEmpty() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.head == nil
}

// Advance runs the chain's garbage collector: it repeatedly replaces
// head with head.next as long as the current head has no outstanding
// Ref (refs == 1, the structural baseline), stopping at the first
// segment some caller still holds, or at an empty chain.
func (c *Chain) Advance() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for c.head != nil && c.head.refs.Load() == 1 {
		c.head = c.head.next.Load()
	}
}

// Keys returns a snapshot of every key currently reachable from head,
// for diagnostics and tests.
func (c *Chain) Keys() []string {
	c.mu.RLock()
	head := c.head
	c.mu.RUnlock()

	var keys []string
	for cur := head; cur != nil; cur = cur.next.Load() {
		keys = append(keys, cur.key)
	}
	return keys
}
