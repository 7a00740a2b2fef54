package orderchain

import "sync/atomic"

// segment is one node of the append-only chain. next is settable
// exactly once via CompareAndSwap; a segment whose next is already set
// cannot be re-targeted, matching the original's OnceLock semantics.
//
// refs tracks how many holders currently reference this segment beyond
// the single structural link that keeps it reachable (the predecessor's
// next pointer, or the chain's head field). Chain.Advance only reclaims a
// segment whose refs has dropped back to that baseline of 1: any Ref
// handle obtained via Chain.Get keeps its segment (and
// everything after it) from being collected out from under a caller
// still examining it.
type segment struct {
	key   string
	order *Order
	next  atomic.Pointer[segment]
	refs  atomic.Int32
}

func newSegment(key string, order *Order) *segment {
	s := &segment{key: key, order: order}
	s.refs.Store(1)
	return s
}

// KeyAlreadyExistsError reports that a still-reachable segment of the
// chain already carries the candidate's key.
type KeyAlreadyExistsError struct {
	Key string
}

func (e *KeyAlreadyExistsError) Error() string {
	return "order chain: key already exists: " + e.Key
}

// attach appends next onto the chain, walking from s (the chain's
// head) all the way to the tail and checking every still-reachable
// segment's key along the way, never just the tail's. A key match at
// the head or any interior segment fails the insert exactly the same
// as a match at the tail.
func (s *segment) attach(next *segment) error {
	cur := s
	for {
		if cur.key == next.key {
			return &KeyAlreadyExistsError{Key: next.key}
		}
		n := cur.next.Load()
		if n == nil {
			if cur.next.CompareAndSwap(nil, next) {
				return nil
			}
			// Lost the race to install at cur; loop back and check the
			// segment that won before advancing past it.
			continue
		}
		cur = n
	}
}
