package orderchain

import (
	"sync"
	"sync/atomic"

	"github.com/oriys/brew/internal/message"
)

// State is an Order's settlement state.
type State int32

const (
	Pending State = iota
	Complete
	Rejected
)

func (s State) String() string {
	switch s {
	case Complete:
		return "Complete"
	case Rejected:
		return "Rejected"
	default:
		return "Pending"
	}
}

// ErrAlreadySettled is returned by Settle when the Order has already
// transitioned out of Pending; it does not mutate state.
type ErrAlreadySettled struct {
	Ticket  message.Ticket
	Current State
}

func (e *ErrAlreadySettled) Error() string {
	return "order " + e.Ticket + " already settled as " + e.Current.String()
}

// Order is the in-memory record of one waiter's pending wait for a
// ticket. It is created when the Waiter enqueues a ticket and is torn
// down once the chain's garbage collector reaps it from the head.
type Order struct {
	Ticket message.Ticket

	state atomic.Int32
	once  sync.Once
	done  chan struct{}
}

// NewOrder creates a Pending order for ticket.
func NewOrder(ticket message.Ticket) *Order {
	return &Order{
		Ticket: ticket,
		done:   make(chan struct{}),
	}
}

// State returns the current settlement state.
func (o *Order) State() State {
	return State(o.state.Load())
}

// Done returns a channel closed the moment the Order settles, for use
// in a select alongside a timeout.
func (o *Order) Done() <-chan struct{} {
	return o.done
}

// Settle transitions Pending -> Complete or Pending -> Rejected. A
// second settlement attempt returns ErrAlreadySettled and leaves the
// state untouched, matching the "at most one transition" invariant.
func (o *Order) Settle(complete bool) error {
	want := Rejected
	if complete {
		want = Complete
	}
	if !o.state.CompareAndSwap(int32(Pending), int32(want)) {
		return &ErrAlreadySettled{Ticket: o.Ticket, Current: o.State()}
	}
	o.once.Do(func() { close(o.done) })
	return nil
}
