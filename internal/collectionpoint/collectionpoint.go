// Package collectionpoint implements the Collection Point (spec
// §4.6): dispatching incoming finished MulticastMessages onto the
// local OrderChain, and the bounded-retry fetch a waiting Waiter uses
// to ride out the replication gap between a broadcast and a readable
// keyed-store row.
package collectionpoint

import (
	"context"
	"math/rand"
	"time"

	"github.com/oriys/brew/internal/logging"
	"github.com/oriys/brew/internal/message"
	"github.com/oriys/brew/internal/orderchain"
	"github.com/oriys/brew/internal/shoperr"
	"github.com/oriys/brew/internal/store"
)

// consistencyRetries/consistencyDelay bound the "row not yet visible"
// race between a Complete/Rejected broadcast and a readable row,
// before surfacing it to the client as a 5xx, per spec §4.6.
const (
	consistencyRetries = 5
	consistencyDelay   = 50 * time.Millisecond
)

// MaxConsistencyWait is the longest fetchWithRetry will ever spend
// waiting for a settled ticket's row to become readable. It is the one
// place in this domain with an existing, principled fetch-timing
// budget, so other components size their own caching windows off it
// rather than against an arbitrary constant.
const MaxConsistencyWait = consistencyRetries * consistencyDelay

// FallbackPollMin/Max bound the jittered interval between PollFallback's
// sweeps over still-Pending orders. Decided conservative per the spec's
// open question on poll cadence: frequent enough to feel responsive,
// loose enough not to hammer the keyed store.
const (
	FallbackPollMin = 2 * time.Second
	FallbackPollMax = 5 * time.Second
)

// Point dispatches Announcer notifications onto a Chain.
type Point struct {
	chain *orderchain.Chain
}

// New returns a Point bound to chain.
func New(chain *orderchain.Chain) *Point {
	return &Point{chain: chain}
}

// Handle settles the Order tracked under msg.Ticket, if any. Messages
// for tickets this Shop is not tracking are logged and dropped, per
// spec §4.5. msg.Status is assumed already filtered to a finished
// status by the Announcer.
func (p *Point) Handle(msg message.MulticastMessage) {
	ref, ok := p.chain.Get(msg.Ticket)
	if !ok {
		logging.Op().Debug("collection point: ticket not tracked locally", "ticket", msg.Ticket)
		return
	}
	defer ref.Release()

	if err := ref.Order().Settle(msg.Status == message.StatusComplete); err != nil {
		logging.Op().Debug("collection point: settle no-op", "ticket", msg.Ticket, "error", err)
	}
}

// Await blocks until the Order tracked under ticket settles, ctx is
// done, or timeout elapses, then fetches the outcome from the keyed
// store. A short settle-to-readable race is ridden out with bounded
// retries; if it never resolves, a ConsistencyDelay error is returned
// rather than surfacing an absent row as "processing failed".
func Await[O any](ctx context.Context, chain *orderchain.Chain, st *store.Store, ticket string, timeout time.Duration) (*message.ProcessResult[O], error) {
	ref, ok := chain.Get(ticket)
	if !ok {
		return fetchWithRetry[O](ctx, st, ticket)
	}
	defer ref.Release()

	select {
	case <-ref.Order().Done():
		return fetchWithRetry[O](ctx, st, ticket)
	case <-time.After(timeout):
		return nil, shoperr.New(shoperr.KindTicketTimeout, "ticket %s did not settle within %s", ticket, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// PollFallback periodically re-reads the keyed store for every order
// still Pending in chain, settling any whose row already exists. It
// exists for the case a Complete/Rejected multicast datagram is
// dropped (UDP is unreliable, per spec §4.5) and no further
// notification will ever arrive for that ticket; Poll and Wait would
// otherwise block until their caller's timeout regardless of the
// task actually being done. Runs until ctx is done.
func (p *Point) PollFallback(ctx context.Context, st *store.Store) {
	for {
		wait := FallbackPollMin + time.Duration(rand.Int63n(int64(FallbackPollMax-FallbackPollMin)))
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		p.reconcileOnce(ctx, st)
	}
}

// reconcileOnce re-reads every Pending order's keyed-store row once.
func (p *Point) reconcileOnce(ctx context.Context, st *store.Store) {
	for _, ticket := range p.chain.Keys() {
		ref, ok := p.chain.Get(ticket)
		if !ok {
			continue
		}
		pending := ref.Order().State() == orderchain.Pending
		ref.Release()
		if !pending {
			continue
		}

		result, err := store.Get[struct{}](ctx, st, ticket)
		if err != nil {
			logging.Op().Debug("collection point: fallback poll read failed", "ticket", ticket, "error", err)
			continue
		}
		if result == nil {
			continue
		}

		p.Handle(message.MulticastMessage{
			Ticket: ticket,
			Status: statusFor(result.Success),
		})
	}
}

func statusFor(success bool) message.Status {
	if success {
		return message.StatusComplete
	}
	return message.StatusRejected
}

// fetchWithRetry rides out the gap between a settle broadcast and a
// read-consistent keyed-store row.
func fetchWithRetry[O any](ctx context.Context, st *store.Store, ticket string) (*message.ProcessResult[O], error) {
	for attempt := 0; attempt < consistencyRetries; attempt++ {
		result, err := store.Get[O](ctx, st, ticket)
		if err != nil {
			return nil, err
		}
		if result != nil {
			return result, nil
		}

		select {
		case <-time.After(consistencyDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, shoperr.New(shoperr.KindConsistencyDelay, "ticket %s settled but its row is not yet readable", ticket)
}
