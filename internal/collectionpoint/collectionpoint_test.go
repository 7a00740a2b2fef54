package collectionpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oriys/brew/internal/message"
	"github.com/oriys/brew/internal/orderchain"
)

func TestHandle_SettlesTrackedOrderComplete(t *testing.T) {
	chain := orderchain.New()
	order := orderchain.NewOrder("t-1")
	require.NoError(t, chain.Insert("t-1", order))

	p := New(chain)
	p.Handle(message.MulticastMessage{Ticket: "t-1", Status: message.StatusComplete})

	assert.Equal(t, orderchain.Complete, order.State())
	select {
	case <-order.Done():
	default:
		t.Fatal("expected order to be done")
	}
}

func TestHandle_SettlesTrackedOrderRejected(t *testing.T) {
	chain := orderchain.New()
	order := orderchain.NewOrder("t-2")
	require.NoError(t, chain.Insert("t-2", order))

	p := New(chain)
	p.Handle(message.MulticastMessage{Ticket: "t-2", Status: message.StatusRejected})

	assert.Equal(t, orderchain.Rejected, order.State())
}

func TestHandle_UntrackedTicketIsDroppedSilently(t *testing.T) {
	chain := orderchain.New()
	p := New(chain)
	assert.NotPanics(t, func() {
		p.Handle(message.MulticastMessage{Ticket: "nobody-tracks-me", Status: message.StatusComplete})
	})
}

func TestHandle_DoubleSettleIsIgnored(t *testing.T) {
	chain := orderchain.New()
	order := orderchain.NewOrder("t-3")
	require.NoError(t, chain.Insert("t-3", order))

	p := New(chain)
	p.Handle(message.MulticastMessage{Ticket: "t-3", Status: message.StatusComplete})
	assert.NotPanics(t, func() {
		p.Handle(message.MulticastMessage{Ticket: "t-3", Status: message.StatusRejected})
	})
	// First settlement wins.
	assert.Equal(t, orderchain.Complete, order.State())
}
