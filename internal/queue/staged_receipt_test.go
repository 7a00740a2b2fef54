package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oriys/brew/internal/shoperr"
)

type testQuery struct{}

func (testQuery) Timeout() (time.Duration, bool) { return 0, false }

func TestStagedReceipt_DoubleSettleIsRejected(t *testing.T) {
	r := &StagedReceipt[testQuery, string]{Ticket: "t-1"}
	// Simulate an already-settled receipt without touching the network:
	// the CAS inside complete() must fail before any queue call happens.
	r.state.Store(int32(settledDeleted))

	err := r.Abort(context.Background())
	require.Error(t, err)
	var se *shoperr.ShopError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, shoperr.KindReceiptAlreadySettled, se.Kind)
}

func TestFinalizeStagedReceipt_LogsWhenUnsettled(t *testing.T) {
	r := &StagedReceipt[testQuery, string]{Ticket: "t-2", strict: false}
	// Should not panic in non-strict mode.
	finalizeStagedReceipt(r)
}

func TestFinalizeStagedReceipt_PanicsUnderStrictMode(t *testing.T) {
	r := &StagedReceipt[testQuery, string]{Ticket: "t-3", strict: true}
	assert.Panics(t, func() { finalizeStagedReceipt(r) })
}

func TestFinalizeStagedReceipt_SkipsSettled(t *testing.T) {
	r := &StagedReceipt[testQuery, string]{Ticket: "t-4", strict: true}
	r.state.Store(int32(settledDeleted))
	assert.NotPanics(t, func() { finalizeStagedReceipt(r) })
}
