package queue

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/oriys/brew/internal/codec"
	"github.com/oriys/brew/internal/logging"
	"github.com/oriys/brew/internal/message"
	"github.com/oriys/brew/internal/shoperr"
)

// settleState tracks a StagedReceipt's once-only settlement outcome.
type settleState int32

const (
	unsettled settleState = iota
	settledDeleted
	settledAborted
)

// StagedReceipt is a dequeued work item held by one Barista. It MUST
// be explicitly settled (Delete or Abort) before it is dropped; an
// unsettled drop is a programmer error, logged always and, under
// strict mode, treated as fatal (spec §3, §5, §9).
type StagedReceipt[Q message.QueryType, I any] struct {
	wq            *WorkQueue
	Ticket        message.Ticket
	Input         message.CombinedInput[Q, I]
	receiptHandle string
	state         atomic.Int32
	strict        bool
}

// Receive long-polls wq for one message and decodes it into a
// CombinedInput[Q,I], returning a StagedReceipt the caller must settle.
// strict controls the unsettled-drop diagnostic's severity.
func Receive[Q message.QueryType, I any](ctx context.Context, wq *WorkQueue, timeout time.Duration, strict bool) (*StagedReceipt[Q, I], error) {
	raw, err := wq.receiveRaw(ctx, timeout)
	if err != nil {
		return nil, err
	}

	var input message.CombinedInput[Q, I]
	if err := codec.Decode(raw.body, &input); err != nil {
		return nil, err
	}

	sr := &StagedReceipt[Q, I]{
		wq:            wq,
		Ticket:        raw.ticket,
		Input:         input,
		receiptHandle: raw.receiptHandle,
		strict:        strict,
	}
	runtime.SetFinalizer(sr, finalizeStagedReceipt[Q, I])
	return sr, nil
}

// Delete settles the receipt as successfully processed.
func (r *StagedReceipt[Q, I]) Delete(ctx context.Context) error {
	return r.complete(ctx, true)
}

// Abort settles the receipt as not processed, returning it to visible
// state so another node may retry it.
func (r *StagedReceipt[Q, I]) Abort(ctx context.Context) error {
	return r.complete(ctx, false)
}

func (r *StagedReceipt[Q, I]) complete(ctx context.Context, success bool) error {
	want := settledAborted
	if success {
		want = settledDeleted
	}
	if !r.state.CompareAndSwap(int32(unsettled), int32(want)) {
		return shoperr.New(shoperr.KindReceiptAlreadySettled, "ticket %s already settled", r.Ticket)
	}
	runtime.SetFinalizer(r, nil)

	if success {
		return r.wq.Delete(ctx, r.receiptHandle)
	}
	return r.wq.Abort(ctx, r.receiptHandle)
}

// finalizeStagedReceipt is installed via runtime.SetFinalizer and
// diagnoses the "dropped without settling" contract violation the
// spec requires be observable (spec §8's StagedReceipt invariant).
func finalizeStagedReceipt[Q message.QueryType, I any](r *StagedReceipt[Q, I]) {
	if settleState(r.state.Load()) != unsettled {
		return
	}
	logging.Op().Error("staged receipt dropped without settlement",
		"ticket", r.Ticket, "strict", r.strict)
	if r.strict {
		panic("brew: StagedReceipt for ticket " + r.Ticket + " was dropped without calling Delete or Abort")
	}
}
