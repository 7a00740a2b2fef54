// Package barista implements the Barista worker loop (spec §4.3):
// receive, validate, call the user Machine, persist the outcome, and
// broadcast it, settling the StagedReceipt at each step's boundary.
package barista

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/oriys/brew/internal/announcer"
	"github.com/oriys/brew/internal/audit"
	"github.com/oriys/brew/internal/logging"
	"github.com/oriys/brew/internal/machine"
	"github.com/oriys/brew/internal/message"
	"github.com/oriys/brew/internal/metrics"
	"github.com/oriys/brew/internal/queue"
	"github.com/oriys/brew/internal/shoperr"
	"github.com/oriys/brew/internal/store"
)

// Worker is one Barista bound to a user Machine[Q,I,O].
type Worker[Q message.QueryType, I any, O any] struct {
	task     string
	wq       *queue.WorkQueue
	st       *store.Store
	announce *announcer.Announcer
	machine  machine.Machine[Q, I, O]
	strict   bool
	metrics  *metrics.Shop
	audit    *audit.Log
}

// New returns a Worker ready to Run. mt and a may be nil.
func New[Q message.QueryType, I any, O any](
	task string,
	wq *queue.WorkQueue,
	st *store.Store,
	announce *announcer.Announcer,
	m machine.Machine[Q, I, O],
	strict bool,
	mt *metrics.Shop,
	a *audit.Log,
) *Worker[Q, I, O] {
	return &Worker[Q, I, O]{task: task, wq: wq, st: st, announce: announce, machine: m, strict: strict, metrics: mt, audit: a}
}

// Run loops until ctx is cancelled, processing one ticket per
// iteration. A receive timeout (no work arrived) is not logged as an
// error; any other failure is logged and the loop continues.
func (w *Worker[Q, I, O]) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := w.processOne(ctx); err != nil {
			var se *shoperr.ShopError
			if errors.As(err, &se) && se.Kind == shoperr.KindAWSSQSQueueEmpty {
				continue
			}
			logging.Op().Warn("barista iteration failed", "error", err)
		}
	}
}

func (w *Worker[Q, I, O]) processOne(ctx context.Context) error {
	start := time.Now()
	receipt, err := queue.Receive[Q, I](ctx, w.wq, queue.DefaultWaitTime, w.strict)
	if err != nil {
		return err
	}

	if verr := w.machine.Validate(receipt.Input.Query, receipt.Input.Input); len(verr) > 0 {
		details := make(map[string]any, len(verr))
		for k, v := range verr {
			details[k] = v
		}
		schema := shoperr.ErrorSchema{StatusCode: http.StatusBadRequest, Kind: string(shoperr.KindInvalidPayload), Details: details}
		return w.settleFailure(ctx, receipt, schema, start)
	}

	output, machErr := w.machine.Call(ctx, receipt.Input.Query, receipt.Input.Input)
	if machErr != nil {
		return w.settleFailure(ctx, receipt, *machErr, start)
	}

	if err := store.PutSuccess(ctx, w.st, receipt.Ticket, output, http.StatusOK); err != nil {
		return w.settleInfraFailure(ctx, receipt, err)
	}
	if err := receipt.Delete(ctx); err != nil {
		return err
	}
	w.recordSettlement("complete", time.Since(start), receipt.Ticket)
	return w.broadcast(receipt.Ticket, message.StatusComplete)
}

// settleFailure writes a task-failure row, then deletes the receipt
// (it will not be retried: the Machine has spoken) and broadcasts
// Rejected.
func (w *Worker[Q, I, O]) settleFailure(ctx context.Context, receipt *queue.StagedReceipt[Q, I], schema shoperr.ErrorSchema, start time.Time) error {
	if err := w.st.PutFailure(ctx, receipt.Ticket, schema); err != nil {
		return w.settleInfraFailure(ctx, receipt, err)
	}
	if err := receipt.Delete(ctx); err != nil {
		return err
	}
	w.recordSettlement("rejected", time.Since(start), receipt.Ticket)
	return w.broadcast(receipt.Ticket, message.StatusRejected)
}

// settleInfraFailure aborts the receipt so another node may retry it,
// and broadcasts an advisory Failure notification that implies no
// state change, per spec §4.3.
func (w *Worker[Q, I, O]) settleInfraFailure(ctx context.Context, receipt *queue.StagedReceipt[Q, I], cause error) error {
	if abortErr := receipt.Abort(ctx); abortErr != nil {
		logging.Op().Error("failed to abort receipt after infrastructure failure", "ticket", receipt.Ticket, "error", abortErr)
	}
	_ = w.broadcast(receipt.Ticket, message.StatusFailure)
	return cause
}

// recordSettlement notes a terminal outcome in the metrics and audit
// sinks, if configured.
func (w *Worker[Q, I, O]) recordSettlement(outcome string, duration time.Duration, ticket message.Ticket) {
	if w.metrics != nil {
		w.metrics.RecordSettlement(outcome, duration)
	}
	if w.audit != nil {
		transition := audit.TransitionCompleted
		if outcome == "rejected" {
			transition = audit.TransitionRejected
		}
		w.audit.Record(w.task, ticket, transition, outcome)
	}
}

func (w *Worker[Q, I, O]) broadcast(ticket message.Ticket, status message.Status) error {
	return w.announce.Send(message.MulticastMessage{
		Task:      w.task,
		Ticket:    ticket,
		Kind:      message.KindTicket,
		Status:    status,
		Timestamp: time.Now().UTC(),
	})
}
