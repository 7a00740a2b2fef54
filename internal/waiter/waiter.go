// Package waiter implements the Waiter (spec §4.1): the HTTP surface
// accepting client submissions, running admission control against
// max_tickets, and serving async/sync/poll/status requests.
package waiter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/oriys/brew/internal/audit"
	"github.com/oriys/brew/internal/codec"
	"github.com/oriys/brew/internal/collectionpoint"
	"github.com/oriys/brew/internal/logging"
	"github.com/oriys/brew/internal/machine"
	"github.com/oriys/brew/internal/message"
	"github.com/oriys/brew/internal/metrics"
	"github.com/oriys/brew/internal/orderchain"
	"github.com/oriys/brew/internal/queue"
	"github.com/oriys/brew/internal/shoperr"
	"github.com/oriys/brew/internal/store"
)

// Waiter serves one task's HTTP surface.
type Waiter[Q message.QueryType, I any, O any] struct {
	task       string
	wq         *queue.WorkQueue
	st         *store.Store
	chain      *orderchain.Chain
	machine    machine.Machine[Q, I, O]
	maxTickets int
	metrics    *metrics.Shop
	audit      *audit.Log

	requestCount atomic.Uint64
	reqLog       *logging.Logger
}

// New returns a Waiter bound to task, ready to build routes via Routes.
// mt and a may be nil: a Waiter under test need not carry either.
func New[Q message.QueryType, I any, O any](
	task string,
	wq *queue.WorkQueue,
	st *store.Store,
	chain *orderchain.Chain,
	m machine.Machine[Q, I, O],
	maxTickets int,
	mt *metrics.Shop,
	a *audit.Log,
) *Waiter[Q, I, O] {
	return &Waiter[Q, I, O]{task: task, wq: wq, st: st, chain: chain, machine: m, maxTickets: maxTickets, metrics: mt, audit: a, reqLog: logging.Default()}
}

// Routes registers this Waiter's handlers on a fresh ServeMux.
func (w *Waiter[Q, I, O]) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /"+w.task, w.handleSubmit)
	mux.HandleFunc("POST /"+w.task+"/wait", w.handleWait)
	mux.HandleFunc("GET /"+w.task+"/{ticket}", w.handlePoll)
	mux.HandleFunc("GET /status", w.handleStatus)
	return mux
}

func (w *Waiter[Q, I, O]) handleSubmit(rw http.ResponseWriter, r *http.Request) {
	start := time.Now()
	reqID := uuid.NewString()

	combined, shopErr := w.decodeAndValidate(r)
	if shopErr != nil {
		w.writeError(rw, r, reqID, start, "", shopErr)
		return
	}

	ticket, shopErr := w.enqueue(r.Context(), combined)
	if shopErr != nil {
		w.writeError(rw, r, reqID, start, "", shopErr)
		return
	}

	w.recordSubmission("async", ticket)

	resp := message.TicketResponse{Ticket: ticket, Metadata: message.NewResponseMetadata()}
	w.writeJSON(rw, http.StatusAccepted, resp)
	w.logRequest(r, reqID, start, ticket, http.StatusAccepted, true, "")
}

func (w *Waiter[Q, I, O]) handleWait(rw http.ResponseWriter, r *http.Request) {
	start := time.Now()
	reqID := uuid.NewString()

	combined, shopErr := w.decodeAndValidate(r)
	if shopErr != nil {
		w.writeError(rw, r, reqID, start, "", shopErr)
		return
	}

	ticket, shopErr := w.enqueue(r.Context(), combined)
	if shopErr != nil {
		w.writeError(rw, r, reqID, start, "", shopErr)
		return
	}

	w.recordSubmission("sync", ticket)

	timeout, _ := combined.Query.Timeout()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	result, err := collectionpoint.Await[O](r.Context(), w.chain, w.st, ticket, timeout)
	w.respondResult(rw, r, reqID, start, ticket, result, err)
}

func (w *Waiter[Q, I, O]) handlePoll(rw http.ResponseWriter, r *http.Request) {
	start := time.Now()
	reqID := uuid.NewString()
	ticket := r.PathValue("ticket")

	timeout := time.Duration(0)
	if raw := r.URL.Query().Get("timeout_ms"); raw != "" {
		if ms, err := strconv.Atoi(raw); err == nil && ms > 0 {
			timeout = time.Duration(ms) * time.Millisecond
		}
	}

	var result *message.ProcessResult[O]
	var err error
	if timeout > 0 {
		result, err = collectionpoint.Await[O](r.Context(), w.chain, w.st, ticket, timeout)
	} else {
		result, err = store.Get[O](r.Context(), w.st, ticket)
		if err == nil && result == nil {
			err = shoperr.New(shoperr.KindUnknownTicket, "no result yet for ticket %s", ticket)
		}
	}
	w.respondResult(rw, r, reqID, start, ticket, result, err)
}

func (w *Waiter[Q, I, O]) handleStatus(rw http.ResponseWriter, r *http.Request) {
	resp := message.StatusResponse{
		Metadata:     message.NewResponseMetadata(),
		RequestCount: w.requestCount.Load(),
		TicketCount:  w.chain.Len(),
	}
	w.writeJSON(rw, http.StatusOK, resp)
}

// respondResult renders a ProcessResult (or an error from the await
// path) as the client-visible response: 200 + output, or the
// result's own declared status + error body.
func (w *Waiter[Q, I, O]) respondResult(rw http.ResponseWriter, r *http.Request, reqID string, start time.Time, ticket string, result *message.ProcessResult[O], err error) {
	if err != nil {
		var se *shoperr.ShopError
		if errors.As(err, &se) {
			w.writeError(rw, r, reqID, start, ticket, se)
			return
		}
		w.writeError(rw, r, reqID, start, ticket, shoperr.Wrap(shoperr.KindAWSSdkError, err, "await ticket %s", ticket))
		return
	}

	if result.Success {
		resp := message.OutputResponse[O]{Ticket: ticket, Metadata: message.NewResponseMetadata(), Output: result.Output}
		w.writeJSON(rw, result.StatusCode, resp)
		w.logRequest(r, reqID, start, ticket, result.StatusCode, true, "")
		return
	}

	w.writeJSON(rw, result.Err.StatusCode, result.Err)
	w.logRequest(r, reqID, start, ticket, result.Err.StatusCode, false, result.Err.Kind)
}

// decodeAndValidate parses the request body as a CombinedInput[Q,I]
// and runs the Machine's Validate hook.
func (w *Waiter[Q, I, O]) decodeAndValidate(r *http.Request) (message.CombinedInput[Q, I], *shoperr.ShopError) {
	var combined message.CombinedInput[Q, I]
	if err := json.NewDecoder(r.Body).Decode(&combined); err != nil {
		return combined, &shoperr.ShopError{
			Kind:    shoperr.KindMalformedJSON,
			Message: err.Error(),
			Field:   "$body",
			Details: map[string]any{"$body": err.Error()},
		}
	}

	if verr := w.machine.Validate(combined.Query, combined.Input); len(verr) > 0 {
		details := make(map[string]any, len(verr))
		for k, v := range verr {
			details[k] = v
		}
		return combined, &shoperr.ShopError{Kind: shoperr.KindInvalidQueryOptions, Message: "validation failed", Details: details}
	}

	return combined, nil
}

// enqueue admits combined against max_tickets, encodes it, puts it on
// the work queue, and registers a Pending Order under the returned
// ticket.
func (w *Waiter[Q, I, O]) enqueue(ctx context.Context, combined message.CombinedInput[Q, I]) (string, *shoperr.ShopError) {
	if w.chain.Len() >= w.maxTickets {
		return "", shoperr.New(shoperr.KindTooManyTickets, "admission cap of %d reached", w.maxTickets)
	}

	data, err := codec.EncodeWithLimit(combined, queue.SizeLimit)
	if err != nil {
		var se *shoperr.ShopError
		if errors.As(err, &se) {
			return "", se
		}
		return "", shoperr.Wrap(shoperr.KindBinaryConversion, err, "encode submission")
	}

	ticket, err := w.wq.Put(ctx, data)
	if err != nil {
		var se *shoperr.ShopError
		if errors.As(err, &se) {
			return "", se
		}
		return "", shoperr.Wrap(shoperr.KindAWSSdkError, err, "enqueue submission")
	}

	if insErr := w.chain.Insert(ticket, orderchain.NewOrder(ticket)); insErr != nil {
		logging.Op().Warn("order chain insert collision", "ticket", ticket, "error", insErr)
	}
	w.requestCount.Add(1)
	return ticket, nil
}

// recordSubmission notes an admitted ticket in the metrics and audit
// sinks, if configured.
func (w *Waiter[Q, I, O]) recordSubmission(mode, ticket string) {
	if w.metrics != nil {
		w.metrics.RecordSubmission(mode)
	}
	if w.audit != nil {
		w.audit.Record(w.task, ticket, audit.TransitionSubmitted, mode)
	}
}

func (w *Waiter[Q, I, O]) writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.Header().Set("Cache-Control", "no-store")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func (w *Waiter[Q, I, O]) writeError(rw http.ResponseWriter, r *http.Request, reqID string, start time.Time, ticket string, err *shoperr.ShopError) {
	w.writeJSON(rw, err.HTTPStatus(), err)
	w.logRequest(r, reqID, start, ticket, err.HTTPStatus(), false, err.Error())
}

func (w *Waiter[Q, I, O]) logRequest(r *http.Request, reqID string, start time.Time, ticket string, status int, success bool, errMsg string) {
	w.reqLog.Log(&logging.RequestLog{
		RequestID:  reqID,
		Task:       w.task,
		Ticket:     ticket,
		Method:     r.Method,
		Path:       r.URL.Path,
		StatusCode: status,
		DurationMs: time.Since(start).Milliseconds(),
		Success:    success,
		Error:      errMsg,
	})
}
