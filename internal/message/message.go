// Package message defines the wire-level data model shared by the
// Waiter, Barista, and Announcer: tickets, the combined query/input
// envelope a client submits, and the response shapes the Waiter
// returns.
package message

import (
	"os"
	"time"

	"github.com/oriys/brew/internal/shoperr"
)

// Ticket is the opaque, vendor-assigned id for one unit of work. It is
// adopted verbatim from the work queue's message id on enqueue.
type Ticket = string

// QueryType is the contract a user-defined query type must satisfy:
// it carries the caller's desired long-poll timeout, if any.
type QueryType interface {
	Timeout() (time.Duration, bool)
}

// CombinedInput bundles the query options a client supplied alongside
// the (optional) request payload, exactly as received over HTTP.
type CombinedInput[Q QueryType, I any] struct {
	Query Q    `json:"query"`
	Input *I   `json:"input,omitempty"`
}

// ResponseMetadata is attached to every Waiter response.
type ResponseMetadata struct {
	Hostname  string    `json:"hostname"`
	Timestamp time.Time `json:"timestamp"`
	UptimeMS  int64     `json:"uptime_ms"`
}

var processStart = time.Now()

// NewResponseMetadata builds a ResponseMetadata stamped with the
// current time and this process's uptime.
func NewResponseMetadata() ResponseMetadata {
	host, _ := os.Hostname()
	return ResponseMetadata{
		Hostname:  host,
		Timestamp: time.Now().UTC(),
		UptimeMS:  time.Since(processStart).Milliseconds(),
	}
}

// TicketResponse is returned by async submit (202).
type TicketResponse struct {
	Ticket   Ticket           `json:"ticket"`
	Metadata ResponseMetadata `json:"metadata"`
}

// OutputResponse is returned by sync submit / poll on success (200).
type OutputResponse[O any] struct {
	Ticket   Ticket           `json:"ticket"`
	Metadata ResponseMetadata `json:"metadata"`
	Output   O                `json:"output"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	Metadata      ResponseMetadata `json:"metadata"`
	RequestCount  uint64           `json:"request_count"`
	TicketCount   int              `json:"ticket_count"`
}

// Kind enumerates MulticastMessage kinds. Ticket is the only kind in
// use today; the field exists so the wire format can grow without a
// breaking change, matching the original protobuf schema's intent.
type Kind int32

const (
	KindTicket Kind = 0
)

// Status enumerates the settlement outcome a MulticastMessage
// announces for a ticket.
type Status int32

const (
	StatusComplete Status = 0
	StatusRejected Status = 1
	StatusFailure  Status = 2
)

// IsFinished reports whether this status represents a settled
// (Complete or Rejected) outcome. Failure is advisory only and is
// never acted upon by the Collection Point, per spec §4.5/§4.6.
func (s Status) IsFinished() bool {
	return s == StatusComplete || s == StatusRejected
}

// ProcessResult is the outcome of one ticket's processing, as stored
// in (and retrieved from) the keyed store: either a success value of
// type O, or a structured MachineError.
type ProcessResult[O any] struct {
	Success    bool
	StatusCode int
	Output     O
	Err        *shoperr.ErrorSchema
}

// MulticastMessage is the notification broadcast by a Barista after a
// keyed-store write, and consumed by every Shop's Announcer
// (including its own, by design — re-entry must be idempotent).
type MulticastMessage struct {
	Task      string
	Ticket    Ticket
	Kind      Kind
	Status    Status
	Timestamp time.Time
}
