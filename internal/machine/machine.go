// Package machine defines the contract user-supplied task
// implementations ("coffee machines") must satisfy. A Machine is the
// only piece of this system that is domain-specific; the Shop itself
// is generic over the Query, Input, and Output types it carries.
package machine

import (
	"context"

	"github.com/oriys/brew/internal/message"
	"github.com/oriys/brew/internal/shoperr"
)

// Machine is the interface a downstream implementer provides to a
// Shop. Call executes one ticket's work; Validate runs first and may
// reject a ticket before Call runs (returning an empty ValidationError
// accepts it).
type Machine[Q message.QueryType, I any, O any] interface {
	// Call executes the task. A returned MachineError is a *task*
	// failure (user semantics, e.g. "this customer is not welcome")
	// and is stored as a failure row, not retried. Call has no
	// separate infrastructure-error return: every failure it reports
	// is a MachineError.
	Call(ctx context.Context, query Q, input *I) (O, *shoperr.MachineError)

	// Validate optionally rejects a ticket before Call runs, returning
	// a ValidationError keyed by field ("$query"/"$body" for
	// whole-entity failures).
	Validate(query Q, input *I) shoperr.ValidationError
}
