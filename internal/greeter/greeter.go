// Package greeter is the reference Machine: the "coffee shop greeter"
// task used throughout spec §8's worked scenarios. It exists to give
// cmd/brew a concrete task to serve, and to exercise every path
// through the Shop end to end.
package greeter

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/oriys/brew/internal/shoperr"
)

// Query carries the customer's name and the caller's desired
// long-poll timeout.
type Query struct {
	Name      string `json:"name"`
	TimeoutMS int    `json:"timeout"`
}

// Timeout satisfies message.QueryType.
func (q Query) Timeout() (time.Duration, bool) {
	if q.TimeoutMS <= 0 {
		return 0, false
	}
	return time.Duration(q.TimeoutMS) * time.Millisecond, true
}

// Action enumerates what the customer wants to do while waiting.
type Action string

const (
	ActionEat  Action = "Eat"
	ActionSip  Action = "Sip"
	ActionWait Action = "Wait"
)

// Input is the POST payload: what the customer is doing, and for how
// long, per spec §8 scenario 1.
type Input struct {
	Action          Action  `json:"action"`
	DurationSeconds float64 `json:"duration"`
}

// Output is the greeting rendered back to the customer.
type Output struct {
	Greetings string `json:"greetings"`
	Narration string `json:"narration"`
}

// Machine implements machine.Machine[Query, Input, Output].
type Machine struct{}

// Validate rejects a submission with no payload, per spec §8
// scenario 3.
func (Machine) Validate(_ Query, input *Input) shoperr.ValidationError {
	if input == nil {
		return shoperr.ValidationError{"$body": "A POST Payload is required."}
	}
	if input.Action == "" {
		return shoperr.ValidationError{"action": "an action is required."}
	}
	return nil
}

// Call renders the greeting, simulating the requested duration as
// processing time, and turns away Little Timmy, per spec §8
// scenario 2.
func (Machine) Call(ctx context.Context, query Query, input *Input) (Output, *shoperr.MachineError) {
	if query.Name == "Little Timmy" {
		schema := shoperr.ErrorSchema{
			StatusCode: http.StatusForbidden,
			Kind:       "NoTimmy",
			Details:    map[string]any{"message": "Little Timmy is not allowed in the coffee shop."},
		}
		return Output{}, &schema
	}

	wait := time.Duration(input.DurationSeconds * float64(time.Second))
	select {
	case <-time.After(wait):
	case <-ctx.Done():
		return Output{}, &shoperr.ErrorSchema{
			StatusCode: http.StatusInternalServerError,
			Kind:       string(shoperr.KindProcessingError),
			Details:    map[string]any{"message": "processing cancelled"},
		}
	}

	return Output{
		Greetings: fmt.Sprintf("Hello, %s!", query.Name),
		Narration: fmt.Sprintf("You want to %s for %.1f seconds.", input.Action, input.DurationSeconds),
	}, nil
}
