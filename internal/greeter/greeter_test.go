package greeter

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_RejectsMissingPayload(t *testing.T) {
	m := Machine{}
	verr := m.Validate(Query{Name: "Big Dave"}, nil)
	require.NotNil(t, verr)
	assert.Equal(t, "A POST Payload is required.", verr["$body"])
}

func TestValidate_AcceptsPopulatedInput(t *testing.T) {
	m := Machine{}
	verr := m.Validate(Query{Name: "Big Dave"}, &Input{Action: ActionEat, DurationSeconds: 1})
	assert.Nil(t, verr)
}

func TestCall_HappyPath(t *testing.T) {
	m := Machine{}
	out, machErr := m.Call(context.Background(), Query{Name: "Big Dave"}, &Input{Action: ActionEat, DurationSeconds: 0.01})
	require.Nil(t, machErr)
	assert.Equal(t, "Hello, Big Dave!", out.Greetings)
	assert.Equal(t, "You want to Eat for 0.0 seconds.", out.Narration)
}

func TestCall_RejectsLittleTimmy(t *testing.T) {
	m := Machine{}
	_, machErr := m.Call(context.Background(), Query{Name: "Little Timmy"}, &Input{Action: ActionEat, DurationSeconds: 0})
	require.NotNil(t, machErr)
	assert.Equal(t, http.StatusForbidden, machErr.StatusCode)
	assert.Equal(t, "NoTimmy", machErr.Kind)
}

func TestCall_CancelledContext(t *testing.T) {
	m := Machine{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, machErr := m.Call(ctx, Query{Name: "Big Dave"}, &Input{Action: ActionWait, DurationSeconds: 10})
	require.NotNil(t, machErr)
	assert.Equal(t, http.StatusInternalServerError, machErr.StatusCode)
}

func TestQueryTimeout(t *testing.T) {
	q := Query{TimeoutMS: 500}
	d, ok := q.Timeout()
	assert.True(t, ok)
	assert.Equal(t, 500*time.Millisecond, d)

	zero := Query{}
	_, ok = zero.Timeout()
	assert.False(t, ok)
}
