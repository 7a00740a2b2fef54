package waiter

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oriys/brew/internal/message"
	"github.com/oriys/brew/internal/orderchain"
	"github.com/oriys/brew/internal/shoperr"
)

type orderQuery struct {
	TimeoutMS int `json:"timeout_ms"`
}

func (q orderQuery) Timeout() (time.Duration, bool) {
	if q.TimeoutMS <= 0 {
		return 0, false
	}
	return time.Duration(q.TimeoutMS) * time.Millisecond, true
}

type orderInput struct {
	Drink string `json:"drink"`
}

type orderOutput struct {
	Ready bool `json:"ready"`
}

func newTestWaiter(reject bool) *Waiter[orderQuery, orderInput, orderOutput] {
	return &Waiter[orderQuery, orderInput, orderOutput]{
		task:       "coffee",
		chain:      orderchain.New(),
		maxTickets: 10,
	}
}

func TestDecodeAndValidate_RejectsMissingDrink(t *testing.T) {
	w := newTestWaiter(false)
	w.machine = validateOnlyMachine{}

	body := bytes.NewBufferString(`{"query":{},"input":{}}`)
	req := httptest.NewRequest(http.MethodPost, "/coffee", body)

	_, shopErr := w.decodeAndValidate(req)
	require.NotNil(t, shopErr)
	assert.Equal(t, shoperr.KindInvalidQueryOptions, shopErr.Kind)
}

func TestDecodeAndValidate_RejectsMalformedJSON(t *testing.T) {
	w := newTestWaiter(false)
	w.machine = validateOnlyMachine{}

	req := httptest.NewRequest(http.MethodPost, "/coffee", bytes.NewBufferString(`not json`))
	_, shopErr := w.decodeAndValidate(req)
	require.NotNil(t, shopErr)
	assert.Equal(t, shoperr.KindMalformedJSON, shopErr.Kind)
	assert.Equal(t, "$body", shopErr.Field)

	// Field alone is never serialized; the wire body must carry the
	// failing-field information through Details instead.
	wire, err := json.Marshal(shopErr)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(wire, &decoded))
	details, ok := decoded["details"].(map[string]any)
	require.True(t, ok, "wire body must carry a details object, got: %s", wire)
	assert.Contains(t, details, "$body")
}

func TestDecodeAndValidate_AcceptsValidInput(t *testing.T) {
	w := newTestWaiter(false)
	w.machine = validateOnlyMachine{}

	body := bytes.NewBufferString(`{"query":{"timeout_ms":500},"input":{"drink":"latte"}}`)
	req := httptest.NewRequest(http.MethodPost, "/coffee", body)

	combined, shopErr := w.decodeAndValidate(req)
	require.Nil(t, shopErr)
	assert.Equal(t, "latte", combined.Input.Drink)
	timeout, ok := combined.Query.Timeout()
	assert.True(t, ok)
	assert.Equal(t, 500*time.Millisecond, timeout)
}

func TestHandleStatus_ReportsTicketCount(t *testing.T) {
	w := newTestWaiter(false)
	require.NoError(t, w.chain.Insert("t-1", orderchain.NewOrder("t-1")))
	require.NoError(t, w.chain.Insert("t-2", orderchain.NewOrder("t-2")))

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rw := httptest.NewRecorder()
	w.handleStatus(rw, req)

	var resp message.StatusResponse
	require.NoError(t, json.Unmarshal(rw.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.TicketCount)
	assert.Equal(t, http.StatusOK, rw.Code)
}

// validateOnlyMachine exercises only the Validate hook the decode path
// calls; Call is never reached by these tests.
type validateOnlyMachine struct{}

func (validateOnlyMachine) Call(ctx context.Context, query orderQuery, input *orderInput) (orderOutput, *shoperr.MachineError) {
	panic("not reached in these tests")
}

func (validateOnlyMachine) Validate(_ orderQuery, input *orderInput) shoperr.ValidationError {
	if input == nil || input.Drink == "" {
		return shoperr.ValidationError{"$body": "drink is required"}
	}
	return nil
}
