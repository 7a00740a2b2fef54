package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShop_RecordsSubmissionAndSettlement(t *testing.T) {
	s := New("brew_test_submit")
	s.RecordSubmission("async")
	s.RecordSettlement("complete", 42*time.Millisecond)
	s.SetQueueDepth(7)
	s.SetTrackedTickets(3)

	metrics, err := s.Registry().Gather()
	require.NoError(t, err)
	require.NotEmpty(t, metrics)
}

func TestShop_HandlerServesMetrics(t *testing.T) {
	s := New("brew_test_handler")
	s.RecordSubmission("sync")

	req := httptest.NewRequest("GET", "/metrics", nil)
	rw := httptest.NewRecorder()
	s.Handler().ServeHTTP(rw, req)

	assert.Equal(t, 200, rw.Code)
	assert.Contains(t, rw.Body.String(), "tickets_submitted_total")
}
