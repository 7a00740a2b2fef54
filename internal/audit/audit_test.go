package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord_EnqueuesEvent(t *testing.T) {
	l := &Log{events: make(chan entry, 1)}
	l.Record("coffee", "t-1", TransitionSubmitted, "")

	select {
	case e := <-l.events:
		assert.Equal(t, "coffee", e.task)
		assert.Equal(t, "t-1", e.ticket)
		assert.Equal(t, TransitionSubmitted, e.transition)
	default:
		t.Fatal("expected an event to be queued")
	}
}

func TestRecord_DropsOnFullBuffer(t *testing.T) {
	l := &Log{events: make(chan entry, 1)}
	l.Record("coffee", "t-1", TransitionSubmitted, "")

	done := make(chan struct{})
	go func() {
		l.Record("coffee", "t-2", TransitionCompleted, "") // buffer full: must not block
		close(done)
	}()
	<-done

	require.Len(t, l.events, 1)
}
