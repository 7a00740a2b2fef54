package announcer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oriys/brew/internal/message"
)

func TestEncodeDecodeMessage_RoundTrip(t *testing.T) {
	in := message.MulticastMessage{
		Task:      "coffee",
		Ticket:    "t-42",
		Kind:      message.KindTicket,
		Status:    message.StatusComplete,
		Timestamp: time.Now().UTC().Truncate(time.Millisecond),
	}

	out, err := decodeMessage(encodeMessage(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestEncodeDecodeMessage_RejectedStatus(t *testing.T) {
	in := message.MulticastMessage{Task: "coffee", Ticket: "t-1", Kind: message.KindTicket, Status: message.StatusRejected}
	out, err := decodeMessage(encodeMessage(in))
	require.NoError(t, err)
	assert.Equal(t, message.StatusRejected, out.Status)
	assert.True(t, out.Status.IsFinished())
}

func TestDecodeMessage_FailureStatusIsNotFinished(t *testing.T) {
	in := message.MulticastMessage{Task: "coffee", Ticket: "t-1", Kind: message.KindTicket, Status: message.StatusFailure}
	out, err := decodeMessage(encodeMessage(in))
	require.NoError(t, err)
	assert.False(t, out.Status.IsFinished())
}

func TestDecodeMessage_CorruptInputFails(t *testing.T) {
	_, err := decodeMessage([]byte{0xff, 0xff, 0xff})
	require.Error(t, err)
}

func TestDecodeMessage_SkipsUnknownFields(t *testing.T) {
	// field 99, varint type, value 7 -- should be skipped, not error.
	data := encodeMessage(message.MulticastMessage{Task: "coffee", Ticket: "t-1"})
	data = append(data, 0x98, 0x06, 0x07) // tag for field 99 varint, value 7
	_, err := decodeMessage(data)
	require.NoError(t, err)
}
