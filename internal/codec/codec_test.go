package codec

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type greeting struct {
	Message  string
	Duration float64
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	in := greeting{Message: "Hello, Big Dave!", Duration: 1.0}

	data, err := Encode(in)
	require.NoError(t, err)

	var out greeting
	require.NoError(t, Decode(data, &out))
	assert.Equal(t, in, out)
}

func TestEncodeWithLimit_Oversize(t *testing.T) {
	big := strings.Repeat("x", 1<<20)
	_, err := EncodeWithLimit(big, 16)
	require.Error(t, err)
}

func TestEncodeWithLimit_WithinBounds(t *testing.T) {
	data, err := EncodeWithLimit("ok", 1<<18)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

func TestEncodeSpillable_SpillsAboveThreshold(t *testing.T) {
	dir, err := NewScratchDir()
	require.NoError(t, err)
	defer dir.Close()

	big := strings.Repeat("payload-", 1<<18) // > 1MiB structural
	data, err := EncodeSpillable(dir, big)
	require.NoError(t, err)

	var out string
	require.NoError(t, Decode(data, &out))
	assert.Equal(t, big, out)
}

func TestDecode_CorruptInputFails(t *testing.T) {
	err := Decode([]byte("not a valid xz stream"), new(string))
	require.Error(t, err)
}
